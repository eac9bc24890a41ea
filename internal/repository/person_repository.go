package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"synxronusage/internal/domain"
)

func (s *sqlStore) InsertPerson(ctx context.Context, person *domain.Person) error {
	query := `
        INSERT INTO people (id, user_name, size_current, size_quota)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		person.ID,
		person.UserName,
		person.SizeCurrent,
		person.SizeQuota,
	).Scan(&person.CreatedAt, &person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert person: %w", err)
	}
	return nil
}

func (s *sqlStore) GetPersonByID(ctx context.Context, id uuid.UUID) (*domain.Person, error) {
	var person domain.Person
	if err := s.db.GetContext(ctx, &person, `SELECT * FROM people WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "person "+id.String())
	}
	return &person, nil
}

func (s *sqlStore) LockPersonByID(ctx context.Context, id uuid.UUID) (*domain.Person, error) {
	var person domain.Person
	err := s.db.GetContext(ctx, &person, `SELECT * FROM people WHERE id = $1 FOR NO KEY UPDATE`, id)
	if err != nil {
		return nil, notFound(err, "person "+id.String())
	}
	return &person, nil
}

func (s *sqlStore) GetPersonByUserName(ctx context.Context, userName string) (*domain.Person, error) {
	var person domain.Person
	if err := s.db.GetContext(ctx, &person, `SELECT * FROM people WHERE user_name = $1`, userName); err != nil {
		return nil, notFound(err, "person "+userName)
	}
	return &person, nil
}

func (s *sqlStore) UpdatePersonUsage(ctx context.Context, id uuid.UUID, sizeCurrent *int64) error {
	query := `
        UPDATE people
        SET size_current = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, sizeCurrent, id)
	if err != nil {
		return fmt.Errorf("failed to update person usage: %w", err)
	}
	return checkAffected(result, "person "+id.String())
}

func (s *sqlStore) UpdatePersonQuota(ctx context.Context, id uuid.UUID, sizeQuota *int64) error {
	query := `
        UPDATE people
        SET size_quota = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, sizeQuota, id)
	if err != nil {
		return fmt.Errorf("failed to update person quota: %w", err)
	}
	return checkAffected(result, "person "+id.String())
}

func (s *sqlStore) ListPeopleWithoutUsage(ctx context.Context, limit int) ([]domain.Person, error) {
	var people []domain.Person
	err := s.db.SelectContext(ctx, &people,
		`SELECT * FROM people WHERE size_current IS NULL ORDER BY user_name LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list people without usage: %w", err)
	}
	return people, nil
}

func (s *sqlStore) ListPeopleWithUsage(ctx context.Context, limit int) ([]domain.Person, error) {
	var people []domain.Person
	err := s.db.SelectContext(ctx, &people,
		`SELECT * FROM people WHERE size_current IS NOT NULL ORDER BY user_name LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list people with usage: %w", err)
	}
	return people, nil
}

func (s *sqlStore) CountPeople(ctx context.Context, excluded []string) (int64, error) {
	// A nil slice binds as NULL, which would exclude everybody.
	if excluded == nil {
		excluded = []string{}
	}
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM people WHERE NOT (user_name = ANY($1))`, pq.Array(excluded))
	if err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	return count, nil
}
