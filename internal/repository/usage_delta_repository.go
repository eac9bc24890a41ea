package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (s *sqlStore) InsertUsageDelta(ctx context.Context, personID uuid.UUID, deltaBytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_deltas (person_id, delta_bytes) VALUES ($1, $2)`,
		personID, deltaBytes)
	if err != nil {
		return fmt.Errorf("failed to insert usage delta: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTotalDeltaSize(ctx context.Context, personID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(delta_bytes), 0) FROM usage_deltas WHERE person_id = $1`, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage deltas: %w", err)
	}
	return total, nil
}

func (s *sqlStore) DeleteUsageDeltas(ctx context.Context, personID uuid.UUID) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_deltas WHERE person_id = $1`, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage deltas: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

func (s *sqlStore) RemoveUsageDeltas(ctx context.Context, personID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		WITH removed AS (
			DELETE FROM usage_deltas WHERE person_id = $1 RETURNING delta_bytes
		)
		SELECT COALESCE(SUM(delta_bytes), 0) FROM removed`, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove usage deltas: %w", err)
	}
	return total, nil
}

func (s *sqlStore) GetUsageDeltaOwners(ctx context.Context) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	err := s.db.SelectContext(ctx, &owners,
		`SELECT DISTINCT person_id FROM usage_deltas ORDER BY person_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage delta owners: %w", err)
	}
	return owners, nil
}
