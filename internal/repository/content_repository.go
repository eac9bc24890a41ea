package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"synxronusage/internal/domain"
)

func (s *sqlStore) InsertContent(ctx context.Context, content *domain.Content) error {
	query := `
        INSERT INTO content_nodes (
            id, store_id, parent_id, node_type, name, size_bytes, content_key,
            owner, creator, archived_original_owner, archived_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		content.ID,
		content.StoreID,
		content.ParentID,
		content.Type,
		content.Name,
		content.Size,
		content.ContentKey,
		content.Owner,
		content.Creator,
		content.ArchivedOriginalOwner,
		content.ArchivedAt,
	).Scan(&content.CreatedAt, &content.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

func (s *sqlStore) GetContent(ctx context.Context, id uuid.UUID) (*domain.Content, error) {
	var content domain.Content
	err := s.db.GetContext(ctx, &content, `SELECT * FROM content_nodes WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "content "+id.String())
	}
	return &content, nil
}

func (s *sqlStore) UpdateContent(ctx context.Context, content *domain.Content) error {
	query := `
        UPDATE content_nodes
        SET store_id = $1,
            parent_id = $2,
            name = $3,
            size_bytes = $4,
            content_key = $5,
            owner = $6,
            creator = $7,
            archived_original_owner = $8,
            archived_at = $9,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $10`

	result, err := s.db.ExecContext(ctx, query,
		content.StoreID,
		content.ParentID,
		content.Name,
		content.Size,
		content.ContentKey,
		content.Owner,
		content.Creator,
		content.ArchivedOriginalOwner,
		content.ArchivedAt,
		content.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	return checkAffected(result, "content "+content.ID.String())
}

func (s *sqlStore) DeleteContent(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM content_nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return checkAffected(result, "content "+id.String())
}

func (s *sqlStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Content, error) {
	var children []domain.Content
	err := s.db.SelectContext(ctx, &children,
		`SELECT * FROM content_nodes WHERE parent_id = $1 ORDER BY name`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return children, nil
}

func (s *sqlStore) ListArchivedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Content, error) {
	query := `
        SELECT * FROM content_nodes
        WHERE store_id = $1
          AND archived_at IS NOT NULL
          AND archived_at < $2
        ORDER BY archived_at
        LIMIT $3`

	var nodes []domain.Content
	if err := s.db.SelectContext(ctx, &nodes, query, domain.ArchiveStore, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list archived content: %w", err)
	}
	return nodes, nil
}

func (s *sqlStore) SumContentSizeByOwner(ctx context.Context, stores []string, userName string) (int64, error) {
	query := `
        SELECT COALESCE(SUM(size_bytes), 0)
        FROM content_nodes
        WHERE store_id = ANY($1)
          AND node_type = $2
          AND size_bytes IS NOT NULL
          AND COALESCE(NULLIF(owner, ''), creator) = $3`

	var total int64
	if err := s.db.GetContext(ctx, &total, query, pq.Array(stores), domain.NodeTypeContent, userName); err != nil {
		return 0, fmt.Errorf("failed to sum content size: %w", err)
	}
	return total, nil
}

func (s *sqlStore) CountContent(ctx context.Context, stores []string) (int64, error) {
	query := `
        SELECT COUNT(*)
        FROM content_nodes
        WHERE store_id = ANY($1)
          AND node_type = $2`

	var count int64
	if err := s.db.GetContext(ctx, &count, query, pq.Array(stores), domain.NodeTypeContent); err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return count, nil
}
