package repository

import (
	"context"
	"fmt"

	"synxronusage/internal/domain"
)

func (s *sqlStore) GetRepoUsageCount(ctx context.Context, usageType domain.UsageType) (*domain.RepoUsageCount, error) {
	var count domain.RepoUsageCount
	err := s.db.GetContext(ctx, &count,
		`SELECT usage_type, count, updated_at FROM repo_usage WHERE usage_type = $1`, usageType)
	if err != nil {
		return nil, notFound(err, "repo usage "+string(usageType))
	}
	return &count, nil
}

func (s *sqlStore) UpsertRepoUsageCount(ctx context.Context, count domain.RepoUsageCount) error {
	query := `
        INSERT INTO repo_usage (usage_type, count, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (usage_type)
        DO UPDATE SET count = EXCLUDED.count, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, count.UsageType, count.Count, count.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert repo usage: %w", err)
	}
	return nil
}
