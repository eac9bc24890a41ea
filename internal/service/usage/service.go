package usage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/metrics"
	"synxronusage/internal/txn"
)

// Service records and folds usage deltas. Every method runs inside the
// caller's transaction.
type Service struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		logger:  logger.Named("usage.deltas"),
		metrics: m,
	}
}

func (s *Service) InsertDelta(ctx context.Context, tx *txn.Tx, personID uuid.UUID, deltaBytes int64) error {
	if err := txn.RequireReadWrite(tx); err != nil {
		return err
	}
	if deltaBytes == 0 {
		return nil
	}
	if err := tx.InsertUsageDelta(ctx, personID, deltaBytes); err != nil {
		return fmt.Errorf("failed to record usage delta: %w", err)
	}

	direction := "increment"
	if deltaBytes < 0 {
		direction = "decrement"
	}
	s.metrics.Deltas.WithLabelValues(direction).Inc()
	s.logger.Debug("usage delta recorded",
		zap.Stringer("person_id", personID),
		zap.Int64("delta", deltaBytes))
	return nil
}

func (s *Service) GetTotalDeltaSize(ctx context.Context, tx *txn.Tx, personID uuid.UUID) (int64, error) {
	if err := txn.RequireReadOnly(tx); err != nil {
		return 0, err
	}
	total, err := tx.GetTotalDeltaSize(ctx, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to get total delta size: %w", err)
	}
	return total, nil
}

// GetAndRemoveTotalDeltaSize deletes the person's deltas and returns the sum
// of the deleted rows. Deltas committed concurrently are either folded or
// left pending, never dropped.
func (s *Service) GetAndRemoveTotalDeltaSize(ctx context.Context, tx *txn.Tx, personID uuid.UUID) (int64, error) {
	if err := txn.RequireReadWrite(tx); err != nil {
		return 0, err
	}
	total, err := tx.RemoveUsageDeltas(ctx, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove usage deltas: %w", err)
	}
	return total, nil
}

func (s *Service) DeleteDeltas(ctx context.Context, tx *txn.Tx, personID uuid.UUID) (int64, error) {
	if err := txn.RequireReadWrite(tx); err != nil {
		return 0, err
	}
	n, err := tx.DeleteUsageDeltas(ctx, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage deltas: %w", err)
	}
	return n, nil
}

func (s *Service) GetUsageDeltaOwners(ctx context.Context, tx *txn.Tx) ([]uuid.UUID, error) {
	if err := txn.RequireReadOnly(tx); err != nil {
		return nil, err
	}
	owners, err := tx.GetUsageDeltaOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage delta owners: %w", err)
	}
	return owners, nil
}
