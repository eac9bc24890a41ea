package content

import (
	"context"
	"time"

	"go.uber.org/zap"

	"synxronusage/internal/events"
	"synxronusage/internal/txn"
)

const purgeBatchSize = 100

// PurgeArchived permanently removes nodes archived longer than olderThan
// and returns how many were removed.
func (s *Service) PurgeArchived(ctx context.Context, olderThan time.Duration) (int, error) {
	before := s.clock.Now().Add(-olderThan)
	total := 0
	for {
		var keys []string
		n := 0
		err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
			keys = keys[:0]
			nodes, err := tx.ListArchivedBefore(ctx, before, purgeBatchSize)
			if err != nil {
				return err
			}
			n = len(nodes)
			for i := range nodes {
				node := &nodes[i]
				if err := s.dispatcher.Fire(ctx, tx, events.BeforeDelete{Content: node}); err != nil {
					return err
				}
				if err := tx.DeleteContent(ctx, node.ID); err != nil {
					return err
				}
				if node.ContentKey != nil {
					keys = append(keys, *node.ContentKey)
				}
			}
			return nil
		}, txn.IgnoreWriteVeto())
		if err != nil {
			return total, err
		}

		for i := range keys {
			s.discardBlob(ctx, &keys[i])
		}
		total += n
		s.metrics.ArchivePurged.Add(float64(n))
		if n < purgeBatchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("archived content purged", zap.Int("count", total), zap.Time("archived_before", before))
	}
	return total, nil
}

// discardBlob removes an object no committed node refers to.
func (s *Service) discardBlob(ctx context.Context, key *string) {
	if key == nil {
		return
	}
	if err := s.blobs.Delete(ctx, *key); err != nil {
		s.logger.Warn("failed to delete content object", zap.String("key", *key), zap.Error(err))
	}
}
