// Package content is the node and people repository that drives usage
// tracking. Every mutation runs in one transaction and fires lifecycle
// events inside it.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/blob"
	"synxronusage/internal/domain"
	"synxronusage/internal/events"
	"synxronusage/internal/metrics"
	"synxronusage/internal/txn"
)

var (
	ErrNotFolder   = errors.New("parent is not a folder")
	ErrNotContent  = errors.New("node is not a content node")
	ErrArchived    = errors.New("node is archived")
	ErrNotArchived = errors.New("node is not archived")
)

type Service struct {
	txm        *txn.Manager
	dispatcher *events.Dispatcher
	blobs      blob.Store
	clock      quartz.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// trackingEnabled gives new people a zero baseline.
	trackingEnabled bool
}

func NewService(
	txm *txn.Manager,
	dispatcher *events.Dispatcher,
	blobs blob.Store,
	clock quartz.Clock,
	trackingEnabled bool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		txm:             txm,
		dispatcher:      dispatcher,
		blobs:           blobs,
		clock:           clock,
		metrics:         m,
		logger:          logger.Named("content"),
		trackingEnabled: trackingEnabled,
	}
}

func contentKey(id uuid.UUID) string {
	return fmt.Sprintf("content/%s/%s", id, uuid.NewString())
}

func cloneNode(n *domain.Content) *domain.Content {
	c := *n
	if n.Size != nil {
		c.Size = domain.Int64Ptr(*n.Size)
	}
	return &c
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Content, error) {
	var node *domain.Content
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		node, err = tx.GetContent(ctx, id)
		return err
	}, txn.ReadOnly())
	return node, err
}

func (s *Service) ReadContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.ContentKey == nil {
		return nil, nil
	}
	return s.blobs.Get(ctx, *node.ContentKey)
}

func (s *Service) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Content, error) {
	var children []domain.Content
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		children, err = tx.ListChildren(ctx, parentID)
		return err
	}, txn.ReadOnly())
	return children, err
}

func (s *Service) checkParent(ctx context.Context, tx *txn.Tx, parentID *uuid.UUID) error {
	if parentID == nil {
		return nil
	}
	parent, err := tx.GetContent(ctx, *parentID)
	if err != nil {
		return fmt.Errorf("failed to get parent: %w", err)
	}
	if parent.StoreID != domain.WorkspaceStore {
		return fmt.Errorf("parent %s: %w", parent.ID, ErrArchived)
	}
	if !parent.IsFolder() {
		return fmt.Errorf("%s: %w", parent.ID, ErrNotFolder)
	}
	return nil
}

func (s *Service) CreateFolder(ctx context.Context, actor string, parentID *uuid.UUID, name string) (*domain.Content, error) {
	node := &domain.Content{
		ID:       uuid.New(),
		StoreID:  domain.WorkspaceStore,
		ParentID: parentID,
		Type:     domain.NodeTypeFolder,
		Name:     name,
		Owner:    domain.NoOwner,
		Creator:  actor,
	}
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := s.checkParent(ctx, tx, parentID); err != nil {
			return err
		}
		if err := tx.InsertContent(ctx, node); err != nil {
			return err
		}
		return s.dispatcher.Fire(ctx, tx, events.Created{Content: cloneNode(node)})
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateContent stores a content node. A nil data slice creates the node
// without content.
func (s *Service) CreateContent(ctx context.Context, actor string, parentID *uuid.UUID, name string, data []byte) (*domain.Content, error) {
	node := &domain.Content{
		ID:       uuid.New(),
		StoreID:  domain.WorkspaceStore,
		ParentID: parentID,
		Type:     domain.NodeTypeContent,
		Name:     name,
		Owner:    domain.NoOwner,
		Creator:  actor,
	}

	if data != nil {
		key := contentKey(node.ID)
		if err := s.blobs.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to store content: %w", err)
		}
		node.ContentKey = &key
		node.Size = domain.Int64Ptr(int64(len(data)))
	}

	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := s.checkParent(ctx, tx, parentID); err != nil {
			return err
		}
		if err := tx.InsertContent(ctx, node); err != nil {
			return err
		}
		return s.dispatcher.Fire(ctx, tx, events.Created{Content: cloneNode(node)})
	})
	if err != nil {
		s.discardBlob(ctx, node.ContentKey)
		return nil, err
	}

	s.logger.Debug("content created",
		zap.Stringer("id", node.ID),
		zap.String("actor", actor),
		zap.Int64("size", node.ContentSize()))
	return node, nil
}

// WriteContent replaces the content of a node. A nil data slice removes it.
func (s *Service) WriteContent(ctx context.Context, actor string, id uuid.UUID, data []byte) (*domain.Content, error) {
	var newKey *string
	if data != nil {
		key := contentKey(id)
		if err := s.blobs.Put(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to store content: %w", err)
		}
		newKey = &key
	}

	var (
		after  *domain.Content
		oldKey *string
	)
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		before, err := tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if before.IsFolder() {
			return fmt.Errorf("%s: %w", id, ErrNotContent)
		}
		if before.StoreID != domain.WorkspaceStore {
			return fmt.Errorf("%s: %w", id, ErrArchived)
		}

		after = cloneNode(before)
		after.ContentKey = newKey
		after.Size = nil
		if data != nil {
			after.Size = domain.Int64Ptr(int64(len(data)))
		}
		if err := tx.UpdateContent(ctx, after); err != nil {
			return err
		}
		oldKey = before.ContentKey
		return s.dispatcher.Fire(ctx, tx, events.PropertiesUpdated{Before: before, After: cloneNode(after)})
	})
	if err != nil {
		s.discardBlob(ctx, newKey)
		return nil, err
	}

	s.discardBlob(ctx, oldKey)
	s.logger.Debug("content written",
		zap.Stringer("id", id),
		zap.String("actor", actor),
		zap.Int64("size", after.ContentSize()))
	return after, nil
}

// SetOwner changes the owner property, moving usage to the new owner.
func (s *Service) SetOwner(ctx context.Context, actor string, id uuid.UUID, owner string) (*domain.Content, error) {
	var after *domain.Content
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		before, err := tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if before.StoreID != domain.WorkspaceStore {
			return fmt.Errorf("%s: %w", id, ErrArchived)
		}
		after = cloneNode(before)
		after.Owner = owner
		if err := tx.UpdateContent(ctx, after); err != nil {
			return err
		}
		return s.dispatcher.Fire(ctx, tx, events.PropertiesUpdated{Before: before, After: cloneNode(after)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("owner changed",
		zap.Stringer("id", id),
		zap.String("actor", actor),
		zap.String("owner", owner))
	return after, nil
}

// TakeOwnership makes actor the owner of the node.
func (s *Service) TakeOwnership(ctx context.Context, actor string, id uuid.UUID) (*domain.Content, error) {
	return s.SetOwner(ctx, actor, id, actor)
}

// Copy duplicates the node and its descendants under parentID. Copies are
// created by actor and carry their own blobs.
func (s *Service) Copy(ctx context.Context, actor string, id uuid.UUID, parentID *uuid.UUID) (*domain.Content, error) {
	var (
		root   *domain.Content
		copied []string
	)
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := s.checkParent(ctx, tx, parentID); err != nil {
			return err
		}
		source, err := tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if source.StoreID != domain.WorkspaceStore {
			return fmt.Errorf("%s: %w", id, ErrArchived)
		}
		root, err = s.copyTree(ctx, tx, actor, source, parentID, &copied)
		return err
	})
	if err != nil {
		for _, key := range copied {
			s.discardBlob(ctx, &key)
		}
		return nil, err
	}
	return root, nil
}

func (s *Service) copyTree(ctx context.Context, tx *txn.Tx, actor string, source *domain.Content, parentID *uuid.UUID, copied *[]string) (*domain.Content, error) {
	// Children are listed before the copy exists so a folder copied into
	// itself is not copied again.
	children, err := tx.ListChildren(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	node := &domain.Content{
		ID:       uuid.New(),
		StoreID:  domain.WorkspaceStore,
		ParentID: parentID,
		Type:     source.Type,
		Name:     source.Name,
		Owner:    domain.NoOwner,
		Creator:  actor,
	}
	if source.ContentKey != nil {
		key := contentKey(node.ID)
		if err := s.blobs.Copy(ctx, *source.ContentKey, key); err != nil {
			return nil, fmt.Errorf("failed to copy content: %w", err)
		}
		*copied = append(*copied, key)
		node.ContentKey = &key
	}
	if source.Size != nil {
		node.Size = domain.Int64Ptr(*source.Size)
	}

	if err := tx.InsertContent(ctx, node); err != nil {
		return nil, err
	}
	if err := s.dispatcher.Fire(ctx, tx, events.Created{Content: cloneNode(node)}); err != nil {
		return nil, err
	}

	for i := range children {
		if _, err := s.copyTree(ctx, tx, actor, &children[i], &node.ID, copied); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// subtree returns root and all its descendants, parents before children.
func subtree(ctx context.Context, tx *txn.Tx, root *domain.Content) ([]*domain.Content, error) {
	nodes := []*domain.Content{root}
	for i := 0; i < len(nodes); i++ {
		children, err := tx.ListChildren(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
		for j := range children {
			nodes = append(nodes, &children[j])
		}
	}
	return nodes, nil
}

// Delete moves the node and its descendants to the archive store. The
// original owner is kept so Restore can return ownership.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		root, err := tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if root.StoreID != domain.WorkspaceStore {
			return fmt.Errorf("%s: %w", id, ErrArchived)
		}
		nodes, err := subtree(ctx, tx, root)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		for _, n := range nodes {
			if n.StoreID != domain.WorkspaceStore {
				continue
			}
			if err := s.dispatcher.Fire(ctx, tx, events.BeforeDelete{Content: cloneNode(n)}); err != nil {
				return err
			}
			originalOwner := n.Owner
			if originalOwner == domain.NoOwner {
				originalOwner = n.Creator
			}
			n.StoreID = domain.ArchiveStore
			n.ArchivedOriginalOwner = originalOwner
			n.Owner = actor
			n.ArchivedAt = &now
			if err := tx.UpdateContent(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("content archived", zap.Stringer("id", id), zap.String("actor", actor))
	return nil
}

// Restore moves an archived node and its descendants back to the
// workspace store and returns them to their original owners.
func (s *Service) Restore(ctx context.Context, actor string, id uuid.UUID) error {
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		root, err := tx.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if root.StoreID != domain.ArchiveStore {
			return fmt.Errorf("%s: %w", id, ErrNotArchived)
		}
		if err := s.checkParent(ctx, tx, root.ParentID); err != nil {
			return err
		}
		nodes, err := subtree(ctx, tx, root)
		if err != nil {
			return err
		}

		for _, n := range nodes {
			n.StoreID = domain.WorkspaceStore
			n.Owner = n.ArchivedOriginalOwner
			if n.Owner == n.Creator {
				n.Owner = domain.NoOwner
			}
			n.ArchivedOriginalOwner = domain.NoOwner
			n.ArchivedAt = nil
			if err := tx.UpdateContent(ctx, n); err != nil {
				return err
			}
			if err := s.dispatcher.Fire(ctx, tx, events.Created{Content: cloneNode(n)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("content restored", zap.Stringer("id", id), zap.String("actor", actor))
	return nil
}
