// Package txn runs units of work against a repository.Store and carries the
// per-transaction state handed to lifecycle handlers.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/repository"
)

var (
	ErrPrecondition = errors.New("transaction precondition failed")
	ErrReadOnly     = errors.New("repository is read-only")
)

// IDSet is a set of entity IDs scoped to one transaction.
type IDSet map[uuid.UUID]struct{}

func (s IDSet) Add(id uuid.UUID) {
	s[id] = struct{}{}
}

func (s IDSet) Remove(id uuid.UUID) {
	delete(s, id)
}

func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Tx is an active unit of work. The embedded Store runs every query inside
// the transaction.
type Tx struct {
	repository.Store

	readOnly bool
	sets     map[string]IDSet
}

func (t *Tx) ReadOnly() bool {
	return t.readOnly
}

// IDSet returns the named set bound to this transaction, creating it on
// first use. Sets are discarded with the transaction.
func (t *Tx) IDSet(name string) IDSet {
	set, ok := t.sets[name]
	if !ok {
		set = IDSet{}
		t.sets[name] = set
	}
	return set
}

type txKey struct{}

func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction bound to ctx, or nil.
func FromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// RequireNone fails when ctx carries an active transaction.
func RequireNone(ctx context.Context) error {
	if FromContext(ctx) != nil {
		return fmt.Errorf("%w: must not be called inside a transaction", ErrPrecondition)
	}
	return nil
}

// RequireReadOnly fails unless tx is active. Read-write transactions satisfy
// read-only requirements.
func RequireReadOnly(tx *Tx) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction required", ErrPrecondition)
	}
	return nil
}

func RequireReadWrite(tx *Tx) error {
	if tx == nil {
		return fmt.Errorf("%w: read-write transaction required", ErrPrecondition)
	}
	if tx.readOnly {
		return fmt.Errorf("%w: read-write transaction required, got read-only", ErrPrecondition)
	}
	return nil
}

type options struct {
	readOnly     bool
	ignoreVeto   bool
	serializable bool
}

type Option func(*options)

func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// IgnoreWriteVeto lets system jobs write while the repository is read-only.
func IgnoreWriteVeto() Option {
	return func(o *options) { o.ignoreVeto = true }
}

// Serializable runs the transaction at SERIALIZABLE isolation. Conflicts
// surface as serialization failures and the transaction is retried.
func Serializable() Option {
	return func(o *options) { o.serializable = true }
}

type Manager struct {
	store      repository.Store
	logger     *zap.Logger
	maxRetries uint64

	mu     sync.RWMutex
	vetoes map[string]struct{}
}

func NewManager(store repository.Store, maxRetries int, logger *zap.Logger) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		store:      store,
		logger:     logger.Named("txn"),
		maxRetries: uint64(maxRetries),
		vetoes:     map[string]struct{}{},
	}
}

// SetAllowWrite adds or removes a named write veto. Writes are allowed only
// while no veto is registered.
func (m *Manager) SetAllowWrite(allow bool, veto string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, had := m.vetoes[veto]
	if allow {
		delete(m.vetoes, veto)
	} else {
		m.vetoes[veto] = struct{}{}
	}
	if had == allow {
		m.logger.Info("write veto changed", zap.String("veto", veto), zap.Bool("allow_write", allow))
	}
}

func (m *Manager) AllowWrite() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vetoes) == 0
}

func (m *Manager) Vetoes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.vetoes))
	for name := range m.vetoes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InTx runs fn in a new transaction, retrying on serialization failures.
// Any error returned by fn rolls the transaction back. When ctx already
// carries a transaction fn joins it.
func (m *Manager) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if outer := FromContext(ctx); outer != nil {
		if outer.readOnly && !o.readOnly {
			return fmt.Errorf("%w: cannot join read-only transaction for writing", ErrPrecondition)
		}
		return fn(ctx, outer)
	}

	if !o.readOnly && !o.ignoreVeto && !m.AllowWrite() {
		return ErrReadOnly
	}

	txOpts := &repository.TxOptions{ReadOnly: o.readOnly}
	if o.serializable {
		txOpts.Isolation = sql.LevelSerializable
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := m.store.InTx(ctx, func(s repository.Store) error {
			tx := &Tx{
				Store:    s,
				readOnly: o.readOnly,
				sets:     map[string]IDSet{},
			}
			return fn(WithTx(ctx, tx), tx)
		}, txOpts)
		if err == nil {
			return nil
		}
		if !repository.IsSerializationError(err) {
			return backoff.Permanent(err)
		}
		m.logger.Debug("retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.maxRetries), ctx)
	return backoff.Retry(operation, b)
}
