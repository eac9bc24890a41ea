package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"synxronusage/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrReadOnlyTx = errors.New("write attempted in read-only transaction")
)

type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Store is the persistence surface of the usage subsystem. Methods called on
// the Store handed to an InTx callback run inside that transaction.
type Store interface {
	ContentStore
	PersonStore
	UsageDeltaStore
	RepoUsageStore

	Ping(ctx context.Context) error
	InTx(ctx context.Context, fn func(Store) error, opts *TxOptions) error
}

type ContentStore interface {
	InsertContent(ctx context.Context, content *domain.Content) error
	GetContent(ctx context.Context, id uuid.UUID) (*domain.Content, error)
	UpdateContent(ctx context.Context, content *domain.Content) error
	DeleteContent(ctx context.Context, id uuid.UUID) error
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.Content, error)
	ListArchivedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Content, error)
	// SumContentSizeByOwner sums live content attributed to userName through
	// the owner property, falling back to the creator.
	SumContentSizeByOwner(ctx context.Context, stores []string, userName string) (int64, error)
	CountContent(ctx context.Context, stores []string) (int64, error)
}

type PersonStore interface {
	InsertPerson(ctx context.Context, person *domain.Person) error
	GetPersonByID(ctx context.Context, id uuid.UUID) (*domain.Person, error)
	// LockPersonByID reads the person and holds a row lock on it until the
	// transaction ends. Concurrent delta inserts for the person are not blocked.
	LockPersonByID(ctx context.Context, id uuid.UUID) (*domain.Person, error)
	GetPersonByUserName(ctx context.Context, userName string) (*domain.Person, error)
	UpdatePersonUsage(ctx context.Context, id uuid.UUID, sizeCurrent *int64) error
	UpdatePersonQuota(ctx context.Context, id uuid.UUID, sizeQuota *int64) error
	ListPeopleWithoutUsage(ctx context.Context, limit int) ([]domain.Person, error)
	ListPeopleWithUsage(ctx context.Context, limit int) ([]domain.Person, error)
	CountPeople(ctx context.Context, excluded []string) (int64, error)
}

type UsageDeltaStore interface {
	InsertUsageDelta(ctx context.Context, personID uuid.UUID, deltaBytes int64) error
	GetTotalDeltaSize(ctx context.Context, personID uuid.UUID) (int64, error)
	DeleteUsageDeltas(ctx context.Context, personID uuid.UUID) (int64, error)
	// RemoveUsageDeltas deletes the person's deltas and returns the sum of
	// exactly the rows it deleted.
	RemoveUsageDeltas(ctx context.Context, personID uuid.UUID) (int64, error)
	GetUsageDeltaOwners(ctx context.Context) ([]uuid.UUID, error)
}

type RepoUsageStore interface {
	GetRepoUsageCount(ctx context.Context, usageType domain.UsageType) (*domain.RepoUsageCount, error)
	UpsertRepoUsageCount(ctx context.Context, count domain.RepoUsageCount) error
}
