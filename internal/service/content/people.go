package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/events"
	"synxronusage/internal/txn"
)

// PersonUpdate holds the person properties a caller may change. Nil fields
// are left untouched.
type PersonUpdate struct {
	SizeCurrent *int64
	SizeQuota   *int64
}

// CreatePerson adds a person. With tracking enabled the usage baseline
// starts at zero, otherwise it stays unset until recalculated.
func (s *Service) CreatePerson(ctx context.Context, userName string, quota *int64) (*domain.Person, error) {
	person := &domain.Person{
		ID:        uuid.New(),
		UserName:  userName,
		SizeQuota: quota,
	}
	if s.trackingEnabled {
		person.SizeCurrent = domain.Int64Ptr(0)
	}

	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		return tx.InsertPerson(ctx, person)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create person %s: %w", userName, err)
	}

	s.logger.Info("person created", zap.String("user", userName))
	return person, nil
}

func (s *Service) GetPerson(ctx context.Context, userName string) (*domain.Person, error) {
	var person *domain.Person
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		var err error
		person, err = tx.GetPersonByUserName(ctx, userName)
		return err
	}, txn.ReadOnly())
	return person, err
}

// UpdatePerson changes the usage properties of a person on behalf of
// actor. Handlers bound to PersonUpdated may veto the change.
func (s *Service) UpdatePerson(ctx context.Context, actor, userName string, update PersonUpdate) (*domain.Person, error) {
	var after *domain.Person
	err := s.txm.InTx(ctx, func(ctx context.Context, tx *txn.Tx) error {
		before, err := tx.GetPersonByUserName(ctx, userName)
		if err != nil {
			return err
		}

		p := *before
		after = &p
		if update.SizeCurrent != nil {
			after.SizeCurrent = domain.Int64Ptr(*update.SizeCurrent)
		}
		if update.SizeQuota != nil {
			after.SizeQuota = domain.Int64Ptr(*update.SizeQuota)
		}

		err = s.dispatcher.Fire(ctx, tx, events.PersonUpdated{Actor: actor, Before: before, After: after})
		if err != nil {
			return err
		}
		if update.SizeCurrent != nil {
			if err := tx.UpdatePersonUsage(ctx, after.ID, after.SizeCurrent); err != nil {
				return err
			}
		}
		if update.SizeQuota != nil {
			if err := tx.UpdatePersonQuota(ctx, after.ID, after.SizeQuota); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}
