// Package memstore is an in-memory repository.Store used by tests and
// single-process development runs.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"synxronusage/internal/domain"
	"synxronusage/internal/repository"
)

type data struct {
	content   map[uuid.UUID]domain.Content
	people    map[uuid.UUID]domain.Person
	deltas    []domain.UsageDelta
	repoUsage map[domain.UsageType]domain.RepoUsageCount
	nextDelta int64
}

func (d *data) clone() *data {
	c := &data{
		content:   make(map[uuid.UUID]domain.Content, len(d.content)),
		people:    make(map[uuid.UUID]domain.Person, len(d.people)),
		deltas:    slices.Clone(d.deltas),
		repoUsage: make(map[domain.UsageType]domain.RepoUsageCount, len(d.repoUsage)),
		nextDelta: d.nextDelta,
	}
	for k, v := range d.content {
		c.content[k] = copyContent(v)
	}
	for k, v := range d.people {
		c.people[k] = copyPerson(v)
	}
	for k, v := range d.repoUsage {
		c.repoUsage[k] = v
	}
	return c
}

// Store keeps all rows in maps. Transactions are serialized: InTx works on a
// private copy that replaces the shared state on commit.
type Store struct {
	mu       *sync.Mutex
	data     *data
	inTx     bool
	readOnly bool
	now      func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &data{
			content:   map[uuid.UUID]domain.Content{},
			people:    map[uuid.UUID]domain.Person{},
			repoUsage: map[domain.UsageType]domain.RepoUsageCount{},
		},
		now: time.Now,
	}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) InTx(_ context.Context, fn func(repository.Store) error, opts *repository.TxOptions) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{
		mu:       s.mu,
		data:     s.data.clone(),
		inTx:     true,
		readOnly: opts != nil && opts.ReadOnly,
		now:      s.now,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.readOnly {
		s.data = tx.data
	}
	return nil
}

// read and write guard access for calls made outside a transaction.
func (s *Store) read() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) write() (func(), error) {
	if s.readOnly {
		return nil, repository.ErrReadOnlyTx
	}
	return s.read(), nil
}

func copyContent(c domain.Content) domain.Content {
	if c.ParentID != nil {
		id := *c.ParentID
		c.ParentID = &id
	}
	if c.Size != nil {
		c.Size = domain.Int64Ptr(*c.Size)
	}
	if c.ContentKey != nil {
		key := *c.ContentKey
		c.ContentKey = &key
	}
	if c.ArchivedAt != nil {
		at := *c.ArchivedAt
		c.ArchivedAt = &at
	}
	return c
}

func copyPerson(p domain.Person) domain.Person {
	if p.SizeCurrent != nil {
		p.SizeCurrent = domain.Int64Ptr(*p.SizeCurrent)
	}
	if p.SizeQuota != nil {
		p.SizeQuota = domain.Int64Ptr(*p.SizeQuota)
	}
	return p
}

func (s *Store) InsertContent(_ context.Context, content *domain.Content) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.data.content[content.ID]; ok {
		return fmt.Errorf("failed to insert content: duplicate id %s", content.ID)
	}
	now := s.now()
	content.CreatedAt = now
	content.UpdatedAt = now
	s.data.content[content.ID] = copyContent(*content)
	return nil
}

func (s *Store) GetContent(_ context.Context, id uuid.UUID) (*domain.Content, error) {
	defer s.read()()

	c, ok := s.data.content[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, repository.ErrNotFound)
	}
	c = copyContent(c)
	return &c, nil
}

func (s *Store) UpdateContent(_ context.Context, content *domain.Content) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	existing, ok := s.data.content[content.ID]
	if !ok {
		return fmt.Errorf("content %s: %w", content.ID, repository.ErrNotFound)
	}
	content.CreatedAt = existing.CreatedAt
	content.UpdatedAt = s.now()
	s.data.content[content.ID] = copyContent(*content)
	return nil
}

func (s *Store) DeleteContent(_ context.Context, id uuid.UUID) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.data.content[id]; !ok {
		return fmt.Errorf("content %s: %w", id, repository.ErrNotFound)
	}
	delete(s.data.content, id)
	return nil
}

func (s *Store) ListChildren(_ context.Context, parentID uuid.UUID) ([]domain.Content, error) {
	defer s.read()()

	var children []domain.Content
	for _, c := range s.data.content {
		if c.ParentID != nil && *c.ParentID == parentID {
			children = append(children, copyContent(c))
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

func (s *Store) ListArchivedBefore(_ context.Context, before time.Time, limit int) ([]domain.Content, error) {
	defer s.read()()

	var nodes []domain.Content
	for _, c := range s.data.content {
		if c.StoreID == domain.ArchiveStore && c.ArchivedAt != nil && c.ArchivedAt.Before(before) {
			nodes = append(nodes, copyContent(c))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ArchivedAt.Before(*nodes[j].ArchivedAt) })
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

func attributedTo(c domain.Content) string {
	if c.Owner != domain.NoOwner {
		return c.Owner
	}
	return c.Creator
}

func (s *Store) SumContentSizeByOwner(_ context.Context, stores []string, userName string) (int64, error) {
	defer s.read()()

	var total int64
	for _, c := range s.data.content {
		if c.Type != domain.NodeTypeContent || c.Size == nil || !slices.Contains(stores, c.StoreID) {
			continue
		}
		if attributedTo(c) == userName {
			total += *c.Size
		}
	}
	return total, nil
}

func (s *Store) CountContent(_ context.Context, stores []string) (int64, error) {
	defer s.read()()

	var count int64
	for _, c := range s.data.content {
		if c.Type == domain.NodeTypeContent && slices.Contains(stores, c.StoreID) {
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertPerson(_ context.Context, person *domain.Person) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	for _, p := range s.data.people {
		if p.UserName == person.UserName {
			return fmt.Errorf("failed to insert person: duplicate user name %s", person.UserName)
		}
	}
	now := s.now()
	person.CreatedAt = now
	person.UpdatedAt = now
	s.data.people[person.ID] = copyPerson(*person)
	return nil
}

func (s *Store) GetPersonByID(_ context.Context, id uuid.UUID) (*domain.Person, error) {
	defer s.read()()

	p, ok := s.data.people[id]
	if !ok {
		return nil, fmt.Errorf("person %s: %w", id, repository.ErrNotFound)
	}
	p = copyPerson(p)
	return &p, nil
}

// LockPersonByID needs no row lock here since transactions are serialized.
func (s *Store) LockPersonByID(ctx context.Context, id uuid.UUID) (*domain.Person, error) {
	if s.readOnly {
		return nil, repository.ErrReadOnlyTx
	}
	return s.GetPersonByID(ctx, id)
}

func (s *Store) GetPersonByUserName(_ context.Context, userName string) (*domain.Person, error) {
	defer s.read()()

	for _, p := range s.data.people {
		if p.UserName == userName {
			p = copyPerson(p)
			return &p, nil
		}
	}
	return nil, fmt.Errorf("person %s: %w", userName, repository.ErrNotFound)
}

func (s *Store) updatePerson(id uuid.UUID, fn func(*domain.Person)) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	p, ok := s.data.people[id]
	if !ok {
		return fmt.Errorf("person %s: %w", id, repository.ErrNotFound)
	}
	fn(&p)
	p.UpdatedAt = s.now()
	s.data.people[id] = copyPerson(p)
	return nil
}

func (s *Store) UpdatePersonUsage(_ context.Context, id uuid.UUID, sizeCurrent *int64) error {
	return s.updatePerson(id, func(p *domain.Person) { p.SizeCurrent = sizeCurrent })
}

func (s *Store) UpdatePersonQuota(_ context.Context, id uuid.UUID, sizeQuota *int64) error {
	return s.updatePerson(id, func(p *domain.Person) { p.SizeQuota = sizeQuota })
}

func (s *Store) listPeople(limit int, match func(domain.Person) bool) []domain.Person {
	defer s.read()()

	var people []domain.Person
	for _, p := range s.data.people {
		if match(p) {
			people = append(people, copyPerson(p))
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].UserName < people[j].UserName })
	if len(people) > limit {
		people = people[:limit]
	}
	return people
}

func (s *Store) ListPeopleWithoutUsage(_ context.Context, limit int) ([]domain.Person, error) {
	return s.listPeople(limit, func(p domain.Person) bool { return p.SizeCurrent == nil }), nil
}

func (s *Store) ListPeopleWithUsage(_ context.Context, limit int) ([]domain.Person, error) {
	return s.listPeople(limit, func(p domain.Person) bool { return p.SizeCurrent != nil }), nil
}

func (s *Store) CountPeople(_ context.Context, excluded []string) (int64, error) {
	defer s.read()()

	var count int64
	for _, p := range s.data.people {
		if !slices.Contains(excluded, p.UserName) {
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertUsageDelta(_ context.Context, personID uuid.UUID, deltaBytes int64) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.data.people[personID]; !ok {
		return fmt.Errorf("failed to insert usage delta: person %s: %w", personID, repository.ErrNotFound)
	}
	s.data.nextDelta++
	s.data.deltas = append(s.data.deltas, domain.UsageDelta{
		ID:         s.data.nextDelta,
		PersonID:   personID,
		DeltaBytes: deltaBytes,
		CreatedAt:  s.now(),
	})
	return nil
}

func (s *Store) GetTotalDeltaSize(_ context.Context, personID uuid.UUID) (int64, error) {
	defer s.read()()

	var total int64
	for _, d := range s.data.deltas {
		if d.PersonID == personID {
			total += d.DeltaBytes
		}
	}
	return total, nil
}

func (s *Store) DeleteUsageDeltas(_ context.Context, personID uuid.UUID) (int64, error) {
	unlock, err := s.write()
	if err != nil {
		return 0, err
	}
	defer unlock()

	kept := s.data.deltas[:0:0]
	var removed int64
	for _, d := range s.data.deltas {
		if d.PersonID == personID {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	s.data.deltas = kept
	return removed, nil
}

func (s *Store) RemoveUsageDeltas(_ context.Context, personID uuid.UUID) (int64, error) {
	unlock, err := s.write()
	if err != nil {
		return 0, err
	}
	defer unlock()

	kept := s.data.deltas[:0:0]
	var total int64
	for _, d := range s.data.deltas {
		if d.PersonID == personID {
			total += d.DeltaBytes
			continue
		}
		kept = append(kept, d)
	}
	s.data.deltas = kept
	return total, nil
}

func (s *Store) GetUsageDeltaOwners(context.Context) ([]uuid.UUID, error) {
	defer s.read()()

	seen := map[uuid.UUID]struct{}{}
	var owners []uuid.UUID
	for _, d := range s.data.deltas {
		if _, ok := seen[d.PersonID]; ok {
			continue
		}
		seen[d.PersonID] = struct{}{}
		owners = append(owners, d.PersonID)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].String() < owners[j].String() })
	return owners, nil
}

func (s *Store) GetRepoUsageCount(_ context.Context, usageType domain.UsageType) (*domain.RepoUsageCount, error) {
	defer s.read()()

	c, ok := s.data.repoUsage[usageType]
	if !ok {
		return nil, fmt.Errorf("repo usage %s: %w", usageType, repository.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) UpsertRepoUsageCount(_ context.Context, count domain.RepoUsageCount) error {
	unlock, err := s.write()
	if err != nil {
		return err
	}
	defer unlock()

	s.data.repoUsage[count.UsageType] = count
	return nil
}

// DeltaCount returns the number of pending delta rows.
func (s *Store) DeltaCount() int {
	defer s.read()()
	return len(s.data.deltas)
}
