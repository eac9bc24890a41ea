// Package events routes repository lifecycle events to the handlers bound
// to the event kind and the target entity type.
package events

import (
	"context"
	"fmt"

	"synxronusage/internal/domain"
	"synxronusage/internal/txn"
)

type Kind string

const (
	KindCreated           Kind = "created"
	KindPropertiesUpdated Kind = "properties_updated"
	KindBeforeDelete      Kind = "before_delete"
	KindPersonUpdated     Kind = "person_updated"
)

type EntityType string

const (
	EntityContent EntityType = "content"
	EntityFolder  EntityType = "folder"
	EntityPerson  EntityType = "person"
)

// Event is one of Created, PropertiesUpdated, BeforeDelete or PersonUpdated.
type Event interface {
	Kind() Kind
	Target() EntityType
}

func nodeTarget(c *domain.Content) EntityType {
	if c != nil && c.IsFolder() {
		return EntityFolder
	}
	return EntityContent
}

type Created struct {
	Content *domain.Content
}

func (Created) Kind() Kind           { return KindCreated }
func (e Created) Target() EntityType { return nodeTarget(e.Content) }

type PropertiesUpdated struct {
	Before *domain.Content
	After  *domain.Content
}

func (PropertiesUpdated) Kind() Kind           { return KindPropertiesUpdated }
func (e PropertiesUpdated) Target() EntityType { return nodeTarget(e.After) }

type BeforeDelete struct {
	Content *domain.Content
}

func (BeforeDelete) Kind() Kind           { return KindBeforeDelete }
func (e BeforeDelete) Target() EntityType { return nodeTarget(e.Content) }

type PersonUpdated struct {
	Actor  string
	Before *domain.Person
	After  *domain.Person
}

func (PersonUpdated) Kind() Kind         { return KindPersonUpdated }
func (PersonUpdated) Target() EntityType { return EntityPerson }

type Handler func(ctx context.Context, tx *txn.Tx, event Event) error

type route struct {
	kind   Kind
	target EntityType
}

// Dispatcher is not safe for concurrent registration; bind handlers at
// startup before the first Fire.
type Dispatcher struct {
	routes map[route][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: map[route][]Handler{}}
}

func (d *Dispatcher) On(kind Kind, target EntityType, h Handler) {
	r := route{kind: kind, target: target}
	d.routes[r] = append(d.routes[r], h)
}

// Fire runs the bound handlers in registration order inside tx. The first
// handler error aborts dispatch and is returned so the caller rolls back.
func (d *Dispatcher) Fire(ctx context.Context, tx *txn.Tx, event Event) error {
	for _, h := range d.routes[route{kind: event.Kind(), target: event.Target()}] {
		if err := h(ctx, tx, event); err != nil {
			return fmt.Errorf("%s handler failed: %w", event.Kind(), err)
		}
	}
	return nil
}
