// Package events carries the instance-saved notification from the engine to
// its consumers: in-process subscribers and a Redis channel.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/models"
)

// InstanceSaved is emitted after every non-initial instance save commits.
type InstanceSaved struct {
	InstanceID uuid.UUID  `json:"instance_id"`
	ModelID    uuid.UUID  `json:"model_id"`
	ModelName  string     `json:"model_name"`
	Created    bool       `json:"created"`
	CreatorID  *uuid.UUID `json:"creator_id,omitempty"`

	// Instance is only set for in-process delivery.
	Instance *models.InstanceModel `json:"-"`
}

// Publisher delivers InstanceSaved notifications.
type Publisher interface {
	Publish(ctx context.Context, event InstanceSaved) error
}

// Handler consumes one notification.
type Handler func(ctx context.Context, event InstanceSaved) error

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches notifications synchronously to subscribers in the order
// they subscribed. A failing subscriber does not stop the others.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{name: name, handler: handler})
}

func (b *Bus) Publish(ctx context.Context, event InstanceSaved) error {
	b.mu.RLock()
	subscriptions := make([]subscription, len(b.subscriptions))
	copy(subscriptions, b.subscriptions)
	b.mu.RUnlock()

	var combined error
	for _, s := range subscriptions {
		if err := s.handler(ctx, event); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"subscriber":  s.name,
				"instance_id": event.InstanceID,
			}).Error("Instance saved subscriber failed")
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "subscriber %s", s.name))
		}
	}
	return combined
}

// Publishers fans a notification out to several publishers.
type Publishers []Publisher

func (p Publishers) Publish(ctx context.Context, event InstanceSaved) error {
	var combined error
	for _, publisher := range p {
		if err := publisher.Publish(ctx, event); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// Discard drops every notification.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, InstanceSaved) error { return nil }
