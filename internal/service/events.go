package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockmedia-reseller/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// OrderEvent is published for every applied order status transition.
type OrderEvent struct {
	OrderID    string            `json:"order_id"`
	UserID     string            `json:"user_id"`
	From       model.OrderStatus `json:"from"`
	To         model.OrderStatus `json:"to"`
	TaskID     string            `json:"task_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewEventPublisher publishes to subject on nc, or drops events when nc is nil.
func NewEventPublisher(nc *nats.Conn, subject string) EventPublisher {
	if nc == nil {
		return nopPublisher{}
	}
	return &natsPublisher{nc: nc, subject: subject}
}

func (p *natsPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Order-Id", event.OrderID)

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

type nopPublisher struct{}

func (nopPublisher) PublishOrderEvent(context.Context, OrderEvent) error { return nil }

// publishQuietly logs publish failures; events never fail the transition that caused them.
func publishQuietly(ctx context.Context, p EventPublisher, logger *zap.Logger, event OrderEvent) {
	if err := p.PublishOrderEvent(ctx, event); err != nil {
		logger.Warn("publish order event",
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
