package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/email"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	"github.com/coachloop/coachloop-backend/pkg/logger"
	"github.com/coachloop/coachloop-backend/pkg/outbox"
	"github.com/coachloop/coachloop-backend/pkg/outbox/idempotency"
	"github.com/coachloop/coachloop-backend/pkg/outbox/payloads"
)

const billingNotificationConsumer = "billing-notifications"

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type emailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// Consumer watches billing domain events and mails the affected user.
type Consumer struct {
	users        userFinder
	email        emailSender
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a billing notification consumer.
func NewConsumer(users userFinder, sender emailSender, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if sender == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("billing subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		users:        users,
		email:        sender,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.Attributes["event_type"], msg.ID, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, eventType, messageID string, data []byte) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	parsedType, err := enums.ParseOutboxEventType(eventType)
	if err != nil {
		c.logg.Info(logCtx, "skipping unrecognized event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, billingNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handlePayload(ctx, logCtx, parsedType, envelope.Data); err != nil {
		c.logg.Error(logCtx, "billing notification failed", err)
		_ = c.idempotency.Delete(ctx, billingNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handlePayload(ctx context.Context, logCtx context.Context, eventType enums.OutboxEventType, data []byte) error {
	switch eventType {
	case enums.EventTierChanged:
		var payload payloads.TierChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse tier_changed payload: %w", err)
		}
		return c.notify(ctx, logCtx, payload.UserID, tierChangedMessage(payload))
	case enums.EventPaymentFailed:
		var payload payloads.PaymentFailedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse payment_failed payload: %w", err)
		}
		return c.notify(ctx, logCtx, payload.UserID, paymentFailedMessage(payload))
	case enums.EventSubscriptionCanceled:
		var payload payloads.SubscriptionCanceledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse subscription_canceled payload: %w", err)
		}
		return c.notify(ctx, logCtx, payload.UserID, subscriptionCanceledMessage(payload))
	default:
		c.logg.Info(logCtx, "event type not handled")
		return nil
	}
}

func (c *Consumer) notify(ctx context.Context, logCtx context.Context, userID uuid.UUID, msg email.Message) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id missing from payload")
	}
	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		// The user was deleted after the event was queued. Nothing to send.
		c.logg.Warn(logCtx, "user not found for billing notification")
		return nil
	}

	msg.ToName = user.FirstName + " " + user.LastName
	msg.ToAddress = user.Email
	if err := c.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	c.logg.Info(logCtx, "billing notification sent")
	return nil
}
