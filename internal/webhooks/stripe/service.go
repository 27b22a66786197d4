package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/internal/billing"
	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
	"github.com/coachloop/coachloop-backend/pkg/metrics"
	"github.com/coachloop/coachloop-backend/pkg/outbox"
	"github.com/coachloop/coachloop-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Tiers             billing.TierCatalog
	StripeClient      StripeSubscriptionClient
	TransactionRunner txRunner
	Outbox            eventEmitter
	Logg              *logger.Logger
	Metrics           *metrics.WebhookMetrics
}

// Service applies Stripe subscription lifecycle events onto billing records.
// Every handler is a full-state overwrite, so replays and out-of-order
// deliveries converge on the provider's view.
type Service struct {
	billingRepo billing.Repository
	tiers       billing.TierCatalog
	stripe      StripeSubscriptionClient
	txRunner    txRunner
	outbox      eventEmitter
	logg        *logger.Logger
	metrics     *metrics.WebhookMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		tiers:       params.Tiers,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		outbox:      params.Outbox,
		logg:        params.Logg,
		metrics:     params.Metrics,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	ctx = s.logg.WithEventID(ctx, event.ID)
	ctx = s.logg.WithEventType(ctx, string(event.Type))

	start := time.Now()
	outcome, err := s.dispatch(ctx, event)
	s.metrics.IncEvent(string(event.Type), outcome)
	s.metrics.ObserveDuration(string(event.Type), time.Since(start))
	return err
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (string, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeInvoicePaid:
		return s.handleInvoice(ctx, event, false)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoice(ctx, event, true)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logg.Info(ctx, "ignoring unhandled stripe event type")
		return metrics.WebhookOutcomeSkipped, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.logg.Warn(ctx, "checkout session payload undecodable, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	userID, err := billing.UserIDFromMetadata(session.Metadata)
	if err != nil {
		s.logg.Warn(ctx, "checkout session has no user linkage, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	if session.Customer == nil || session.Customer.ID == "" {
		s.logg.Warn(ctx, "checkout session has no customer linkage, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		s.logg.Warn(ctx, "checkout session has no subscription linkage, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	sub, err := s.stripe.Get(ctx, session.Subscription.ID, nil)
	if err != nil {
		return metrics.WebhookOutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		record, err := repo.FindByUserID(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
		}
		created := false
		if record == nil {
			record = &models.BillingRecord{
				UserID: userID,
				Tier:   enums.TierFree,
				Status: enums.SubscriptionStatusNone,
			}
			created = true
		}
		previousTier := record.Tier

		customerID := session.Customer.ID
		record.StripeCustomerID = &customerID
		if err := billing.ApplySubscription(record, sub, s.tiers); err != nil {
			return err
		}

		if created {
			if err := repo.Create(ctx, record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create billing record")
			}
		} else if err := repo.Update(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing record")
		}
		return s.emitTierChangeIfNeeded(ctx, tx, record, previousTier)
	})
	if err != nil {
		return metrics.WebhookOutcomeFailed, err
	}

	s.logg.Info(ctx, "checkout session reconciled")
	return metrics.WebhookOutcomeProcessed, nil
}

func (s *Service) handleInvoice(ctx context.Context, event *stripe.Event, paymentFailed bool) (string, error) {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		s.logg.Warn(ctx, "invoice event carries no subscription id, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	sub, err := s.stripe.Get(ctx, subscriptionID, nil)
	if err != nil {
		return metrics.WebhookOutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	matched := true
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		record, created, err := s.resolveRecord(ctx, repo, sub)
		if err != nil {
			return err
		}
		if record == nil {
			matched = false
			return nil
		}
		previousTier := record.Tier

		if paymentFailed {
			if err := billing.ApplyPaymentFailure(record, billing.StatusFromStripe(sub.Status)); err != nil {
				return err
			}
		} else if err := billing.ApplySubscription(record, sub, s.tiers); err != nil {
			return err
		}

		if err := s.persist(ctx, repo, record, created); err != nil {
			return err
		}
		if paymentFailed {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentFailed,
				AggregateType: enums.AggregateBillingRecord,
				AggregateID:   record.UserID,
				Data: payloads.PaymentFailedEvent{
					UserID: record.UserID,
					Status: record.Status,
				},
			})
		}
		return s.emitTierChangeIfNeeded(ctx, tx, record, previousTier)
	})
	if err != nil {
		return metrics.WebhookOutcomeFailed, err
	}
	if !matched {
		s.logg.Warn(ctx, "no billing record for stripe customer, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	s.logg.Info(ctx, "invoice event reconciled")
	return metrics.WebhookOutcomeProcessed, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		s.logg.Warn(ctx, "subscription payload undecodable, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	matched := true
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		record, created, err := s.resolveRecord(ctx, repo, &sub)
		if err != nil {
			return err
		}
		if record == nil {
			matched = false
			return nil
		}
		previousTier := record.Tier

		if err := billing.ApplySubscription(record, &sub, s.tiers); err != nil {
			return err
		}
		if err := s.persist(ctx, repo, record, created); err != nil {
			return err
		}
		return s.emitTierChangeIfNeeded(ctx, tx, record, previousTier)
	})
	if err != nil {
		return metrics.WebhookOutcomeFailed, err
	}
	if !matched {
		s.logg.Warn(ctx, "subscription update matches no billing record, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	s.logg.Info(ctx, "subscription update reconciled")
	return metrics.WebhookOutcomeProcessed, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		s.logg.Warn(ctx, "subscription payload undecodable, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	matched := true
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		record, created, err := s.resolveRecord(ctx, repo, &sub)
		if err != nil {
			return err
		}
		if record == nil || created {
			matched = false
			return nil
		}

		if err := billing.ClearSubscription(record, &sub); err != nil {
			return err
		}
		if err := repo.Update(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing record")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateBillingRecord,
			AggregateID:   record.UserID,
			Data: payloads.SubscriptionCanceledEvent{
				UserID:     record.UserID,
				CanceledAt: record.CancellationDate,
			},
		})
	})
	if err != nil {
		return metrics.WebhookOutcomeFailed, err
	}
	if !matched {
		s.logg.Warn(ctx, "subscription deletion matches no billing record, skipping")
		return metrics.WebhookOutcomeSkipped, nil
	}

	s.logg.Info(ctx, "subscription deletion reconciled")
	return metrics.WebhookOutcomeProcessed, nil
}

// resolveRecord locates the billing record for a subscription. The customer id
// is the primary key into local state; subscription metadata is the fallback
// for events that arrive before checkout completion has been recorded.
func (s *Service) resolveRecord(ctx context.Context, repo billing.Repository, sub *stripe.Subscription) (*models.BillingRecord, bool, error) {
	if sub.Customer != nil && sub.Customer.ID != "" {
		record, err := repo.FindByStripeCustomerID(ctx, sub.Customer.ID)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
		}
		if record != nil {
			return record, false, nil
		}
	}

	userID, err := billing.UserIDFromMetadata(sub.Metadata)
	if err != nil {
		return nil, false, nil
	}
	record, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load billing record")
	}
	if record != nil {
		return record, false, nil
	}
	return &models.BillingRecord{
		UserID: userID,
		Tier:   enums.TierFree,
		Status: enums.SubscriptionStatusNone,
	}, true, nil
}

func (s *Service) persist(ctx context.Context, repo billing.Repository, record *models.BillingRecord, created bool) error {
	if created {
		if err := repo.Create(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create billing record")
		}
		return nil
	}
	if err := repo.Update(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing record")
	}
	return nil
}

func (s *Service) emitTierChangeIfNeeded(ctx context.Context, tx *gorm.DB, record *models.BillingRecord, previousTier enums.Tier) error {
	if record.Tier == previousTier {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTierChanged,
		AggregateType: enums.AggregateBillingRecord,
		AggregateID:   record.UserID,
		Data: payloads.TierChangedEvent{
			UserID:       record.UserID,
			PreviousTier: previousTier,
			Tier:         record.Tier,
			Status:       record.Status,
			PriceID:      record.PriceID,
		},
	})
}
