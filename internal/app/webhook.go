/**
 * @description
 * Stripe webhook ingestion. The API layer verifies the signature and hands a
 * parsed stripe.Event to ProcessStripeEvent, which dispatches on the event
 * type and drives the idempotent store transactions.
 *
 * Delivery model: Stripe delivers at least once and out of order. Every
 * decision here therefore rests on database unique constraints, not on
 * in-memory state. An event that cannot be safely interpreted lands in
 * manual_review and its event id stays burned; redelivery of the same id is
 * reported as a duplicate and never reinterpreted.
 *
 * @dependencies
 * - encoding/json, log: Standard Go libraries.
 * - github.com/stripe/stripe-go/v82: Stripe event and object types.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/jobtrail/billing-service/pkg/rabbitmq"
	"github.com/stripe/stripe-go/v82"
)

const (
	eventTypeCheckoutCompleted = "checkout.session.completed"
	eventTypeChargeRefunded    = "charge.refunded"
)

// ProcessStripeEvent routes one verified Stripe event through ingestion and
// reports what was done with it. All return values map to HTTP 200 at the API
// layer; only signature and body failures are rejected before reaching here.
func (s *Service) ProcessStripeEvent(ctx context.Context, event stripe.Event) (domain.WebhookOutcome, error) {
	var outcome domain.WebhookOutcome
	var err error

	switch string(event.Type) {
	case eventTypeCheckoutCompleted:
		outcome, err = s.handleCheckoutCompleted(ctx, event)
	case eventTypeChargeRefunded:
		outcome, err = s.handleChargeRefunded(ctx, event)
	default:
		outcome, err = s.recordSkippedEvent(ctx, event)
	}

	if err != nil {
		return outcome, err
	}
	s.metrics.ObserveWebhook(string(event.Type), string(outcome))
	log.Printf("level=info component=webhook_ingest msg=\"event handled\" stripe_event_id=%s event_type=%s outcome=%s", event.ID, event.Type, outcome)
	return outcome, nil
}

// handleCheckoutCompleted turns a completed checkout into a receipt plus a
// credit grant, all in one store transaction keyed on the event id.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (domain.WebhookOutcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return s.recordManualReview(ctx, event, fmt.Sprintf("checkout session unmarshal failed: %v", err))
	}
	if session.ID == "" {
		return s.recordManualReview(ctx, event, "checkout session has no id")
	}

	userID, ok := resolveCheckoutUserID(&session)
	if !ok {
		return s.recordManualReview(ctx, event, "no user id on checkout session")
	}

	pack, ok := domain.FindCreditPack(session.Metadata["pack_id"])
	if !ok {
		return s.recordManualReview(ctx, event, fmt.Sprintf("unknown pack id %q", session.Metadata["pack_id"]))
	}

	// A metadata credits value overrides the catalog, e.g. promo checkouts.
	credits := pack.Credits
	if raw := session.Metadata["credits"]; raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || parsed <= 0 {
			return s.recordManualReview(ctx, event, fmt.Sprintf("invalid credits override %q", raw))
		}
		credits = parsed
	}

	var paymentIntentID *string
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentIntentID = &session.PaymentIntent.ID
	}

	entry, inserted, err := s.repo.RecordPurchaseAtomic(ctx, store.PurchaseParams{
		StripeEventID:           event.ID,
		EventType:               string(event.Type),
		UserID:                  userID,
		StripeCheckoutSessionID: session.ID,
		StripePaymentIntentID:   paymentIntentID,
		PackID:                  pack.ID,
		Credits:                 credits,
		AmountCents:             session.AmountTotal,
		Currency:                string(session.Currency),
		StripeReceiptURL:        nil,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record purchase: %w", err)
	}
	if !inserted {
		return domain.OutcomeDuplicate, nil
	}

	if entry != nil {
		s.metrics.AddGranted(credits)
		s.publishCreditEvent(ctx, rabbitmq.RoutingKeyCreditsGranted, entry)
	}
	return domain.OutcomeProcessed, nil
}

// resolveCheckoutUserID extracts the purchasing user from a checkout session,
// preferring client_reference_id over the metadata fallback.
func resolveCheckoutUserID(session *stripe.CheckoutSession) (uuid.UUID, bool) {
	for _, candidate := range []string{session.ClientReferenceID, session.Metadata["user_id"]} {
		if candidate == "" {
			continue
		}
		if id, err := uuid.Parse(candidate); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// handleChargeRefunded enqueues a pending refund review item. Credits are never
// reversed automatically; an operator decides later.
func (s *Service) handleChargeRefunded(ctx context.Context, event stripe.Event) (domain.WebhookOutcome, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return s.recordManualReview(ctx, event, fmt.Sprintf("charge unmarshal failed: %v", err))
	}
	if charge.ID == "" {
		return s.recordManualReview(ctx, event, "charge has no id")
	}

	refundID := latestRefundID(&charge)
	if refundID == "" {
		return s.recordManualReview(ctx, event, "charge.refunded carries no refund object")
	}

	userID, receipt, err := s.resolveRefundUser(ctx, &charge)
	if err != nil {
		return "", err
	}

	params := store.RefundEnqueueParams{
		StripeEventID:  event.ID,
		EventType:      string(event.Type),
		UserID:         userID,
		StripeChargeID: charge.ID,
		StripeRefundID: refundID,
		AmountRefunded: charge.AmountRefunded,
		Currency:       string(charge.Currency),
	}
	if sessionID := refundCheckoutSessionID(&charge, receipt); sessionID != "" {
		params.StripeCheckoutSessionID = &sessionID
	}
	if receipt != nil {
		params.PackID = &receipt.PackID
		credits := receipt.CreditsAdded
		params.CreditsToReverse = &credits
	}

	eventInserted, itemInserted, err := s.repo.EnqueueRefundAtomic(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue refund: %w", err)
	}
	if !eventInserted {
		return domain.OutcomeDuplicate, nil
	}
	if !itemInserted {
		// Known refund id under a fresh event id. The event row is logged as
		// skipped; nothing new to count or announce.
		return domain.OutcomeSkipped, nil
	}

	s.metrics.IncRefundQueued()
	if userID != nil && s.eventProducer != nil {
		queued := rabbitmq.CreditEvent{
			UserID:        *userID,
			Amount:        charge.AmountRefunded,
			Reason:        "refund pending review",
			ReferenceType: string(domain.ReferenceRefundReversal),
		}
		if pubErr := s.eventProducer.PublishCreditEvent(ctx, rabbitmq.RoutingKeyRefundQueued, queued); pubErr != nil {
			log.Printf("level=warn component=webhook_ingest msg=\"refund queued event publish failed\" charge_id=%s err=%v", charge.ID, pubErr)
		}
	}
	return domain.OutcomeProcessed, nil
}

// latestRefundID picks the refund object off the charge. Stripe includes the
// refund list on charge.refunded payloads with the newest refund first.
func latestRefundID(charge *stripe.Charge) string {
	if charge.Refunds == nil || len(charge.Refunds.Data) == 0 {
		return ""
	}
	if charge.Refunds.Data[0] == nil {
		return ""
	}
	return charge.Refunds.Data[0].ID
}

// refundCheckoutSessionID recovers the originating checkout session from the
// charge metadata or the matched receipt.
func refundCheckoutSessionID(charge *stripe.Charge, receipt *domain.PurchaseReceipt) string {
	if sessionID := charge.Metadata["checkout_session_id"]; sessionID != "" {
		return sessionID
	}
	if receipt != nil {
		return receipt.StripeCheckoutSessionID
	}
	return ""
}

// resolveRefundUser maps a refunded charge to the owning user, best effort:
// charge metadata first, then the receipt matched by payment intent, then the
// receipt matched by checkout session. A nil user is acceptable; the item is
// queued unmapped and picked up by the resolution sweep or an admin override.
func (s *Service) resolveRefundUser(ctx context.Context, charge *stripe.Charge) (*uuid.UUID, *domain.PurchaseReceipt, error) {
	receipt, err := s.findReceiptForCharge(ctx, charge)
	if err != nil {
		return nil, nil, err
	}

	if raw := charge.Metadata["user_id"]; raw != "" {
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			return &id, receipt, nil
		}
	}
	if receipt != nil {
		id := receipt.UserID
		return &id, receipt, nil
	}
	return nil, nil, nil
}

func (s *Service) findReceiptForCharge(ctx context.Context, charge *stripe.Charge) (*domain.PurchaseReceipt, error) {
	if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
		receipt, err := s.repo.FindReceiptByPaymentIntentID(ctx, charge.PaymentIntent.ID)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, store.ErrReceiptNotFound) {
			return nil, fmt.Errorf("receipt lookup by payment intent: %w", err)
		}
	}
	if sessionID := charge.Metadata["checkout_session_id"]; sessionID != "" {
		receipt, err := s.repo.FindReceiptByCheckoutSessionID(ctx, sessionID)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, store.ErrReceiptNotFound) {
			return nil, fmt.Errorf("receipt lookup by session: %w", err)
		}
	}
	return nil, nil
}

// recordSkippedEvent logs an event type ingestion does not handle.
func (s *Service) recordSkippedEvent(ctx context.Context, event stripe.Event) (domain.WebhookOutcome, error) {
	inserted, err := s.repo.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Status:        domain.WebhookStatusSkipped,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record skipped event: %w", err)
	}
	if !inserted {
		return domain.OutcomeDuplicate, nil
	}
	return domain.OutcomeSkipped, nil
}

// recordManualReview burns the event id with manual_review status. The row is
// terminal: a later redelivery of the same id reads as a duplicate rather than
// getting a second interpretation with possibly different data.
func (s *Service) recordManualReview(ctx context.Context, event stripe.Event, reason string) (domain.WebhookOutcome, error) {
	inserted, err := s.repo.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Status:        domain.WebhookStatusManualReview,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record manual review event: %w", err)
	}
	if !inserted {
		return domain.OutcomeDuplicate, nil
	}
	log.Printf("level=warn component=webhook_ingest msg=\"event sent to manual review\" stripe_event_id=%s event_type=%s reason=%q", event.ID, event.Type, reason)
	return domain.OutcomeManualReview, nil
}
