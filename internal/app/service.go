/**
 * @description
 * This file contains the core business logic for the billing-service. The
 * `Service` struct orchestrates all credit ledger operations, coordinating
 * between the database repository, the message broker, and the metrics
 * collectors.
 *
 * Key features:
 * - Implements the main use cases: balance reads, guarded feature spends,
 *   signup bonuses, admin grants, and receipt retrieval.
 * - Validation of amounts and reference types happens here; the repository
 *   only enforces what the database can enforce.
 * - Publishes credit lifecycle events to RabbitMQ for asynchronous processing
 *   by other services. Publishing is best effort; the committed ledger row is
 *   the source of truth.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store, internal/metrics: Domain models, data access, collectors.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/metrics"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/jobtrail/billing-service/pkg/rabbitmq"
)

// Service provides the core business logic for the credit ledger and billing
// reconciliation.
type Service struct {
	repo               store.Repository
	eventProducer      rabbitmq.Publisher
	metrics            *metrics.Metrics
	webhookSecret      string
	signupBonusCredits int64
}

// NewService creates a new billing service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, m *metrics.Metrics, webhookSecret string, signupBonusCredits int64) *Service {
	return &Service{
		repo:               repo,
		eventProducer:      producer,
		metrics:            m,
		webhookSecret:      webhookSecret,
		signupBonusCredits: signupBonusCredits,
	}
}

// WebhookSecret returns the Stripe signing secret the webhook handler verifies with.
func (s *Service) WebhookSecret() string {
	return s.webhookSecret
}

// GetBalance returns the user's current credit balance. Users with no ledger
// history have a balance of zero.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetCreditBalance(ctx, userID)
}

// ListLedger returns the user's ledger entries, newest first.
func (s *Service) ListLedger(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, userID, limit)
}

// spendableReferenceTypes are the only reference types feature services may
// debit through. Everything else either grants or goes through the refund path.
var spendableReferenceTypes = map[domain.ReferenceType]bool{
	domain.ReferenceEvidenceRun:  true,
	domain.ReferenceOutreachPack: true,
}

// SpendCredits debits the user's balance for a feature action. The balance
// check and the debit are a single atomic statement in the repository, so a
// rejected spend means another spend truly won the race.
func (s *Service) SpendCredits(ctx context.Context, req domain.SpendCreditsRequest) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrEmptyReason
	}
	if !spendableReferenceTypes[req.ReferenceType] {
		return nil, ErrInvalidReferenceType
	}

	entry, err := s.repo.SpendCredits(ctx, store.LedgerAppendParams{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			s.metrics.IncSpendRejected()
			log.Printf("level=info component=billing_service msg=\"spend rejected\" user_id=%s amount=%d reference_type=%s", req.UserID, req.Amount, req.ReferenceType)
			return nil, store.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("failed to spend credits: %w", err)
	}

	s.metrics.AddSpent(req.Amount)
	s.publishCreditEvent(ctx, rabbitmq.RoutingKeyCreditsSpent, entry)
	return entry, nil
}

// GrantSignupBonus grants the one-time signup bonus. Calling it again for the
// same user is a no-op; alreadyGranted reports which case this call was.
func (s *Service) GrantSignupBonus(ctx context.Context, userID uuid.UUID) (entry *domain.LedgerEntry, alreadyGranted bool, err error) {
	entry, err = s.repo.GrantSignupBonus(ctx, userID, s.signupBonusCredits, "Welcome bonus")
	if err != nil {
		if errors.Is(err, store.ErrSignupBonusGranted) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("failed to grant signup bonus: %w", err)
	}

	s.metrics.AddGranted(s.signupBonusCredits)
	s.publishCreditEvent(ctx, rabbitmq.RoutingKeyCreditsGranted, entry)
	log.Printf("level=info component=billing_service msg=\"signup bonus granted\" user_id=%s amount=%d", userID, s.signupBonusCredits)
	return entry, false, nil
}

// AdminGrantCredits applies a manual grant by an operator. Test grants are
// tagged with their own reference type so they can be filtered out of revenue
// reporting.
func (s *Service) AdminGrantCredits(ctx context.Context, adminUserID uuid.UUID, req domain.AdminGrantRequest) (*domain.LedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrEmptyReason
	}

	referenceType := domain.ReferenceAdminGrant
	if req.Test {
		referenceType = domain.ReferenceAdminTest
	}

	entry, err := s.repo.GrantCredits(ctx, store.LedgerAppendParams{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		ReferenceType: referenceType,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}

	s.metrics.AddGranted(req.Amount)
	s.publishCreditEvent(ctx, rabbitmq.RoutingKeyCreditsGranted, entry)
	log.Printf("level=info component=billing_service msg=\"admin grant applied\" admin_user_id=%s user_id=%s amount=%d reference_type=%s", adminUserID, req.UserID, req.Amount, referenceType)
	return entry, nil
}

// ListReceipts returns the user's purchase receipts, newest first.
func (s *Service) ListReceipts(ctx context.Context, userID uuid.UUID) ([]domain.PurchaseReceipt, error) {
	return s.repo.ListReceiptsForUser(ctx, userID)
}

// GetReceipt returns one receipt, scoped to the caller.
func (s *Service) GetReceipt(ctx context.Context, receiptID uuid.UUID, callerUserID uuid.UUID) (*domain.PurchaseReceipt, error) {
	return s.repo.GetReceiptByID(ctx, receiptID, callerUserID)
}

// publishCreditEvent pushes a ledger entry to the broker. Failures are logged
// and swallowed; consumers reconcile from the ledger on their own schedule.
func (s *Service) publishCreditEvent(ctx context.Context, routingKey string, entry *domain.LedgerEntry) {
	if s.eventProducer == nil || entry == nil {
		return
	}
	event := rabbitmq.CreditEvent{
		UserID:        entry.UserID,
		Amount:        entry.Amount,
		BalanceAfter:  entry.BalanceAfter,
		Reason:        entry.Reason,
		ReferenceType: string(entry.ReferenceType),
		Timestamp:     time.Now().UTC(),
	}
	if err := s.eventProducer.PublishCreditEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=billing_service msg=\"credit event publish failed\" routing_key=%s user_id=%s err=%v", routingKey, entry.UserID, err)
	}
}
