/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReceiptNotFound     = errors.New("purchase receipt not found")
	ErrRefundItemNotFound  = errors.New("refund queue item not found")
	ErrRefundUserUnmapped  = errors.New("refund queue item has no user mapped")
	ErrEventNotFound       = errors.New("webhook event not found")
	ErrSignupBonusGranted  = errors.New("signup bonus already granted")
)

// LedgerAppendParams describes one ledger append. Amount is always positive;
// the operation (grant, spend, force debit) determines the sign of the entry.
type LedgerAppendParams struct {
	UserID        uuid.UUID
	Amount        int64
	Reason        string
	ReferenceType domain.ReferenceType
	ReferenceID   *uuid.UUID
}

// PurchaseParams is the atomic unit recorded for one checkout.session.completed
// event: the event log row, the purchase receipt, and the credit grant.
type PurchaseParams struct {
	StripeEventID           string
	EventType               string
	UserID                  uuid.UUID
	StripeCheckoutSessionID string
	StripePaymentIntentID   *string
	PackID                  string
	Credits                 int64
	AmountCents             int64
	Currency                string
	StripeReceiptURL        *string
}

// RefundEnqueueParams is the atomic unit recorded for one charge.refunded event:
// the event log row and the pending refund queue item.
type RefundEnqueueParams struct {
	StripeEventID           string
	EventType               string
	UserID                  *uuid.UUID
	StripeChargeID          string
	StripeRefundID          string
	StripeCheckoutSessionID *string
	AmountRefunded          int64
	Currency                string
	PackID                  *string
	CreditsToReverse        *int64
}

// ProcessRefundParams carries the admin decision for one pending refund item.
type ProcessRefundParams struct {
	ItemID         uuid.UUID
	AdminUserID    uuid.UUID
	DebitAmount    int64
	OverrideUserID *uuid.UUID
}

// Repository defines the set of methods for interacting with the database.
//
// All ledger mutators for the same user are linearizable with respect to each
// other: implementations serialize them through the per-user balance row.
type Repository interface {
	// Credit ledger
	GrantCredits(ctx context.Context, params LedgerAppendParams) (*domain.LedgerEntry, error)
	// SpendCredits atomically checks the balance and appends a negative entry.
	// It returns ErrInsufficientCredits, with no write, when the balance is short.
	// This is the only debit path ordinary feature code may use.
	SpendCredits(ctx context.Context, params LedgerAppendParams) (*domain.LedgerEntry, error)
	GetCreditBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error)
	// GrantSignupBonus appends a signup_bonus grant at most once per user; the
	// partial unique index is the arbiter. Returns ErrSignupBonusGranted on repeat.
	GrantSignupBonus(ctx context.Context, userID uuid.UUID, amount int64, reason string) (*domain.LedgerEntry, error)

	// Purchase receipts
	ListReceiptsForUser(ctx context.Context, userID uuid.UUID) ([]domain.PurchaseReceipt, error)
	GetReceiptByID(ctx context.Context, id uuid.UUID, callerUserID uuid.UUID) (*domain.PurchaseReceipt, error)
	FindReceiptByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.PurchaseReceipt, error)
	FindReceiptByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*domain.PurchaseReceipt, error)

	// Webhook event log
	FindWebhookEventByStripeEventID(ctx context.Context, stripeEventID string) (*domain.WebhookEvent, error)
	// RecordWebhookEvent appends one event log row. inserted=false means another
	// worker already recorded this stripe event id.
	RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (inserted bool, err error)
	ListWebhookEvents(ctx context.Context, opts domain.WebhookEventListOptions) ([]domain.WebhookEvent, error)
	CountWebhookEventsByStatus(ctx context.Context, status domain.WebhookEventStatus) (int64, error)

	// Webhook ingestion composites. Each runs in one transaction with the event
	// log insert as the first statement, so two workers racing on the same
	// retried delivery are arbitrated by the unique index, not by application
	// checks. inserted=false means the event was a duplicate and nothing changed.
	RecordPurchaseAtomic(ctx context.Context, params PurchaseParams) (entry *domain.LedgerEntry, inserted bool, err error)
	// eventInserted=false means a replayed event id. itemInserted=false with
	// eventInserted=true means a known refund id under a fresh event id; the
	// event row is logged as skipped and no new queue item exists.
	EnqueueRefundAtomic(ctx context.Context, params RefundEnqueueParams) (eventInserted, itemInserted bool, err error)

	// Refund queue
	GetRefundQueueItem(ctx context.Context, id uuid.UUID) (*domain.RefundQueueItem, error)
	ListRefundQueueItems(ctx context.Context, status *domain.RefundQueueStatus) ([]domain.RefundQueueItem, error)
	ListUnresolvedPendingRefunds(ctx context.Context, limit int) ([]domain.RefundQueueItem, error)
	AttachRefundQueueUser(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	// ProcessRefundQueueItem performs the pending->processed transition, the user
	// attachment (when the item had none), and the unconditional force debit as
	// one transaction, so a crash cannot leave the debit written with the item
	// still pending. A non-pending item yields AlreadyProcessed with no write.
	ProcessRefundQueueItem(ctx context.Context, params ProcessRefundParams) (*domain.ProcessRefundResult, error)
	// IgnoreRefundQueueItem performs the pending->ignored transition.
	IgnoreRefundQueueItem(ctx context.Context, id uuid.UUID, adminUserID uuid.UUID, reason string) (*domain.IgnoreRefundResult, error)
}
