/**
 * @description
 * This file defines the core domain models for the billing-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Credit amounts are signed `int64`; a positive ledger amount is a grant and a
 *   negative one is a spend or reversal.
 * - Monetary amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReferenceType classifies what produced a ledger entry. The set is closed; the
// store enforces it with a CHECK constraint.
type ReferenceType string

const (
	ReferencePurchase       ReferenceType = "purchase"
	ReferenceEvidenceRun    ReferenceType = "evidence_run"
	ReferenceOutreachPack   ReferenceType = "outreach_pack"
	ReferenceAdminGrant     ReferenceType = "admin_grant"
	ReferenceSignupBonus    ReferenceType = "signup_bonus"
	ReferenceRefundReversal ReferenceType = "refund_reversal"
	ReferenceAdminTest      ReferenceType = "admin_test"
)

// Valid reports whether t is one of the known reference types.
func (t ReferenceType) Valid() bool {
	switch t {
	case ReferencePurchase, ReferenceEvidenceRun, ReferenceOutreachPack,
		ReferenceAdminGrant, ReferenceSignupBonus, ReferenceRefundReversal,
		ReferenceAdminTest:
		return true
	}
	return false
}

// LedgerEntry is one immutable, signed balance-change record. Entries are never
// updated or deleted; corrections append an offsetting entry.
type LedgerEntry struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	Amount        int64         `json:"amount"`
	Reason        string        `json:"reason"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   *uuid.UUID    `json:"reference_id,omitempty"`
	BalanceAfter  int64         `json:"balance_after"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PurchaseReceipt is the durable, user-facing record of one completed checkout.
// stripe_checkout_session_id is the idempotency key for this entity.
type PurchaseReceipt struct {
	ID                      uuid.UUID `json:"id"`
	UserID                  uuid.UUID `json:"user_id"`
	StripeCheckoutSessionID string    `json:"stripe_checkout_session_id"`
	StripePaymentIntentID   *string   `json:"stripe_payment_intent_id,omitempty"`
	PackID                  string    `json:"pack_id"`
	CreditsAdded            int64     `json:"credits_added"`
	AmountCents             int64     `json:"amount_cents"`
	Currency                string    `json:"currency"`
	StripeReceiptURL        *string   `json:"stripe_receipt_url,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// WebhookEventStatus is the terminal outcome recorded for an inbound Stripe event.
type WebhookEventStatus string

const (
	WebhookStatusProcessed    WebhookEventStatus = "processed"
	WebhookStatusManualReview WebhookEventStatus = "manual_review"
	WebhookStatusSkipped      WebhookEventStatus = "skipped"
)

// WebhookEvent is the idempotency ledger row for one inbound Stripe event id.
// No payload is persisted; the row exists so a duplicate delivery of the same
// event id can be recognized and so operators can audit what arrived.
type WebhookEvent struct {
	ID               uuid.UUID          `json:"id"`
	StripeEventID    string             `json:"stripe_event_id"`
	EventType        string             `json:"event_type"`
	Status           WebhookEventStatus `json:"status"`
	CreditsPurchased *int64             `json:"credits_purchased,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// WebhookEventListOptions controls filtering and pagination of the event log.
type WebhookEventListOptions struct {
	Status    string
	EventType string
	Limit     int
	Offset    int
}

// RefundQueueStatus is the state of a refund queue item. pending is the only
// non-terminal state; processed and ignored are terminal.
type RefundQueueStatus string

const (
	RefundStatusPending   RefundQueueStatus = "pending"
	RefundStatusProcessed RefundQueueStatus = "processed"
	RefundStatusIgnored   RefundQueueStatus = "ignored"
)

// RefundQueueItem is the pending-review holding record for one Stripe refund or
// chargeback. stripe_refund_id is the idempotency key.
type RefundQueueItem struct {
	ID                      uuid.UUID         `json:"id"`
	UserID                  *uuid.UUID        `json:"user_id,omitempty"`
	StripeChargeID          string            `json:"stripe_charge_id"`
	StripeRefundID          string            `json:"stripe_refund_id"`
	StripeCheckoutSessionID *string           `json:"stripe_checkout_session_id,omitempty"`
	AmountRefunded          int64             `json:"amount_refunded"`
	Currency                string            `json:"currency"`
	PackID                  *string           `json:"pack_id,omitempty"`
	CreditsToReverse        *int64            `json:"credits_to_reverse,omitempty"`
	Status                  RefundQueueStatus `json:"status"`
	AdminUserID             *uuid.UUID        `json:"admin_user_id,omitempty"`
	IgnoreReason            *string           `json:"ignore_reason,omitempty"`
	LedgerEntryID           *uuid.UUID        `json:"ledger_entry_id,omitempty"`
	ProcessedAt             *time.Time        `json:"processed_at,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
}

// ProcessRefundResult is returned by the admin refund-processing workflow.
// AlreadyProcessed=true means the item had left pending before this call and
// no new debit was made.
type ProcessRefundResult struct {
	AlreadyProcessed bool       `json:"already_processed"`
	LedgerEntryID    *uuid.UUID `json:"ledger_entry_id,omitempty"`
}

// IgnoreRefundResult is returned by the admin ignore workflow.
type IgnoreRefundResult struct {
	AlreadyProcessed bool `json:"already_processed"`
}

// SpendCreditsRequest is the DTO for internal credit-spend calls from feature
// services (evidence scans, outreach generation).
type SpendCreditsRequest struct {
	UserID        uuid.UUID     `json:"user_id"`
	Amount        int64         `json:"amount"`
	Reason        string        `json:"reason"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   *uuid.UUID    `json:"reference_id,omitempty"`
}

// AdminGrantRequest is the DTO for manual credit grants by an operator.
type AdminGrantRequest struct {
	UserID      uuid.UUID  `json:"user_id"`
	Amount      int64      `json:"amount"`
	Reason      string     `json:"reason"`
	Test        bool       `json:"test"`
	ReferenceID *uuid.UUID `json:"reference_id,omitempty"`
}

// WebhookOutcome summarizes what ingestion did with one Stripe event.
type WebhookOutcome string

const (
	OutcomeProcessed    WebhookOutcome = "processed"
	OutcomeDuplicate    WebhookOutcome = "duplicate"
	OutcomeSkipped      WebhookOutcome = "skipped"
	OutcomeManualReview WebhookOutcome = "manual_review"
)
