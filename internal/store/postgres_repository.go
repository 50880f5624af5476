/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the billing tables:
 * credit balances, the credit ledger, purchase receipts, the webhook event log,
 * and the refund queue.
 *
 * Concurrency notes:
 * - Per-user ledger writes serialize through the credit_balances row: every
 *   mutator updates that row (or upserts it) inside the same transaction that
 *   appends the ledger entry, so concurrent grants/spends for one user queue up
 *   on the row lock and each sees the committed balance of the previous writer.
 * - Idempotent inserts use ON CONFLICT DO NOTHING against real unique indexes
 *   and report inserted/already-exists through RowsAffected. The database, not
 *   the application, arbitrates between truly concurrent writers.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jobtrail/billing-service/internal/domain"
)

const defaultLedgerListLimit = 100

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const ledgerEntryColumns = `id, user_id, amount, reason, reference_type, reference_id, balance_after, created_at`

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.Amount, &entry.Reason,
		&entry.ReferenceType, &entry.ReferenceID, &entry.BalanceAfter, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// appendLedgerEntry upserts the per-user balance row and appends the matching
// ledger entry inside the caller's transaction. signedAmount carries the sign of
// the entry (positive grant, negative debit). The balance upsert takes the row
// lock that serializes all ledger writes for this user.
func appendLedgerEntry(
	ctx context.Context,
	tx pgx.Tx,
	userID uuid.UUID,
	signedAmount int64,
	reason string,
	referenceType domain.ReferenceType,
	referenceID *uuid.UUID,
) (*domain.LedgerEntry, error) {
	var balanceAfter int64
	balanceQuery := `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`
	if err := tx.QueryRow(ctx, balanceQuery, userID, signedAmount).Scan(&balanceAfter); err != nil {
		return nil, fmt.Errorf("update credit balance: %w", err)
	}

	entryQuery := `
		INSERT INTO credit_ledger_entries (user_id, amount, reason, reference_type, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + ledgerEntryColumns
	entry, err := scanLedgerEntry(tx.QueryRow(ctx, entryQuery, userID, signedAmount, reason, referenceType, referenceID, balanceAfter))
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GrantCredits appends a positive ledger entry for the user.
func (r *PostgresRepository) GrantCredits(ctx context.Context, params LedgerAppendParams) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := appendLedgerEntry(ctx, tx, params.UserID, params.Amount, params.Reason, params.ReferenceType, params.ReferenceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// SpendCredits atomically checks the balance and appends a negative entry.
// The guarded UPDATE touches the balance row only when it can cover the amount,
// so a concurrent spend that committed first is always observed.
func (r *PostgresRepository) SpendCredits(ctx context.Context, params LedgerAppendParams) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin spend tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balanceAfter int64
	guardQuery := `
		UPDATE credit_balances
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`
	if err := tx.QueryRow(ctx, guardQuery, params.UserID, params.Amount).Scan(&balanceAfter); err != nil {
		if err == pgx.ErrNoRows {
			// Either no balance row exists or the balance is short; both mean
			// the user cannot cover the spend.
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("guarded balance update: %w", err)
	}

	entryQuery := `
		INSERT INTO credit_ledger_entries (user_id, amount, reason, reference_type, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + ledgerEntryColumns
	entry, err := scanLedgerEntry(tx.QueryRow(ctx, entryQuery,
		params.UserID, -params.Amount, params.Reason, params.ReferenceType, params.ReferenceID, balanceAfter))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetCreditBalance returns the user's current balance, or 0 when the user has
// no ledger history yet.
func (r *PostgresRepository) GetCreditBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM credit_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// ListLedgerEntries returns the user's ledger entries, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerListLimit
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM credit_ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GrantSignupBonus appends a signup_bonus grant. The partial unique index on
// (user_id) WHERE reference_type = 'signup_bonus' makes a repeat insert fail,
// which rolls back the balance update as well.
func (r *PostgresRepository) GrantSignupBonus(ctx context.Context, userID uuid.UUID, amount int64, reason string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin signup bonus tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := appendLedgerEntry(ctx, tx, userID, amount, reason, domain.ReferenceSignupBonus, nil)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSignupBonusGranted
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

const receiptColumns = `id, user_id, stripe_checkout_session_id, stripe_payment_intent_id, pack_id, credits_added, amount_cents, currency, stripe_receipt_url, created_at`

func scanReceipt(row pgx.Row) (*domain.PurchaseReceipt, error) {
	var receipt domain.PurchaseReceipt
	err := row.Scan(
		&receipt.ID, &receipt.UserID, &receipt.StripeCheckoutSessionID, &receipt.StripePaymentIntentID,
		&receipt.PackID, &receipt.CreditsAdded, &receipt.AmountCents, &receipt.Currency,
		&receipt.StripeReceiptURL, &receipt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceiptsForUser returns the user's purchase receipts, newest first.
func (r *PostgresRepository) ListReceiptsForUser(ctx context.Context, userID uuid.UUID) ([]domain.PurchaseReceipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM purchase_receipts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.PurchaseReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

// GetReceiptByID retrieves a receipt only when it belongs to the caller. A
// receipt owned by someone else is indistinguishable from a missing one so the
// endpoint cannot be used to enumerate other users' purchases.
func (r *PostgresRepository) GetReceiptByID(ctx context.Context, id uuid.UUID, callerUserID uuid.UUID) (*domain.PurchaseReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM purchase_receipts WHERE id = $1 AND user_id = $2`
	receipt, err := scanReceipt(r.db.QueryRow(ctx, query, id, callerUserID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// FindReceiptByPaymentIntentID looks up a receipt by the Stripe payment intent id.
func (r *PostgresRepository) FindReceiptByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.PurchaseReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM purchase_receipts WHERE stripe_payment_intent_id = $1`
	receipt, err := scanReceipt(r.db.QueryRow(ctx, query, paymentIntentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

// FindReceiptByCheckoutSessionID looks up a receipt by the Stripe checkout session id.
func (r *PostgresRepository) FindReceiptByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*domain.PurchaseReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM purchase_receipts WHERE stripe_checkout_session_id = $1`
	receipt, err := scanReceipt(r.db.QueryRow(ctx, query, checkoutSessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return receipt, nil
}

const webhookEventColumns = `id, stripe_event_id, event_type, status, credits_purchased, created_at`

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := row.Scan(&event.ID, &event.StripeEventID, &event.EventType, &event.Status, &event.CreditsPurchased, &event.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindWebhookEventByStripeEventID returns the log row for a Stripe event id.
func (r *PostgresRepository) FindWebhookEventByStripeEventID(ctx context.Context, stripeEventID string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM stripe_webhook_events WHERE stripe_event_id = $1`
	event, err := scanWebhookEvent(r.db.QueryRow(ctx, query, stripeEventID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

// RecordWebhookEvent appends one event log row, reporting whether this call won
// the insert against the unique index on stripe_event_id.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO stripe_webhook_events (stripe_event_id, event_type, status, credits_purchased)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stripe_event_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, event.StripeEventID, event.EventType, event.Status, event.CreditsPurchased)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListWebhookEvents returns event log rows for the admin view, newest first.
func (r *PostgresRepository) ListWebhookEvents(ctx context.Context, opts domain.WebhookEventListOptions) ([]domain.WebhookEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + webhookEventColumns + `
		FROM stripe_webhook_events
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR event_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, opts.Status, opts.EventType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// CountWebhookEventsByStatus returns the number of event log rows in a status.
func (r *PostgresRepository) CountWebhookEventsByStatus(ctx context.Context, status domain.WebhookEventStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM stripe_webhook_events WHERE status = $1`, status).Scan(&count)
	return count, err
}

// RecordPurchaseAtomic records one checkout.session.completed event as a single
// transaction: event log row, purchase receipt, credit grant. The event log
// insert goes first so a retried delivery racing on another worker loses there
// and leaves no other effect. When the receipt already exists under a different
// event id (a replayed session), the event is logged but no second grant is made.
func (r *PostgresRepository) RecordPurchaseAtomic(ctx context.Context, params PurchaseParams) (*domain.LedgerEntry, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback(ctx)

	eventResult, err := tx.Exec(ctx, `
		INSERT INTO stripe_webhook_events (stripe_event_id, event_type, status, credits_purchased)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, params.StripeEventID, params.EventType, domain.WebhookStatusProcessed, params.Credits)
	if err != nil {
		return nil, false, fmt.Errorf("record purchase event: %w", err)
	}
	if eventResult.RowsAffected() == 0 {
		return nil, false, nil
	}

	var receiptID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_receipts (
			user_id, stripe_checkout_session_id, stripe_payment_intent_id,
			pack_id, credits_added, amount_cents, currency, stripe_receipt_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_checkout_session_id) DO NOTHING
		RETURNING id
	`, params.UserID, params.StripeCheckoutSessionID, params.StripePaymentIntentID,
		params.PackID, params.Credits, params.AmountCents, params.Currency, params.StripeReceiptURL,
	).Scan(&receiptID)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Receipt exists from an earlier event for the same session; the
			// credits were already granted then. Log the event, grant nothing.
			if err := tx.Commit(ctx); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("insert purchase receipt: %w", err)
	}

	entry, err := appendLedgerEntry(ctx, tx, params.UserID, params.Credits,
		fmt.Sprintf("Purchased %s pack", params.PackID), domain.ReferencePurchase, &receiptID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// EnqueueRefundAtomic records one charge.refunded event as a single transaction:
// event log row plus pending refund queue item. A duplicate refund id (same
// refund reported under a new event id) downgrades the event row to skipped
// and reports itemInserted=false so callers do not re-announce the refund.
func (r *PostgresRepository) EnqueueRefundAtomic(ctx context.Context, params RefundEnqueueParams) (bool, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, false, fmt.Errorf("begin refund enqueue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	eventResult, err := tx.Exec(ctx, `
		INSERT INTO stripe_webhook_events (stripe_event_id, event_type, status, credits_purchased)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, params.StripeEventID, params.EventType, domain.WebhookStatusProcessed)
	if err != nil {
		return false, false, fmt.Errorf("record refund event: %w", err)
	}
	if eventResult.RowsAffected() == 0 {
		return false, false, nil
	}

	itemResult, err := tx.Exec(ctx, `
		INSERT INTO refund_queue_items (
			user_id, stripe_charge_id, stripe_refund_id, stripe_checkout_session_id,
			amount_refunded, currency, pack_id, credits_to_reverse, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		ON CONFLICT (stripe_refund_id) DO NOTHING
	`, params.UserID, params.StripeChargeID, params.StripeRefundID, params.StripeCheckoutSessionID,
		params.AmountRefunded, params.Currency, params.PackID, params.CreditsToReverse)
	if err != nil {
		return false, false, fmt.Errorf("insert refund queue item: %w", err)
	}
	itemInserted := itemResult.RowsAffected() > 0
	if !itemInserted {
		if _, err := tx.Exec(ctx, `
			UPDATE stripe_webhook_events SET status = $2 WHERE stripe_event_id = $1
		`, params.StripeEventID, domain.WebhookStatusSkipped); err != nil {
			return false, false, fmt.Errorf("mark duplicate refund event skipped: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}
	return true, itemInserted, nil
}

const refundItemColumns = `id, user_id, stripe_charge_id, stripe_refund_id, stripe_checkout_session_id,
	amount_refunded, currency, pack_id, credits_to_reverse, status, admin_user_id,
	ignore_reason, ledger_entry_id, processed_at, created_at`

func scanRefundItem(row pgx.Row) (*domain.RefundQueueItem, error) {
	var item domain.RefundQueueItem
	err := row.Scan(
		&item.ID, &item.UserID, &item.StripeChargeID, &item.StripeRefundID, &item.StripeCheckoutSessionID,
		&item.AmountRefunded, &item.Currency, &item.PackID, &item.CreditsToReverse, &item.Status,
		&item.AdminUserID, &item.IgnoreReason, &item.LedgerEntryID, &item.ProcessedAt, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetRefundQueueItem retrieves a refund queue item by id.
func (r *PostgresRepository) GetRefundQueueItem(ctx context.Context, id uuid.UUID) (*domain.RefundQueueItem, error) {
	query := `SELECT ` + refundItemColumns + ` FROM refund_queue_items WHERE id = $1`
	item, err := scanRefundItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListRefundQueueItems returns refund queue items, newest first, optionally
// filtered by status.
func (r *PostgresRepository) ListRefundQueueItems(ctx context.Context, status *domain.RefundQueueStatus) ([]domain.RefundQueueItem, error) {
	statusFilter := ""
	if status != nil {
		statusFilter = string(*status)
	}
	query := `
		SELECT ` + refundItemColumns + `
		FROM refund_queue_items
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, statusFilter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.RefundQueueItem
	for rows.Next() {
		item, err := scanRefundItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListUnresolvedPendingRefunds returns pending items that still have no user
// mapped, oldest first, for the background resolution sweep.
func (r *PostgresRepository) ListUnresolvedPendingRefunds(ctx context.Context, limit int) ([]domain.RefundQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + refundItemColumns + `
		FROM refund_queue_items
		WHERE status = 'pending' AND user_id IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.RefundQueueItem
	for rows.Next() {
		item, err := scanRefundItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// AttachRefundQueueUser fills in the user on a pending item that had none.
// An already-resolved user is never overwritten.
func (r *PostgresRepository) AttachRefundQueueUser(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE refund_queue_items
		SET user_id = $2
		WHERE id = $1 AND user_id IS NULL AND status = 'pending'
	`, id, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRefundItemNotFound
	}
	return nil
}

// forceDebit unconditionally appends a negative ledger entry, allowed to drive
// the balance negative. It is deliberately unexported and reachable only through
// ProcessRefundQueueItem: claw-backs are the sole caller, and feature code can
// never route a spend through the unguarded path.
func forceDebit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, referenceID uuid.UUID) (*domain.LedgerEntry, error) {
	return appendLedgerEntry(ctx, tx, userID, -amount, "refund_reversal", domain.ReferenceRefundReversal, &referenceID)
}

// ProcessRefundQueueItem performs the admin-approved pending->processed
// transition. The row lock on the item, the optional user attachment, the force
// debit and the status update all commit together; a crash mid-way rolls back
// everything, so a retry can never debit twice.
func (r *PostgresRepository) ProcessRefundQueueItem(ctx context.Context, params ProcessRefundParams) (*domain.ProcessRefundResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin refund process tx: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := scanRefundItem(tx.QueryRow(ctx, `
		SELECT `+refundItemColumns+`
		FROM refund_queue_items
		WHERE id = $1
		FOR UPDATE
	`, params.ItemID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundItemNotFound
		}
		return nil, err
	}

	if item.Status != domain.RefundStatusPending {
		return &domain.ProcessRefundResult{AlreadyProcessed: true, LedgerEntryID: item.LedgerEntryID}, nil
	}

	effectiveUserID := item.UserID
	if effectiveUserID == nil {
		effectiveUserID = params.OverrideUserID
	}
	if effectiveUserID == nil {
		return nil, ErrRefundUserUnmapped
	}
	if item.UserID == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE refund_queue_items SET user_id = $2 WHERE id = $1
		`, item.ID, *effectiveUserID); err != nil {
			return nil, fmt.Errorf("attach refund user: %w", err)
		}
	}

	entry, err := forceDebit(ctx, tx, *effectiveUserID, params.DebitAmount, item.ID)
	if err != nil {
		return nil, fmt.Errorf("force debit: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE refund_queue_items
		SET status = 'processed', admin_user_id = $2, ledger_entry_id = $3, processed_at = NOW()
		WHERE id = $1
	`, item.ID, params.AdminUserID, entry.ID); err != nil {
		return nil, fmt.Errorf("mark refund processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.ProcessRefundResult{AlreadyProcessed: false, LedgerEntryID: &entry.ID}, nil
}

// IgnoreRefundQueueItem performs the admin pending->ignored transition.
func (r *PostgresRepository) IgnoreRefundQueueItem(ctx context.Context, id uuid.UUID, adminUserID uuid.UUID, reason string) (*domain.IgnoreRefundResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin refund ignore tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status domain.RefundQueueStatus
	err = tx.QueryRow(ctx, `SELECT status FROM refund_queue_items WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundItemNotFound
		}
		return nil, err
	}
	if status != domain.RefundStatusPending {
		return &domain.IgnoreRefundResult{AlreadyProcessed: true}, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE refund_queue_items
		SET status = 'ignored', ignore_reason = $2, admin_user_id = $3, processed_at = NOW()
		WHERE id = $1
	`, id, reason, adminUserID); err != nil {
		return nil, fmt.Errorf("mark refund ignored: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.IgnoreRefundResult{AlreadyProcessed: false}, nil
}
