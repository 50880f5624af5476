package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/jobtrail/billing-service/pkg/rabbitmq"
)

// fakeRepo is an in-memory store.Repository that mimics the database's
// idempotency behavior closely enough for the app layer to exercise its
// branches: unique event ids, unique session ids, unique refund ids, balances.
type fakeRepo struct {
	balances map[uuid.UUID]int64
	ledger   []domain.LedgerEntry
	receipts []domain.PurchaseReceipt
	events   map[string]*domain.WebhookEvent
	refunds  map[uuid.UUID]*domain.RefundQueueItem

	signupGranted map[uuid.UUID]bool

	// call tracking
	purchaseCalls int
	enqueueCalls  int
	spendCalls    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		balances:      make(map[uuid.UUID]int64),
		events:        make(map[string]*domain.WebhookEvent),
		refunds:       make(map[uuid.UUID]*domain.RefundQueueItem),
		signupGranted: make(map[uuid.UUID]bool),
	}
}

func (f *fakeRepo) append(userID uuid.UUID, amount int64, reason string, refType domain.ReferenceType, refID *uuid.UUID) *domain.LedgerEntry {
	f.balances[userID] += amount
	entry := domain.LedgerEntry{
		ID:            uuid.New(),
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		ReferenceType: refType,
		ReferenceID:   refID,
		BalanceAfter:  f.balances[userID],
		CreatedAt:     time.Now(),
	}
	f.ledger = append(f.ledger, entry)
	return &entry
}

func (f *fakeRepo) GrantCredits(_ context.Context, params store.LedgerAppendParams) (*domain.LedgerEntry, error) {
	return f.append(params.UserID, params.Amount, params.Reason, params.ReferenceType, params.ReferenceID), nil
}

func (f *fakeRepo) SpendCredits(_ context.Context, params store.LedgerAppendParams) (*domain.LedgerEntry, error) {
	f.spendCalls++
	if f.balances[params.UserID] < params.Amount {
		return nil, store.ErrInsufficientCredits
	}
	return f.append(params.UserID, -params.Amount, params.Reason, params.ReferenceType, params.ReferenceID), nil
}

func (f *fakeRepo) GetCreditBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	return f.balances[userID], nil
}

func (f *fakeRepo) ListLedgerEntries(_ context.Context, userID uuid.UUID, _ int) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for i := len(f.ledger) - 1; i >= 0; i-- {
		if f.ledger[i].UserID == userID {
			entries = append(entries, f.ledger[i])
		}
	}
	return entries, nil
}

func (f *fakeRepo) GrantSignupBonus(_ context.Context, userID uuid.UUID, amount int64, reason string) (*domain.LedgerEntry, error) {
	if f.signupGranted[userID] {
		return nil, store.ErrSignupBonusGranted
	}
	f.signupGranted[userID] = true
	return f.append(userID, amount, reason, domain.ReferenceSignupBonus, nil), nil
}

func (f *fakeRepo) ListReceiptsForUser(_ context.Context, userID uuid.UUID) ([]domain.PurchaseReceipt, error) {
	var out []domain.PurchaseReceipt
	for _, receipt := range f.receipts {
		if receipt.UserID == userID {
			out = append(out, receipt)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetReceiptByID(_ context.Context, id uuid.UUID, callerUserID uuid.UUID) (*domain.PurchaseReceipt, error) {
	for i := range f.receipts {
		if f.receipts[i].ID == id && f.receipts[i].UserID == callerUserID {
			return &f.receipts[i], nil
		}
	}
	return nil, store.ErrReceiptNotFound
}

func (f *fakeRepo) FindReceiptByPaymentIntentID(_ context.Context, paymentIntentID string) (*domain.PurchaseReceipt, error) {
	for i := range f.receipts {
		if f.receipts[i].StripePaymentIntentID != nil && *f.receipts[i].StripePaymentIntentID == paymentIntentID {
			return &f.receipts[i], nil
		}
	}
	return nil, store.ErrReceiptNotFound
}

func (f *fakeRepo) FindReceiptByCheckoutSessionID(_ context.Context, sessionID string) (*domain.PurchaseReceipt, error) {
	for i := range f.receipts {
		if f.receipts[i].StripeCheckoutSessionID == sessionID {
			return &f.receipts[i], nil
		}
	}
	return nil, store.ErrReceiptNotFound
}

func (f *fakeRepo) FindWebhookEventByStripeEventID(_ context.Context, stripeEventID string) (*domain.WebhookEvent, error) {
	if event, ok := f.events[stripeEventID]; ok {
		return event, nil
	}
	return nil, store.ErrEventNotFound
}

func (f *fakeRepo) RecordWebhookEvent(_ context.Context, event *domain.WebhookEvent) (bool, error) {
	if _, exists := f.events[event.StripeEventID]; exists {
		return false, nil
	}
	stored := *event
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now()
	f.events[event.StripeEventID] = &stored
	return true, nil
}

func (f *fakeRepo) ListWebhookEvents(_ context.Context, opts domain.WebhookEventListOptions) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	for _, event := range f.events {
		if opts.Status != "" && string(event.Status) != opts.Status {
			continue
		}
		if opts.EventType != "" && event.EventType != opts.EventType {
			continue
		}
		out = append(out, *event)
	}
	return out, nil
}

func (f *fakeRepo) CountWebhookEventsByStatus(_ context.Context, status domain.WebhookEventStatus) (int64, error) {
	var count int64
	for _, event := range f.events {
		if event.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) RecordPurchaseAtomic(ctx context.Context, params store.PurchaseParams) (*domain.LedgerEntry, bool, error) {
	f.purchaseCalls++
	inserted, err := f.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		StripeEventID:    params.StripeEventID,
		EventType:        params.EventType,
		Status:           domain.WebhookStatusProcessed,
		CreditsPurchased: &params.Credits,
	})
	if err != nil || !inserted {
		return nil, false, err
	}

	for _, receipt := range f.receipts {
		if receipt.StripeCheckoutSessionID == params.StripeCheckoutSessionID {
			return nil, true, nil
		}
	}

	receipt := domain.PurchaseReceipt{
		ID:                      uuid.New(),
		UserID:                  params.UserID,
		StripeCheckoutSessionID: params.StripeCheckoutSessionID,
		StripePaymentIntentID:   params.StripePaymentIntentID,
		PackID:                  params.PackID,
		CreditsAdded:            params.Credits,
		AmountCents:             params.AmountCents,
		Currency:                params.Currency,
		CreatedAt:               time.Now(),
	}
	f.receipts = append(f.receipts, receipt)
	entry := f.append(params.UserID, params.Credits, "Purchased "+params.PackID+" pack", domain.ReferencePurchase, &receipt.ID)
	return entry, true, nil
}

func (f *fakeRepo) EnqueueRefundAtomic(ctx context.Context, params store.RefundEnqueueParams) (bool, bool, error) {
	f.enqueueCalls++
	inserted, err := f.RecordWebhookEvent(ctx, &domain.WebhookEvent{
		StripeEventID: params.StripeEventID,
		EventType:     params.EventType,
		Status:        domain.WebhookStatusProcessed,
	})
	if err != nil || !inserted {
		return false, false, err
	}

	for _, item := range f.refunds {
		if item.StripeRefundID == params.StripeRefundID {
			f.events[params.StripeEventID].Status = domain.WebhookStatusSkipped
			return true, false, nil
		}
	}

	item := &domain.RefundQueueItem{
		ID:                      uuid.New(),
		UserID:                  params.UserID,
		StripeChargeID:          params.StripeChargeID,
		StripeRefundID:          params.StripeRefundID,
		StripeCheckoutSessionID: params.StripeCheckoutSessionID,
		AmountRefunded:          params.AmountRefunded,
		Currency:                params.Currency,
		PackID:                  params.PackID,
		CreditsToReverse:        params.CreditsToReverse,
		Status:                  domain.RefundStatusPending,
		CreatedAt:               time.Now(),
	}
	f.refunds[item.ID] = item
	return true, true, nil
}

func (f *fakeRepo) GetRefundQueueItem(_ context.Context, id uuid.UUID) (*domain.RefundQueueItem, error) {
	if item, ok := f.refunds[id]; ok {
		copied := *item
		return &copied, nil
	}
	return nil, store.ErrRefundItemNotFound
}

func (f *fakeRepo) ListRefundQueueItems(_ context.Context, status *domain.RefundQueueStatus) ([]domain.RefundQueueItem, error) {
	var out []domain.RefundQueueItem
	for _, item := range f.refunds {
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (f *fakeRepo) ListUnresolvedPendingRefunds(_ context.Context, _ int) ([]domain.RefundQueueItem, error) {
	var out []domain.RefundQueueItem
	for _, item := range f.refunds {
		if item.Status == domain.RefundStatusPending && item.UserID == nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeRepo) AttachRefundQueueUser(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	item, ok := f.refunds[id]
	if !ok || item.UserID != nil || item.Status != domain.RefundStatusPending {
		return store.ErrRefundItemNotFound
	}
	item.UserID = &userID
	return nil
}

func (f *fakeRepo) ProcessRefundQueueItem(_ context.Context, params store.ProcessRefundParams) (*domain.ProcessRefundResult, error) {
	item, ok := f.refunds[params.ItemID]
	if !ok {
		return nil, store.ErrRefundItemNotFound
	}
	if item.Status != domain.RefundStatusPending {
		return &domain.ProcessRefundResult{AlreadyProcessed: true, LedgerEntryID: item.LedgerEntryID}, nil
	}
	userID := item.UserID
	if userID == nil {
		userID = params.OverrideUserID
	}
	if userID == nil {
		return nil, store.ErrRefundUserUnmapped
	}
	item.UserID = userID
	entry := f.append(*userID, -params.DebitAmount, "refund_reversal", domain.ReferenceRefundReversal, &item.ID)
	now := time.Now()
	item.Status = domain.RefundStatusProcessed
	item.AdminUserID = &params.AdminUserID
	item.LedgerEntryID = &entry.ID
	item.ProcessedAt = &now
	return &domain.ProcessRefundResult{AlreadyProcessed: false, LedgerEntryID: &entry.ID}, nil
}

func (f *fakeRepo) IgnoreRefundQueueItem(_ context.Context, id uuid.UUID, adminUserID uuid.UUID, reason string) (*domain.IgnoreRefundResult, error) {
	item, ok := f.refunds[id]
	if !ok {
		return nil, store.ErrRefundItemNotFound
	}
	if item.Status != domain.RefundStatusPending {
		return &domain.IgnoreRefundResult{AlreadyProcessed: true}, nil
	}
	now := time.Now()
	item.Status = domain.RefundStatusIgnored
	item.IgnoreReason = &reason
	item.AdminUserID = &adminUserID
	item.ProcessedAt = &now
	return &domain.IgnoreRefundResult{AlreadyProcessed: false}, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, _, routingKey string, _ interface{}) error {
	f.published = append(f.published, routingKey)
	return nil
}

func (f *fakePublisher) PublishCreditEvent(_ context.Context, routingKey string, _ rabbitmq.CreditEvent) error {
	f.published = append(f.published, routingKey)
	return nil
}

func (f *fakePublisher) Close() {}
