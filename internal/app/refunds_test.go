package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
)

func seedPendingRefund(repo *fakeRepo, userID *uuid.UUID, creditsToReverse *int64) uuid.UUID {
	item := &domain.RefundQueueItem{
		ID:               uuid.New(),
		UserID:           userID,
		StripeChargeID:   "ch_1",
		StripeRefundID:   "re_1",
		AmountRefunded:   999,
		Currency:         "usd",
		CreditsToReverse: creditsToReverse,
		Status:           domain.RefundStatusPending,
	}
	repo.refunds[item.ID] = item
	return item.ID
}

func TestProcessRefundDebitsUser(t *testing.T) {
	repo := newFakeRepo()
	svc, pub := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	repo.balances[userID] = 10

	credits := int64(50)
	itemID := seedPendingRefund(repo, &userID, &credits)

	result, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatalf("first process must not report already processed")
	}
	if result.LedgerEntryID == nil {
		t.Fatalf("expected a ledger entry id")
	}

	// Force debit may drive the balance negative.
	balance, _ := repo.GetCreditBalance(context.Background(), userID)
	if balance != -40 {
		t.Fatalf("expected balance -40 after claw-back, got %d", balance)
	}
	if repo.refunds[itemID].Status != domain.RefundStatusProcessed {
		t.Fatalf("expected processed status, got %s", repo.refunds[itemID].Status)
	}
	if len(pub.published) != 1 || pub.published[0] != "billing.refund.processed" {
		t.Fatalf("expected refund processed event, got %v", pub.published)
	}
}

func TestProcessRefundIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	credits := int64(50)
	itemID := seedPendingRefund(repo, &userID, &credits)

	first, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}

	second, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatalf("second process must report already processed")
	}
	if second.LedgerEntryID == nil || *second.LedgerEntryID != *first.LedgerEntryID {
		t.Fatalf("repeat must return the original ledger entry id")
	}

	balance, _ := repo.GetCreditBalance(context.Background(), userID)
	if balance != -50 {
		t.Fatalf("repeat must not debit twice, balance %d", balance)
	}
}

func TestProcessRefundUnmappedNeedsOverride(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	credits := int64(50)
	itemID := seedPendingRefund(repo, nil, &credits)

	_, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if !errors.Is(err, ErrNoUserMapped) {
		t.Fatalf("expected ErrNoUserMapped, got %v", err)
	}

	override := uuid.New()
	result, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID, UserOverride: &override})
	if err != nil {
		t.Fatalf("process with override failed: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatalf("override path must process the item")
	}

	balance, _ := repo.GetCreditBalance(context.Background(), override)
	if balance != -50 {
		t.Fatalf("expected override user debited, balance %d", balance)
	}
}

func TestProcessRefundDebitOverride(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	credits := int64(50)
	itemID := seedPendingRefund(repo, &userID, &credits)

	override := int64(20)
	if _, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID, DebitOverride: &override}); err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}

	balance, _ := repo.GetCreditBalance(context.Background(), userID)
	if balance != -20 {
		t.Fatalf("expected partial claw-back of 20, balance %d", balance)
	}
}

func TestProcessRefundWithoutAnyAmount(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	itemID := seedPendingRefund(repo, &userID, nil)

	_, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount when no amount is available, got %v", err)
	}
}

func TestProcessRefundMissingItem(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	_, err := svc.ProcessRefund(context.Background(), uuid.New(), ProcessRefundRequest{ItemID: uuid.New()})
	if !errors.Is(err, store.ErrRefundItemNotFound) {
		t.Fatalf("expected ErrRefundItemNotFound, got %v", err)
	}
}

func TestIgnoreRefund(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	credits := int64(50)
	itemID := seedPendingRefund(repo, &userID, &credits)

	if _, err := svc.IgnoreRefund(context.Background(), adminID, itemID, "  "); !errors.Is(err, ErrEmptyIgnoreReason) {
		t.Fatalf("expected ErrEmptyIgnoreReason, got %v", err)
	}

	result, err := svc.IgnoreRefund(context.Background(), adminID, itemID, "partial refund, credits already used")
	if err != nil {
		t.Fatalf("IgnoreRefund returned error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatalf("first ignore must not report already processed")
	}
	if repo.refunds[itemID].Status != domain.RefundStatusIgnored {
		t.Fatalf("expected ignored status, got %s", repo.refunds[itemID].Status)
	}
	if len(repo.ledger) != 0 {
		t.Fatalf("ignore must not touch the ledger")
	}

	repeat, err := svc.IgnoreRefund(context.Background(), adminID, itemID, "again")
	if err != nil {
		t.Fatalf("repeat ignore failed: %v", err)
	}
	if !repeat.AlreadyProcessed {
		t.Fatalf("repeat ignore must report already processed")
	}
}

func TestSweepResolvesUnmappedRefunds(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	userID := uuid.New()

	// Refund arrived before the purchase receipt existed.
	sessionID := "cs_42"
	item := &domain.RefundQueueItem{
		ID:                      uuid.New(),
		StripeChargeID:          "ch_42",
		StripeRefundID:          "re_42",
		StripeCheckoutSessionID: &sessionID,
		AmountRefunded:          999,
		Currency:                "usd",
		Status:                  domain.RefundStatusPending,
	}
	repo.refunds[item.ID] = item

	// The receipt lands later via the checkout event.
	if _, err := svc.ProcessStripeEvent(context.Background(), checkoutEvent("evt_1", sessionID, userID, "starter")); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	svc.RunReconciliationSweep(context.Background())

	if item.UserID == nil || *item.UserID != userID {
		t.Fatalf("sweep should attach the user from the late receipt")
	}
}

func TestProcessRefundRetryNeedsNoOverrideRepeat(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	adminID := uuid.New()
	userID := uuid.New()
	repo.balances[userID] = 100

	// No stored suggestion; the first call supplies the amount.
	itemID := seedPendingRefund(repo, &userID, nil)
	override := int64(30)
	first, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID, DebitOverride: &override})
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}

	// The retry omits debit_override and must still settle idempotently.
	second, err := svc.ProcessRefund(context.Background(), adminID, ProcessRefundRequest{ItemID: itemID})
	if err != nil {
		t.Fatalf("retry without override must not fail: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatalf("retry should report already processed")
	}
	if second.LedgerEntryID == nil || first.LedgerEntryID == nil || *second.LedgerEntryID != *first.LedgerEntryID {
		t.Fatalf("retry should report the original ledger entry")
	}
	balance, _ := repo.GetCreditBalance(context.Background(), userID)
	if balance != 70 {
		t.Fatalf("retry must not debit again; balance %d", balance)
	}
}
