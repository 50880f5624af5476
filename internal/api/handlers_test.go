package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/app"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/stripe/stripe-go/v82"
)

const testWebhookSecret = "whsec_test_secret"

// stubRepo embeds the interface so each test only fills in what it needs.
// Calling an unstubbed method panics, which is exactly what we want in a test.
type stubRepo struct {
	store.Repository

	balance       int64
	spendErr      error
	spentAmount   int64
	purchaseEntry *domain.LedgerEntry
}

func (s *stubRepo) GetCreditBalance(_ context.Context, _ uuid.UUID) (int64, error) {
	return s.balance, nil
}

func (s *stubRepo) SpendCredits(_ context.Context, params store.LedgerAppendParams) (*domain.LedgerEntry, error) {
	if s.spendErr != nil {
		return nil, s.spendErr
	}
	s.spentAmount = params.Amount
	return &domain.LedgerEntry{
		ID:            uuid.New(),
		UserID:        params.UserID,
		Amount:        -params.Amount,
		Reason:        params.Reason,
		ReferenceType: params.ReferenceType,
		BalanceAfter:  s.balance - params.Amount,
	}, nil
}

func (s *stubRepo) RecordPurchaseAtomic(_ context.Context, params store.PurchaseParams) (*domain.LedgerEntry, bool, error) {
	s.purchaseEntry = &domain.LedgerEntry{
		ID:            uuid.New(),
		UserID:        params.UserID,
		Amount:        params.Credits,
		ReferenceType: domain.ReferencePurchase,
		BalanceAfter:  params.Credits,
	}
	return s.purchaseEntry, true, nil
}

func newTestHandlers(repo store.Repository) *BillingHandlers {
	svc := app.NewService(repo, nil, nil, testWebhookSecret, 25)
	return NewBillingHandlers(svc, nil, 0, 0)
}

// withAuthContext injects the values ClerkAuthMiddleware would have set.
func withAuthContext(r *http.Request, userID uuid.UUID, role string) *http.Request {
	ctx := context.WithValue(r.Context(), authSubjectKey, "user_test")
	ctx = context.WithValue(ctx, authUserIDKey, userID)
	ctx = context.WithValue(ctx, authRoleKey, role)
	return r.WithContext(ctx)
}

func signStripePayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEventPayload(userID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"type": "checkout.session.completed",
		"api_version": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"client_reference_id": %q,
				"metadata": {"pack_id": "starter"},
				"amount_total": 999,
				"currency": "usd",
				"payment_intent": "pi_test_1"
			}
		}
	}`, stripe.APIVersion, userID))
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h := newTestHandlers(&stubRepo{})

	payload := checkoutEventPayload(uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, "whsec_wrong_secret", time.Now()))
	rec := httptest.NewRecorder()

	h.StripeWebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
}

func TestStripeWebhookRejectsStaleSignature(t *testing.T) {
	h := newTestHandlers(&stubRepo{})

	payload := checkoutEventPayload(uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()

	h.StripeWebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for stale timestamp, got %d", rec.Code)
	}
}

func TestStripeWebhookProcessesValidEvent(t *testing.T) {
	repo := &stubRepo{}
	h := newTestHandlers(repo)
	userID := uuid.New()

	payload := checkoutEventPayload(userID)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signStripePayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.StripeWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["outcome"] != string(domain.OutcomeProcessed) {
		t.Fatalf("expected processed outcome, got %q", body["outcome"])
	}
	if repo.purchaseEntry == nil || repo.purchaseEntry.UserID != userID {
		t.Fatalf("expected purchase recorded for the session's user")
	}
}

func TestGetBalanceHandler(t *testing.T) {
	h := newTestHandlers(&stubRepo{balance: 42})
	userID := uuid.New()

	req := withAuthContext(httptest.NewRequest(http.MethodGet, "/credits/balance", nil), userID, "")
	rec := httptest.NewRecorder()

	h.GetBalanceHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.Balance != 42 || body.UserID != userID.String() {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetBalanceHandlerRequiresAuth(t *testing.T) {
	h := newTestHandlers(&stubRepo{})

	rec := httptest.NewRecorder()
	h.GetBalanceHandler(rec, httptest.NewRequest(http.MethodGet, "/credits/balance", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth context, got %d", rec.Code)
	}
}

func TestSpendCreditsHandlerInsufficient(t *testing.T) {
	h := newTestHandlers(&stubRepo{spendErr: store.ErrInsufficientCredits})

	body, _ := json.Marshal(domain.SpendCreditsRequest{
		UserID: uuid.New(), Amount: 5, Reason: "evidence scan", ReferenceType: domain.ReferenceEvidenceRun,
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/credits/spend", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SpendCreditsHandler(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for insufficient credits, got %d", rec.Code)
	}
}

func TestSpendCreditsHandlerValidation(t *testing.T) {
	h := newTestHandlers(&stubRepo{})

	body, _ := json.Marshal(domain.SpendCreditsRequest{
		UserID: uuid.New(), Amount: -1, Reason: "scan", ReferenceType: domain.ReferenceEvidenceRun,
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/credits/spend", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SpendCreditsHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid amount, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := InternalAuthMiddleware("sekret")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/credits/spend", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/credits/spend", nil)
	req.Header.Set("X-Internal-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/credits/spend", nil)
	req.Header.Set("X-Internal-API-Key", "sekret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with right key, got %d", rec.Code)
	}
}

func TestAdminOnlyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AdminOnlyMiddleware(next)

	req := withAuthContext(httptest.NewRequest(http.MethodGet, "/admin/refunds", nil), uuid.New(), "member")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = withAuthContext(httptest.NewRequest(http.MethodGet, "/admin/refunds", nil), uuid.New(), "admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}
}
