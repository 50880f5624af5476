/**
 * @description
 * This file contains the HTTP handlers for the billing-service's consumer and
 * internal API endpoints. Handlers are responsible for parsing incoming
 * requests, calling the appropriate methods on the application service, and
 * writing the HTTP response. They act as the bridge between the web layer and
 * the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/app"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
)

// BillingHandlers holds the application service that handlers will use.
type BillingHandlers struct {
	service               *app.Service
	limiter               app.RateLimiter
	spendLimitPerMinute   int
	webhookLimitPerMinute int
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(service *app.Service, limiter app.RateLimiter, spendLimitPerMinute, webhookLimitPerMinute int) *BillingHandlers {
	return &BillingHandlers{
		service:               service,
		limiter:               limiter,
		spendLimitPerMinute:   spendLimitPerMinute,
		webhookLimitPerMinute: webhookLimitPerMinute,
	}
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// GetBalanceHandler returns the authenticated user's credit balance.
func (h *BillingHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=balance user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: userID.String(), Balance: balance})
}

// ListLedgerHandler returns the authenticated user's ledger entries, newest first.
func (h *BillingHandlers) ListLedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListLedger(r.Context(), userID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=ledger user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load ledger")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListReceiptsHandler returns the authenticated user's purchase receipts.
func (h *BillingHandlers) ListReceiptsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	receipts, err := h.service.ListReceipts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=receipts user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load receipts")
		return
	}
	if receipts == nil {
		receipts = []domain.PurchaseReceipt{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"receipts": receipts})
}

// GetReceiptHandler returns one receipt owned by the authenticated user.
func (h *BillingHandlers) GetReceiptHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	receiptID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid receipt ID format")
		return
	}

	receipt, err := h.service.GetReceipt(r.Context(), receiptID, userID)
	if err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			h.writeError(w, http.StatusNotFound, "Receipt not found")
			return
		}
		log.Printf("level=error component=api endpoint=receipt user_id=%s receipt_id=%s err=%v", userID, receiptID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load receipt")
		return
	}

	h.writeJSON(w, http.StatusOK, receipt)
}

// SpendCreditsHandler debits credits on behalf of a feature service. Protected
// by the internal API key, not user auth; the payload names the user.
func (h *BillingHandlers) SpendCreditsHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SpendCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.allowSpend(r, w, req.UserID) {
		return
	}

	entry, err := h.service.SpendCredits(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientCredits):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient credits")
		case errors.Is(err, app.ErrInvalidAmount),
			errors.Is(err, app.ErrEmptyReason),
			errors.Is(err, app.ErrInvalidReferenceType):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=spend user_id=%s err=%v", req.UserID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to spend credits")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, entry)
}

type signupBonusRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type signupBonusResponse struct {
	AlreadyGranted bool                `json:"already_granted"`
	Entry          *domain.LedgerEntry `json:"entry,omitempty"`
}

// SignupBonusHandler grants the one-time welcome bonus. Idempotent: a repeat
// call reports already_granted instead of failing.
func (h *BillingHandlers) SignupBonusHandler(w http.ResponseWriter, r *http.Request) {
	var req signupBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entry, alreadyGranted, err := h.service.GrantSignupBonus(r.Context(), req.UserID)
	if err != nil {
		log.Printf("level=error component=api endpoint=signup_bonus user_id=%s err=%v", req.UserID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to grant signup bonus")
		return
	}

	h.writeJSON(w, http.StatusOK, signupBonusResponse{AlreadyGranted: alreadyGranted, Entry: entry})
}

// allowSpend applies the per-user rate limit on the internal spend endpoint.
func (h *BillingHandlers) allowSpend(r *http.Request, w http.ResponseWriter, userID uuid.UUID) bool {
	return h.allowRate(r, w, "spend", userID.String(), h.spendLimitPerMinute)
}

// allowWebhook applies a single shared-bucket limit on the webhook endpoint.
func (h *BillingHandlers) allowWebhook(r *http.Request, w http.ResponseWriter) bool {
	return h.allowRate(r, w, "webhook", "stripe", h.webhookLimitPerMinute)
}

func (h *BillingHandlers) allowRate(r *http.Request, w http.ResponseWriter, scope, subject string, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, time.Minute)
	if err != nil {
		// Redis being down must not block requests; log and continue.
		log.Printf("level=warn component=api scope=%s msg=\"rate limiter unavailable\" err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests")
		return false
	}
	return true
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
