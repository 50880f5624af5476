/**
 * @description
 * HTTP handlers for the admin reconciliation endpoints: manual grants, the
 * refund review queue, and the webhook event log. All routes here sit behind
 * ClerkAuthMiddleware plus AdminOnlyMiddleware.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/app"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
)

// AdminGrantHandler applies a manual credit grant by an operator.
func (h *BillingHandlers) AdminGrantHandler(w http.ResponseWriter, r *http.Request) {
	adminUserID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.AdminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entry, err := h.service.AdminGrantCredits(r.Context(), adminUserID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrEmptyReason):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=admin_grant admin_user_id=%s err=%v", adminUserID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to grant credits")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, entry)
}

// ListRefundsHandler returns refund queue items, optionally filtered by status.
func (h *BillingHandlers) ListRefundsHandler(w http.ResponseWriter, r *http.Request) {
	var status *domain.RefundQueueStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		candidate := domain.RefundQueueStatus(raw)
		switch candidate {
		case domain.RefundStatusPending, domain.RefundStatusProcessed, domain.RefundStatusIgnored:
			status = &candidate
		default:
			h.writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	items, err := h.service.ListRefundQueue(r.Context(), status)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_refunds err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load refund queue")
		return
	}
	if items == nil {
		items = []domain.RefundQueueItem{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type processRefundRequest struct {
	DebitOverride *int64     `json:"debit_override,omitempty"`
	UserOverride  *uuid.UUID `json:"user_override,omitempty"`
}

// ProcessRefundHandler settles a pending refund by force-debiting the user.
func (h *BillingHandlers) ProcessRefundHandler(w http.ResponseWriter, r *http.Request) {
	adminUserID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid refund item ID format")
		return
	}

	var req processRefundRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := h.service.ProcessRefund(r.Context(), adminUserID, app.ProcessRefundRequest{
		ItemID:        itemID,
		DebitOverride: req.DebitOverride,
		UserOverride:  req.UserOverride,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefundItemNotFound):
			h.writeError(w, http.StatusNotFound, "Refund queue item not found")
		case errors.Is(err, app.ErrNoUserMapped):
			h.writeError(w, http.StatusConflict, "No user mapped to this refund; supply user_override")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "No debit amount available; supply debit_override")
		default:
			log.Printf("level=error component=api endpoint=admin_refund_process item_id=%s err=%v", itemID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process refund")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type ignoreRefundRequest struct {
	Reason string `json:"reason"`
}

// IgnoreRefundHandler closes a pending refund without touching credits.
func (h *BillingHandlers) IgnoreRefundHandler(w http.ResponseWriter, r *http.Request) {
	adminUserID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid refund item ID format")
		return
	}

	var req ignoreRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.IgnoreRefund(r.Context(), adminUserID, itemID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefundItemNotFound):
			h.writeError(w, http.StatusNotFound, "Refund queue item not found")
		case errors.Is(err, app.ErrEmptyIgnoreReason):
			h.writeError(w, http.StatusBadRequest, "A reason is required to ignore a refund")
		default:
			log.Printf("level=error component=api endpoint=admin_refund_ignore item_id=%s err=%v", itemID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to ignore refund")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListStripeEventsHandler returns webhook event log rows for auditing.
func (h *BillingHandlers) ListStripeEventsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.WebhookEventListOptions{
		Status:    r.URL.Query().Get("status"),
		EventType: r.URL.Query().Get("event_type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		opts.Limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		opts.Offset = parsed
	}

	events, err := h.service.ListStripeEvents(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_stripe_events err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load event log")
		return
	}
	if events == nil {
		events = []domain.WebhookEvent{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
