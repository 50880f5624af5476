/**
 * @description
 * HTTP handler for the Stripe webhook endpoint. Signature verification happens
 * here against the endpoint's signing secret; everything after a valid
 * signature is delegated to the app layer.
 *
 * Response contract: 400 only for an unreadable body or a bad signature, 500
 * when the database fails (so Stripe retries), and 200 for every other
 * outcome. Duplicates and manual-review events are 200s; returning an error
 * for them would only make Stripe redeliver what we have already decided on.
 *
 * @dependencies
 * - io, net/http: Standard Go libraries.
 * - github.com/stripe/stripe-go/v82/webhook: Signature verification.
 */

package api

import (
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe webhook payloads are small; cap reads well above any real event size.
const webhookMaxBodyBytes = int64(65536)

// StripeWebhookHandler verifies and ingests one Stripe event delivery.
func (h *BillingHandlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowWebhook(r, w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, webhookMaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.service.WebhookSecret())
	if err != nil {
		log.Printf("level=warn component=api endpoint=stripe_webhook msg=\"signature verification failed\" err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	outcome, err := h.service.ProcessStripeEvent(r.Context(), event)
	if err != nil {
		log.Printf("level=error component=api endpoint=stripe_webhook stripe_event_id=%s err=%v", event.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process event")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
