/**
 * @description
 * Admin reconciliation workflows: listing the refund queue, processing a
 * refund (which force-debits the user's credits), ignoring a refund with a
 * recorded reason, and browsing the webhook event log.
 *
 * Processing is deliberately a human decision. The webhook path only queues;
 * nothing in this file runs without an authenticated admin behind it except
 * the read-side queries.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/jobtrail/billing-service/pkg/rabbitmq"
)

// ProcessRefundRequest carries the admin's decision for one refund queue item.
type ProcessRefundRequest struct {
	ItemID uuid.UUID
	// DebitOverride replaces the item's suggested credits_to_reverse when the
	// admin wants a partial claw-back. Nil means use the suggestion.
	DebitOverride *int64
	// UserOverride supplies the user for an item ingestion could not map.
	UserOverride *uuid.UUID
}

// ProcessRefund executes the pending->processed transition for a refund queue
// item, force-debiting the mapped user's credits. Repeating the call for an
// already-settled item reports AlreadyProcessed instead of debiting again.
func (s *Service) ProcessRefund(ctx context.Context, adminUserID uuid.UUID, req ProcessRefundRequest) (*domain.ProcessRefundResult, error) {
	item, err := s.repo.GetRefundQueueItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	// A settled item reports its prior result before any amount validation,
	// so a retry does not need to repeat debit_override.
	if item.Status != domain.RefundStatusPending {
		return &domain.ProcessRefundResult{AlreadyProcessed: true, LedgerEntryID: item.LedgerEntryID}, nil
	}

	debitAmount, err := resolveDebitAmount(item, req.DebitOverride)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.ProcessRefundQueueItem(ctx, store.ProcessRefundParams{
		ItemID:         req.ItemID,
		AdminUserID:    adminUserID,
		DebitAmount:    debitAmount,
		OverrideUserID: req.UserOverride,
	})
	if err != nil {
		if errors.Is(err, store.ErrRefundUserUnmapped) {
			return nil, ErrNoUserMapped
		}
		return nil, fmt.Errorf("failed to process refund: %w", err)
	}

	if !result.AlreadyProcessed {
		log.Printf("level=info component=refund_review msg=\"refund processed\" item_id=%s admin_user_id=%s debit=%d", req.ItemID, adminUserID, debitAmount)
		s.publishRefundProcessed(ctx, item, req.UserOverride, debitAmount)
	}
	return result, nil
}

// resolveDebitAmount picks the claw-back amount: the admin's override wins,
// otherwise the suggestion recorded at ingestion time. An item with neither
// cannot be processed until the admin supplies one.
func resolveDebitAmount(item *domain.RefundQueueItem, override *int64) (int64, error) {
	amount := int64(0)
	switch {
	case override != nil:
		amount = *override
	case item.CreditsToReverse != nil:
		amount = *item.CreditsToReverse
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// IgnoreRefund executes the pending->ignored transition. The reason is
// mandatory; it is the audit record for why no credits were clawed back.
func (s *Service) IgnoreRefund(ctx context.Context, adminUserID uuid.UUID, itemID uuid.UUID, reason string) (*domain.IgnoreRefundResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrEmptyIgnoreReason
	}

	result, err := s.repo.IgnoreRefundQueueItem(ctx, itemID, adminUserID, reason)
	if err != nil {
		return nil, err
	}
	if !result.AlreadyProcessed {
		log.Printf("level=info component=refund_review msg=\"refund ignored\" item_id=%s admin_user_id=%s reason=%q", itemID, adminUserID, reason)
	}
	return result, nil
}

// ListRefundQueue returns refund queue items, optionally filtered by status.
func (s *Service) ListRefundQueue(ctx context.Context, status *domain.RefundQueueStatus) ([]domain.RefundQueueItem, error) {
	return s.repo.ListRefundQueueItems(ctx, status)
}

// ListStripeEvents returns webhook event log rows for the admin audit view.
func (s *Service) ListStripeEvents(ctx context.Context, opts domain.WebhookEventListOptions) ([]domain.WebhookEvent, error) {
	return s.repo.ListWebhookEvents(ctx, opts)
}

func (s *Service) publishRefundProcessed(ctx context.Context, item *domain.RefundQueueItem, userOverride *uuid.UUID, debitAmount int64) {
	if s.eventProducer == nil {
		return
	}
	userID := item.UserID
	if userID == nil {
		userID = userOverride
	}
	if userID == nil {
		return
	}
	event := rabbitmq.CreditEvent{
		UserID:        *userID,
		Amount:        -debitAmount,
		Reason:        "refund processed",
		ReferenceType: string(domain.ReferenceRefundReversal),
	}
	if err := s.eventProducer.PublishCreditEvent(ctx, rabbitmq.RoutingKeyRefundProcessed, event); err != nil {
		log.Printf("level=warn component=refund_review msg=\"refund processed event publish failed\" item_id=%s err=%v", item.ID, err)
	}
}
