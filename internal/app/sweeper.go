/**
 * @description
 * Background reconciliation sweep. On a cron schedule it retries the user
 * mapping for pending refund items that arrived before their purchase receipt
 * (out-of-order delivery), and refreshes the manual-review backlog gauge.
 *
 * The sweep is read-mostly and idempotent: attaching a user only touches rows
 * that are still pending and unmapped, so overlapping runs are harmless.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - github.com/robfig/cron/v3: In-process cron scheduling.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jobtrail/billing-service/internal/domain"
	"github.com/jobtrail/billing-service/internal/store"
	"github.com/robfig/cron/v3"
)

const sweepBatchSize = 100

// Sweeper runs the periodic reconciliation jobs.
type Sweeper struct {
	svc  *Service
	cron *cron.Cron
}

// NewSweeper creates a sweeper bound to the service. Call Start to schedule it.
func NewSweeper(svc *Service) *Sweeper {
	return &Sweeper{
		svc:  svc,
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start registers the sweep on the given cron schedule and starts the scheduler.
func (w *Sweeper) Start(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		w.svc.RunReconciliationSweep(ctx)
	}); err != nil {
		return err
	}
	w.cron.Start()
	log.Printf("level=info component=sweeper msg=\"reconciliation sweep scheduled\" schedule=%q", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (w *Sweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

// RunReconciliationSweep executes one sweep pass. Exposed so an operator
// endpoint or test can trigger it outside the schedule.
func (s *Service) RunReconciliationSweep(ctx context.Context) {
	resolved, err := s.resolvePendingRefundUsers(ctx)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"refund user resolution failed\" err=%v", err)
	} else if resolved > 0 {
		log.Printf("level=info component=sweeper msg=\"refund users resolved\" count=%d", resolved)
	}

	backlog, err := s.repo.CountWebhookEventsByStatus(ctx, domain.WebhookStatusManualReview)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"manual review count failed\" err=%v", err)
		return
	}
	s.metrics.SetManualReviewBacklog(backlog)
}

// resolvePendingRefundUsers retries the receipt lookup for unmapped pending
// refund items. A receipt that has landed since ingestion gives us the user
// and, when the item had no suggestion, the credits to reverse stay with the
// admin to decide.
func (s *Service) resolvePendingRefundUsers(ctx context.Context) (int, error) {
	items, err := s.repo.ListUnresolvedPendingRefunds(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, item := range items {
		if item.StripeCheckoutSessionID == nil || *item.StripeCheckoutSessionID == "" {
			continue
		}
		receipt, err := s.repo.FindReceiptByCheckoutSessionID(ctx, *item.StripeCheckoutSessionID)
		if err != nil {
			if errors.Is(err, store.ErrReceiptNotFound) {
				continue
			}
			return resolved, err
		}
		if err := s.repo.AttachRefundQueueUser(ctx, item.ID, receipt.UserID); err != nil {
			// The item may have been settled by an admin between the list and
			// the update; skip it.
			if errors.Is(err, store.ErrRefundItemNotFound) {
				continue
			}
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}
