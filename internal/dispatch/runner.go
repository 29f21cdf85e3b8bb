package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
)

// defaultSendDelay is the fixed pause between delivery calls within
// one invocation. Recipients are intentionally processed sequentially
// to bound load on the shared store and the provider.
const defaultSendDelay = 50 * time.Millisecond

// Content holds a campaign's template sources, rendered per recipient.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Runner drives one campaign invocation: reserve a batch, personalize,
// dispatch sequentially, and report counts. Many runner invocations
// may execute concurrently for the same campaign; the reservation
// layer keeps them from overlapping on any recipient.
type Runner struct {
	service   *Service
	renderer  *render.Renderer
	sendDelay time.Duration
}

// NewRunner creates a campaign runner.
func NewRunner(service *Service, renderer *render.Renderer) *Runner {
	return &Runner{service: service, renderer: renderer, sendDelay: defaultSendDelay}
}

// SetSendDelay overrides the fixed delay between delivery calls.
// Zero disables throttling (tests).
func (r *Runner) SetSendDelay(d time.Duration) { r.sendDelay = d }

// RunReport extends the batch report with delivery outcomes.
type RunReport struct {
	BatchReport
	Sent     int `json:"sent"`
	Bounced  int `json:"bounced"`
	SendFail int `json:"send_failed"`
}

// RunBatch reserves up to batchSize candidates and dispatches each
// reserved recipient in sequence.
//
// On a rate-limit error the runner sleeps the provider's retry-after
// hint and dispatches the same reservation again — the record is
// still pending, so no duplicate is possible. Render failures and
// delivery failures count against the report and never abort the
// batch; only a cancelled context stops the loop early.
func (r *Runner) RunBatch(ctx context.Context, campaignID string, candidates []domain.Recipient, batchSize int, content Content) (*RunReport, error) {
	reserved, err := r.service.ReserveRecipients(ctx, campaignID, candidates, batchSize)
	if err != nil {
		return nil, err
	}

	report := &RunReport{BatchReport: reserved.Report}
	executor := r.service.Executor()

	for i, claim := range reserved.Reserved {
		if i > 0 && r.sendDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(r.sendDelay):
			}
		}

		rendered, err := r.renderer.Email(content.Subject, content.HTML, content.Text, claim.Recipient)
		if err != nil {
			logger.Error("render failed", "campaign_id", campaignID,
				"recipient_id", claim.Recipient.ID, "error", err.Error())
			if _, ferr := executor.Finalize(ctx, claim.RecordID, Outcome{
				Status:       domain.SendFailed,
				ErrorMessage: "render: " + err.Error(),
			}); ferr != nil {
				logger.Error("finalize after render failure", "record_id", claim.RecordID, "error", ferr.Error())
			}
			report.SendFail++
			continue
		}

		rec, err := r.dispatchWithBackoff(ctx, executor, claim, rendered)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			logger.Error("dispatch failed", "record_id", claim.RecordID, "error", err.Error())
			report.SendFail++
			continue
		}

		switch rec.Status {
		case domain.SendSent:
			report.Sent++
		case domain.SendBounced:
			report.Bounced++
		default:
			report.SendFail++
		}
	}
	return report, nil
}

// dispatchWithBackoff retries a single reservation across rate-limit
// responses, honoring the provider's retry-after hint each time.
func (r *Runner) dispatchWithBackoff(ctx context.Context, executor *Executor, claim ReservedRecipient, rendered *render.Rendered) (*domain.SendRecord, error) {
	rec := &domain.SendRecord{
		ID:             claim.RecordID,
		CampaignID:     claimCampaignID(claim.RecordID),
		RecipientEmail: domain.NormalizeEmail(claim.Recipient.Email),
	}

	for {
		updated, err := executor.Dispatch(ctx, rec, rendered)
		var rateLimited *delivery.RateLimitError
		if !errors.As(err, &rateLimited) {
			return updated, err
		}

		wait := rateLimited.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func claimCampaignID(recordID string) string {
	campaignID, _, ok := domain.SplitSendRecordKey(recordID)
	if !ok {
		return ""
	}
	return campaignID
}
