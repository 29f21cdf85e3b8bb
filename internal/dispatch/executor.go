package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// SenderIdentity is the from/reply-to envelope applied to every
// message in a campaign run.
type SenderIdentity struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Executor performs the delivery call for a reserved recipient and
// finalizes the record's terminal state. It only ever updates the
// record created at reservation time — finalization never inserts, so
// the one-record-per-pair invariant survives any retry.
type Executor struct {
	store    store.Client
	provider delivery.Provider
	identity SenderIdentity
	now      func() time.Time
}

// NewExecutor creates a send executor.
func NewExecutor(st store.Client, provider delivery.Provider, identity SenderIdentity) *Executor {
	return &Executor{store: st, provider: provider, identity: identity, now: time.Now}
}

// Outcome is a finalization request for a send record.
type Outcome struct {
	Status            domain.SendStatus `json:"status"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
}

// Dispatch sends the rendered content to the record's recipient and
// finalizes the record.
//
// Success finalizes to sent. A permanent provider rejection finalizes
// to bounced; any other provider failure finalizes to failed. Neither
// is returned as an error — per-item failures are data, not control
// flow. The two exceptions, returned without touching the record:
//
//   - *delivery.RateLimitError: the record stays pending so the
//     caller can back off and dispatch the same reservation again.
//     This executor never retries.
//   - store errors while finalizing, which are systemic.
func (e *Executor) Dispatch(ctx context.Context, rec *domain.SendRecord, content *render.Rendered) (*domain.SendRecord, error) {
	msg := &delivery.Message{
		From:        e.identity.FromEmail,
		FromName:    e.identity.FromName,
		ReplyTo:     e.identity.ReplyTo,
		To:          rec.RecipientEmail,
		Subject:     content.Subject,
		HTML:        content.HTML,
		Text:        content.Text,
		CampaignTag: rec.CampaignID,
	}

	result, err := e.provider.Send(ctx, msg)
	if err != nil {
		var rateLimited *delivery.RateLimitError
		if errors.As(err, &rateLimited) {
			logger.Warn("delivery rate limited",
				"campaign_id", rec.CampaignID, "retry_after", rateLimited.RetryAfter)
			return rec, err
		}

		status := domain.SendFailed
		var sendErr *delivery.SendError
		if errors.As(err, &sendErr) && sendErr.Permanent {
			status = domain.SendBounced
		}
		return e.Finalize(ctx, rec.ID, Outcome{Status: status, ErrorMessage: err.Error()})
	}

	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = e.now().UTC()
	}
	return e.Finalize(ctx, rec.ID, Outcome{
		Status:            domain.SendSent,
		ProviderMessageID: result.MessageID,
		SentAt:            &sentAt,
	})
}

// Finalize applies an outcome to the send record created at
// reservation time. It is update-only: a missing record returns
// ErrRecordNotFound rather than creating one.
func (e *Executor) Finalize(ctx context.Context, recordID string, outcome Outcome) (*domain.SendRecord, error) {
	u := store.SendRecordUpdate{Status: &outcome.Status}
	if outcome.ProviderMessageID != "" {
		u.ProviderMessageID = &outcome.ProviderMessageID
	}
	if outcome.ErrorMessage != "" {
		u.ErrorMessage = &outcome.ErrorMessage
	}
	if outcome.SentAt != nil {
		u.SentAt = outcome.SentAt
	}

	rec, err := e.store.UpdateSendRecord(ctx, recordID, u)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("finalize %s: %w", recordID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", recordID, err)
	}
	return rec, nil
}

// RequeueFailed resets a failed record to pending for another delivery
// attempt, incrementing RetryCount on the same record. Sent and
// bounced records are terminal and return ErrTerminalStatus; a record
// already pending is returned unchanged.
func (e *Executor) RequeueFailed(ctx context.Context, recordID string) (*domain.SendRecord, error) {
	rec, err := e.store.GetSendRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("requeue %s: %w", recordID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("requeue %s: %w", recordID, err)
	}

	switch rec.Status {
	case domain.SendPending:
		return rec, nil
	case domain.SendSent, domain.SendBounced:
		return nil, fmt.Errorf("requeue %s (%s): %w", recordID, rec.Status, ErrTerminalStatus)
	}

	pending := domain.SendPending
	retries := rec.RetryCount + 1
	empty := ""
	rec, err = e.store.UpdateSendRecord(ctx, recordID, store.SendRecordUpdate{
		Status:            &pending,
		RetryCount:        &retries,
		ErrorMessage:      &empty,
		ProviderMessageID: &empty,
	})
	if err != nil {
		return nil, fmt.Errorf("requeue %s: %w", recordID, err)
	}
	return rec, nil
}
