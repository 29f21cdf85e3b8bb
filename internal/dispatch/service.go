package dispatch

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// Service is the façade the campaign runner and the HTTP API call
// into. It composes the reserver, pre-checker, executor, and stats
// aggregator over one injected store client and delivery provider.
// All methods are safe for concurrent use.
type Service struct {
	reserver *Reserver
	checker  *Checker
	executor *Executor
	stats    *StatsReader
}

// Options tunes a dispatch service.
type Options struct {
	// Identity is the sender envelope for outgoing mail.
	Identity SenderIdentity
	// InsertDelay spaces reservation insert attempts. Zero keeps the
	// package default; negative disables throttling.
	InsertDelay time.Duration
}

// NewService wires a dispatch service from its injected dependencies.
func NewService(st store.Client, provider delivery.Provider, opts Options) *Service {
	reserver := NewReserver(st)
	if opts.InsertDelay < 0 {
		reserver.SetInsertDelay(0)
	} else if opts.InsertDelay > 0 {
		reserver.SetInsertDelay(opts.InsertDelay)
	}

	return &Service{
		reserver: reserver,
		checker:  NewChecker(st),
		executor: NewExecutor(st, provider, opts.Identity),
		stats:    NewStatsReader(st),
	}
}

// ReserveRecipients claims up to batchSize candidates for the campaign.
func (s *Service) ReserveRecipients(ctx context.Context, campaignID string, candidates []domain.Recipient, batchSize int) (*ReserveResult, error) {
	return s.reserver.Reserve(ctx, campaignID, candidates, batchSize)
}

// FinalizeSend applies a delivery outcome to an existing send record.
func (s *Service) FinalizeSend(ctx context.Context, recordID string, outcome Outcome) (*domain.SendRecord, error) {
	return s.executor.Finalize(ctx, recordID, outcome)
}

// GetStats returns per-status delivery counts for a campaign.
func (s *Service) GetStats(ctx context.Context, campaignID string) domain.CampaignStats {
	return s.stats.Stats(ctx, campaignID)
}

// FilterUnclaimed returns the given recipient IDs minus any that
// already hold a send record for the campaign.
func (s *Service) FilterUnclaimed(ctx context.Context, campaignID string, recipientIDs []string) ([]string, error) {
	return s.checker.FilterUnclaimed(ctx, campaignID, recipientIDs)
}

// AlreadyHasRecord reports whether (campaignID, email) is claimed.
func (s *Service) AlreadyHasRecord(ctx context.Context, campaignID, email string) (bool, error) {
	return s.checker.AlreadyHasRecord(ctx, campaignID, email)
}

// Executor exposes the send executor for the campaign runner.
func (s *Service) Executor() *Executor { return s.executor }

// RequeueFailed resets a failed record to pending, incrementing its
// retry count on the same record.
func (s *Service) RequeueFailed(ctx context.Context, recordID string) (*domain.SendRecord, error) {
	return s.executor.RequeueFailed(ctx, recordID)
}
