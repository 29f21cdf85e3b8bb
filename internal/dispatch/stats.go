package dispatch

import (
	"context"
	"errors"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// StatsReader computes per-status delivery counts for dashboards.
type StatsReader struct {
	store store.Client
}

// NewStatsReader creates a stats aggregator over the given store.
func NewStatsReader(st store.Client) *StatsReader {
	return &StatsReader{store: st}
}

// Stats issues one count query per status plus one unfiltered count.
//
// Degrade-to-zero policy: a not-found result from any individual query
// is a zero count, and any unclassified store error collapses the
// whole result to all-zero with a logged warning. Dashboards reading
// these counts never see an error for partial backend unavailability.
func (s *StatsReader) Stats(ctx context.Context, campaignID string) domain.CampaignStats {
	var stats domain.CampaignStats
	var failed bool

	count := func(status domain.SendStatus) int {
		n, err := s.store.CountSendRecords(ctx, campaignID, status)
		if errors.Is(err, store.ErrNotFound) {
			return 0
		}
		if err != nil {
			logger.Warn("stats count failed, degrading to zero",
				"campaign_id", campaignID, "status", string(status), "error", err.Error())
			failed = true
			return 0
		}
		return n
	}

	stats.Total = count("")
	stats.Pending = count(domain.SendPending)
	stats.Sent = count(domain.SendSent)
	stats.Failed = count(domain.SendFailed)
	stats.Bounced = count(domain.SendBounced)

	if failed {
		return domain.CampaignStats{}
	}
	return stats
}
