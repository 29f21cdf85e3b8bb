package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// failingCountStore wraps the in-memory store and fails count queries.
type failingCountStore struct {
	*store.Memory
}

func (f *failingCountStore) CountSendRecords(context.Context, string, domain.SendStatus) (int, error) {
	return 0, errors.New("connection refused")
}

func seedStatuses(t *testing.T, st store.Client, campaignID string, statuses []domain.SendStatus) {
	t.Helper()
	ctx := context.Background()
	for i, status := range statuses {
		rec := domain.NewSendRecord(campaignID, testRecipients(len(statuses))[i], time.Now())
		require.NoError(t, st.InsertSendRecord(ctx, rec))
		if status != domain.SendPending {
			s := status
			_, err := st.UpdateSendRecord(ctx, rec.ID, store.SendRecordUpdate{Status: &s})
			require.NoError(t, err)
		}
	}
}

func TestStatsCountsPerStatus(t *testing.T) {
	st := store.NewMemory()
	seedStatuses(t, st, "camp-1", []domain.SendStatus{
		domain.SendPending,
		domain.SendSent, domain.SendSent,
		domain.SendFailed,
		domain.SendBounced,
	})

	stats := NewStatsReader(st).Stats(context.Background(), "camp-1")

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Bounced)
}

// total == pending + sent + failed + bounced for one consistent read.
func TestStatsTotalInvariant(t *testing.T) {
	st := store.NewMemory()
	seedStatuses(t, st, "camp-1", []domain.SendStatus{
		domain.SendPending, domain.SendPending,
		domain.SendSent, domain.SendSent, domain.SendSent,
		domain.SendFailed,
		domain.SendBounced, domain.SendBounced,
	})

	stats := NewStatsReader(st).Stats(context.Background(), "camp-1")
	assert.Equal(t, stats.Total, stats.Pending+stats.Sent+stats.Failed+stats.Bounced)
}

func TestStatsUnknownCampaignIsZero(t *testing.T) {
	stats := NewStatsReader(store.NewMemory()).Stats(context.Background(), "nowhere")
	assert.Equal(t, domain.CampaignStats{}, stats)
}

// An unclassified store error degrades the whole result to zero
// instead of surfacing an error to the dashboard.
func TestStatsDegradeToZeroOnStoreError(t *testing.T) {
	st := &failingCountStore{Memory: store.NewMemory()}
	seedStatuses(t, st, "camp-1", []domain.SendStatus{domain.SendSent})

	stats := NewStatsReader(st).Stats(context.Background(), "camp-1")
	assert.Equal(t, domain.CampaignStats{}, stats)
}
