package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/store"
)

func newTestRunner(st store.Client, provider delivery.Provider) *Runner {
	svc := NewService(st, provider, Options{
		Identity:    testIdentity(),
		InsertDelay: -1,
	})
	r := NewRunner(svc, render.NewRenderer())
	r.SetSendDelay(0)
	return r
}

func TestRunBatchEndToEnd(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	provider.errs["bad@example.com"] = &delivery.SendError{Message: "mailbox full"}
	runner := newTestRunner(st, provider)

	candidates := []domain.Recipient{
		testRecipient("alice@example.com"),
		testRecipient("bad@example.com"),
		testRecipient("bob@example.com"),
	}
	report, err := runner.RunBatch(context.Background(), "camp-1", candidates, 3, Content{
		Subject: "Hi {{ first_name }}",
		HTML:    "<p>Hello {{ first_name | default: 'there' }}</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Reserved)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.SendFail)
	assert.Zero(t, report.Bounced)

	stats := NewStatsReader(st).Stats(context.Background(), "camp-1")
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Pending)
}

func TestRunBatchPersonalizesContent(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	runner := newTestRunner(st, provider)

	_, err := runner.RunBatch(context.Background(), "camp-1",
		[]domain.Recipient{testRecipient("alice@example.com")}, 1, Content{
			Subject: "Hi {{ first_name }}",
			HTML:    "<p>{{ email }}</p>",
		})
	require.NoError(t, err)

	require.Len(t, provider.sent, 1)
	assert.Equal(t, "Hi Test", provider.sent[0].Subject)
	assert.Equal(t, "<p>alice@example.com</p>", provider.sent[0].HTML)
}

// rateLimitOnceProvider throttles the first call, then succeeds.
type rateLimitOnceProvider struct {
	fakeProvider
	limited bool
}

func (p *rateLimitOnceProvider) Send(ctx context.Context, msg *delivery.Message) (*delivery.Result, error) {
	if !p.limited {
		p.limited = true
		return nil, &delivery.RateLimitError{RetryAfter: 10 * time.Millisecond, Message: "slow down"}
	}
	return p.fakeProvider.Send(ctx, msg)
}

func TestRunBatchBacksOffOnRateLimit(t *testing.T) {
	st := store.NewMemory()
	provider := &rateLimitOnceProvider{fakeProvider: *newFakeProvider()}
	runner := newTestRunner(st, provider)

	report, err := runner.RunBatch(context.Background(), "camp-1",
		[]domain.Recipient{testRecipient("alice@example.com")}, 1, Content{Subject: "s", HTML: "<p>h</p>"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent, "same reservation retried after the rate limit clears")
	count, err := st.CountSendRecords(context.Background(), "camp-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// A second pass over the same candidates reserves nothing: every
// recipient already holds a record, whatever its terminal state.
func TestRunBatchSecondPassIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	runner := newTestRunner(st, provider)
	candidates := testRecipients(3)
	content := Content{Subject: "s", HTML: "<p>h</p>"}
	ctx := context.Background()

	first, err := runner.RunBatch(ctx, "camp-1", candidates, 3, content)
	require.NoError(t, err)
	require.Equal(t, 3, first.Sent)

	second, err := runner.RunBatch(ctx, "camp-1", candidates, 3, content)
	require.NoError(t, err)
	assert.Zero(t, second.Reserved)
	assert.Equal(t, 3, second.SkippedDuplicates)
	assert.Equal(t, 3, provider.calls, "no recipient is dispatched twice")
}
