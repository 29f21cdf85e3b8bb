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

// fakeProvider scripts delivery outcomes per recipient address.
type fakeProvider struct {
	errs  map[string]error
	sent  []*delivery.Message
	calls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{errs: make(map[string]error)}
}

func (p *fakeProvider) Send(_ context.Context, msg *delivery.Message) (*delivery.Result, error) {
	p.calls++
	if err, ok := p.errs[msg.To]; ok && err != nil {
		return nil, err
	}
	p.sent = append(p.sent, msg)
	return &delivery.Result{MessageID: "msg-" + msg.To, SentAt: time.Now().UTC()}, nil
}

func testIdentity() SenderIdentity {
	return SenderIdentity{FromName: "Ignite", FromEmail: "news@example.com"}
}

func reserveOne(t *testing.T, st store.Client, campaignID, email string) *domain.SendRecord {
	t.Helper()
	rec := domain.NewSendRecord(campaignID, testRecipient(email), time.Now())
	require.NoError(t, st.InsertSendRecord(context.Background(), rec))
	return rec
}

func testContent() *render.Rendered {
	return &render.Rendered{Subject: "Hello", HTML: "<p>Hi</p>", Text: "Hi"}
}

func TestDispatchSuccessFinalizesSent(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	e := NewExecutor(st, provider, testIdentity())

	rec := reserveOne(t, st, "camp-1", "ok@example.com")
	updated, err := e.Dispatch(context.Background(), rec, testContent())
	require.NoError(t, err)

	assert.Equal(t, domain.SendSent, updated.Status)
	assert.Equal(t, "msg-ok@example.com", updated.ProviderMessageID)
	require.NotNil(t, updated.SentAt)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "news@example.com", provider.sent[0].From)
	assert.Equal(t, "camp-1", provider.sent[0].CampaignTag)
}

func TestDispatchTransientFailureFinalizesFailed(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	provider.errs["down@example.com"] = &delivery.SendError{Message: "connection reset"}
	e := NewExecutor(st, provider, testIdentity())

	rec := reserveOne(t, st, "camp-1", "down@example.com")
	updated, err := e.Dispatch(context.Background(), rec, testContent())
	require.NoError(t, err, "per-item failures are data, not errors")

	assert.Equal(t, domain.SendFailed, updated.Status)
	assert.Contains(t, updated.ErrorMessage, "connection reset")
}

func TestDispatchPermanentFailureFinalizesBounced(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	provider.errs["gone@example.com"] = &delivery.SendError{Message: "address rejected", Permanent: true}
	e := NewExecutor(st, provider, testIdentity())

	rec := reserveOne(t, st, "camp-1", "gone@example.com")
	updated, err := e.Dispatch(context.Background(), rec, testContent())
	require.NoError(t, err)

	assert.Equal(t, domain.SendBounced, updated.Status)
}

func TestDispatchRateLimitLeavesRecordPending(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	provider.errs["busy@example.com"] = &delivery.RateLimitError{RetryAfter: 2 * time.Second, Message: "throttled"}
	e := NewExecutor(st, provider, testIdentity())

	rec := reserveOne(t, st, "camp-1", "busy@example.com")
	returned, err := e.Dispatch(context.Background(), rec, testContent())

	var rateLimited *delivery.RateLimitError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 2*time.Second, rateLimited.RetryAfter)
	assert.Same(t, rec, returned)

	// The reservation is untouched: the caller backs off and retries it.
	stored, err := st.GetSendRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SendPending, stored.Status)
}

func TestFinalizeNeverInserts(t *testing.T) {
	st := store.NewMemory()
	e := NewExecutor(st, newFakeProvider(), testIdentity())
	ctx := context.Background()

	_, err := e.Finalize(ctx, "camp-1:ghost@example.com", Outcome{Status: domain.SendSent})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	count, err := st.CountSendRecords(ctx, "camp-1", "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRequeueFailedResetsSameRecord(t *testing.T) {
	st := store.NewMemory()
	provider := newFakeProvider()
	provider.errs["flaky@example.com"] = &delivery.SendError{Message: "timeout"}
	e := NewExecutor(st, provider, testIdentity())
	ctx := context.Background()

	rec := reserveOne(t, st, "camp-1", "flaky@example.com")
	failed, err := e.Dispatch(ctx, rec, testContent())
	require.NoError(t, err)
	require.Equal(t, domain.SendFailed, failed.Status)

	requeued, err := e.RequeueFailed(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SendPending, requeued.Status)
	assert.Equal(t, 1, requeued.RetryCount)
	assert.Empty(t, requeued.ErrorMessage)
	assert.Equal(t, rec.ID, requeued.ID, "retry reuses the same record")

	// Second pass succeeds and finalizes the same record to sent.
	delete(provider.errs, "flaky@example.com")
	sent, err := e.Dispatch(ctx, requeued, testContent())
	require.NoError(t, err)
	assert.Equal(t, domain.SendSent, sent.Status)
	assert.Equal(t, 1, sent.RetryCount)

	count, err := st.CountSendRecords(ctx, "camp-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "retrying never duplicates the record")
}

func TestRequeueTerminalRecordsRejected(t *testing.T) {
	st := store.NewMemory()
	e := NewExecutor(st, newFakeProvider(), testIdentity())
	ctx := context.Background()

	rec := reserveOne(t, st, "camp-1", "done@example.com")
	_, err := e.Finalize(ctx, rec.ID, Outcome{Status: domain.SendSent})
	require.NoError(t, err)

	_, err = e.RequeueFailed(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestRequeuePendingIsNoop(t *testing.T) {
	st := store.NewMemory()
	e := NewExecutor(st, newFakeProvider(), testIdentity())

	rec := reserveOne(t, st, "camp-1", "waiting@example.com")
	got, err := e.RequeueFailed(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SendPending, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestRequeueMissingRecord(t *testing.T) {
	st := store.NewMemory()
	e := NewExecutor(st, newFakeProvider(), testIdentity())

	_, err := e.RequeueFailed(context.Background(), "camp-1:missing@example.com")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
