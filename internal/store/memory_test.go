package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func seedRecord(t *testing.T, m *Memory, campaignID, email string) *domain.SendRecord {
	t.Helper()
	rec := domain.NewSendRecord(campaignID, domain.Recipient{ID: email, Email: email}, time.Now())
	require.NoError(t, m.InsertSendRecord(context.Background(), rec))
	return rec
}

func TestMemoryInsertSendRecordEnforcesUniqueKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := seedRecord(t, m, "camp-1", "a@example.com")

	dup := domain.NewSendRecord("camp-1", domain.Recipient{ID: "A@Example.com", Email: "A@Example.com"}, time.Now())
	assert.ErrorIs(t, m.InsertSendRecord(ctx, dup), ErrDuplicateKey,
		"case-insensitive recipient collision")

	// Different campaign, same recipient: distinct key.
	other := domain.NewSendRecord("camp-2", domain.Recipient{ID: "a@example.com", Email: "a@example.com"}, time.Now())
	require.NoError(t, m.InsertSendRecord(ctx, other))

	got, err := m.GetSendRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SendPending, got.Status)
}

func TestMemoryFindSendRecordsFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedRecord(t, m, "camp-1", fmt.Sprintf("user%d@example.com", i))
	}
	seedRecord(t, m, "camp-2", "other@example.com")

	page, err := m.FindSendRecords(ctx, SendRecordQuery{CampaignID: "camp-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Records, 5)

	page, err = m.FindSendRecords(ctx, SendRecordQuery{
		CampaignID: "camp-1",
		Emails:     []string{"user1@example.com", "user3@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = m.FindSendRecords(ctx, SendRecordQuery{CampaignID: "camp-1", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total, "total ignores pagination")
	assert.Len(t, page.Records, 1)
}

func TestMemoryUpdateSendRecordPartial(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := seedRecord(t, m, "camp-1", "a@example.com")

	sent := domain.SendSent
	msgID := "msg-9"
	updated, err := m.UpdateSendRecord(ctx, rec.ID, SendRecordUpdate{
		Status:            &sent,
		ProviderMessageID: &msgID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SendSent, updated.Status)
	assert.Equal(t, "msg-9", updated.ProviderMessageID)
	assert.Equal(t, rec.RecipientEmail, updated.RecipientEmail, "unspecified fields untouched")

	_, err = m.UpdateSendRecord(ctx, "camp-1:missing@example.com", SendRecordUpdate{Status: &sent})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCountSendRecordsByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := seedRecord(t, m, "camp-1", "a@example.com")
	seedRecord(t, m, "camp-1", "b@example.com")
	sent := domain.SendSent
	_, err := m.UpdateSendRecord(ctx, a.ID, SendRecordUpdate{Status: &sent})
	require.NoError(t, err)

	all, err := m.CountSendRecords(ctx, "camp-1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, all)

	sentCount, err := m.CountSendRecords(ctx, "camp-1", domain.SendSent)
	require.NoError(t, err)
	assert.Equal(t, 1, sentCount)
}

func TestMemoryInsertRecipientNormalizesEmail(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.InsertRecipient(ctx, &domain.Recipient{ID: "a@example.com", Email: "a@example.com"}))
	err := m.InsertRecipient(ctx, &domain.Recipient{ID: "A@EXAMPLE.COM", Email: "A@EXAMPLE.COM"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 1, m.RecipientCount())
}

func testJob(id string, started time.Time) *domain.ImportJob {
	return &domain.ImportJob{
		ID:         id,
		FileName:   id + ".csv",
		TotalItems: 100,
		ChunkSize:  10,
		Status:     domain.ImportPending,
		StartedAt:  started,
	}
}

func TestMemoryImportJobLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, m.InsertImportJob(ctx, testJob("job-1", base)))
	assert.ErrorIs(t, m.InsertImportJob(ctx, testJob("job-1", base)), ErrDuplicateKey)

	processing := domain.ImportProcessing
	processed := 10
	updated, err := m.UpdateImportJob(ctx, "job-1", ImportJobUpdate{
		Status:         &processing,
		ProcessedItems: &processed,
		AppendChunk: &domain.ChunkExecution{
			ChunkNumber:    1,
			ItemsProcessed: 10,
			Status:         domain.ChunkCompleted,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportProcessing, updated.Status)
	assert.Equal(t, "Processing", updated.DisplayStatus)
	require.Len(t, updated.ChunkHistory, 1)

	// Appends accumulate in order.
	updated, err = m.UpdateImportJob(ctx, "job-1", ImportJobUpdate{
		AppendChunk: &domain.ChunkExecution{ChunkNumber: 2, ItemsProcessed: 10, Status: domain.ChunkPartial},
	})
	require.NoError(t, err)
	require.Len(t, updated.ChunkHistory, 2)
	assert.Equal(t, 2, updated.ChunkHistory[1].ChunkNumber)

	require.NoError(t, m.DeleteImportJob(ctx, "job-1"))
	assert.ErrorIs(t, m.DeleteImportJob(ctx, "job-1"), ErrNotFound)
	_, err = m.GetImportJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGuardedUpdateAgainstTerminalJob(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.InsertImportJob(ctx, testJob("job-1", time.Now())))
	cancelled := domain.ImportCancelled
	_, err := m.UpdateImportJob(ctx, "job-1", ImportJobUpdate{Status: &cancelled})
	require.NoError(t, err)

	processed := 10
	_, err = m.UpdateImportJob(ctx, "job-1", ImportJobUpdate{
		ProcessedItems:   &processed,
		GuardNotTerminal: true,
	})
	assert.ErrorIs(t, err, ErrTerminalState)

	// The guarded miss writes nothing.
	job, err := m.GetImportJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCancelled, job.Status)
	assert.Zero(t, job.ProcessedItems)

	// Without the guard the same update applies.
	job, err = m.UpdateImportJob(ctx, "job-1", ImportJobUpdate{ProcessedItems: &processed})
	require.NoError(t, err)
	assert.Equal(t, 10, job.ProcessedItems)
}

func TestMemoryListImportJobsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.InsertImportJob(ctx, testJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	jobs, total, err := m.ListImportJobs(ctx, ImportJobQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Equal(t, "job-0", jobs[2].ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.InsertImportJob(ctx, testJob("job-1", time.Now())))

	got, err := m.GetImportJob(ctx, "job-1")
	require.NoError(t, err)
	got.ProcessedItems = 999

	again, err := m.GetImportJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, again.ProcessedItems, "callers cannot mutate stored state")
}
