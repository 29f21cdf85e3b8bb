package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func sendRecordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_id", "recipient_email", "status",
		"reserved_at", "sent_at", "provider_message_id", "error_message", "retry_count",
	})
}

func TestPostgresInsertSendRecord(t *testing.T) {
	p, mock := newMockPostgres(t)
	rec := domain.NewSendRecord("camp-1", domain.Recipient{ID: "a@example.com", Email: "a@example.com"}, time.Now())

	mock.ExpectExec("INSERT INTO dispatch_send_records").
		WithArgs(rec.ID, "camp-1", "a@example.com", "a@example.com",
			domain.SendPending, rec.ReservedAt, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.InsertSendRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertSendRecordDuplicateKey(t *testing.T) {
	p, mock := newMockPostgres(t)
	rec := domain.NewSendRecord("camp-1", domain.Recipient{ID: "a@example.com", Email: "a@example.com"}, time.Now())

	mock.ExpectExec("INSERT INTO dispatch_send_records").
		WillReturnError(&pq.Error{Code: "23505"})

	err := p.InsertSendRecord(context.Background(), rec)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetSendRecordNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT (.+) FROM dispatch_send_records WHERE id").
		WithArgs("camp-1:ghost@example.com").
		WillReturnRows(sendRecordRows())

	_, err := p.GetSendRecord(context.Background(), "camp-1:ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCountSendRecords(t *testing.T) {
	p, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dispatch_send_records WHERE campaign_id").
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	total, err := p.CountSendRecords(ctx, "camp-1", "")
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dispatch_send_records WHERE campaign_id = \\$1 AND status = \\$2").
		WithArgs("camp-1", domain.SendSent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	sent, err := p.CountSendRecords(ctx, "camp-1", domain.SendSent)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSendRecordBuildsPartialSet(t *testing.T) {
	p, mock := newMockPostgres(t)
	reserved := time.Now().UTC()
	sentAt := reserved.Add(time.Minute)
	sent := domain.SendSent
	msgID := "msg-1"

	mock.ExpectQuery("UPDATE dispatch_send_records SET status = \\$1, sent_at = \\$2, provider_message_id = \\$3 WHERE id = \\$4").
		WithArgs(sent, sentAt, msgID, "camp-1:a@example.com").
		WillReturnRows(sendRecordRows().AddRow(
			"camp-1:a@example.com", "camp-1", "a@example.com", "a@example.com",
			"sent", reserved, sentAt, msgID, "", 0,
		))

	rec, err := p.UpdateSendRecord(context.Background(), "camp-1:a@example.com", SendRecordUpdate{
		Status:            &sent,
		SentAt:            &sentAt,
		ProviderMessageID: &msgID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SendSent, rec.Status)
	assert.Equal(t, "msg-1", rec.ProviderMessageID)
	require.NotNil(t, rec.SentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSendRecordNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	failed := domain.SendFailed

	mock.ExpectQuery("UPDATE dispatch_send_records SET").
		WillReturnRows(sendRecordRows())

	_, err := p.UpdateSendRecord(context.Background(), "missing", SendRecordUpdate{Status: &failed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresInsertRecipientDuplicate(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO dispatch_recipients").
		WillReturnError(&pq.Error{Code: "23505"})

	err := p.InsertRecipient(context.Background(), &domain.Recipient{
		ID:    "a@example.com",
		Email: "A@Example.com",
	})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestPostgresUpdateImportJobAppendsChunk(t *testing.T) {
	p, mock := newMockPostgres(t)
	started := time.Now().UTC()
	processed := 500

	mock.ExpectQuery(`UPDATE import_jobs SET processed_items = \$1, chunk_history = chunk_history \|\| \$2::jsonb WHERE id = \$3`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "file_name", "file_size", "total_items", "processed_items",
			"successful_items", "failed_items", "duplicate_items", "validation_errors",
			"status", "chunk_size", "current_batch_index", "total_batches",
			"resume_from_item", "chunk_history", "max_processing_ms", "auto_resume",
			"started_at", "completed_at", "progress_percentage",
		}).AddRow(
			"job-1", "contacts.csv", 1024, 2500, 500,
			490, 5, 5, 0,
			"processing", 500, 1, 5,
			500, `[{"chunk_number":1,"items_processed":500,"processing_time_ms":1200,"timestamp":"2026-08-30T00:00:00Z","status":"completed"}]`,
			25000, true,
			started, nil, 20.0,
		))

	job, err := p.UpdateImportJob(context.Background(), "job-1", ImportJobUpdate{
		ProcessedItems: &processed,
		AppendChunk: &domain.ChunkExecution{
			ChunkNumber:    1,
			ItemsProcessed: 500,
			Status:         domain.ChunkCompleted,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 500, job.ProcessedItems)
	require.Len(t, job.ChunkHistory, 1)
	assert.Equal(t, domain.ChunkCompleted, job.ChunkHistory[0].Status)
	assert.Equal(t, 25*time.Second, job.MaxProcessingTime)
	assert.Equal(t, "Processing", job.DisplayStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func importJobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "file_name", "file_size", "total_items", "processed_items",
		"successful_items", "failed_items", "duplicate_items", "validation_errors",
		"status", "chunk_size", "current_batch_index", "total_batches",
		"resume_from_item", "chunk_history", "max_processing_ms", "auto_resume",
		"started_at", "completed_at", "progress_percentage",
	})
}

func TestPostgresGuardedUpdateAgainstTerminalJob(t *testing.T) {
	p, mock := newMockPostgres(t)
	started := time.Now().UTC()
	cancelledAt := started.Add(time.Minute)
	processed := 10

	// The guard rides on the WHERE clause, so the update misses.
	mock.ExpectQuery(`UPDATE import_jobs SET processed_items = \$1 WHERE id = \$2 AND status NOT IN \('completed', 'failed', 'cancelled'\)`).
		WithArgs(processed, "job-1").
		WillReturnRows(importJobRows())

	// The follow-up read finds the job alive but terminal.
	mock.ExpectQuery(`SELECT (.+) FROM import_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(importJobRows().AddRow(
			"job-1", "contacts.csv", 1024, 100, 40,
			40, 0, 0, 0,
			"cancelled", 10, 4, 10,
			40, `[]`, 25000, false,
			started, cancelledAt, 40.0,
		))

	_, err := p.UpdateImportJob(context.Background(), "job-1", ImportJobUpdate{
		ProcessedItems:   &processed,
		GuardNotTerminal: true,
	})
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteImportJobNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM import_jobs WHERE id").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, p.DeleteImportJob(context.Background(), "ghost"), ErrNotFound)
}
