package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Postgres is a PostgreSQL-backed Client. Uniqueness for send records
// rides on the primary key (the deterministic record ID), so a
// concurrent duplicate insert surfaces as pq error 23505 and maps to
// ErrDuplicateKey. Chunk history is a JSONB array appended in place.
//
// Tables: dispatch_send_records, dispatch_recipients, import_jobs.
type Postgres struct{ db *sql.DB }

// NewPostgres wraps an open database handle. The caller owns the
// handle's lifetime (and its Ping at startup).
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *Postgres) InsertSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispatch_send_records
			(id, campaign_id, recipient_id, recipient_email, status,
			 reserved_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.CampaignID, rec.RecipientID, rec.RecipientEmail,
		rec.Status, rec.ReservedAt, rec.RetryCount)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert send record: %w", err)
	}
	return nil
}

const sendRecordColumns = `id, campaign_id, recipient_id, recipient_email, status,
	reserved_at, sent_at, COALESCE(provider_message_id,''), COALESCE(error_message,''), retry_count`

func scanSendRecord(row interface{ Scan(...any) error }) (*domain.SendRecord, error) {
	rec := &domain.SendRecord{}
	var sentAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.CampaignID, &rec.RecipientID, &rec.RecipientEmail,
		&rec.Status, &rec.ReservedAt, &sentAt, &rec.ProviderMessageID,
		&rec.ErrorMessage, &rec.RetryCount)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		rec.SentAt = &sentAt.Time
	}
	return rec, nil
}

func (p *Postgres) GetSendRecord(ctx context.Context, id string) (*domain.SendRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sendRecordColumns+`
		FROM dispatch_send_records WHERE id = $1
	`, id)
	rec, err := scanSendRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) FindSendRecords(ctx context.Context, q SendRecordQuery) (*SendRecordPage, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	idx := 1

	if q.CampaignID != "" {
		where = append(where, fmt.Sprintf("campaign_id = $%d", idx))
		args = append(args, q.CampaignID)
		idx++
	}
	if q.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, q.Status)
		idx++
	}
	if len(q.Emails) > 0 {
		normalized := make([]string, len(q.Emails))
		for i, e := range q.Emails {
			normalized[i] = domain.NormalizeEmail(e)
		}
		where = append(where, fmt.Sprintf("recipient_email = ANY($%d)", idx))
		args = append(args, pq.Array(normalized))
		idx++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatch_send_records WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count send records: %w", err)
	}

	query := `SELECT ` + sendRecordColumns + ` FROM dispatch_send_records WHERE ` + cond +
		" ORDER BY reserved_at ASC, id ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, q.Limit)
		idx++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, q.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find send records: %w", err)
	}
	defer rows.Close()

	page := &SendRecordPage{Total: total}
	for rows.Next() {
		rec, err := scanSendRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan send record: %w", err)
		}
		page.Records = append(page.Records, *rec)
	}
	return page, rows.Err()
}

func (p *Postgres) CountSendRecords(ctx context.Context, campaignID string, status domain.SendStatus) (int, error) {
	query := `SELECT COUNT(*) FROM dispatch_send_records WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}

	var total int
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("count send records: %w", err)
	}
	return total, nil
}

func (p *Postgres) UpdateSendRecord(ctx context.Context, id string, u SendRecordUpdate) (*domain.SendRecord, error) {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	if u.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *u.Status)
		idx++
	}
	if u.SentAt != nil {
		sets = append(sets, fmt.Sprintf("sent_at = $%d", idx))
		args = append(args, *u.SentAt)
		idx++
	}
	if u.ProviderMessageID != nil {
		sets = append(sets, fmt.Sprintf("provider_message_id = $%d", idx))
		args = append(args, *u.ProviderMessageID)
		idx++
	}
	if u.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", idx))
		args = append(args, *u.ErrorMessage)
		idx++
	}
	if u.RetryCount != nil {
		sets = append(sets, fmt.Sprintf("retry_count = $%d", idx))
		args = append(args, *u.RetryCount)
		idx++
	}
	if len(sets) == 0 {
		return p.GetSendRecord(ctx, id)
	}

	args = append(args, id)
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE dispatch_send_records SET %s WHERE id = $%d
		RETURNING `+sendRecordColumns, strings.Join(sets, ", "), idx), args...)

	rec, err := scanSendRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update send record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) InsertRecipient(ctx context.Context, r *domain.Recipient) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshal recipient fields: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO dispatch_recipients
			(id, email, first_name, last_name, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, domain.NormalizeEmail(r.Email), r.FirstName, r.LastName, fields, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

const importJobColumns = `id, file_name, file_size, total_items, processed_items,
	successful_items, failed_items, duplicate_items, validation_errors, status,
	chunk_size, current_batch_index, total_batches, resume_from_item,
	chunk_history, max_processing_ms, auto_resume, started_at, completed_at,
	progress_percentage`

func scanImportJob(row interface{ Scan(...any) error }) (*domain.ImportJob, error) {
	job := &domain.ImportJob{}
	var history []byte
	var maxMs int64
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.FileName, &job.FileSize, &job.TotalItems,
		&job.ProcessedItems, &job.SuccessfulItems, &job.FailedItems,
		&job.DuplicateItems, &job.ValidationErrors, &job.Status,
		&job.ChunkSize, &job.CurrentBatchIndex, &job.TotalBatches,
		&job.ResumeFromItem, &history, &maxMs, &job.AutoResume,
		&job.StartedAt, &completedAt, &job.ProgressPercentage)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &job.ChunkHistory); err != nil {
			return nil, fmt.Errorf("parse chunk history: %w", err)
		}
	}
	job.MaxProcessingTime = time.Duration(maxMs) * time.Millisecond
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	job.DisplayStatus = job.Status.Display()
	return job, nil
}

func (p *Postgres) InsertImportJob(ctx context.Context, job *domain.ImportJob) error {
	history, err := json.Marshal(job.ChunkHistory)
	if err != nil {
		return fmt.Errorf("marshal chunk history: %w", err)
	}
	if job.ChunkHistory == nil {
		history = []byte("[]")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO import_jobs
			(id, file_name, file_size, total_items, processed_items,
			 successful_items, failed_items, duplicate_items, validation_errors,
			 status, chunk_size, current_batch_index, total_batches,
			 resume_from_item, chunk_history, max_processing_ms, auto_resume,
			 started_at, progress_percentage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19)
	`, job.ID, job.FileName, job.FileSize, job.TotalItems, job.ProcessedItems,
		job.SuccessfulItems, job.FailedItems, job.DuplicateItems,
		job.ValidationErrors, job.Status, job.ChunkSize, job.CurrentBatchIndex,
		job.TotalBatches, job.ResumeFromItem, history,
		job.MaxProcessingTime.Milliseconds(), job.AutoResume, job.StartedAt,
		job.ProgressPercentage)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (p *Postgres) GetImportJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanImportJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

func (p *Postgres) ListImportJobs(ctx context.Context, q ImportJobQuery) ([]domain.ImportJob, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM import_jobs WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if q.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, q.Status)
		idx++
	}

	var total int
	if err := p.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count import jobs: %w", err)
	}

	query := `SELECT ` + importJobColumns + ` FROM import_jobs WHERE 1=1`
	if q.Status != "" {
		query += " AND status = $1"
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, q.Offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan import job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

func (p *Postgres) UpdateImportJob(ctx context.Context, id string, u ImportJobUpdate) (*domain.ImportJob, error) {
	sets := []string{}
	args := []interface{}{}
	idx := 1

	addSet := func(col string, v interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}

	if u.Status != nil {
		addSet("status", *u.Status)
	}
	if u.ProcessedItems != nil {
		addSet("processed_items", *u.ProcessedItems)
	}
	if u.SuccessfulItems != nil {
		addSet("successful_items", *u.SuccessfulItems)
	}
	if u.FailedItems != nil {
		addSet("failed_items", *u.FailedItems)
	}
	if u.DuplicateItems != nil {
		addSet("duplicate_items", *u.DuplicateItems)
	}
	if u.ValidationErrors != nil {
		addSet("validation_errors", *u.ValidationErrors)
	}
	if u.CurrentBatchIndex != nil {
		addSet("current_batch_index", *u.CurrentBatchIndex)
	}
	if u.ResumeFromItem != nil {
		addSet("resume_from_item", *u.ResumeFromItem)
	}
	if u.ProgressPercentage != nil {
		addSet("progress_percentage", *u.ProgressPercentage)
	}
	if u.StartedAt != nil {
		addSet("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		addSet("completed_at", *u.CompletedAt)
	}
	if u.AppendChunk != nil {
		entry, err := json.Marshal(u.AppendChunk)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk entry: %w", err)
		}
		sets = append(sets, fmt.Sprintf("chunk_history = chunk_history || $%d::jsonb", idx))
		args = append(args, entry)
		idx++
	}
	if len(sets) == 0 {
		return p.GetImportJob(ctx, id)
	}

	args = append(args, id)
	cond := fmt.Sprintf("id = $%d", idx)
	if u.GuardNotTerminal {
		cond += " AND status NOT IN ('completed', 'failed', 'cancelled')"
	}
	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE import_jobs SET %s WHERE %s
		RETURNING `+importJobColumns, strings.Join(sets, ", "), cond), args...)

	job, err := scanImportJob(row)
	if err == sql.ErrNoRows {
		if u.GuardNotTerminal {
			// No row either means the job is gone or the guard held.
			if _, gerr := p.GetImportJob(ctx, id); gerr == nil {
				return nil, ErrTerminalState
			}
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update import job: %w", err)
	}
	return job, nil
}

func (p *Postgres) DeleteImportJob(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
