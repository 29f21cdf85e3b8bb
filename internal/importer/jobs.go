// Package importer implements resumable, chunked recipient imports. A job
// processes a bounded slice of its source per invocation, checkpoints its
// position, and can be resumed until all items are consumed.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/store"
)

const (
	// DefaultChunkSize is the per-invocation item budget when the caller
	// does not supply one.
	DefaultChunkSize = 500

	// DefaultMaxProcessingTime is the soft wall-clock deadline per chunk.
	DefaultMaxProcessingTime = 25 * time.Second
)

// Jobs is the import job controller. It owns job lifecycle transitions and
// is the single place progress percentages get clamped and display statuses
// get derived; store backends persist whatever they are handed.
type Jobs struct {
	store store.Client
	now   func() time.Time
}

// NewJobs returns a controller backed by the given store.
func NewJobs(st store.Client) *Jobs {
	return &Jobs{store: st, now: time.Now}
}

// CreateInput carries the caller-supplied parameters for a new job.
// Zero-valued optional fields fall back to the package defaults.
type CreateInput struct {
	FileName          string
	FileSize          int64
	TotalItems        int
	ChunkSize         int
	MaxProcessingTime time.Duration
	AutoResume        bool
}

// Create registers a new import job in pending state. The total batch count
// is derived up front so progress consumers can render "batch x of y" before
// the first chunk runs.
func (j *Jobs) Create(ctx context.Context, in CreateInput) (*domain.ImportJob, error) {
	if in.FileName == "" {
		return nil, fmt.Errorf("%w: file_name is required", ErrValidation)
	}
	if in.TotalItems <= 0 {
		return nil, fmt.Errorf("%w: total_items must be positive", ErrValidation)
	}
	chunkSize := in.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	maxProcessing := in.MaxProcessingTime
	if maxProcessing <= 0 {
		maxProcessing = DefaultMaxProcessingTime
	}

	now := j.now()
	job := &domain.ImportJob{
		ID:                uuid.New().String(),
		FileName:          in.FileName,
		FileSize:          in.FileSize,
		Status:            domain.ImportPending,
		TotalItems:        in.TotalItems,
		ChunkSize:         chunkSize,
		TotalBatches:      domain.TotalBatchesFor(in.TotalItems, chunkSize),
		MaxProcessingTime: maxProcessing,
		AutoResume:        in.AutoResume,
		StartedAt:         now,
		DisplayStatus:     domain.ImportPending.Display(),
	}

	if err := j.store.InsertImportJob(ctx, job); err != nil {
		return nil, fmt.Errorf("insert import job: %w", err)
	}
	logger.Info("import job created",
		"job_id", job.ID,
		"file_name", job.FileName,
		"total_items", job.TotalItems,
		"chunk_size", job.ChunkSize,
		"total_batches", job.TotalBatches)
	return job, nil
}

// Get returns a job by ID.
func (j *Jobs) Get(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	job, err := j.store.GetImportJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs newest-first, optionally filtered by status.
func (j *Jobs) List(ctx context.Context, q store.ImportJobQuery) ([]domain.ImportJob, int, error) {
	return j.store.ListImportJobs(ctx, q)
}

// Cancel marks a job cancelled. Cancelling an already-cancelled job is a
// no-op; cancelling a completed or failed job is rejected because no
// transition may leave a terminal state.
func (j *Jobs) Cancel(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	job, err := j.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.ImportCancelled {
		return job, nil
	}
	if job.Status.Terminal() {
		return nil, ErrJobTerminal
	}

	status := domain.ImportCancelled
	completedAt := j.now()
	updated, err := j.store.UpdateImportJob(ctx, jobID, store.ImportJobUpdate{
		Status:           &status,
		CompletedAt:      &completedAt,
		GuardNotTerminal: true,
	})
	if errors.Is(err, store.ErrTerminalState) {
		// Lost a race with another terminal transition since the read.
		latest, gerr := j.Get(ctx, jobID)
		if gerr != nil {
			return nil, gerr
		}
		if latest.Status == domain.ImportCancelled {
			return latest, nil
		}
		return nil, ErrJobTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("cancel import job: %w", err)
	}
	logger.Info("import job cancelled", "job_id", jobID, "processed_items", updated.ProcessedItems)
	return updated, nil
}

// Delete removes a job record entirely.
func (j *Jobs) Delete(ctx context.Context, jobID string) error {
	err := j.store.DeleteImportJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}

// Progress carries a partial progress update. Nil fields are left untouched
// so concurrent writers only overwrite what they actually computed.
type Progress struct {
	Status             *domain.ImportStatus
	ProcessedItems     *int
	SuccessfulItems    *int
	FailedItems        *int
	DuplicateItems     *int
	ValidationErrors   *int
	CurrentBatchIndex  *int
	ResumeFromItem     *int
	ProgressPercentage *float64
	CompletedAt        *time.Time
	AppendChunk        *domain.ChunkExecution
}

// UpdateProgress merges the supplied fields into the stored job. Progress
// percentages are clamped into [0, 100] here, and the display status is kept
// in lockstep with any status change. Updates against a terminal job are
// rejected; the guard rides on the store write itself, so a cancel racing in
// after the pre-read still wins.
func (j *Jobs) UpdateProgress(ctx context.Context, jobID string, p Progress) (*domain.ImportJob, error) {
	job, err := j.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, ErrJobTerminal
	}

	upd := store.ImportJobUpdate{
		Status:            p.Status,
		ProcessedItems:    p.ProcessedItems,
		SuccessfulItems:   p.SuccessfulItems,
		FailedItems:       p.FailedItems,
		DuplicateItems:    p.DuplicateItems,
		ValidationErrors:  p.ValidationErrors,
		CurrentBatchIndex: p.CurrentBatchIndex,
		ResumeFromItem:    p.ResumeFromItem,
		CompletedAt:       p.CompletedAt,
		AppendChunk:       p.AppendChunk,
		GuardNotTerminal:  true,
	}
	if p.ProgressPercentage != nil {
		clamped := domain.ClampProgress(*p.ProgressPercentage)
		upd.ProgressPercentage = &clamped
	}

	updated, err := j.store.UpdateImportJob(ctx, jobID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if errors.Is(err, store.ErrTerminalState) {
		return nil, ErrJobTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("update import job: %w", err)
	}
	return updated, nil
}
