package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// ChunkProcessor advances an import job one bounded slice at a time. Each
// Advance call fetches the next unprocessed slice from the job's item
// source, imports it item by item, and checkpoints position and counters so
// the next invocation picks up exactly where this one stopped.
//
// The wall-clock deadline is soft: it is checked cooperatively after each
// item, never enforced mid-item.
type ChunkProcessor struct {
	jobs    *Jobs
	store   store.Client
	sources SourceResolver
	mirror  *ProgressMirror
	now     func() time.Time
}

// NewChunkProcessor wires a processor. mirror may be nil when no external
// progress feed is configured.
func NewChunkProcessor(jobs *Jobs, st store.Client, resolver SourceResolver, mirror *ProgressMirror) *ChunkProcessor {
	return &ChunkProcessor{
		jobs:    jobs,
		store:   st,
		sources: resolver,
		mirror:  mirror,
		now:     time.Now,
	}
}

// Advance performs one chunk's worth of work for the job and returns the
// updated job. A job observed in a terminal state (including cancelled)
// starts no new work and returns ErrJobTerminal alongside the job as last
// seen.
func (p *ChunkProcessor) Advance(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, ErrJobTerminal
	}

	if job.Status == domain.ImportPending {
		processing := domain.ImportProcessing
		job, err = p.jobs.UpdateProgress(ctx, jobID, Progress{Status: &processing})
		if err != nil {
			return nil, err
		}
	}

	remaining := job.TotalItems - job.ResumeFromItem
	if remaining <= 0 {
		return p.complete(ctx, job)
	}

	sliceSize := job.ChunkSize
	if sliceSize > remaining {
		sliceSize = remaining
	}

	source, err := p.sources.Resolve(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("resolve item source: %w", err)
	}
	items, err := source.Items(ctx, job.ResumeFromItem, sliceSize)
	if err != nil {
		return nil, fmt.Errorf("fetch items from %d: %w", job.ResumeFromItem, err)
	}

	start := p.now()
	processed := job.ProcessedItems
	successful := job.SuccessfulItems
	failed := job.FailedItems
	duplicates := job.DuplicateItems
	validationErrs := job.ValidationErrors
	inChunk := 0
	partial := false

	for _, item := range items {
		p.importItem(ctx, job.ID, item, &successful, &failed, &duplicates, &validationErrs)
		processed++
		inChunk++

		if p.now().Sub(start) >= job.MaxProcessingTime {
			partial = true
			break
		}
	}

	elapsed := p.now().Sub(start)
	entry := &domain.ChunkExecution{
		ChunkNumber:      len(job.ChunkHistory) + 1,
		ItemsProcessed:   inChunk,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        p.now(),
		Status:           domain.ChunkCompleted,
	}
	if partial {
		entry.Status = domain.ChunkPartial
	}

	resumeFrom := job.ResumeFromItem + inChunk
	pct := float64(processed) / float64(job.TotalItems) * 100
	prog := Progress{
		ProcessedItems:     &processed,
		SuccessfulItems:    &successful,
		FailedItems:        &failed,
		DuplicateItems:     &duplicates,
		ValidationErrors:   &validationErrs,
		ResumeFromItem:     &resumeFrom,
		ProgressPercentage: &pct,
		AppendChunk:        entry,
	}
	if !partial {
		batchIndex := job.CurrentBatchIndex + 1
		prog.CurrentBatchIndex = &batchIndex
	}
	if processed >= job.TotalItems {
		completed := domain.ImportCompleted
		completedAt := p.now()
		prog.Status = &completed
		prog.CompletedAt = &completedAt
	}

	updated, err := p.jobs.UpdateProgress(ctx, jobID, prog)
	if err != nil {
		return nil, err
	}

	logger.Info("import chunk processed",
		"job_id", updated.ID,
		"chunk_number", entry.ChunkNumber,
		"items_processed", inChunk,
		"chunk_status", string(entry.Status),
		"processed_items", updated.ProcessedItems,
		"total_items", updated.TotalItems)
	p.publish(ctx, updated)
	return updated, nil
}

// importItem validates and inserts one item, bumping the matching counter.
// Item-level failures never abort the chunk.
func (p *ChunkProcessor) importItem(ctx context.Context, jobID string, item domain.ImportItem, successful, failed, duplicates, validationErrs *int) {
	if !domain.ValidEmail(item.Email) {
		*validationErrs++
		*failed++
		logger.Debug("import item rejected", "job_id", jobID, "email", item.Email, "reason", "invalid email")
		return
	}

	rec := &domain.Recipient{
		ID:        domain.NormalizeEmail(item.Email),
		Email:     domain.NormalizeEmail(item.Email),
		FirstName: item.FirstName,
		LastName:  item.LastName,
		Fields:    item.Fields,
		CreatedAt: p.now(),
	}
	err := p.store.InsertRecipient(ctx, rec)
	switch {
	case err == nil:
		*successful++
	case errors.Is(err, store.ErrDuplicateKey):
		*duplicates++
	default:
		*failed++
		logger.Error("import item insert failed", "job_id", jobID, "email", item.Email, "error", err.Error())
	}
}

// complete closes out a job whose items are already exhausted.
func (p *ChunkProcessor) complete(ctx context.Context, job *domain.ImportJob) (*domain.ImportJob, error) {
	completed := domain.ImportCompleted
	completedAt := p.now()
	pct := float64(100)
	updated, err := p.jobs.UpdateProgress(ctx, job.ID, Progress{
		Status:             &completed,
		CompletedAt:        &completedAt,
		ProgressPercentage: &pct,
	})
	if err != nil {
		return nil, err
	}
	p.publish(ctx, updated)
	return updated, nil
}

func (p *ChunkProcessor) publish(ctx context.Context, job *domain.ImportJob) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.Publish(ctx, job); err != nil {
		logger.Warn("progress mirror publish failed", "job_id", job.ID, "error", err.Error())
	}
}
