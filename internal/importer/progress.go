package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// ProgressTTL bounds how long a job's progress snapshot survives in Redis
// after its last update.
const ProgressTTL = 24 * time.Hour

// ProgressSnapshot is the Redis-resident view of a job's progress, shaped
// for polling UIs so they never need to hit the primary store.
type ProgressSnapshot struct {
	JobID              string  `json:"job_id"`
	Status             string  `json:"status"`
	DisplayStatus      string  `json:"display_status"`
	ProcessedItems     int     `json:"processed_items"`
	TotalItems         int     `json:"total_items"`
	SuccessfulItems    int     `json:"successful_items"`
	FailedItems        int     `json:"failed_items"`
	DuplicateItems     int     `json:"duplicate_items"`
	CurrentBatchIndex  int     `json:"current_batch_index"`
	TotalBatches       int     `json:"total_batches"`
	ProgressPercentage float64 `json:"progress_percentage"`
	UpdatedAt          string  `json:"updated_at"`
}

// ProgressMirror publishes job progress snapshots to Redis. It is an
// observability side channel: the store remains authoritative, and mirror
// failures never fail the import.
type ProgressMirror struct {
	rdb *redis.Client
	now func() time.Time
}

// NewProgressMirror returns a mirror over the given Redis client.
func NewProgressMirror(rdb *redis.Client) *ProgressMirror {
	return &ProgressMirror{rdb: rdb, now: time.Now}
}

func progressKey(jobID string) string {
	return fmt.Sprintf("import:progress:%s", jobID)
}

// Publish writes the job's current snapshot under its progress key.
func (m *ProgressMirror) Publish(ctx context.Context, job *domain.ImportJob) error {
	snap := ProgressSnapshot{
		JobID:              job.ID,
		Status:             string(job.Status),
		DisplayStatus:      job.Status.Display(),
		ProcessedItems:     job.ProcessedItems,
		TotalItems:         job.TotalItems,
		SuccessfulItems:    job.SuccessfulItems,
		FailedItems:        job.FailedItems,
		DuplicateItems:     job.DuplicateItems,
		CurrentBatchIndex:  job.CurrentBatchIndex,
		TotalBatches:       job.TotalBatches,
		ProgressPercentage: job.ProgressPercentage,
		UpdatedAt:          m.now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}
	if err := m.rdb.Set(ctx, progressKey(job.ID), data, ProgressTTL).Err(); err != nil {
		return fmt.Errorf("write progress snapshot: %w", err)
	}
	return nil
}

// Fetch returns the snapshot for a job, or ok=false when none is cached.
func (m *ProgressMirror) Fetch(ctx context.Context, jobID string) (*ProgressSnapshot, bool, error) {
	data, err := m.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read progress snapshot: %w", err)
	}
	var snap ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return &snap, true, nil
}

// Forget drops a job's cached snapshot, used when the job itself is deleted.
func (m *ProgressMirror) Forget(ctx context.Context, jobID string) error {
	return m.rdb.Del(ctx, progressKey(jobID)).Err()
}
