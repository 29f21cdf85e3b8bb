package importer

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/store"
)

func newTestMirror(t *testing.T) (*ProgressMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewProgressMirror(rdb), mr
}

func TestProgressMirrorPublishAndFetch(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	job := &domain.ImportJob{
		ID:                 "job-1",
		Status:             domain.ImportProcessing,
		ProcessedItems:     120,
		TotalItems:         500,
		SuccessfulItems:    115,
		FailedItems:        2,
		DuplicateItems:     3,
		CurrentBatchIndex:  1,
		TotalBatches:       5,
		ProgressPercentage: 24,
	}
	require.NoError(t, mirror.Publish(ctx, job))

	snap, ok, err := mirror.Fetch(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "processing", snap.Status)
	assert.Equal(t, "Processing", snap.DisplayStatus)
	assert.Equal(t, 120, snap.ProcessedItems)
	assert.Equal(t, 5, snap.TotalBatches)
	assert.Equal(t, 24.0, snap.ProgressPercentage)
	assert.NotEmpty(t, snap.UpdatedAt)
}

func TestProgressMirrorFetchMissing(t *testing.T) {
	mirror, _ := newTestMirror(t)

	snap, ok, err := mirror.Fetch(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestProgressMirrorSnapshotExpires(t *testing.T) {
	mirror, mr := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, &domain.ImportJob{ID: "job-1", Status: domain.ImportProcessing}))
	mr.FastForward(ProgressTTL * 2)

	_, ok, err := mirror.Fetch(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProgressMirrorForget(t *testing.T) {
	mirror, _ := newTestMirror(t)
	ctx := context.Background()

	require.NoError(t, mirror.Publish(ctx, &domain.ImportJob{ID: "job-1", Status: domain.ImportPending}))
	require.NoError(t, mirror.Forget(ctx, "job-1"))

	_, ok, err := mirror.Fetch(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Mirror loss never fails the import: the chunk processor logs and
// continues when Redis is gone.
func TestChunkProcessorSurvivesMirrorLoss(t *testing.T) {
	mirror, mr := newTestMirror(t)
	st := store.NewMemory()
	jobs := NewJobs(st)
	p := NewChunkProcessor(jobs, st, StaticResolver{Source: testItems(3)}, mirror)

	job, err := jobs.Create(context.Background(), CreateInput{FileName: "x.csv", TotalItems: 3, ChunkSize: 3})
	require.NoError(t, err)

	mr.Close()

	updated, err := p.Advance(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, updated.Status)
	assert.Equal(t, 3, updated.ProcessedItems)
}
