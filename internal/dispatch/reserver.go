package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/store"
)

// defaultInsertDelay spaces out insert attempts to protect the store's
// connection capacity. Throughput trade-off, not a correctness
// requirement.
const defaultInsertDelay = 25 * time.Millisecond

// Reserver atomically claims recipients for a campaign. A claim is a
// pending SendRecord inserted under the deterministic key; the store's
// unique key guarantees at most one worker wins each recipient.
type Reserver struct {
	store       store.Client
	checker     *Checker
	insertDelay time.Duration
	now         func() time.Time
}

// NewReserver creates a reserver over the given store.
func NewReserver(st store.Client) *Reserver {
	return &Reserver{
		store:       st,
		checker:     NewChecker(st),
		insertDelay: defaultInsertDelay,
		now:         time.Now,
	}
}

// SetInsertDelay overrides the fixed delay between claim attempts.
// Zero disables throttling (tests).
func (r *Reserver) SetInsertDelay(d time.Duration) { r.insertDelay = d }

// ReservedRecipient pairs a claimed recipient with its record ID,
// captured at reservation time so finalization can update the exact
// record without re-deriving it.
type ReservedRecipient struct {
	Recipient domain.Recipient `json:"recipient"`
	RecordID  string           `json:"record_id"`
}

// BatchReport is the structured outcome of a batch operation. Batch
// operations always return counts, never a bare error, for expected
// per-item conditions.
type BatchReport struct {
	Reserved          int `json:"reserved"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	Failed            int `json:"failed"`
}

// ReserveResult is what a reserve call hands to the campaign runner.
type ReserveResult struct {
	Reserved  []ReservedRecipient `json:"reserved"`
	RecordIDs map[string]string   `json:"record_ids"` // recipient ID -> record ID
	Report    BatchReport         `json:"report"`
}

// Reserve claims up to batchSize of the candidate recipients for the
// campaign, in candidate order.
//
// Per candidate: a fast read-only pre-check skips known claims, then
// the insert is attempted. A duplicate-key collision means another
// worker claimed the recipient first — an expected outcome, counted
// as a skip and never logged as an error. Any other insert error is
// logged and skips only that candidate. A cancelled context returns
// the partial result alongside ctx.Err().
func (r *Reserver) Reserve(ctx context.Context, campaignID string, candidates []domain.Recipient, batchSize int) (*ReserveResult, error) {
	if batchSize <= 0 || batchSize > len(candidates) {
		batchSize = len(candidates)
	}

	result := &ReserveResult{RecordIDs: make(map[string]string)}
	for i, candidate := range candidates {
		if len(result.Reserved) >= batchSize {
			break
		}
		if i > 0 && r.insertDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.insertDelay):
			}
		}

		exists, err := r.checker.AlreadyHasRecord(ctx, campaignID, candidate.Email)
		if err != nil {
			// Pre-check is an optimization; fall through to the
			// insert, which is authoritative.
			logger.Debug("reserve pre-check failed, falling back to insert",
				"campaign_id", campaignID, "error", err.Error())
		} else if exists {
			result.Report.SkippedDuplicates++
			continue
		}

		rec := domain.NewSendRecord(campaignID, candidate, r.now())
		err = r.store.InsertSendRecord(ctx, rec)
		switch {
		case err == nil:
			result.Reserved = append(result.Reserved, ReservedRecipient{
				Recipient: candidate,
				RecordID:  rec.ID,
			})
			result.RecordIDs[candidate.ID] = rec.ID
			result.Report.Reserved++
		case errors.Is(err, store.ErrDuplicateKey):
			// Lost the race to another worker. Expected, silent.
			result.Report.SkippedDuplicates++
		default:
			logger.Error("reserve insert failed",
				"campaign_id", campaignID, "recipient_id", candidate.ID, "error", err.Error())
			result.Report.Failed++
		}
	}
	return result, nil
}
