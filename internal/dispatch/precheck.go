package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/campaign-dispatch/internal/store"
)

// defaultCheckerPageSize bounds each page when walking a campaign's
// existing records.
const defaultCheckerPageSize = 500

// Checker answers "does a claim already exist" questions. It is a
// read-only optimization layer: the store's unique key remains the
// single source of truth, and a stale answer here costs at most one
// wasted insert attempt.
type Checker struct {
	store    store.Client
	pageSize int
}

// NewChecker creates a duplicate pre-checker over the given store.
func NewChecker(st store.Client) *Checker {
	return &Checker{store: st, pageSize: defaultCheckerPageSize}
}

// AlreadyHasRecord reports whether a send record of any status exists
// for (campaignID, email). "No matching records" is false, never an
// error.
func (c *Checker) AlreadyHasRecord(ctx context.Context, campaignID, email string) (bool, error) {
	page, err := c.store.FindSendRecords(ctx, store.SendRecordQuery{
		CampaignID: campaignID,
		Emails:     []string{email},
		Limit:      1,
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pre-check %s: %w", campaignID, err)
	}
	return page.Total > 0, nil
}

// FilterUnclaimed pages through every existing send record for the
// campaign and returns the input IDs minus any that already hold a
// record of any status. Input order is preserved.
func (c *Checker) FilterUnclaimed(ctx context.Context, campaignID string, recipientIDs []string) ([]string, error) {
	claimed := make(map[string]bool)
	offset := 0
	for {
		page, err := c.store.FindSendRecords(ctx, store.SendRecordQuery{
			CampaignID: campaignID,
			Limit:      c.pageSize,
			Offset:     offset,
		})
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list claims for %s: %w", campaignID, err)
		}
		for _, rec := range page.Records {
			claimed[rec.RecipientID] = true
		}
		offset += len(page.Records)
		if len(page.Records) == 0 || offset >= page.Total {
			break
		}
	}

	unclaimed := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if !claimed[strings.ToLower(id)] {
			unclaimed = append(unclaimed, id)
		}
	}
	return unclaimed, nil
}
