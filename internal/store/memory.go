package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Memory is an in-memory Client. It backs unit tests and local
// development; the unique-key semantics match the real backends
// exactly, including under concurrent access.
type Memory struct {
	mu         sync.Mutex
	records    map[string]*domain.SendRecord // keyed by deterministic ID
	recordIDs  []string                      // insertion order
	recipients map[string]*domain.Recipient  // keyed by normalized email
	jobs       map[string]*domain.ImportJob
	jobIDs     []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:    make(map[string]*domain.SendRecord),
		recipients: make(map[string]*domain.Recipient),
		jobs:       make(map[string]*domain.ImportJob),
	}
}

func (m *Memory) InsertSendRecord(_ context.Context, rec *domain.SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return ErrDuplicateKey
	}
	cp := *rec
	m.records[rec.ID] = &cp
	m.recordIDs = append(m.recordIDs, rec.ID)
	return nil
}

func (m *Memory) GetSendRecord(_ context.Context, id string) (*domain.SendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) FindSendRecords(_ context.Context, q SendRecordQuery) (*SendRecordPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var emailSet map[string]bool
	if len(q.Emails) > 0 {
		emailSet = make(map[string]bool, len(q.Emails))
		for _, e := range q.Emails {
			emailSet[domain.NormalizeEmail(e)] = true
		}
	}

	var matched []domain.SendRecord
	for _, id := range m.recordIDs {
		rec := m.records[id]
		if q.CampaignID != "" && rec.CampaignID != q.CampaignID {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if emailSet != nil && !emailSet[rec.RecipientEmail] {
			continue
		}
		matched = append(matched, *rec)
	}

	page := &SendRecordPage{Total: len(matched)}
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page.Records = matched[start:end]
	return page, nil
}

func (m *Memory) CountSendRecords(ctx context.Context, campaignID string, status domain.SendStatus) (int, error) {
	page, err := m.FindSendRecords(ctx, SendRecordQuery{CampaignID: campaignID, Status: status})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (m *Memory) UpdateSendRecord(_ context.Context, id string, u SendRecordUpdate) (*domain.SendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.SentAt != nil {
		t := *u.SentAt
		rec.SentAt = &t
	}
	if u.ProviderMessageID != nil {
		rec.ProviderMessageID = *u.ProviderMessageID
	}
	if u.ErrorMessage != nil {
		rec.ErrorMessage = *u.ErrorMessage
	}
	if u.RetryCount != nil {
		rec.RetryCount = *u.RetryCount
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) InsertRecipient(_ context.Context, r *domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.NormalizeEmail(r.Email)
	if _, exists := m.recipients[key]; exists {
		return ErrDuplicateKey
	}
	cp := *r
	m.recipients[key] = &cp
	return nil
}

// RecipientCount reports how many recipients have been imported.
// Test helper; not part of the Client contract.
func (m *Memory) RecipientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recipients)
}

func (m *Memory) InsertImportJob(_ context.Context, job *domain.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	cp := copyJob(job)
	m.jobs[job.ID] = cp
	m.jobIDs = append(m.jobIDs, job.ID)
	return nil
}

func (m *Memory) GetImportJob(_ context.Context, id string) (*domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (m *Memory) ListImportJobs(_ context.Context, q ImportJobQuery) ([]domain.ImportJob, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []domain.ImportJob
	for _, id := range m.jobIDs {
		job := m.jobs[id]
		if q.Status != "" && job.Status != q.Status {
			continue
		}
		matched = append(matched, *copyJob(job))
	}
	// Newest first.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

func (m *Memory) UpdateImportJob(_ context.Context, id string, u ImportJobUpdate) (*domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.GuardNotTerminal && job.Status.Terminal() {
		return nil, ErrTerminalState
	}
	applyJobUpdate(job, u)
	return copyJob(job), nil
}

func (m *Memory) DeleteImportJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	for i, jid := range m.jobIDs {
		if jid == id {
			m.jobIDs = append(m.jobIDs[:i], m.jobIDs[i+1:]...)
			break
		}
	}
	return nil
}

func copyJob(job *domain.ImportJob) *domain.ImportJob {
	cp := *job
	cp.ChunkHistory = append([]domain.ChunkExecution(nil), job.ChunkHistory...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// applyJobUpdate merges the non-nil fields of u into job. Shared by
// the in-memory backend; the SQL and DynamoDB backends express the
// same merge as partial update statements.
func applyJobUpdate(job *domain.ImportJob, u ImportJobUpdate) {
	if u.Status != nil {
		job.Status = *u.Status
		job.DisplayStatus = u.Status.Display()
	}
	if u.ProcessedItems != nil {
		job.ProcessedItems = *u.ProcessedItems
	}
	if u.SuccessfulItems != nil {
		job.SuccessfulItems = *u.SuccessfulItems
	}
	if u.FailedItems != nil {
		job.FailedItems = *u.FailedItems
	}
	if u.DuplicateItems != nil {
		job.DuplicateItems = *u.DuplicateItems
	}
	if u.ValidationErrors != nil {
		job.ValidationErrors = *u.ValidationErrors
	}
	if u.CurrentBatchIndex != nil {
		job.CurrentBatchIndex = *u.CurrentBatchIndex
	}
	if u.ResumeFromItem != nil {
		job.ResumeFromItem = *u.ResumeFromItem
	}
	if u.ProgressPercentage != nil {
		// Clamping happens in the import job controller; the store
		// writes what it is given.
		job.ProgressPercentage = *u.ProgressPercentage
	}
	if u.StartedAt != nil {
		job.StartedAt = *u.StartedAt
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
	if u.AppendChunk != nil {
		job.ChunkHistory = append(job.ChunkHistory, *u.AppendChunk)
	}
}
