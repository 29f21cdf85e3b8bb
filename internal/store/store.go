// Package store defines the record store contract the dispatch and
// import engines run against, plus its backends.
//
// The store is the single shared mutable resource in the system. All
// mutual exclusion for "has this unit of work been claimed" is
// delegated to its server-enforced unique key on the send record ID;
// the application never assumes it holds an exclusive lock.
//
// Backends: DynamoDB (dynamo.go), Postgres (postgres.go), and an
// in-memory implementation (memory.go) used by tests and local dev.
package store

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Client is the data access contract for send records, recipients,
// and import jobs. Implementations must be safe for concurrent use
// and must return the package sentinel errors for the two expected
// conditions: ErrDuplicateKey on unique-key collision and ErrNotFound
// when no matching record exists.
type Client interface {
	// InsertSendRecord creates a pending claim. The record's
	// deterministic ID is the unique key; a collision returns
	// ErrDuplicateKey and writes nothing.
	InsertSendRecord(ctx context.Context, rec *domain.SendRecord) error

	// GetSendRecord returns one record by its deterministic ID.
	GetSendRecord(ctx context.Context, id string) (*domain.SendRecord, error)

	// FindSendRecords returns records matching the query plus the
	// total match count ignoring pagination. An empty result is not
	// an error.
	FindSendRecords(ctx context.Context, q SendRecordQuery) (*SendRecordPage, error)

	// CountSendRecords counts a campaign's records, optionally
	// filtered by status (empty status counts all).
	CountSendRecords(ctx context.Context, campaignID string, status domain.SendStatus) (int, error)

	// UpdateSendRecord applies the non-nil fields of u to an existing
	// record and returns the updated record. It never inserts;
	// a missing record returns ErrNotFound.
	UpdateSendRecord(ctx context.Context, id string, u SendRecordUpdate) (*domain.SendRecord, error)

	// InsertRecipient adds an imported recipient. Uniqueness is
	// enforced on the normalized email; a collision returns
	// ErrDuplicateKey.
	InsertRecipient(ctx context.Context, r *domain.Recipient) error

	// InsertImportJob persists a newly created job.
	InsertImportJob(ctx context.Context, job *domain.ImportJob) error

	// GetImportJob returns one job by ID.
	GetImportJob(ctx context.Context, id string) (*domain.ImportJob, error)

	// ListImportJobs returns jobs matching the query, newest first,
	// plus the total match count.
	ListImportJobs(ctx context.Context, q ImportJobQuery) ([]domain.ImportJob, int, error)

	// UpdateImportJob applies the non-nil fields of u to an existing
	// job and returns the updated job. AppendChunk, when set, appends
	// one chunk history entry. With GuardNotTerminal set, a job
	// already in a terminal status is left untouched and
	// ErrTerminalState is returned.
	UpdateImportJob(ctx context.Context, id string, u ImportJobUpdate) (*domain.ImportJob, error)

	// DeleteImportJob removes a job. Deleting a missing job returns
	// ErrNotFound.
	DeleteImportJob(ctx context.Context, id string) error
}

// SendRecordQuery filters send record lookups. Zero-value fields are
// not applied. Emails is a "value in set" filter on recipient email.
type SendRecordQuery struct {
	CampaignID string
	Emails     []string
	Status     domain.SendStatus
	Limit      int
	Offset     int
}

// SendRecordPage is one page of send records with the total match
// count ignoring Limit/Offset.
type SendRecordPage struct {
	Records []domain.SendRecord
	Total   int
}

// SendRecordUpdate holds the mutable fields of a send record.
// Nil fields are not applied.
type SendRecordUpdate struct {
	Status            *domain.SendStatus
	SentAt            *time.Time
	ProviderMessageID *string
	ErrorMessage      *string
	RetryCount        *int
}

// ImportJobQuery filters import job listings.
type ImportJobQuery struct {
	Status domain.ImportStatus
	Limit  int
	Offset int
}

// ImportJobUpdate holds the mutable fields of an import job.
// Nil fields are not applied, so a partial progress update can never
// reset counters it does not mention.
type ImportJobUpdate struct {
	Status             *domain.ImportStatus
	ProcessedItems     *int
	SuccessfulItems    *int
	FailedItems        *int
	DuplicateItems     *int
	ValidationErrors   *int
	CurrentBatchIndex  *int
	ResumeFromItem     *int
	ProgressPercentage *float64
	StartedAt          *time.Time
	CompletedAt        *time.Time
	AppendChunk        *domain.ChunkExecution

	// GuardNotTerminal makes the update conditional on the job not
	// being in a terminal status at write time. The check rides on the
	// write itself, so a cancel racing in between a caller's read and
	// its update cannot be overwritten; the losing write returns
	// ErrTerminalState.
	GuardNotTerminal bool
}
