package domain

import (
	"encoding/json"
	"time"
)

// ImportStatus enumerates the lifecycle states of a bulk-import job.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
	ImportCancelled  ImportStatus = "cancelled"
)

// Terminal reports whether a job in this status accepts further work.
// Processing may be re-entered any number of times (resume); terminal
// states may not be left.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed || s == ImportCancelled
}

// importStatusDisplay is the fixed internal→display mapping surfaced
// to API consumers.
var importStatusDisplay = map[ImportStatus]string{
	ImportPending:    "Pending",
	ImportProcessing: "Processing",
	ImportCompleted:  "Completed",
	ImportFailed:     "Failed",
	ImportCancelled:  "Cancelled",
}

// Display returns the human-readable form of the status. Unknown
// statuses render as-is rather than panicking.
func (s ImportStatus) Display() string {
	if d, ok := importStatusDisplay[s]; ok {
		return d
	}
	return string(s)
}

// ChunkStatus enumerates the outcome of one chunk execution.
type ChunkStatus string

const (
	ChunkCompleted ChunkStatus = "completed"
	ChunkPartial   ChunkStatus = "partial"
	ChunkFailed    ChunkStatus = "failed"
)

// ChunkExecution is one entry in a job's chunk history: a record of a
// single invocation's slice of work.
type ChunkExecution struct {
	ChunkNumber      int         `json:"chunk_number"`
	ItemsProcessed   int         `json:"items_processed"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Timestamp        time.Time   `json:"timestamp"`
	Status           ChunkStatus `json:"status"`
}

// ImportJob tracks one bulk-import submission as it is advanced chunk
// by chunk across many short-lived invocations. ProcessedItems is
// monotonically non-decreasing across resumptions; ResumeFromItem is
// the absolute index the next invocation picks up from.
type ImportJob struct {
	ID                 string           `json:"id" db:"id"`
	FileName           string           `json:"file_name" db:"file_name"`
	FileSize           int64            `json:"file_size" db:"file_size"`
	TotalItems         int              `json:"total_items" db:"total_items"`
	ProcessedItems     int              `json:"processed_items" db:"processed_items"`
	SuccessfulItems    int              `json:"successful_items" db:"successful_items"`
	FailedItems        int              `json:"failed_items" db:"failed_items"`
	DuplicateItems     int              `json:"duplicate_items" db:"duplicate_items"`
	ValidationErrors   int              `json:"validation_errors" db:"validation_errors"`
	Status             ImportStatus     `json:"status" db:"status"`
	DisplayStatus      string           `json:"display_status" db:"-"`
	ChunkSize          int              `json:"chunk_size" db:"chunk_size"`
	CurrentBatchIndex  int              `json:"current_batch_index" db:"current_batch_index"`
	TotalBatches       int              `json:"total_batches" db:"total_batches"`
	ResumeFromItem     int              `json:"resume_from_item" db:"resume_from_item"`
	ChunkHistory       []ChunkExecution `json:"chunk_history" db:"chunk_history"`
	MaxProcessingTime  time.Duration    `json:"-" db:"max_processing_time_ms"`
	AutoResume         bool             `json:"auto_resume" db:"auto_resume"`
	StartedAt          time.Time        `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	ProgressPercentage float64          `json:"progress_percentage" db:"progress_percentage"`
}

// MarshalJSON emits the chunk deadline in milliseconds to match its
// key name. Internally the deadline is a time.Duration; the stored
// backends make the same conversion.
func (j ImportJob) MarshalJSON() ([]byte, error) {
	type alias ImportJob
	return json.Marshal(&struct {
		*alias
		MaxProcessingTimeMs int64 `json:"max_processing_time_ms"`
	}{
		alias:               (*alias)(&j),
		MaxProcessingTimeMs: j.MaxProcessingTime.Milliseconds(),
	})
}

// UnmarshalJSON accepts the millisecond wire form of the chunk
// deadline.
func (j *ImportJob) UnmarshalJSON(data []byte) error {
	type alias ImportJob
	aux := struct {
		*alias
		MaxProcessingTimeMs int64 `json:"max_processing_time_ms"`
	}{alias: (*alias)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	j.MaxProcessingTime = time.Duration(aux.MaxProcessingTimeMs) * time.Millisecond
	return nil
}

// TotalBatchesFor computes ceil(totalItems/chunkSize). Zero or
// negative inputs yield zero batches.
func TotalBatchesFor(totalItems, chunkSize int) int {
	if totalItems <= 0 || chunkSize <= 0 {
		return 0
	}
	return (totalItems + chunkSize - 1) / chunkSize
}

// ClampProgress forces a progress percentage into [0,100] regardless
// of caller input.
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ImportItem is one row of import input: a recipient waiting to be
// validated and inserted.
type ImportItem struct {
	Email     string            `json:"email"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}
