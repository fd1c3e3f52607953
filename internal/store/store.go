// Package store defines the durable persistence contracts the engine
// depends on: the Progress Store (per-job cursor), the Job Store
// (durable job records), and the Log Store (append-only per-job log).
// Concrete backings live in sibling packages store/file and store/sql.
package store

import "time"

// Cursor is a job's Progress Cursor: last_id is the highest source
// message id whose attempt has been fully accounted for; Delivered is
// the bounded set of source ids whose send was acknowledged.
type Cursor struct {
	LastID    int64
	Delivered map[int64]bool
}

// NewCursor returns a zero-value Cursor ready for use.
func NewCursor() Cursor {
	return Cursor{Delivered: make(map[int64]bool)}
}

// ProgressStore is durable, per-job cursor storage.
type ProgressStore interface {
	// Load returns jobID's cursor, or a zero Cursor if none is recorded yet.
	Load(jobID string) (Cursor, error)

	// Append atomically advances deliveredID into the delivered set and
	// sets LastID, such that on crash recovery either both changes are
	// visible or neither is.
	Append(jobID string, deliveredID, lastID int64) error

	// AdvanceLastID records a skip (drop or exhausted-retry) without
	// adding to Delivered.
	AdvanceLastID(jobID, lastID int64) error

	// Trim enforces the bound on Delivered (kept to the most recent N
	// entries; safe because source ids are monotonic).
	Trim(jobID string, keepMostRecent int) error

	// Reset clears both fields (reset_progress).
	Reset(jobID string) error
}

// JobStatus is a position in the Job lifecycle state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobStopped   JobStatus = "stopped"
)

// RateParams is a job's send pacing configuration.
type RateParams struct {
	InterMessageDelaySeconds int
	MaxPerMinutePerAccount   int
}

// FilterPolicySpec is the durable form of a job's Filter Policy,
// carried on the Job record itself so the policy a job was created
// with survives a process restart without a separate in-memory
// registration step. Its fields mirror filter.NewPolicy's parameters.
type FilterPolicySpec struct {
	AllMedia   bool
	TextOnly   bool
	Classes    []string // filter.MediaClass values, stored as plain strings to avoid an import cycle
	Extensions []string
}

// IsZero reports whether every field of spec is unset. A "drop
// everything" policy with all fields false/empty is indistinguishable
// from no policy at all and also reports true.
func (spec FilterPolicySpec) IsZero() bool {
	return !spec.AllMedia && !spec.TextOnly && len(spec.Classes) == 0 && len(spec.Extensions) == 0
}

// Job is the durable Job record (§3 of the spec this module implements).
type Job struct {
	ID             string
	Name           string
	SourceRef      string
	TargetRef      string
	AccountIDs     []string
	FilterPolicyID string // keys into the Supervisor's resolved-Policy cache
	FilterPolicy   FilterPolicySpec
	Rate           RateParams
	Status         JobStatus
	ResetProgress  bool
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	LastError      string
}

// JobStore is durable storage for Job records.
type JobStore interface {
	Get(id string) (Job, error)
	List() ([]Job, error)
	Create(j Job) error
	Update(j Job) error
	Delete(id string) error
}

// LogLevel classifies a LogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one append-only per-job log line.
type LogEntry struct {
	JobID     string
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// LogStore is append-only per-job log storage.
type LogStore interface {
	Append(entry LogEntry) error
	List(jobID string, limit int) ([]LogEntry, error)
}
