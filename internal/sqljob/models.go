package sqljob

import "time"

// JobType identifies what kind of database object a job maintains.
type JobType string

const (
	JobTypeMaterializedView JobType = "materialized_view"
	JobTypeTable            JobType = "table"
)

// Definition is one refresh job parsed from an annotated SQL file.
// Definitions are values built fresh on every load; nothing mutates
// them after construction.
type Definition struct {
	Name        string  `json:"name"`
	Type        JobType `json:"type"`
	Object      string  `json:"object"`
	Description string  `json:"description,omitempty"`
	RefreshSQL  string  `json:"refresh_sql"`
	SourceFile  string  `json:"source_file,omitempty"`
}

// Result is the outcome of executing one job. Failures travel inside
// the Result rather than as errors so a broken job cannot abort the
// batch that ran it.
type Result struct {
	Definition   Definition `json:"definition"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`
	RowsAffected *int64     `json:"rows_affected,omitempty"`
	Success      bool       `json:"success"`
	Message      string     `json:"message,omitempty"`
}

// Run is one persisted audit row.
type Run struct {
	ID           int64      `json:"id"`
	JobName      string     `json:"job_name"`
	JobType      string     `json:"job_type"`
	ObjectName   string     `json:"object_name"`
	SourceFile   string     `json:"source_file,omitempty"`
	RefreshSQL   string     `json:"refresh_sql"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`
	RowsAffected *int64     `json:"rows_affected,omitempty"`
	Success      bool       `json:"success"`
	Message      string     `json:"message,omitempty"`
}

// RunStats aggregates the audit trail for the status surface.
type RunStats struct {
	Total       int64      `json:"total"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
	LastStarted *time.Time `json:"last_started,omitempty"`
}
