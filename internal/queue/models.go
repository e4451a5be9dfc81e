package queue

import "time"

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Finished reports whether no further automatic transition will happen.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Request is one queued or in-flight download.
type Request struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	Status          Status     `json:"status"`
	Priority        int        `json:"priority"`
	ProgressPercent float64    `json:"progress_percent"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	VideoID         *string    `json:"video_id,omitempty"`
	OutputPath      string     `json:"output_path,omitempty"`
	FilePath        string     `json:"file_path,omitempty"`
	Format          string     `json:"format,omitempty"`
	DownloadSpeed   string     `json:"download_speed,omitempty"`
	ETA             string     `json:"eta,omitempty"`
	AddedAt         time.Time  `json:"added_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	IsDeleted       bool       `json:"is_deleted"`
}

// HasRetryBudget reports whether another automatic attempt is allowed.
func (r *Request) HasRetryBudget() bool {
	return r.RetryCount < r.MaxRetries
}

type EnqueueParams struct {
	URL        string
	Title      string
	OutputPath string
	Format     string
	Priority   int
}

type ListFilter struct {
	Status         Status
	IncludeDeleted bool
	Limit          int
	Offset         int
}
