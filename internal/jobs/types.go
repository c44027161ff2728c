package jobs

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// validTransitions is the full status state machine. Anything not listed
// here is rejected by the store, including transitions out of completed
// and error.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusError},
}

func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Job is one user-submitted request to translate a set of files.
type Job struct {
	ID            string            `json:"id"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	SourceLang    string            `json:"source_lang"`
	TargetLang    string            `json:"target_lang"`
	OriginalFiles []string          `json:"original_files"`
	FilePaths     map[string]string `json:"file_paths"`

	TranslatedFiles []string `json:"translated_files,omitempty"`

	// Position is the 1-based rank among pending jobs; zero otherwise.
	Position      int    `json:"position"`
	EstimatedTime int    `json:"estimated_time"`
	ErrorMessage  string `json:"error_message,omitempty"`

	ProcessingStart time.Time `json:"processing_start,omitzero"`
	ProcessingEnd   time.Time `json:"processing_end,omitzero"`

	// Requeues counts stuck-processing recoveries back to pending.
	Requeues int `json:"requeues,omitempty"`
}

// Update carries the optional fields of a status change.
type Update struct {
	ErrorMessage    string
	TranslatedFiles []string
}

// Stats is the per-status breakdown of the queue.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.OriginalFiles = append([]string(nil), job.OriginalFiles...)
	tmp.TranslatedFiles = append([]string(nil), job.TranslatedFiles...)
	if job.FilePaths != nil {
		tmp.FilePaths = make(map[string]string, len(job.FilePaths))
		for k, v := range job.FilePaths {
			tmp.FilePaths[k] = v
		}
	}
	return &tmp
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
