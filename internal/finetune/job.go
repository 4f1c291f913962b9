package finetune

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/fitgate/internal/storage"
)

// Status is a job's lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusTraining  Status = "training"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Active lists the non-terminal statuses in lifecycle order.
var Active = []Status{StatusPending, StatusUploading, StatusTraining}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusUploading:
		return 1
	case StatusTraining:
		return 2
	default:
		return 3
	}
}

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("fine-tune job not found")
	// ErrTerminal is returned when cancelling a job that already finished.
	ErrTerminal = errors.New("fine-tune job already finished")
)

// ValidationError rejects a corpus before any job is created.
type ValidationError struct {
	Index  int // -1 for corpus-level problems
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid training corpus: " + e.Reason
	}
	return fmt.Sprintf("invalid training record %d: %s", e.Index, e.Reason)
}

// Record is one training example.
type Record struct {
	System    string `json:"system"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

func (r Record) validate(i int) error {
	switch {
	case strings.TrimSpace(r.System) == "":
		return &ValidationError{Index: i, Reason: "system message is empty"}
	case strings.TrimSpace(r.User) == "":
		return &ValidationError{Index: i, Reason: "user message is empty"}
	case strings.TrimSpace(r.Assistant) == "":
		return &ValidationError{Index: i, Reason: "assistant message is empty"}
	}
	return nil
}

// Job is the externally visible state of a fine-tune submission.
type Job struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Stage          Status    `json:"stage"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	BaseModel      string    `json:"base_model"`
	Suffix         string    `json:"suffix,omitempty"`
	RecordCount    int       `json:"record_count"`
	TrainingFileID string    `json:"training_file_id,omitempty"`
	RemoteJobID    string    `json:"remote_job_id,omitempty"`
	ModelID        string    `json:"model_id,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

func jobFromRecord(r storage.FineTuneJob) Job {
	return Job{
		ID:             r.ID,
		Status:         Status(r.Status),
		Stage:          Status(r.Stage),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		BaseModel:      r.BaseModel,
		Suffix:         r.Suffix,
		RecordCount:    r.RecordCount,
		TrainingFileID: r.TrainingFileID,
		RemoteJobID:    r.RemoteJobID,
		ModelID:        r.ModelID,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
	}
}
