package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the record in an
// unexpected state.
var ErrConflict = errors.New("conflict")

// Interaction is one answered query in a user's history.
type Interaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Query     string    `json:"query"`
	Category  string    `json:"category"`
	Answer    string    `json:"answer"`
	Provider  string    `json:"provider"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// FineTuneJob is the persisted state of one fine-tune submission.
type FineTuneJob struct {
	ID             string
	Status         string
	Stage          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	BaseModel      string
	Suffix         string
	RecordCount    int
	CorpusJSONL    string
	TrainingFileID string
	RemoteJobID    string
	ModelID        string
	Attempts       int
	LastError      string
}

// ProviderRecord is a provider registered at runtime (fine-tuned models) that
// must be restored on restart.
type ProviderRecord struct {
	ID         string
	Model      string
	Capability string
	Rank       int
	SourceJob  string
	CreatedAt  time.Time
}
