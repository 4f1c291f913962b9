package history

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/kalambet/fitgate/internal/storage"
)

// DefaultWindowSize is the number of interactions returned when no explicit
// window is configured.
const DefaultWindowSize = 10

const lockStripes = 64

// ErrInvalid is returned when an interaction cannot be stored as given.
var ErrInvalid = errors.New("invalid interaction")

// Backend is the persistence the Log needs. Implemented by storage.Store and
// MemoryStore.
type Backend interface {
	AppendInteraction(ctx context.Context, i storage.Interaction) error
	RecentInteractions(ctx context.Context, userID string, limit int) ([]storage.Interaction, error)
	PurgeInteractions(ctx context.Context, userID string) (int, error)
}

// Log is the per-user interaction history. Appends for the same user are
// serialized; appends for different users only contend on the backend.
type Log struct {
	backend Backend
	window  int
	stripes [lockStripes]sync.Mutex
}

// NewLog wraps backend with a window of size n. n <= 0 selects DefaultWindowSize.
func NewLog(backend Backend, n int) *Log {
	if n <= 0 {
		n = DefaultWindowSize
	}
	return &Log{backend: backend, window: n}
}

// Window reports the configured window size.
func (l *Log) Window() int {
	return l.window
}

func (l *Log) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &l.stripes[h.Sum32()%lockStripes]
}

// Append adds one interaction to the end of its user's history.
func (l *Log) Append(ctx context.Context, i storage.Interaction) error {
	if i.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalid)
	}
	if i.ID == "" {
		return fmt.Errorf("%w: empty interaction id", ErrInvalid)
	}

	mu := l.lockFor(i.UserID)
	mu.Lock()
	defer mu.Unlock()

	return l.backend.AppendInteraction(ctx, i)
}

// Recent returns at most limit of the user's latest interactions, oldest
// first. limit <= 0 or above the window is clamped to the window.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]storage.Interaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalid)
	}
	if limit <= 0 || limit > l.window {
		limit = l.window
	}
	return l.backend.RecentInteractions(ctx, userID, limit)
}

// Purge removes every interaction of userID and returns the number removed.
func (l *Log) Purge(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrInvalid)
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	return l.backend.PurgeInteractions(ctx, userID)
}
