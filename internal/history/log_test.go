package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/fitgate/internal/storage"
)

func interaction(user string, n int) storage.Interaction {
	return storage.Interaction{
		ID:        fmt.Sprintf("%s-%d", user, n),
		UserID:    user,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, n, 0, time.UTC),
		Query:     fmt.Sprintf("q%d", n),
		Category:  "nutrition",
		Answer:    fmt.Sprintf("a%d", n),
		Provider:  "deepseek",
	}
}

func ids(in []storage.Interaction) []string {
	out := make([]string, len(in))
	for i, x := range in {
		out[i] = x.ID
	}
	return out
}

// backends runs f against both the in-memory and the SQLite backend.
func backends(t *testing.T, f func(t *testing.T, b Backend)) {
	t.Run("memory", func(t *testing.T) { f(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		s, err := storage.Open(":memory:")
		if err != nil {
			t.Fatalf("storage.Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		f(t, s)
	})
}

func TestRecentIsBoundedToWindow(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		log := NewLog(b, 3)
		ctx := context.Background()

		for n := 1; n <= 7; n++ {
			if err := log.Append(ctx, interaction("u1", n)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		got, err := log.Recent(ctx, "u1", 0)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		want := []string{"u1-5", "u1-6", "u1-7"}
		if diff := cmp.Diff(want, ids(got)); diff != "" {
			t.Errorf("Recent mismatch (-want +got):\n%s", diff)
		}

		// A limit beyond the window is clamped.
		got, _ = log.Recent(ctx, "u1", 100)
		if len(got) != 3 {
			t.Errorf("expected clamp to 3, got %d", len(got))
		}

		got, _ = log.Recent(ctx, "u1", 2)
		if diff := cmp.Diff([]string{"u1-6", "u1-7"}, ids(got)); diff != "" {
			t.Errorf("Recent(2) mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRecentIsolatesUsers(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		log := NewLog(b, 10)
		ctx := context.Background()

		log.Append(ctx, interaction("alice", 1))
		log.Append(ctx, interaction("bob", 1))
		log.Append(ctx, interaction("alice", 2))

		got, err := log.Recent(ctx, "bob", 0)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		for _, i := range got {
			if i.UserID != "bob" {
				t.Errorf("bob's window contains %s's interaction %s", i.UserID, i.ID)
			}
		}
		if len(got) != 1 {
			t.Errorf("expected 1 interaction for bob, got %d", len(got))
		}
	})
}

func TestPurgeOnlyAffectsUser(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		log := NewLog(b, 10)
		ctx := context.Background()

		log.Append(ctx, interaction("alice", 1))
		log.Append(ctx, interaction("alice", 2))
		log.Append(ctx, interaction("bob", 1))

		n, err := log.Purge(ctx, "alice")
		if err != nil {
			t.Fatalf("Purge: %v", err)
		}
		if n != 2 {
			t.Errorf("Purge removed %d, want 2", n)
		}

		got, _ := log.Recent(ctx, "alice", 0)
		if len(got) != 0 {
			t.Errorf("alice should have no history, got %d", len(got))
		}
		got, _ = log.Recent(ctx, "bob", 0)
		if len(got) != 1 {
			t.Errorf("bob should keep 1 interaction, got %d", len(got))
		}
	})
}

func TestAppendRejectsEmptyUser(t *testing.T) {
	log := NewLog(NewMemoryStore(), 10)
	err := log.Append(context.Background(), storage.Interaction{ID: "x"})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := log.Recent(context.Background(), "", 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid from Recent, got %v", err)
	}
}

func TestNewLogDefaultsWindow(t *testing.T) {
	if got := NewLog(NewMemoryStore(), 0).Window(); got != DefaultWindowSize {
		t.Errorf("Window() = %d, want %d", got, DefaultWindowSize)
	}
}

func TestConcurrentAppendsPerUserAreAllKept(t *testing.T) {
	log := NewLog(NewMemoryStore(), 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		user := fmt.Sprintf("user-%d", u)
		for n := 0; n < 50; n++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				if err := log.Append(ctx, interaction(user, n)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}(n)
		}
	}
	wg.Wait()

	for u := 0; u < 4; u++ {
		got, err := log.Recent(ctx, fmt.Sprintf("user-%d", u), 0)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) != 50 {
			t.Errorf("user-%d has %d interactions, want 50", u, len(got))
		}
	}
}
