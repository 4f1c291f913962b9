package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/history"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/proxy"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

const testToken = "test-token-12345"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubTuner struct{}

func (stubTuner) UploadFile(context.Context, string, string, []byte) (proxy.FileObject, error) {
	return proxy.FileObject{ID: "file-1"}, nil
}

func (stubTuner) CreateFineTuneJob(context.Context, proxy.FineTuneRequest) (proxy.FineTuneJob, error) {
	return proxy.FineTuneJob{ID: "ftjob-1", Status: proxy.JobQueued}, nil
}

func (stubTuner) GetFineTuneJob(_ context.Context, id string) (proxy.FineTuneJob, error) {
	return proxy.FineTuneJob{ID: id, Status: proxy.JobRunning}, nil
}

func (stubTuner) CancelFineTuneJob(_ context.Context, id string) (proxy.FineTuneJob, error) {
	return proxy.FineTuneJob{ID: id, Status: proxy.JobCancelled}, nil
}

type testEnv struct {
	deps    Deps
	handler http.Handler
	store   *storage.Store
	calls   *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	set, err := intent.DefaultPatterns()
	if err != nil {
		t.Fatalf("DefaultPatterns: %v", err)
	}

	var calls atomic.Int32
	reg := router.NewRegistry(time.Minute)
	reg.Upsert(router.Provider{
		ID:    "deepseek",
		Model: "deepseek-chat",
		Rank:  10,
		Backend: engine.BackendFunc(func(context.Context, engine.Request) (string, error) {
			calls.Add(1)
			return "Brace your core and keep the bar over mid-foot.", nil
		}),
	})

	log := history.NewLog(store, 10)
	rt := router.New(reg, composer.New(0), log, router.Options{Logger: quiet})
	p := pipeline.New(intent.New(set, intent.DefaultOptions()), rt, log, quiet)
	jobs := finetune.NewManager(store, stubTuner{}, reg, nil, finetune.Options{Logger: quiet})

	deps := Deps{
		Pipeline:     p,
		History:      log,
		Registry:     reg,
		Jobs:         jobs,
		Token:        testToken,
		CorpusTarget: 10,
	}
	return &testEnv{deps: deps, handler: NewHandler(deps), store: store, calls: &calls}
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
