package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUploadFile(t *testing.T) {
	var gotPurpose, gotName, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPurpose = r.FormValue("purpose")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)

		json.NewEncoder(w).Encode(FileObject{ID: "file-abc", Object: "file", Filename: hdr.Filename, Purpose: gotPurpose})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	f, err := c.UploadFile(context.Background(), "corpus.jsonl", "fine-tune", []byte("{\"messages\":[]}\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if f.ID != "file-abc" {
		t.Errorf("ID = %q, want file-abc", f.ID)
	}
	if gotPurpose != "fine-tune" || gotName != "corpus.jsonl" || gotBody != "{\"messages\":[]}\n" {
		t.Errorf("unexpected upload: purpose=%q name=%q body=%q", gotPurpose, gotName, gotBody)
	}
}

func TestCreateAndGetFineTuneJob(t *testing.T) {
	var created FineTuneRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fine_tuning/jobs":
			json.NewDecoder(r.Body).Decode(&created)
			json.NewEncoder(w).Encode(FineTuneJob{ID: "ftjob-1", Status: JobQueued, TrainingFile: created.TrainingFile})
		case r.Method == http.MethodGet && r.URL.Path == "/fine_tuning/jobs/ftjob-1":
			json.NewEncoder(w).Encode(FineTuneJob{ID: "ftjob-1", Status: JobSucceeded, FineTunedModel: "ft:deepseek-chat:fitness"})
		case r.Method == http.MethodPost && r.URL.Path == "/fine_tuning/jobs/ftjob-1/cancel":
			json.NewEncoder(w).Encode(FineTuneJob{ID: "ftjob-1", Status: JobCancelled})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	ctx := context.Background()

	job, err := c.CreateFineTuneJob(ctx, FineTuneRequest{
		TrainingFile:    "file-abc",
		Model:           "deepseek-chat",
		Suffix:          "fitness-mental-health-v1",
		Hyperparameters: &Hyperparameters{NEpochs: 3, BatchSize: 8, LearningRateMultiplier: 0.1},
	})
	if err != nil {
		t.Fatalf("CreateFineTuneJob: %v", err)
	}
	if job.ID != "ftjob-1" || job.Status != JobQueued {
		t.Errorf("unexpected job: %+v", job)
	}
	if created.Hyperparameters == nil || created.Hyperparameters.NEpochs != 3 || created.Suffix != "fitness-mental-health-v1" {
		t.Errorf("unexpected create request: %+v", created)
	}

	job, err = c.GetFineTuneJob(ctx, "ftjob-1")
	if err != nil {
		t.Fatalf("GetFineTuneJob: %v", err)
	}
	if job.FineTunedModel != "ft:deepseek-chat:fitness" {
		t.Errorf("FineTunedModel = %q", job.FineTunedModel)
	}

	job, err = c.CancelFineTuneJob(ctx, "ftjob-1")
	if err != nil {
		t.Fatalf("CancelFineTuneJob: %v", err)
	}
	if job.Status != JobCancelled {
		t.Errorf("Status = %q, want cancelled", job.Status)
	}
}

func TestGetFineTuneJob_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.GetFineTuneJob(context.Background(), "missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
}
