package finetune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/fitgate/internal/engine"
	"github.com/kalambet/fitgate/internal/proxy"
	"github.com/kalambet/fitgate/internal/router"
	"github.com/kalambet/fitgate/internal/storage"
)

const (
	DefaultBaseModel    = "deepseek-chat"
	DefaultSuffix       = "fitness-mental-health-v1"
	DefaultCorpusTarget = 200
	DefaultMaxAttempts  = 5

	// ProviderPrefix namespaces fine-tuned provider ids in the router.
	ProviderPrefix = "ft:"
)

// DefaultHyperparameters are sent with every remote job.
var DefaultHyperparameters = proxy.Hyperparameters{
	NEpochs:                3,
	BatchSize:              8,
	LearningRateMultiplier: 0.1,
}

// Store persists jobs and registered providers. Implemented by *storage.Store.
type Store interface {
	CreateFineTuneJob(ctx context.Context, j storage.FineTuneJob) error
	GetFineTuneJob(ctx context.Context, id string) (storage.FineTuneJob, error)
	UpdateFineTuneJob(ctx context.Context, j storage.FineTuneJob, expectStatus string) error
	ListFineTuneJobs(ctx context.Context, limit int, statuses ...string) ([]storage.FineTuneJob, error)
	TrainingInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
	SaveProvider(ctx context.Context, p storage.ProviderRecord) error
}

// Tuner is the upstream fine-tuning API. Implemented by *proxy.Client.
type Tuner interface {
	UploadFile(ctx context.Context, filename, purpose string, data []byte) (proxy.FileObject, error)
	CreateFineTuneJob(ctx context.Context, req proxy.FineTuneRequest) (proxy.FineTuneJob, error)
	GetFineTuneJob(ctx context.Context, id string) (proxy.FineTuneJob, error)
	CancelFineTuneJob(ctx context.Context, id string) (proxy.FineTuneJob, error)
}

// Registrar receives fine-tuned providers. Implemented by *router.Registry.
type Registrar interface {
	Upsert(p router.Provider)
	Has(id string) bool
}

// BackendFactory builds the backend serving a fine-tuned model.
type BackendFactory func(model string) engine.Backend

// Options configures a Manager.
type Options struct {
	BaseModel       string
	Suffix          string
	MaxAttempts     int
	Hyperparameters proxy.Hyperparameters
	Logger          *slog.Logger
	Now             func() time.Time
}

// SubmitOptions overrides the defaults for one submission.
type SubmitOptions struct {
	BaseModel string
	Suffix    string
}

// Manager drives fine-tune jobs through their lifecycle. It shares no lock
// with the interactive path; the registry is touched only on success.
type Manager struct {
	store      Store
	tuner      Tuner
	registrar  Registrar
	newBackend BackendFactory
	opts       Options
	logger     *slog.Logger
	group      singleflight.Group
}

// NewManager creates a Manager.
func NewManager(store Store, tuner Tuner, registrar Registrar, newBackend BackendFactory, opts Options) *Manager {
	if opts.BaseModel == "" {
		opts.BaseModel = DefaultBaseModel
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Hyperparameters == (proxy.Hyperparameters{}) {
		opts.Hyperparameters = DefaultHyperparameters
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		tuner:      tuner,
		registrar:  registrar,
		newBackend: newBackend,
		opts:       opts,
		logger:     logger,
	}
}

// Submit validates records and persists a pending job. Invalid corpora
// return a *ValidationError and create nothing.
func (m *Manager) Submit(ctx context.Context, records []Record, so SubmitOptions) (Job, error) {
	if err := Validate(records); err != nil {
		return Job{}, err
	}
	data, err := EncodeJSONL(records)
	if err != nil {
		return Job{}, err
	}

	if so.BaseModel == "" {
		so.BaseModel = m.opts.BaseModel
	}
	if so.Suffix == "" {
		so.Suffix = m.opts.Suffix
	}

	now := m.opts.Now().UTC()
	rec := storage.FineTuneJob{
		ID:          uuid.New().String(),
		Status:      string(StatusPending),
		Stage:       string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
		BaseModel:   so.BaseModel,
		Suffix:      so.Suffix,
		RecordCount: len(records),
		CorpusJSONL: string(data),
	}
	if err := m.store.CreateFineTuneJob(ctx, rec); err != nil {
		return Job{}, fmt.Errorf("creating job: %w", err)
	}
	m.logger.Info("fine-tune job submitted", "job_id", rec.ID, "records", len(records), "base_model", rec.BaseModel)
	return jobFromRecord(rec), nil
}

// Get returns a job without advancing it.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return jobFromRecord(rec), nil
}

// List returns up to limit jobs, newest first, optionally filtered by status.
func (m *Manager) List(ctx context.Context, limit int, statuses ...Status) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	recs, err := m.store.ListFineTuneJobs(ctx, limit, filter...)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, len(recs))
	for i, r := range recs {
		jobs[i] = jobFromRecord(r)
	}
	return jobs, nil
}

// Poll advances a job by at most one stage and returns its state. Concurrent
// polls of the same id share one execution. Terminal jobs are returned as is.
func (m *Manager) Poll(ctx context.Context, id string) (Job, error) {
	v, err, _ := m.group.Do(id, func() (any, error) {
		return m.advance(ctx, id)
	})
	if err != nil {
		return Job{}, err
	}
	return v.(Job), nil
}

// Cancel moves a non-terminal job to cancelled and asks upstream to stop
// training if a remote job exists.
func (m *Manager) Cancel(ctx context.Context, id string) (Job, error) {
	for {
		rec, err := m.load(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if Status(rec.Status).Terminal() {
			return jobFromRecord(rec), ErrTerminal
		}

		expect := rec.Status
		rec.Status = string(StatusCancelled)
		rec.UpdatedAt = m.opts.Now().UTC()
		err = m.store.UpdateFineTuneJob(ctx, rec, expect)
		if errors.Is(err, storage.ErrConflict) {
			// Advanced concurrently; re-read and try again.
			continue
		}
		if err != nil {
			return Job{}, fmt.Errorf("cancelling job %s: %w", id, err)
		}

		m.logger.Info("fine-tune job cancelled", "job_id", id, "stage", rec.Stage)
		if rec.RemoteJobID != "" {
			m.cancelRemote(ctx, rec.RemoteJobID)
		}
		return jobFromRecord(rec), nil
	}
}

// Watch polls the job every interval and emits its state whenever status or
// stage changes. The channel closes once the job is terminal, it is gone, or
// ctx is done.
func (m *Manager) Watch(ctx context.Context, id string, interval time.Duration) <-chan Job {
	if interval <= 0 {
		interval = time.Second
	}
	ch := make(chan Job)
	go func() {
		defer close(ch)
		var last Job
		first := true
		for {
			j, err := m.Poll(ctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
				return
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn("watch: poll failed", "job_id", id, "error", err)
			case first || j.Status != last.Status || j.Stage != last.Stage:
				select {
				case ch <- j:
				case <-ctx.Done():
					return
				}
				first = false
				last = j
			}
			if last.Status.Terminal() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
	return ch
}

func (m *Manager) load(ctx context.Context, id string) (storage.FineTuneJob, error) {
	rec, err := m.store.GetFineTuneJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.FineTuneJob{}, ErrNotFound
	}
	if err != nil {
		return storage.FineTuneJob{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return rec, nil
}

func (m *Manager) advance(ctx context.Context, id string) (Job, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return Job{}, err
	}
	cur := Status(rec.Status)
	if cur.Terminal() {
		return jobFromRecord(rec), nil
	}

	next := rec
	next.UpdatedAt = m.opts.Now().UTC()

	var stepErr error
	switch cur {
	case StatusPending:
		next.Stage = string(StatusUploading)
		stepErr = m.upload(ctx, &next)
	case StatusUploading:
		next.Stage = string(StatusTraining)
		stepErr = m.startTraining(ctx, &next)
	case StatusTraining:
		var changed bool
		changed, stepErr = m.checkTraining(ctx, &next)
		if stepErr == nil && !changed {
			return jobFromRecord(rec), nil
		}
	}

	if stepErr != nil {
		next.Status = rec.Status
		next.Attempts = rec.Attempts + 1
		next.LastError = stepErr.Error()
		if next.Attempts >= m.opts.MaxAttempts {
			next.Status = string(StatusFailed)
		}
		m.logger.Warn("fine-tune step failed",
			"job_id", id, "stage", next.Stage, "attempt", next.Attempts, "error", stepErr)
	}

	if Status(next.Status).rank() < cur.rank() {
		return Job{}, fmt.Errorf("job %s: refusing transition %s -> %s", id, cur, next.Status)
	}

	err = m.store.UpdateFineTuneJob(ctx, next, rec.Status)
	if errors.Is(err, storage.ErrConflict) {
		// Lost to a concurrent cancel. Undo any remote job we just started.
		if next.RemoteJobID != "" && next.RemoteJobID != rec.RemoteJobID {
			m.cancelRemote(ctx, next.RemoteJobID)
		}
		return m.Get(ctx, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("saving job %s: %w", id, err)
	}

	if next.Status != rec.Status {
		m.logger.Info("fine-tune job transition", "job_id", id, "from", rec.Status, "to", next.Status, "stage", next.Stage)
	}
	if Status(next.Status) == StatusSucceeded {
		m.register(ctx, next)
	}
	return jobFromRecord(next), nil
}

func (m *Manager) upload(ctx context.Context, rec *storage.FineTuneJob) error {
	f, err := m.tuner.UploadFile(ctx, rec.ID+".jsonl", "fine-tune", []byte(rec.CorpusJSONL))
	if err != nil {
		return fmt.Errorf("uploading corpus: %w", err)
	}
	rec.TrainingFileID = f.ID
	rec.Status = string(StatusUploading)
	rec.Attempts = 0
	rec.LastError = ""
	return nil
}

func (m *Manager) startTraining(ctx context.Context, rec *storage.FineTuneJob) error {
	hp := m.opts.Hyperparameters
	remote, err := m.tuner.CreateFineTuneJob(ctx, proxy.FineTuneRequest{
		TrainingFile:    rec.TrainingFileID,
		Model:           rec.BaseModel,
		Suffix:          rec.Suffix,
		Hyperparameters: &hp,
	})
	if err != nil {
		return fmt.Errorf("creating remote job: %w", err)
	}
	rec.RemoteJobID = remote.ID
	rec.Status = string(StatusTraining)
	rec.Attempts = 0
	rec.LastError = ""
	return nil
}

// checkTraining maps the remote job status onto rec. It reports whether
// anything changed.
func (m *Manager) checkTraining(ctx context.Context, rec *storage.FineTuneJob) (bool, error) {
	remote, err := m.tuner.GetFineTuneJob(ctx, rec.RemoteJobID)
	if err != nil {
		return false, fmt.Errorf("checking remote job: %w", err)
	}

	switch remote.Status {
	case proxy.JobSucceeded:
		if remote.FineTunedModel == "" {
			return false, fmt.Errorf("remote job %s succeeded without a model id", remote.ID)
		}
		rec.Status = string(StatusSucceeded)
		rec.ModelID = remote.FineTunedModel
		rec.LastError = ""
	case proxy.JobFailed:
		rec.Status = string(StatusFailed)
		rec.LastError = "remote job failed"
		if remote.Error != nil && remote.Error.Message != "" {
			rec.LastError = remote.Error.Message
		}
	case proxy.JobCancelled:
		rec.Status = string(StatusCancelled)
	default:
		return false, nil
	}
	return true, nil
}

// register adds the fine-tuned model to the router and records it so it is
// restored on restart. Runs only for the single transition into succeeded.
func (m *Manager) register(ctx context.Context, rec storage.FineTuneJob) {
	id := ProviderPrefix + rec.ModelID
	switch {
	case m.registrar == nil || m.registrar.Has(id):
	case m.newBackend == nil:
		// Persisted below; a later start with a backend restores it.
		m.logger.Warn("fine-tuned provider not routable, no backend configured",
			"provider", id, "job_id", rec.ID)
	default:
		m.registrar.Upsert(router.Provider{
			ID:         id,
			Model:      rec.ModelID,
			Rank:       0,
			Capability: router.FineTuned,
			Backend:    m.newBackend(rec.ModelID),
		})
	}

	err := m.store.SaveProvider(context.WithoutCancel(ctx), storage.ProviderRecord{
		ID:         id,
		Model:      rec.ModelID,
		Capability: string(router.FineTuned),
		Rank:       0,
		SourceJob:  rec.ID,
		CreatedAt:  m.opts.Now().UTC(),
	})
	if err != nil {
		m.logger.Error("fine-tuned provider not persisted, it will be lost on restart",
			"provider", id, "job_id", rec.ID, "error", err)
	}
	m.logger.Info("fine-tuned provider recorded", "provider", id, "job_id", rec.ID)
}

func (m *Manager) cancelRemote(ctx context.Context, remoteID string) {
	if _, err := m.tuner.CancelFineTuneJob(context.WithoutCancel(ctx), remoteID); err != nil {
		m.logger.Warn("remote cancel failed", "remote_job_id", remoteID, "error", err)
	}
}
