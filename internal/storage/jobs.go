package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const jobColumns = `id, status, stage, created_at, updated_at, base_model, suffix, record_count,
	corpus_jsonl, training_file_id, remote_job_id, model_id, attempts, last_error`

func scanJob(r rowScanner) (FineTuneJob, error) {
	var j FineTuneJob
	var createdAt, updatedAt string
	err := r.Scan(&j.ID, &j.Status, &j.Stage, &createdAt, &updatedAt, &j.BaseModel, &j.Suffix, &j.RecordCount,
		&j.CorpusJSONL, &j.TrainingFileID, &j.RemoteJobID, &j.ModelID, &j.Attempts, &j.LastError)
	if err != nil {
		return FineTuneJob{}, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return FineTuneJob{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return FineTuneJob{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// CreateFineTuneJob inserts a new job row.
func (s *Store) CreateFineTuneJob(ctx context.Context, j FineTuneJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO finetune_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Status, j.Stage, formatTime(j.CreatedAt), formatTime(j.UpdatedAt), j.BaseModel, j.Suffix, j.RecordCount,
		j.CorpusJSONL, j.TrainingFileID, j.RemoteJobID, j.ModelID, j.Attempts, j.LastError,
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", j.ID, err)
	}
	return nil
}

// GetFineTuneJob loads a job by id.
func (s *Store) GetFineTuneJob(ctx context.Context, id string) (FineTuneJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM finetune_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return FineTuneJob{}, ErrNotFound
	}
	return j, err
}

// UpdateFineTuneJob overwrites the mutable fields of a job, but only if its
// stored status still equals expectStatus. Returns ErrConflict otherwise, so
// two writers racing on the same job cannot both win.
func (s *Store) UpdateFineTuneJob(ctx context.Context, j FineTuneJob, expectStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE finetune_jobs SET status = ?, stage = ?, updated_at = ?, training_file_id = ?,
			remote_job_id = ?, model_id = ?, attempts = ?, last_error = ?
		WHERE id = ? AND status = ?`,
		j.Status, j.Stage, formatTime(j.UpdatedAt), j.TrainingFileID,
		j.RemoteJobID, j.ModelID, j.Attempts, j.LastError,
		j.ID, expectStatus,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", j.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM finetune_jobs WHERE id = ?`, j.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ListFineTuneJobs returns jobs newest first. Pass statuses to filter.
func (s *Store) ListFineTuneJobs(ctx context.Context, limit int, statuses ...string) ([]FineTuneJob, error) {
	query := `SELECT ` + jobColumns + ` FROM finetune_jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var results []FineTuneJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}
