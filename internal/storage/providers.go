package storage

import (
	"context"
	"fmt"
)

// SaveProvider inserts or replaces a registered provider.
func (s *Store) SaveProvider(ctx context.Context, p ProviderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, model, capability, rank, source_job, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET model = excluded.model, capability = excluded.capability,
			rank = excluded.rank, source_job = excluded.source_job`,
		p.ID, p.Model, p.Capability, p.Rank, p.SourceJob, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving provider %s: %w", p.ID, err)
	}
	return nil
}

// ListProviders returns all registered providers, oldest first.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model, capability, rank, source_job, created_at
		FROM providers ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var results []ProviderRecord
	for rows.Next() {
		var p ProviderRecord
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Model, &p.Capability, &p.Rank, &p.SourceJob, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}
