package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding interaction history, fine-tune jobs
// and runtime-registered providers.
type Store struct {
	db *sql.DB
}

// Connection pragmas, applied by the driver on every new connection.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Open opens (or creates) fitgate.db in dataDir and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := "file::memory:?" + pragmas
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = "file:" + filepath.Join(dataDir, "fitgate.db") + "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database
	// from splitting into one copy per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dsn, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

type migration struct {
	version int
	name    string
}

// pendingMigrations lists embedded migrations newer than the applied set,
// in version order.
func (s *Store) pendingMigrations() ([]migration, error) {
	applied, err := s.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var pending []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := parseMigrationVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if !done[v] {
			pending = append(pending, migration{version: v, name: e.Name()})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	pending, err := s.pendingMigrations()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func (s *Store) apply(m migration) error {
	body, err := migrationsFS.ReadFile("migrations/" + m.name)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// --- Interactions ---

const interactionColumns = `id, user_id, created_at, query, category, answer, provider, fallback`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(r rowScanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	var fallback int
	if err := r.Scan(&i.ID, &i.UserID, &createdAt, &i.Query, &i.Category, &i.Answer, &i.Provider, &fallback); err != nil {
		return Interaction{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	i.Fallback = fallback != 0
	return i, nil
}

// AppendInteraction writes one interaction. Rows are never updated afterwards.
func (s *Store) AppendInteraction(ctx context.Context, i Interaction) error {
	fallback := 0
	if i.Fallback {
		fallback = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.UserID, formatTime(i.CreatedAt), i.Query, i.Category, i.Answer, i.Provider, fallback,
	)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// RecentInteractions returns at most limit interactions for userID, oldest first.
func (s *Store) RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+interactionColumns+` FROM (
			SELECT seq, `+interactionColumns+` FROM interactions
			WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// PurgeInteractions deletes every interaction of userID and reports how many were removed.
func (s *Store) PurgeInteractions(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("purging interactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetInteraction looks up a single interaction by id.
func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// TrainingInteractions returns up to limit of the newest interactions that
// were answered by a real provider, newest first. Used to build fine-tune corpora.
func (s *Store) TrainingInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE fallback = 0 AND category != 'rejected' AND answer != ''
		ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying training interactions: %w", err)
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}
