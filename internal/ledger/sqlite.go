package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store persists dedup claims and crawl progress in a single SQLite file so
// an interrupted run can resume without re-emitting records.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the ledger database under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	dbPath := filepath.Join(dir, "crawl-ledger.db")
	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	// SQLite supports one writer; the ledger serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return store, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dedup_keys (
		key TEXT PRIMARY KEY,
		market TEXT NOT NULL,
		claimed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dedup_market ON dedup_keys(market);

	CREATE TABLE IF NOT EXISTS crawl_progress (
		market TEXT PRIMARY KEY,
		saved_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	_, err := s.db.Exec(schema)
	return err
}

// LoadKeys returns every previously claimed dedup key for the market.
func (s *Store) LoadKeys(ctx context.Context, market string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM dedup_keys WHERE market = ?", market)
	if err != nil {
		return nil, fmt.Errorf("load dedup keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan dedup key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dedup keys: %w", err)
	}
	return keys, nil
}

// InsertKey records one claimed key. Idempotent.
func (s *Store) InsertKey(ctx context.Context, market, key string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO dedup_keys (key, market) VALUES (?, ?)", key, market)
	if err != nil {
		return fmt.Errorf("insert dedup key: %w", err)
	}
	return nil
}

// SaveProgress checkpoints the saved-record count for the market.
func (s *Store) SaveProgress(ctx context.Context, market string, savedCount int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_progress (market, saved_count, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(market) DO UPDATE SET saved_count = excluded.saved_count, updated_at = CURRENT_TIMESTAMP`,
		market, savedCount)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// LoadProgress returns the last checkpointed saved-record count, zero when the
// market has no prior run.
func (s *Store) LoadProgress(ctx context.Context, market string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT saved_count FROM crawl_progress WHERE market = ?", market).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load progress: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
