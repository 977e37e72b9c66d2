// Package cache persists scraped listing records between runs so repeated
// crawls skip pages that were already extracted successfully.
package cache

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/eldlit/auto-ria-downloader/internal/listing"
)

// Store is the cache surface the scrape pipeline consumes. Load reports a
// miss (not an error) for absent or unusable entries; Save failures are
// logged by the caller but never abort a scrape.
type Store interface {
	Load(ctx context.Context, url string) (listing.Result, bool, error)
	Save(ctx context.Context, url string, result listing.Result) error
	Clear(ctx context.Context) error
	Close() error
}

const dbFile = "listings.db"

// SQLiteStore keeps listing records in a single SQLite file, keyed by a
// fingerprint of the listing URL.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Open opens or creates the cache database under dir.
func Open(dir string, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		fingerprint TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		record TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_listings_timestamp ON listings(timestamp);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Fingerprint returns the cache key for a listing URL.
func Fingerprint(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Load fetches the cached record for a URL. Entries that decode badly or
// carry no usable phone are treated as misses so the listing is scraped
// again and the stale row overwritten.
func (s *SQLiteStore) Load(ctx context.Context, url string) (listing.Result, bool, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM listings WHERE fingerprint = ?`, Fingerprint(url),
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return listing.Result{}, false, nil
	}
	if err != nil {
		return listing.Result{}, false, fmt.Errorf("load cached listing: %w", err)
	}

	var result listing.Result
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		s.logger.Warn("discarding corrupt cache entry",
			zap.String("url", url), zap.Error(err))
		return listing.Result{}, false, nil
	}
	if !result.HasUsablePhone() {
		s.logger.Debug("cached entry has no usable phone; re-scraping",
			zap.String("url", url))
		return listing.Result{}, false, nil
	}
	return result, true, nil
}

// Save upserts the record under the URL it was looked up by. The record's
// own URL may differ when the page redirected; fingerprinting the lookup URL
// keeps the entry reachable on the next run's Load.
func (s *SQLiteStore) Save(ctx context.Context, url string, result listing.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode listing record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO listings (fingerprint, url, record)
	VALUES (?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET
		record = excluded.record,
		timestamp = CURRENT_TIMESTAMP
	`, Fingerprint(url), url, string(encoded))
	if err != nil {
		return fmt.Errorf("save listing record: %w", err)
	}
	return nil
}

// Clear removes every cached record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM listings`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Count reports how many records the cache holds.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
