package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yourorg/vulnscan/pkg/types"
)

// SQLiteStore persists cache entries across runs. It satisfies Cache with
// best-effort semantics: storage errors are logged, never surfaced.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS response_cache (
		key TEXT PRIMARY KEY,
		findings TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Get(key string) ([]types.Finding, bool) {
	row := s.db.QueryRow(`SELECT findings, expires_at FROM response_cache WHERE key=?`, key)
	var raw string
	var expiresAt time.Time
	if err := row.Scan(&raw, &expiresAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	if s.now().After(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM response_cache WHERE key=?`, key)
		return nil, false
	}
	var findings []types.Finding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil {
		s.logger.Warn("cache entry corrupt, dropping", "error", err)
		_, _ = s.db.Exec(`DELETE FROM response_cache WHERE key=?`, key)
		return nil, false
	}
	return findings, true
}

func (s *SQLiteStore) Put(key string, findings []types.Finding, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(findings)
	if err != nil {
		s.logger.Warn("cache write failed", "error", err)
		return
	}
	now := s.now().UTC()
	_, err = s.db.Exec(`INSERT INTO response_cache(key,findings,expires_at,created_at)
	VALUES(?,?,?,?)
	ON CONFLICT(key) DO UPDATE SET findings=excluded.findings,expires_at=excluded.expires_at,created_at=excluded.created_at`,
		key, string(raw), now.Add(ttl), now)
	if err != nil {
		s.logger.Warn("cache write failed", "error", err)
	}
}

// Purge removes expired entries and returns how many were deleted.
func (s *SQLiteStore) Purge() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM response_cache WHERE expires_at < ?`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
