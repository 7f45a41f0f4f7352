package history

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mediabot/pkg/models"
)

// Store records completed downloads in Postgres.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// InitSchema creates the history table if it does not exist.
func (s *Store) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS download_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		artist TEXT NOT NULL DEFAULT '',
		quality TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_history_user ON download_history(user_id, created_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Record inserts one completed download.
func (s *Store) Record(e models.HistoryEntry) error {
	query := `
	INSERT INTO download_history (user_id, provider, content_type, content_id, title, artist, quality)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(query,
		e.UserID, e.Provider, e.ContentType, e.ContentID, e.Title, e.Artist, e.Quality)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a user (all users when userID is
// 0), newest first.
func (s *Store) Recent(userID int64, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
	SELECT id, user_id, provider, content_type, content_id, title, artist, quality, created_at
	FROM download_history
	WHERE ($1 = 0 OR user_id = $1)
	ORDER BY created_at DESC
	LIMIT $2`
	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Provider, &e.ContentType, &e.ContentID,
			&e.Title, &e.Artist, &e.Quality, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupOlderThan deletes entries older than the retention window and
// returns how many were removed.
func (s *Store) CleanupOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.Exec(`DELETE FROM download_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("old history removed", zap.Int64("rows", n))
	}
	return n, nil
}
