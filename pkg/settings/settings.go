package settings

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mediabot/pkg/models"
)

const (
	keyQueueMode  = "queue_mode"
	keyUploadMode = "upload_mode"
	keyAlbumZip   = "album_zip"
	keyLanguage   = "language"
)

var defaults = map[string]string{
	keyQueueMode:  "false",
	keyUploadMode: "chat",
	keyAlbumZip:   "true",
	keyLanguage:   "en",
}

// Store is a key-value settings table with a write-through in-memory cache.
// Reads are served from the cache; writes hit the database first and update
// the cache only on success. A nil db runs the store in memory-only mode
// (ephemeral deployments and tests).
type Store struct {
	db  *sql.DB
	log *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func NewStore(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, cache: make(map[string]string)}
}

// InitSchema creates the settings table and loads current values into the
// cache, seeding defaults for missing keys.
func (s *Store) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS bot_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init settings schema: %w", err)
	}

	rows, err := s.db.Query(`SELECT key, value FROM bot_settings`)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range defaults {
		s.cache[k] = v
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		s.cache[k] = v
	}
	return rows.Err()
}

func (s *Store) get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cache[key]; ok {
		return v
	}
	return defaults[key]
}

func (s *Store) set(key, value string) error {
	if s.db != nil {
		query := `
	INSERT INTO bot_settings (key, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
		if _, err := s.db.Exec(query, key, value); err != nil {
			return fmt.Errorf("save setting %s: %w", key, err)
		}
	}
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	s.log.Info("setting changed", zap.String("key", key), zap.String("value", value))
	return nil
}

// QueueMode reports whether new requests go through the FIFO queue instead
// of starting immediately.
func (s *Store) QueueMode() bool {
	return s.get(keyQueueMode) == "true"
}

func (s *Store) SetQueueMode(on bool) error {
	return s.set(keyQueueMode, boolValue(on))
}

// UploadMode returns "chat" or "s3".
func (s *Store) UploadMode() string {
	return s.get(keyUploadMode)
}

func (s *Store) SetUploadMode(mode string) error {
	if mode != "chat" && mode != "s3" {
		return fmt.Errorf("invalid upload mode %q", mode)
	}
	return s.set(keyUploadMode, mode)
}

// AlbumZip reports whether multi-track downloads get archived before upload.
func (s *Store) AlbumZip() bool {
	return s.get(keyAlbumZip) == "true"
}

func (s *Store) SetAlbumZip(on bool) error {
	return s.set(keyAlbumZip, boolValue(on))
}

// Language returns the bot reply language code.
func (s *Store) Language() string {
	return s.get(keyLanguage)
}

func (s *Store) SetLanguage(lang string) error {
	if lang == "" {
		return fmt.Errorf("language must not be empty")
	}
	return s.set(keyLanguage, lang)
}

// View returns the current settings snapshot.
func (s *Store) View() models.SettingsView {
	return models.SettingsView{
		QueueMode:  s.QueueMode(),
		UploadMode: s.UploadMode(),
		AlbumZip:   s.AlbumZip(),
		Language:   s.Language(),
	}
}

// Apply performs a partial update; nil fields are untouched.
func (s *Store) Apply(u models.SettingsUpdate) error {
	if u.QueueMode != nil {
		if err := s.SetQueueMode(*u.QueueMode); err != nil {
			return err
		}
	}
	if u.UploadMode != nil {
		if err := s.SetUploadMode(*u.UploadMode); err != nil {
			return err
		}
	}
	if u.AlbumZip != nil {
		if err := s.SetAlbumZip(*u.AlbumZip); err != nil {
			return err
		}
	}
	if u.Language != nil {
		if err := s.SetLanguage(*u.Language); err != nil {
			return err
		}
	}
	return nil
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
