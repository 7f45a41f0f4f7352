package models

import "time"

// DownloadRequest represents one user download request
type DownloadRequest struct {
	OwnerID int64             `json:"owner_id"`
	ChatID  int64             `json:"chat_id"`
	Link    string            `json:"link"`
	Options map[string]string `json:"options,omitempty"`
}

// SubmitResult tells the caller how a request was admitted: started
// immediately (TaskID set) or parked in the queue (QueueID + Position set).
type SubmitResult struct {
	Queued   bool   `json:"queued"`
	TaskID   string `json:"task_id,omitempty"`
	QueueID  string `json:"queue_id,omitempty"`
	Position int    `json:"position,omitempty"`
}

// TaskSnapshot is a read-only view of a registered task
type TaskSnapshot struct {
	TaskID    string    `json:"task_id"`
	OwnerID   int64     `json:"owner_id"`
	ChatID    int64     `json:"chat_id"`
	Label     string    `json:"label"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// QueueItemView is a read-only view of a pending queue item.
// Position is 1-based and computed at read time over the (optionally
// owner-filtered) pending list.
type QueueItemView struct {
	QueueID    string            `json:"queue_id"`
	OwnerID    int64             `json:"owner_id"`
	Link       string            `json:"link"`
	Options    map[string]string `json:"options,omitempty"`
	Position   int               `json:"position"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// HistoryEntry records one completed download
type HistoryEntry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Provider    string    `json:"provider"`
	ContentType string    `json:"content_type"`
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Quality     string    `json:"quality"`
	CreatedAt   time.Time `json:"created_at"`
}

// SettingsView is the operator-facing settings snapshot
type SettingsView struct {
	QueueMode  bool   `json:"queue_mode"`
	UploadMode string `json:"upload_mode"` // "chat" or "s3"
	AlbumZip   bool   `json:"album_zip"`
	Language   string `json:"language"`
}

// SettingsUpdate carries a partial settings change; nil fields are untouched
type SettingsUpdate struct {
	QueueMode  *bool   `json:"queue_mode,omitempty"`
	UploadMode *string `json:"upload_mode,omitempty"`
	AlbumZip   *bool   `json:"album_zip,omitempty"`
	Language   *string `json:"language,omitempty"`
}
