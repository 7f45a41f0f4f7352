package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"mediabot/pkg/progress"
)

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Messenger is the narrow surface this service needs from a chat platform.
// Implementations wrap the actual bot SDK; everything here is best-effort
// from the caller's point of view.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	SendFile(ctx context.Context, chatID int64, path, caption string) error
}

type messageEditor struct {
	m   Messenger
	ref MessageRef
}

// NewEditor adapts a Messenger plus a message reference into the editor the
// progress reporter renders through.
func NewEditor(m Messenger, ref MessageRef) progress.Editor {
	return &messageEditor{m: m, ref: ref}
}

func (e *messageEditor) EditMessage(ctx context.Context, text string) error {
	return e.m.EditText(ctx, e.ref, text)
}

// LogMessenger writes messages to the log instead of a chat platform. Used
// when the service runs headless (API-only) or in tests. Safe for
// concurrent use; direct-mode jobs send from their own goroutines.
type LogMessenger struct {
	log  *zap.Logger
	next atomic.Int64
}

func NewLogMessenger(log *zap.Logger) *LogMessenger {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMessenger{log: log}
}

func (l *LogMessenger) SendText(ctx context.Context, chatID int64, text string) (MessageRef, error) {
	l.log.Info("message sent", zap.Int64("chat_id", chatID), zap.String("text", text))
	return MessageRef{ChatID: chatID, MessageID: l.next.Add(1)}, nil
}

func (l *LogMessenger) EditText(ctx context.Context, ref MessageRef, text string) error {
	l.log.Debug("message edited",
		zap.Int64("chat_id", ref.ChatID),
		zap.Int64("message_id", ref.MessageID),
		zap.String("text", text))
	return nil
}

func (l *LogMessenger) SendFile(ctx context.Context, chatID int64, path, caption string) error {
	l.log.Info("file sent", zap.Int64("chat_id", chatID), zap.String("path", path))
	return nil
}
