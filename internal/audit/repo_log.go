package audit

import (
	"context"
	"log/slog"
)

// LogRepo writes every event as a structured log line keyed by "type".
type LogRepo struct {
	log *slog.Logger
}

func NewLogRepo(log *slog.Logger) *LogRepo {
	if log == nil {
		log = slog.Default()
	}
	return &LogRepo{log: log}
}

func (r *LogRepo) Append(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	switch e.Type {
	case EventHangupFailed, EventRecordingFailed, EventUploadFailed:
		level = slog.LevelWarn
	}
	attrs := []any{
		"type", string(e.Type),
		"event_id", e.ID,
		"session_id", e.SessionID,
		"room", e.RoomName,
	}
	if len(e.Metadata) > 0 {
		attrs = append(attrs, "metadata", e.Metadata)
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	r.log.Log(ctx, level, msg, attrs...)
	return nil
}
