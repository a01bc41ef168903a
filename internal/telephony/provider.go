package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRoomNotFound means the room is already gone; callers treat it as ended.
	ErrRoomNotFound = errors.New("telephony: room not found")
	// ErrRecordingNotFound means the platform does not know the egress id.
	ErrRecordingNotFound = errors.New("telephony: recording not found")
)

// Platform is the call-platform capability set the call lifecycle depends on.
//
// Rules:
// - No platform SDK or wire calls outside telephony adapters.
// - Every method must honour ctx and return within a bounded time.
// - Status strings are passed through untouched; interpretation belongs to internal/egress.
type Platform interface {
	Name() string

	StartRecording(ctx context.Context, req StartRecordingRequest) (StartRecordingResult, error)
	PollRecording(ctx context.Context, egressID string) (RecordingInfo, error)
	EndCall(ctx context.Context, roomName string) error
}

type StartRecordingRequest struct {
	RoomName string `json:"room_name"`

	// FilePath is the output path as seen by the recorder, e.g. recordings/recording_c_v_s.ogg.
	FilePath string `json:"file_path"`

	AudioOnly bool `json:"audio_only"`
}

type StartRecordingResult struct {
	EgressID string `json:"egress_id"`
	Status   string `json:"status"`
}

// RecordingInfo is the platform's view of one egress job.
type RecordingInfo struct {
	EgressID  string          `json:"egress_id"`
	RoomName  string          `json:"room_name"`
	Status    string          `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Error     string          `json:"error,omitempty"`
	Files     []RecordingFile `json:"files"`
}

type RecordingFile struct {
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Location string        `json:"location,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}
