package telephony

import (
	"context"
	"fmt"
	"sync"
)

// FakePlatform is an in-memory Platform for tests and local runs.
// PollRecording walks through Recordings in order and repeats the last entry.
type FakePlatform struct {
	mu sync.Mutex

	StartErr   error
	PollErr    error
	EndErr     error
	Recordings []RecordingInfo

	started []StartRecordingRequest
	polls   int
	ended   []string
	gone    map[string]bool
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{gone: make(map[string]bool)}
}

func (f *FakePlatform) Name() string { return "fake" }

func (f *FakePlatform) StartRecording(_ context.Context, req StartRecordingRequest) (StartRecordingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return StartRecordingResult{}, f.StartErr
	}
	f.started = append(f.started, req)
	return StartRecordingResult{EgressID: fmt.Sprintf("EG_fake%d", len(f.started)), Status: "EGRESS_STARTING"}, nil
}

func (f *FakePlatform) PollRecording(ctx context.Context, egressID string) (RecordingInfo, error) {
	if err := ctx.Err(); err != nil {
		return RecordingInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.PollErr != nil {
		return RecordingInfo{}, f.PollErr
	}
	if len(f.Recordings) == 0 {
		return RecordingInfo{}, ErrRecordingNotFound
	}
	i := f.polls - 1
	if i >= len(f.Recordings) {
		i = len(f.Recordings) - 1
	}
	info := f.Recordings[i]
	if info.EgressID == "" {
		info.EgressID = egressID
	}
	return info, nil
}

// EndCall reports ErrRoomNotFound for rooms it has already ended.
func (f *FakePlatform) EndCall(_ context.Context, roomName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, roomName)
	if f.EndErr != nil {
		return f.EndErr
	}
	if f.gone[roomName] {
		return ErrRoomNotFound
	}
	f.gone[roomName] = true
	return nil
}

func (f *FakePlatform) Started() []StartRecordingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StartRecordingRequest(nil), f.started...)
}

func (f *FakePlatform) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// EndCalls returns how many times EndCall was invoked for roomName.
func (f *FakePlatform) EndCalls(roomName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.ended {
		if r == roomName {
			n++
		}
	}
	return n
}
