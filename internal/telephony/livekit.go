package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

// LiveKitOptions configures the LiveKit adapter.
type LiveKitOptions struct {
	// URL is the server URL agents connect with; ws(s) schemes are accepted.
	URL       string
	APIKey    string
	APISecret string

	// Timeout bounds every API request. Defaults to 10s.
	Timeout time.Duration
}

// egressAPI and roomAPI are the slices of the server SDK clients the adapter calls.
type egressAPI interface {
	StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error)
	ListEgress(ctx context.Context, req *livekit.ListEgressRequest) (*livekit.ListEgressResponse, error)
}

type roomAPI interface {
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// LiveKitClient implements Platform with the LiveKit server SDK.
type LiveKitClient struct {
	egress  egressAPI
	rooms   roomAPI
	timeout time.Duration
}

func NewLiveKitClient(opts LiveKitOptions) (*LiveKitClient, error) {
	if opts.URL == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("telephony: livekit url, api key and api secret are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &LiveKitClient{
		egress:  lksdk.NewEgressClient(opts.URL, opts.APIKey, opts.APISecret),
		rooms:   lksdk.NewRoomServiceClient(opts.URL, opts.APIKey, opts.APISecret),
		timeout: opts.Timeout,
	}, nil
}

func (c *LiveKitClient) Name() string { return "livekit" }

func (c *LiveKitClient) StartRecording(ctx context.Context, req StartRecordingRequest) (StartRecordingResult, error) {
	if req.RoomName == "" {
		return StartRecordingResult{}, errors.New("telephony: room name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	info, err := c.egress.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
		RoomName:  req.RoomName,
		AudioOnly: req.AudioOnly,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_OGG,
			Filepath: req.FilePath,
		}},
	})
	if err != nil {
		return StartRecordingResult{}, fmt.Errorf("telephony: start recording: %w", err)
	}
	if info.GetEgressId() == "" {
		return StartRecordingResult{}, errors.New("telephony: start recording returned no egress id")
	}
	return StartRecordingResult{EgressID: info.GetEgressId(), Status: info.GetStatus().String()}, nil
}

func (c *LiveKitClient) PollRecording(ctx context.Context, egressID string) (RecordingInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.egress.ListEgress(ctx, &livekit.ListEgressRequest{EgressId: egressID})
	if err != nil {
		if isNotFound(err) {
			return RecordingInfo{}, ErrRecordingNotFound
		}
		return RecordingInfo{}, fmt.Errorf("telephony: list egress: %w", err)
	}
	for _, item := range res.GetItems() {
		if item.GetEgressId() == egressID {
			return recordingInfo(item), nil
		}
	}
	return RecordingInfo{}, ErrRecordingNotFound
}

func (c *LiveKitClient) EndCall(ctx context.Context, roomName string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return ErrRoomNotFound
	default:
		return fmt.Errorf("telephony: delete room: %w", err)
	}
}

func isNotFound(err error) bool {
	var te twirp.Error
	return errors.As(err, &te) && te.Code() == twirp.NotFound
}

// recordingInfo flattens an egress message. Timestamps and durations are nanoseconds.
func recordingInfo(e *livekit.EgressInfo) RecordingInfo {
	info := RecordingInfo{
		EgressID: e.GetEgressId(),
		RoomName: e.GetRoomName(),
		Status:   e.GetStatus().String(),
		Error:    e.GetError(),
	}
	if ns := e.GetStartedAt(); ns > 0 {
		info.StartedAt = time.Unix(0, ns).UTC()
	}
	if ns := e.GetEndedAt(); ns > 0 {
		info.EndedAt = time.Unix(0, ns).UTC()
	}
	for _, f := range e.GetFileResults() {
		info.Files = append(info.Files, RecordingFile{
			Filename: f.GetFilename(),
			Size:     f.GetSize(),
			Location: f.GetLocation(),
			Duration: time.Duration(f.GetDuration()),
		})
	}
	return info
}
