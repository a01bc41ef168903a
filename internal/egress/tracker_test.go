package egress

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"callflow/internal/audit"
	"callflow/internal/calls"
	"callflow/internal/telephony"
)

func newTestTracker(p telephony.Platform) (*Tracker, *audit.MemoryRepo, *int) {
	events := audit.NewMemoryRepo()
	sleeps := 0
	tr := NewTracker(p, NewMemoryRepo(), TrackerOptions{
		OutputDir: "recordings",
		AudioOnly: true,
		Audit:     audit.NewService(events, nil),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return ctx.Err()
		},
	})
	return tr, events, &sleeps
}

func testSession() *calls.Session {
	return calls.NewSession(calls.Params{
		SessionID: "sess-1",
		RoomName:  "number-_14155550100",
		Identity:  calls.Identity{CampaignID: "camp_1", VoiceAgentID: "agent1"},
	})
}

func TestStartRecordsTargetAndEgressID(t *testing.T) {
	p := telephony.NewFakePlatform()
	tr, events, _ := newTestTracker(p)
	s := testSession()

	id, err := tr.Start(context.Background(), s)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" || s.EgressID() != id {
		t.Fatalf("egress id not stored: %q / %q", id, s.EgressID())
	}
	started := p.Started()
	if len(started) != 1 || started[0].FilePath != "recordings/recording_camp1_agent1_sess-1.ogg" || !started[0].AudioOnly {
		t.Fatalf("start request = %+v", started)
	}
	job, err := tr.Job(context.Background(), id)
	if err != nil || job.Status != StatusStarting || job.SessionID != "sess-1" {
		t.Fatalf("job = %+v err=%v", job, err)
	}
	if events.Count(audit.EventRecordingStarted) != 1 {
		t.Fatalf("expected recording_started event")
	}
}

func TestStartFailureIsReported(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.StartErr = errors.New("egress unavailable")
	tr, events, _ := newTestTracker(p)
	s := testSession()

	if _, err := tr.Start(context.Background(), s); err == nil {
		t.Fatalf("expected error")
	}
	if s.EgressID() != "" {
		t.Fatalf("egress id should stay empty")
	}
	if events.Count(audit.EventRecordingFailed) != 1 {
		t.Fatalf("expected recording_failed event")
	}
}

func TestAwaitCompletionComplete(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.Recordings = []telephony.RecordingInfo{
		{Status: "EGRESS_ACTIVE"},
		{Status: "EGRESS_ENDING"},
		{Status: "EGRESS_COMPLETE", Files: []telephony.RecordingFile{{Filename: "recordings/r.ogg", Size: 4096}}},
	}
	tr, _, sleeps := newTestTracker(p)

	out, err := tr.AwaitCompletion(context.Background(), "EG_1", 6, time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Result != ResultComplete || !out.Uploadable() || out.File.Size != 4096 {
		t.Fatalf("outcome = %+v", out)
	}
	if p.Polls() != 3 || *sleeps != 2 {
		t.Fatalf("polls=%d sleeps=%d", p.Polls(), *sleeps)
	}
}

func TestAwaitCompletionFailedStopsImmediately(t *testing.T) {
	for _, status := range []string{"EGRESS_FAILED", "EGRESS_ABORTED", "EGRESS_LIMIT_REACHED"} {
		t.Run(status, func(t *testing.T) {
			p := telephony.NewFakePlatform()
			p.Recordings = []telephony.RecordingInfo{{Status: status, Files: []telephony.RecordingFile{{Filename: "r.ogg", Size: 1}}}}
			tr, _, _ := newTestTracker(p)

			out, err := tr.AwaitCompletion(context.Background(), "EG_1", 6, time.Millisecond)
			if err != nil {
				t.Fatalf("await: %v", err)
			}
			if out.Result != ResultFailed || out.Uploadable() {
				t.Fatalf("outcome = %+v", out)
			}
			if p.Polls() != 1 {
				t.Fatalf("polls = %d, want 1", p.Polls())
			}
		})
	}
}

func TestAwaitCompletionWithoutFiles(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.Recordings = []telephony.RecordingInfo{{Status: "EGRESS_COMPLETE"}}
	tr, _, _ := newTestTracker(p)

	out, err := tr.AwaitCompletion(context.Background(), "EG_1", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Result != ResultNoFiles || out.Uploadable() {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestAwaitCompletionExhaustedIsPending(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.Recordings = []telephony.RecordingInfo{{Status: "EGRESS_ACTIVE"}}
	tr, _, sleeps := newTestTracker(p)

	out, err := tr.AwaitCompletion(context.Background(), "EG_1", 4, time.Millisecond)
	if err != nil {
		t.Fatalf("pending must not be an error: %v", err)
	}
	if out.Result != ResultPending || out.Job.Status != StatusActive {
		t.Fatalf("outcome = %+v", out)
	}
	if p.Polls() != 4 || *sleeps != 3 {
		t.Fatalf("polls=%d sleeps=%d", p.Polls(), *sleeps)
	}
}

func TestAwaitCompletionUsesPushedState(t *testing.T) {
	p := telephony.NewFakePlatform()
	tr, _, _ := newTestTracker(p)

	_, err := tr.Observe(context.Background(), telephony.RecordingInfo{
		EgressID: "EG_9",
		Status:   "EGRESS_COMPLETE",
		Files:    []telephony.RecordingFile{{Filename: "r.ogg", Size: 10}},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	out, err := tr.AwaitCompletion(context.Background(), "EG_9", 3, time.Millisecond)
	if err != nil || out.Result != ResultComplete {
		t.Fatalf("outcome = %+v err=%v", out, err)
	}
	if p.Polls() != 0 {
		t.Fatalf("terminal stored state should skip polling, polls = %d", p.Polls())
	}
}

func TestAwaitCompletionPollErrorsRetry(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.PollErr = errors.New("503")
	tr, _, _ := newTestTracker(p)

	out, err := tr.AwaitCompletion(context.Background(), "EG_1", 2, time.Millisecond)
	if err != nil || out.Result != ResultPending {
		t.Fatalf("outcome = %+v err=%v", out, err)
	}
	if p.Polls() != 2 {
		t.Fatalf("polls = %d", p.Polls())
	}
}

func TestAwaitCompletionContextCancelled(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.Recordings = []telephony.RecordingInfo{{Status: "EGRESS_ACTIVE"}}
	tr := NewTracker(p, nil, TrackerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := tr.AwaitCompletion(ctx, "EG_1", 5, time.Hour)
	if out.Result != ResultPending || err == nil {
		t.Fatalf("outcome = %+v err=%v", out, err)
	}
}

func TestAwaitCompletionWithoutEgress(t *testing.T) {
	tr, _, _ := newTestTracker(telephony.NewFakePlatform())
	if _, err := tr.AwaitCompletion(context.Background(), "", 3, time.Millisecond); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("err = %v", err)
	}
}

func TestTargetPathWithoutIdentity(t *testing.T) {
	tr, _, _ := newTestTracker(telephony.NewFakePlatform())
	s := calls.NewSession(calls.Params{SessionID: "abc.def", RoomName: "r"})
	if got := tr.TargetPath(s); !strings.HasSuffix(got, "recording_abcdef.ogg") {
		t.Fatalf("target = %s", got)
	}
}
