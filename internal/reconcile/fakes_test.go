package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/crm"
	"callflow/internal/egress"
)

type fakeCRM struct {
	mu        sync.Mutex
	uploads   []string
	submits   []crm.CallData
	uploadErr error
	submitErr error
}

func (f *fakeCRM) UploadRecording(_ context.Context, path string) (crm.RecordingUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, path)
	if f.uploadErr != nil {
		return crm.RecordingUpload{}, f.uploadErr
	}
	return crm.RecordingUpload{URL: "https://files.example/" + filepath.Base(path), Size: 1234, OriginalName: filepath.Base(path)}, nil
}

func (f *fakeCRM) SubmitCallData(_ context.Context, data crm.CallData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, data)
	return f.submitErr
}

func (f *fakeCRM) calls() (uploads, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads), len(f.submits)
}

func (f *fakeCRM) lastSubmit(t *testing.T) crm.CallData {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submits) == 0 {
		t.Fatalf("no call data submitted")
	}
	return f.submits[len(f.submits)-1]
}

type fakeAwaiter struct {
	out   egress.Outcome
	err   error
	calls int
}

func (f *fakeAwaiter) AwaitCompletion(context.Context, string, int, time.Duration) (egress.Outcome, error) {
	f.calls++
	return f.out, f.err
}

// refusingLease reports every key as held elsewhere.
type refusingLease struct{}

func (refusingLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type brokenLease struct{}

func (brokenLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

type dirs struct {
	conversations string
	recordings    string
	leads         string
	processed     string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	root := t.TempDir()
	d := dirs{
		conversations: filepath.Join(root, "conversations"),
		recordings:    filepath.Join(root, "recordings"),
		leads:         filepath.Join(root, "leads"),
		processed:     filepath.Join(root, "processed"),
	}
	for _, p := range []string{d.conversations, d.recordings, d.leads, d.processed} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	return d
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testConversation(campaign, agent, session string) artifact.Conversation {
	return artifact.Conversation{
		SessionID: session,
		StartTime: "2025-03-04T10:11:12Z",
		EndTime:   "2025-03-04T10:13:02Z",
		Items: []artifact.Item{
			{Role: "assistant", Content: "Hello, this is Ava.", Timestamp: "2025-03-04T10:11:13Z"},
			{Role: "user", Content: "Not interested, bye.", Timestamp: "2025-03-04T10:11:20Z"},
		},
		Metadata: artifact.Metadata{
			Room: "number-_14155550100",
			CampaignMetadata: artifact.CampaignMetadata{
				CampaignID:   campaign,
				VoiceAgentID: agent,
				SessionID:    session,
				DialedNumber: "+14155550100",
			},
		},
	}
}

func writeConversation(t *testing.T, dir string, c artifact.Conversation) string {
	t.Helper()
	p, err := artifact.WriteConversation(dir, c)
	if err != nil {
		t.Fatalf("write conversation: %v", err)
	}
	return p
}
