package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndReadConversation(t *testing.T) {
	dir := t.TempDir()
	c := Conversation{
		SessionID: "S1",
		StartTime: "2025-10-23T07:56:34Z",
		Items: []Item{
			{Role: "assistant", Content: "Hello"},
			{Role: "user", Content: "I want to hang up"},
		},
		Metadata: Metadata{CampaignMetadata: CampaignMetadata{CampaignID: "C1", VoiceAgentID: "V1", SessionID: "S1"}},
	}
	path, err := WriteConversation(dir, c)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "transcript_session_C1_V1_S1.json" {
		t.Fatalf("unexpected name %s", path)
	}

	got, err := ReadConversation(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.TotalItems != 2 || got.Items[1].Content != "I want to hang up" {
		t.Fatalf("unexpected conversation %+v", got)
	}
	if got.Key() != (Key{"C1", "V1", "S1"}) {
		t.Fatalf("unexpected key %+v", got.Key())
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestReadConversationRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"malformed.json":  `{"session_id": `,
		"no_items.json":   `{"session_id":"S1"}`,
		"no_session.json": `{"items":[]}`,
	}
	for name, body := range cases {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := ReadConversation(p); !errors.Is(err, ErrInvalidArtifact) {
			t.Fatalf("%s: expected ErrInvalidArtifact, got %v", name, err)
		}
	}
}

func TestTextAcceptsListContent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "legacy.json")
	body := `{"session_id":"S1","items":[{"role":"user","content":["can you","hang up"]},{"role":"assistant","content":null}]}`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := ReadConversation(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if c.Items[0].Content != "can you hang up" || c.Items[1].Content != "" {
		t.Fatalf("unexpected items %+v", c.Items)
	}
}
