package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidArtifact marks files that can never be reconciled as they are.
var ErrInvalidArtifact = errors.New("artifact: invalid artifact")

// CampaignMetadata is the identity block embedded in conversation and lead files.
type CampaignMetadata struct {
	CampaignID   string `json:"campaignId,omitempty"`
	VoiceAgentID string `json:"voiceAgentId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	DialedNumber string `json:"dialedNumber,omitempty"`
	CallerNumber string `json:"callerNumber,omitempty"`
	EgressID     string `json:"egressId,omitempty"`
	Direction    string `json:"direction,omitempty"`
}

func (m CampaignMetadata) Key() Key {
	return Key{CampaignID: m.CampaignID, VoiceAgentID: m.VoiceAgentID, SessionID: m.SessionID}
}

type Metadata struct {
	Room             string           `json:"room,omitempty"`
	RecordingPath    string           `json:"recording_path,omitempty"`
	CampaignMetadata CampaignMetadata `json:"campaign_metadata"`
}

// Text is conversation content. Older dumps store content as a list of strings.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(b, &parts); err == nil {
		*t = Text(strings.Join(parts, " "))
		return nil
	}
	if string(b) == "null" {
		*t = ""
		return nil
	}
	return fmt.Errorf("artifact: content must be a string or list of strings")
}

type Item struct {
	ItemID    string `json:"item_id,omitempty"`
	Role      string `json:"role"`
	Content   Text   `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Conversation is the durable dump of one call's transcript.
type Conversation struct {
	SessionID     string         `json:"session_id"`
	StartTime     string         `json:"start_time"`
	EndTime       string         `json:"end_time,omitempty"`
	TotalItems    int            `json:"total_items"`
	Items         []Item         `json:"items"`
	LeadGenerated bool           `json:"lead_generated"`
	Lead          map[string]any `json:"lead,omitempty"`
	Metadata      Metadata       `json:"metadata"`
}

// Key returns the identity embedded in the metadata block.
func (c Conversation) Key() Key {
	k := c.Metadata.CampaignMetadata.Key()
	if k.SessionID == "" {
		k.SessionID = c.SessionID
	}
	return k
}

// Validate enforces the minimum shape the reconciler can upload.
func (c Conversation) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidArtifact)
	}
	if c.Items == nil {
		return fmt.Errorf("%w: missing items", ErrInvalidArtifact)
	}
	return nil
}

// ReadConversation loads and validates a conversation dump.
func ReadConversation(path string) (Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conversation{}, err
	}
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return Conversation{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, filepath.Base(path), err)
	}
	if err := c.Validate(); err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// WriteConversation stores c in dir under its key-derived name and returns the path.
func WriteConversation(dir string, c Conversation) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	c.TotalItems = len(c.Items)

	name := ConversationPrefix + SanitizeID(c.SessionID) + ".json"
	if k := c.Key(); k.Complete() {
		name = ConversationFileName(k)
	}
	path := filepath.Join(dir, name)
	if err := writeJSONAtomic(path, c); err != nil {
		return "", err
	}
	return path, nil
}
