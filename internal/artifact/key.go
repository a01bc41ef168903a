package artifact

import (
	"path/filepath"
	"strings"
)

const (
	ConversationPrefix = "transcript_session_"
	RecordingPrefix    = "recording_"
	LeadPrefix         = "lead_"

	ConversationGlob = ConversationPrefix + "*.json"
	RecordingExt     = ".ogg"
)

// Key joins artifacts written by independent processes for the same call.
type Key struct {
	CampaignID   string `json:"campaignId"`
	VoiceAgentID string `json:"voiceAgentId"`
	SessionID    string `json:"sessionId"`
}

// Complete reports whether every component is present.
func (k Key) Complete() bool {
	return k.CampaignID != "" && k.VoiceAgentID != "" && k.SessionID != ""
}

// Score counts matching non-empty components; a full match scores 3.
func (k Key) Score(other Key) int {
	n := 0
	if k.CampaignID != "" && k.CampaignID == other.CampaignID {
		n++
	}
	if k.VoiceAgentID != "" && k.VoiceAgentID == other.VoiceAgentID {
		n++
	}
	if k.SessionID != "" && k.SessionID == other.SessionID {
		n++
	}
	return n
}

func (k Key) suffix() string {
	return SanitizeID(k.CampaignID) + "_" + SanitizeID(k.VoiceAgentID) + "_" + SanitizeID(k.SessionID)
}

// SanitizeID makes an id safe to embed in an underscore-delimited filename.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r == '_' || r == '/' || r == '\\' || r == ' ' || r == '.':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Sanitized returns k with every component passed through SanitizeID.
func (k Key) Sanitized() Key {
	return Key{
		CampaignID:   SanitizeID(k.CampaignID),
		VoiceAgentID: SanitizeID(k.VoiceAgentID),
		SessionID:    SanitizeID(k.SessionID),
	}
}

func ConversationFileName(k Key) string { return ConversationPrefix + k.suffix() + ".json" }

func RecordingFileName(k Key) string { return RecordingPrefix + k.suffix() + RecordingExt }

func LeadFileName(k Key) string { return LeadPrefix + k.suffix() + ".json" }

// ParseKey reads the key from the last three underscore-separated parts of a
// file name stem. Names with fewer than four parts carry no key.
func ParseKey(name string) (Key, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return Key{}, false
	}
	n := len(parts)
	k := Key{CampaignID: parts[n-3], VoiceAgentID: parts[n-2], SessionID: parts[n-1]}
	if !k.Complete() {
		return Key{}, false
	}
	return k, true
}
