package crm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"callflow/internal/artifact"
)

// ErrMissingIdentity rejects payloads that cannot be attributed downstream.
var ErrMissingIdentity = errors.New("crm: campaignId and voiceAgentId are required")

// CallData is the body of POST /call-data.
type CallData struct {
	CampaignID    string         `json:"campaignId"`
	VoiceAgentID  string         `json:"voiceAgentId"`
	Client        string         `json:"client"`
	CallDetails   CallDetails    `json:"callDetails"`
	Caller        Caller         `json:"caller"`
	Transcription Transcription  `json:"transcription"`
	Lead          map[string]any `json:"lead"`
}

type CallDetails struct {
	CallID            string `json:"callId"`
	Direction         string `json:"direction"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	Duration          int    `json:"duration"`
	Status            string `json:"status"`
	CallerNumber      string `json:"callerNumber"`
	RecordingURL      string `json:"recordingUrl,omitempty"`
	RecordingDuration int    `json:"recordingDuration,omitempty"`
	RecordingSize     int64  `json:"recordingSize,omitempty"`
}

type Caller struct {
	PhoneNumber string `json:"phoneNumber"`
}

type Transcription struct {
	SessionID         string             `json:"session_id"`
	StartTime         string             `json:"start_time"`
	EndTime           string             `json:"end_time"`
	TotalItems        int                `json:"total_items"`
	ConversationItems []ConversationItem `json:"conversation_items"`
	LeadGenerated     bool               `json:"lead_generated"`
	Metadata          map[string]any     `json:"metadata"`
}

type ConversationItem struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// BuildOptions carries what the conversation dump itself does not hold.
type BuildOptions struct {
	// ClientID overrides the dump's clientId when set.
	ClientID    string
	CallerPhone string
	Lead        map[string]any
	Recording   *RecordingUpload
	// RecordingDuration is sent only when the platform reported one.
	RecordingDuration time.Duration
	Status            string
	Now               func() time.Time
}

// BuildCallData turns a conversation dump into a call-data payload.
func BuildCallData(conv artifact.Conversation, opts BuildOptions) (CallData, error) {
	meta := conv.Metadata.CampaignMetadata
	if meta.CampaignID == "" || meta.VoiceAgentID == "" {
		return CallData{}, ErrMissingIdentity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Status == "" {
		opts.Status = "completed"
	}
	clientID := meta.ClientID
	if opts.ClientID != "" {
		clientID = opts.ClientID
	}
	direction := meta.Direction
	if direction == "" {
		direction = "outbound"
	}
	caller := opts.CallerPhone
	if caller == "" {
		caller = meta.DialedNumber
	}

	start, end := callWindow(conv, opts.Now)
	sessionID := conv.SessionID
	if meta.SessionID != "" {
		sessionID = meta.SessionID
	}

	details := CallDetails{
		CallID:       NewCallID(start, sessionID),
		Direction:    direction,
		StartTime:    artifact.FormatTimestamp(start),
		EndTime:      artifact.FormatTimestamp(end),
		Duration:     int(end.Sub(start).Seconds()),
		Status:       opts.Status,
		CallerNumber: caller,
	}
	if r := opts.Recording; r != nil && r.URL != "" {
		details.RecordingURL = r.URL
		details.RecordingSize = r.Size
		if opts.RecordingDuration > 0 {
			details.RecordingDuration = int(opts.RecordingDuration.Round(time.Second).Seconds())
		}
	}

	items := ConversationItems(conv.Items)
	lead := FormatLead(opts.Lead)
	if lead == nil && len(conv.Lead) > 0 {
		lead = FormatLead(conv.Lead)
	}
	leadGenerated := conv.LeadGenerated || len(lead) > 0
	if lead == nil {
		lead = map[string]any{}
	}

	return CallData{
		CampaignID:   meta.CampaignID,
		VoiceAgentID: meta.VoiceAgentID,
		Client:       clientID,
		CallDetails:  details,
		Caller:       Caller{PhoneNumber: caller},
		Transcription: Transcription{
			SessionID:         sessionID,
			StartTime:         details.StartTime,
			EndTime:           details.EndTime,
			TotalItems:        len(items),
			ConversationItems: items,
			LeadGenerated:     leadGenerated,
			Metadata: map[string]any{
				"room":              conv.Metadata.Room,
				"campaign_metadata": meta,
			},
		},
		Lead: lead,
	}, nil
}

// callWindow resolves start and end from the dump, falling back to item
// timestamps and finally to now.
func callWindow(conv artifact.Conversation, now func() time.Time) (time.Time, time.Time) {
	var first, last time.Time
	for _, it := range conv.Items {
		ts, ok := artifact.ParseTimestamp(it.Timestamp)
		if !ok {
			continue
		}
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}

	start, ok := artifact.ParseTimestamp(conv.StartTime)
	if !ok {
		start = first
	}
	end, ok := artifact.ParseTimestamp(conv.EndTime)
	if !ok {
		end = last
	}
	if start.IsZero() {
		start = now().UTC()
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}
	return start, end
}

// NewCallID derives the downstream call id from the call start and session id.
// The same call always yields the same id, so duplicate submissions can be
// collapsed by the CRM.
func NewCallID(start time.Time, sessionID string) string {
	suffix := strings.TrimSpace(sessionID)
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	if suffix == "" {
		suffix = "00000000"
	}
	return fmt.Sprintf("CALL-%s-%s", start.UTC().Format("20060102-150405"), suffix)
}

// ConversationItems keeps caller and assistant turns with text.
func ConversationItems(items []artifact.Item) []ConversationItem {
	out := make([]ConversationItem, 0, len(items))
	for _, it := range items {
		role := strings.ToLower(strings.TrimSpace(it.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := strings.TrimSpace(string(it.Content))
		if content == "" {
			continue
		}
		ts := it.Timestamp
		if t, ok := artifact.ParseTimestamp(ts); ok {
			ts = artifact.FormatTimestamp(t)
		}
		src := it.Source
		if src == "" {
			src = "voice_agent"
		}
		out = append(out, ConversationItem{Role: role, Content: content, Timestamp: ts, Source: src})
	}
	return out
}

// FormatLead normalises a captured lead. Unknown fields are kept; empty values
// are dropped and source/status get defaults.
func FormatLead(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		if k == "campaign_metadata" {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			v = s
		}
		if v == nil {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	if _, ok := out["source"]; !ok {
		out["source"] = "voice_agent"
	}
	if _, ok := out["status"]; !ok {
		out["status"] = "new"
	}
	return out
}
