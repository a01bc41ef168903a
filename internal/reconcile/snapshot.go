package reconcile

import (
	"strings"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/calls"
	"callflow/internal/transcript"
)

// ConversationFromSession snapshots a live session into its durable dump.
func ConversationFromSession(s *calls.Session, now time.Time) artifact.Conversation {
	events := s.Transcript.Snapshot()
	items := make([]artifact.Item, 0, len(events))
	for _, e := range events {
		if e.Role == transcript.RoleUnknown && strings.TrimSpace(e.Content) == "" {
			continue
		}
		items = append(items, artifact.Item{
			ItemID:    e.ItemID,
			Role:      string(e.Role),
			Content:   artifact.Text(e.Content),
			Timestamp: artifact.FormatTimestamp(e.Timestamp),
			Source:    e.Source,
		})
	}

	end := s.EndedAt()
	if end.IsZero() {
		end = now
	}
	lead := s.Lead()
	return artifact.Conversation{
		SessionID:     s.ID,
		StartTime:     artifact.FormatTimestamp(s.StartedAt),
		EndTime:       artifact.FormatTimestamp(end),
		TotalItems:    len(items),
		Items:         items,
		LeadGenerated: len(lead) > 0,
		Lead:          lead,
		Metadata: artifact.Metadata{
			Room: s.RoomName,
			CampaignMetadata: artifact.CampaignMetadata{
				CampaignID:   s.Identity.CampaignID,
				VoiceAgentID: s.Identity.VoiceAgentID,
				ClientID:     s.Identity.ClientID,
				SessionID:    s.ID,
				DialedNumber: s.DialedNumber,
				CallerNumber: s.CallerNumber,
				EgressID:     s.EgressID(),
				Direction:    string(s.Direction),
			},
		},
	}
}

// callerPhone picks the remote party's number from the dump.
func callerPhone(conv artifact.Conversation) string {
	m := conv.Metadata.CampaignMetadata
	if m.DialedNumber != "" {
		return m.DialedNumber
	}
	if m.CallerNumber != "" {
		return m.CallerNumber
	}
	texts := make([]string, 0, len(conv.Items))
	for _, it := range conv.Items {
		texts = append(texts, string(it.Content))
	}
	return artifact.FindPhone(texts...)
}
