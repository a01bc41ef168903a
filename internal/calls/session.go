package calls

import (
	"context"
	"sync"
	"time"

	"callflow/internal/transcript"

	"github.com/google/uuid"
)

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Identity is the downstream ownership of a call.
type Identity struct {
	CampaignID   string `json:"campaignId"`
	VoiceAgentID string `json:"voiceAgentId"`
	ClientID     string `json:"clientId"`
}

// Params are the values fixed when a call is accepted.
type Params struct {
	SessionID      string
	RoomName       string
	DialedNumber   string
	CallerNumber   string
	Direction      Direction
	Identity       Identity
	ClosingMessage string
	StartedAt      time.Time
}

// Session is the state of one live call.
//
// Invariants:
// - At most one pending hangup exists at any instant.
// - lastUserActivityAt only moves forward and only on caller speech.
// - The platform room is ended at most once successfully.
type Session struct {
	ID           string
	RoomName     string
	DialedNumber string
	CallerNumber string
	Direction    Direction
	Identity     Identity
	StartedAt    time.Time
	Transcript   *transcript.Store

	mu                 sync.Mutex
	closingMessage     string
	lastUserActivityAt time.Time
	pending            *PendingHangup
	egressID           string
	lead               map[string]any
	endedAt            time.Time
	status             CallStatus
	termination        terminationState

	speaking int
	idle     chan struct{}
}

func NewSession(p Params) *Session {
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = time.Now().UTC()
	}
	if p.Direction == "" {
		p.Direction = DirectionOutbound
	}
	return &Session{
		ID:             p.SessionID,
		RoomName:       p.RoomName,
		DialedNumber:   p.DialedNumber,
		CallerNumber:   p.CallerNumber,
		Direction:      p.Direction,
		Identity:       p.Identity,
		StartedAt:      p.StartedAt,
		Transcript:     transcript.NewStore(),
		closingMessage: p.ClosingMessage,
		status:         CallStatusInProgress,
	}
}

func (s *Session) ClosingMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closingMessage
}

func (s *Session) SetClosingMessage(msg string) {
	s.mu.Lock()
	s.closingMessage = msg
	s.mu.Unlock()
}

// MarkUserActivity records caller speech observed at t.
func (s *Session) MarkUserActivity(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastUserActivityAt) {
		s.lastUserActivityAt = t
	}
	s.mu.Unlock()
}

func (s *Session) LastUserActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUserActivityAt
}

func (s *Session) SetEgressID(id string) {
	s.mu.Lock()
	s.egressID = id
	s.mu.Unlock()
}

func (s *Session) EgressID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.egressID
}

// SetLead replaces the captured lead fields.
func (s *Session) SetLead(lead map[string]any) {
	cp := make(map[string]any, len(lead))
	for k, v := range lead {
		cp[k] = v
	}
	s.mu.Lock()
	s.lead = cp
	s.mu.Unlock()
}

// Lead returns a copy of the captured lead, or nil when none was captured.
func (s *Session) Lead() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lead == nil {
		return nil
	}
	cp := make(map[string]any, len(s.lead))
	for k, v := range s.lead {
		cp[k] = v
	}
	return cp
}

// MarkEnded stamps the end time once and sets the final status.
func (s *Session) MarkEnded(t time.Time, status CallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = t
	}
	s.status = status
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *Session) Status() CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Duration is the elapsed call time, measured to now while the call is live.
func (s *Session) Duration(now time.Time) time.Duration {
	end := s.EndedAt()
	if end.IsZero() {
		end = now
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// BeginUtterance marks assistant audio as playing out.
func (s *Session) BeginUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking == 0 {
		s.idle = make(chan struct{})
	}
	s.speaking++
}

// EndUtterance marks one playing utterance as finished.
func (s *Session) EndUtterance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking == 0 {
		return
	}
	s.speaking--
	if s.speaking == 0 {
		close(s.idle)
		s.idle = nil
	}
}

func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking > 0
}

// WaitPlayout blocks until no utterance is playing, timeout elapses or ctx ends.
// It reports whether playout actually finished.
func (s *Session) WaitPlayout(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	ch := s.idle
	s.mu.Unlock()
	if ch == nil {
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
