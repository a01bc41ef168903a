package calls

import "time"

// PendingHangup is a scheduled, still cancellable hangup.
type PendingHangup struct {
	ID         string
	Trigger    string
	DecisionAt time.Time
	FireAt     time.Time

	cancel func() bool
}

func NewPendingHangup(id, trigger string, decisionAt time.Time, delay time.Duration, cancel func() bool) PendingHangup {
	return PendingHangup{
		ID:         id,
		Trigger:    trigger,
		DecisionAt: decisionAt,
		FireAt:     decisionAt.Add(delay),
		cancel:     cancel,
	}
}

// ClaimResult explains why a pending hangup may or may not fire.
type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	// ClaimSuperseded means the hangup was cancelled or replaced.
	ClaimSuperseded
	// ClaimUserActive means the caller spoke after the decision was taken.
	ClaimUserActive
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimOK:
		return "ok"
	case ClaimSuperseded:
		return "superseded"
	case ClaimUserActive:
		return "user_active"
	default:
		return "unknown"
	}
}

// ReplacePending installs p as the only pending hangup, cancelling any previous one.
func (s *Session) ReplacePending(p PendingHangup) (previous PendingHangup, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		previous, replaced = *s.pending, true
		if previous.cancel != nil {
			previous.cancel()
		}
	}
	s.pending = &p
	return previous, replaced
}

// CancelPending cancels and clears the pending hangup, if any.
func (s *Session) CancelPending() (PendingHangup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingHangup{}, false
	}
	p := *s.pending
	s.pending = nil
	if p.cancel != nil {
		p.cancel()
	}
	return p, true
}

// ClaimPending is called by a firing timer. It succeeds only when id is still the
// pending hangup and no caller speech arrived after its decision time. The pending
// slot is cleared whenever id still owns it.
func (s *Session) ClaimPending(id string) (PendingHangup, ClaimResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.ID != id {
		return PendingHangup{}, ClaimSuperseded
	}
	p := *s.pending
	s.pending = nil
	if s.lastUserActivityAt.After(p.DecisionAt) {
		return p, ClaimUserActive
	}
	return p, ClaimOK
}

// Pending returns the pending hangup, if any.
func (s *Session) Pending() (PendingHangup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingHangup{}, false
	}
	return *s.pending, true
}
