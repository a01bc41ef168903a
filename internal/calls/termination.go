package calls

type terminationState int

const (
	terminationNone terminationState = iota
	terminationInFlight
	terminationDone
)

// BeginTermination claims the right to end the room. It returns false when
// another path is already ending it or has ended it.
func (s *Session) BeginTermination() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termination != terminationNone {
		return false
	}
	s.termination = terminationInFlight
	return true
}

// FinishTermination releases the claim. A failed attempt returns the session to
// the not-terminated state so a caller may decide to retry.
func (s *Session) FinishTermination(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termination != terminationInFlight {
		return
	}
	if ok {
		s.termination = terminationDone
		return
	}
	s.termination = terminationNone
}

func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termination == terminationDone
}
