package egress

import (
	"fmt"
	"strings"
)

// Status is the platform-owned state of a recording job.
type Status int

const (
	StatusUnknown Status = iota
	StatusStarting
	StatusActive
	StatusEnding
	StatusComplete
	StatusFailed
	StatusAborted
	StatusLimitReached
)

var statusNames = map[Status]string{
	StatusUnknown:      "UNKNOWN",
	StatusStarting:     "STARTING",
	StatusActive:       "ACTIVE",
	StatusEnding:       "ENDING",
	StatusComplete:     "COMPLETE",
	StatusFailed:       "FAILED",
	StatusAborted:      "ABORTED",
	StatusLimitReached: "LIMIT_REACHED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsTerminal reports whether the platform will never move the job again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAborted, StatusLimitReached:
		return true
	default:
		return false
	}
}

// ParseStatus accepts platform enum names with or without the EGRESS_ prefix.
// Anything else is StatusUnknown.
func ParseStatus(s string) Status {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "EGRESS_")
	for st, name := range statusNames {
		if name == s {
			return st
		}
	}
	return StatusUnknown
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}
