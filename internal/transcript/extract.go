package transcript

import (
	"regexp"
	"strings"
)

var (
	rawRoleRe    = regexp.MustCompile(`role='([^']+)'`)
	rawContentRe = regexp.MustCompile(`content=\[(.*)\]`)
)

// extractRoleAndContent recovers role and text from the debug string some
// session-history collaborators emit when their structured accessors are empty,
// e.g. `ChatMessage(role='user', content=['I want to hang up'])`.
func extractRoleAndContent(raw string) (Role, string) {
	role := RoleUnknown
	if m := rawRoleRe.FindStringSubmatch(raw); m != nil {
		role = ParseRole(m[1])
	}

	var content string
	if m := rawContentRe.FindStringSubmatch(raw); m != nil {
		content = strings.TrimSpace(m[1])
		content = strings.Trim(content, `'"`)
		content = strings.TrimSpace(content)
	}
	return role, content
}

// Normalize fills Role and Content from Raw when the structured fields are missing.
func Normalize(e Event) Event {
	if e.Raw == "" {
		return e
	}
	if e.Role != "" && e.Role != RoleUnknown && e.Content != "" {
		return e
	}
	role, content := extractRoleAndContent(e.Raw)
	if e.Role == "" || e.Role == RoleUnknown {
		e.Role = role
	}
	if e.Content == "" {
		e.Content = content
	}
	if e.Source == "" {
		e.Source = "raw"
	}
	return e
}
