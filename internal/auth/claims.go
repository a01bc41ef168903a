package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes a service token may carry.
const (
	ScopeSessions  = "sessions"
	ScopeReconcile = "reconcile"
)

// Claims are the only supported JWT claims shape for this service.
// Service identifies the caller (e.g. the conversation worker); scopes gate
// which API groups it may use.
type Claims struct {
	jwt.RegisteredClaims

	Service string   `json:"svc"`
	Scopes  []string `json:"scopes"`
}

func (c Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
