package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callflow/internal/config"

	"github.com/gin-gonic/gin"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		ServiceTokenSecret: "secret",
		Issuer:             "callflow",
		Audience:           "agent-api",
		TokenTTL:           15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyServiceToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, "conversation-worker", ScopeSessions)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Service != "conversation-worker" || !claims.HasScope(ScopeSessions) || claims.HasScope(ScopeReconcile) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	tok, _ := m.Issue(now, "worker")
	if _, err := m.Verify(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	other, _ := NewManager(config.AuthConfig{ServiceTokenSecret: "other", Issuer: "callflow", Audience: "agent-api"})
	tok, _ := other.Issue(time.Now(), "worker")
	if _, err := newManager(t).Verify(tok, time.Now()); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRequireServiceToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	r := gin.New()
	r.GET("/x", RequireServiceToken(m, ScopeReconcile), func(c *gin.Context) {
		svc, err := Service(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, svc)
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}
	if w := do("Bearer garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	narrow, _ := m.Issue(time.Now(), "worker", ScopeSessions)
	if w := do("Bearer " + narrow); w.Code != http.StatusForbidden {
		t.Fatalf("wrong scope: %d", w.Code)
	}
	ok, _ := m.Issue(time.Now(), "cron", ScopeReconcile)
	w := do("Bearer " + ok)
	if w.Code != http.StatusOK || w.Body.String() != "cron" {
		t.Fatalf("valid token: %d %q", w.Code, w.Body.String())
	}
}

func TestServiceMissingFromContext(t *testing.T) {
	if _, err := Service(httptest.NewRequest(http.MethodGet, "/", nil).Context()); !errors.Is(err, ErrNoService) {
		t.Fatalf("expected ErrNoService, got %v", err)
	}
}
