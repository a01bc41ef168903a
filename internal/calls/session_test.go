package calls

import (
	"context"
	"testing"
	"time"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(Params{RoomName: "room-1"})
	if s.ID == "" || s.StartedAt.IsZero() || s.Transcript == nil {
		t.Fatalf("expected generated identity, got %+v", s)
	}
	if s.Status() != CallStatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status())
	}
}

func TestReplacePendingCancelsPrevious(t *testing.T) {
	s := NewSession(Params{})
	now := time.Unix(1700000000, 0)

	var cancelled int
	first := NewPendingHangup("a", "phrase", now, time.Second, func() bool { cancelled++; return true })
	if _, replaced := s.ReplacePending(first); replaced {
		t.Fatalf("nothing to replace yet")
	}
	second := NewPendingHangup("b", "closing", now, time.Second, func() bool { return true })
	prev, replaced := s.ReplacePending(second)
	if !replaced || prev.ID != "a" || cancelled != 1 {
		t.Fatalf("expected a to be cancelled, got %+v replaced=%v cancelled=%d", prev, replaced, cancelled)
	}

	p, ok := s.Pending()
	if !ok || p.ID != "b" {
		t.Fatalf("expected b pending, got %+v", p)
	}
}

func TestClaimPending(t *testing.T) {
	decision := time.Unix(1700000000, 0)

	t.Run("ok", func(t *testing.T) {
		s := NewSession(Params{})
		s.MarkUserActivity(decision)
		s.ReplacePending(NewPendingHangup("a", "phrase", decision, time.Second, nil))
		if _, res := s.ClaimPending("a"); res != ClaimOK {
			t.Fatalf("expected ok, got %s", res)
		}
		if _, ok := s.Pending(); ok {
			t.Fatalf("claim should clear the slot")
		}
		if _, res := s.ClaimPending("a"); res != ClaimSuperseded {
			t.Fatalf("second claim must fail, got %s", res)
		}
	})

	t.Run("user spoke after decision", func(t *testing.T) {
		s := NewSession(Params{})
		s.ReplacePending(NewPendingHangup("a", "closing", decision, time.Second, nil))
		s.MarkUserActivity(decision.Add(time.Millisecond))
		if _, res := s.ClaimPending("a"); res != ClaimUserActive {
			t.Fatalf("expected user_active, got %s", res)
		}
	})

	t.Run("replaced", func(t *testing.T) {
		s := NewSession(Params{})
		s.ReplacePending(NewPendingHangup("a", "closing", decision, time.Second, nil))
		s.ReplacePending(NewPendingHangup("b", "phrase", decision, time.Second, nil))
		if _, res := s.ClaimPending("a"); res != ClaimSuperseded {
			t.Fatalf("expected superseded, got %s", res)
		}
	})
}

func TestMarkUserActivityOnlyMovesForward(t *testing.T) {
	s := NewSession(Params{})
	t1 := time.Unix(100, 0)
	s.MarkUserActivity(t1)
	s.MarkUserActivity(t1.Add(-time.Second))
	if !s.LastUserActivity().Equal(t1) {
		t.Fatalf("activity moved backwards")
	}
}

func TestTerminationClaim(t *testing.T) {
	s := NewSession(Params{})
	if !s.BeginTermination() {
		t.Fatalf("first claim should succeed")
	}
	if s.BeginTermination() {
		t.Fatalf("concurrent claim should fail")
	}
	s.FinishTermination(false)
	if !s.BeginTermination() {
		t.Fatalf("failed attempt should release the claim")
	}
	s.FinishTermination(true)
	if !s.Terminated() || s.BeginTermination() {
		t.Fatalf("terminated session must not be claimable")
	}
}

func TestWaitPlayout(t *testing.T) {
	s := NewSession(Params{})
	if !s.WaitPlayout(context.Background(), time.Millisecond) {
		t.Fatalf("idle session should return immediately")
	}

	s.BeginUtterance()
	if s.WaitPlayout(context.Background(), 20*time.Millisecond) {
		t.Fatalf("expected timeout while speaking")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.EndUtterance()
	}()
	if !s.WaitPlayout(context.Background(), time.Second) {
		t.Fatalf("expected playout to finish")
	}
	s.EndUtterance() // extra end is ignored
	if s.Speaking() {
		t.Fatalf("expected idle")
	}
}

func TestLeadIsCopied(t *testing.T) {
	s := NewSession(Params{})
	if s.Lead() != nil {
		t.Fatalf("expected no lead")
	}
	in := map[string]any{"name": "Ada"}
	s.SetLead(in)
	in["name"] = "changed"
	if s.Lead()["name"] != "Ada" {
		t.Fatalf("lead must be copied on write")
	}
}

func TestDuration(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewSession(Params{StartedAt: start})
	if d := s.Duration(start.Add(5 * time.Second)); d != 5*time.Second {
		t.Fatalf("expected 5s live duration, got %v", d)
	}
	s.MarkEnded(start.Add(30*time.Second), CallStatusCompleted)
	s.MarkEnded(start.Add(60*time.Second), CallStatusCompleted)
	if d := s.Duration(start.Add(time.Hour)); d != 30*time.Second {
		t.Fatalf("expected first end time to stick, got %v", d)
	}
}
