package hangup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callflow/internal/calls"
	"callflow/internal/telephony"
)

func TestTerminateEndsRoomOnce(t *testing.T) {
	p := telephony.NewFakePlatform()
	var ended []string
	term := NewTerminator(p, TerminatorOptions{OnEnded: func(s *calls.Session, reason string) {
		ended = append(ended, reason)
	}})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})

	out, err := term.Terminate(context.Background(), s, "test")
	if err != nil || out != OutcomeEnded {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	if _, err := term.Terminate(context.Background(), s, "again"); !errors.Is(err, ErrAlreadyTerminated) {
		t.Fatalf("expected ErrAlreadyTerminated, got %v", err)
	}
	if p.EndCalls("room-1") != 1 {
		t.Fatalf("endCall = %d", p.EndCalls("room-1"))
	}
	if len(ended) != 1 || s.Status() != calls.CallStatusCompleted || s.EndedAt().IsZero() {
		t.Fatalf("ended=%v status=%s", ended, s.Status())
	}
}

func TestTerminateConcurrentCallers(t *testing.T) {
	p := telephony.NewFakePlatform()
	term := NewTerminator(p, TerminatorOptions{})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = term.Terminate(context.Background(), s, "race")
		}()
	}
	wg.Wait()
	if p.EndCalls("room-1") != 1 {
		t.Fatalf("endCall = %d, want 1", p.EndCalls("room-1"))
	}
}

func TestTerminateRoomAlreadyGone(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.EndErr = telephony.ErrRoomNotFound
	term := NewTerminator(p, TerminatorOptions{})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})

	out, err := term.Terminate(context.Background(), s, "test")
	if err != nil || out != OutcomeAlreadyEnded {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	if !s.Terminated() {
		t.Fatalf("room-not-found should count as terminated")
	}
}

func TestTerminateFailureAllowsRetry(t *testing.T) {
	p := telephony.NewFakePlatform()
	p.EndErr = errors.New("503")
	term := NewTerminator(p, TerminatorOptions{})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})

	out, err := term.Terminate(context.Background(), s, "test")
	if err == nil || out != OutcomeFailed {
		t.Fatalf("outcome=%s err=%v", out, err)
	}
	if s.Terminated() {
		t.Fatalf("failed end must not mark terminated")
	}

	p.EndErr = nil
	if out, err := term.Terminate(context.Background(), s, "retry"); err != nil || out != OutcomeEnded {
		t.Fatalf("retry outcome=%s err=%v", out, err)
	}
}

func TestTerminateWaitsForPlayout(t *testing.T) {
	p := telephony.NewFakePlatform()
	term := NewTerminator(p, TerminatorOptions{PlayoutWait: time.Second})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})
	s.BeginUtterance()

	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(40 * time.Millisecond)
		released <- time.Now()
		s.EndUtterance()
	}()

	if _, err := term.Terminate(context.Background(), s, "closing"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	select {
	case <-released:
	default:
		t.Fatalf("terminate returned before playout finished")
	}
}

func TestTerminatePlayoutWaitIsBounded(t *testing.T) {
	p := telephony.NewFakePlatform()
	term := NewTerminator(p, TerminatorOptions{PlayoutWait: 20 * time.Millisecond})
	s := calls.NewSession(calls.Params{RoomName: "room-1"})
	s.BeginUtterance()

	start := time.Now()
	if _, err := term.Terminate(context.Background(), s, "closing"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("playout wait not bounded")
	}
	if p.EndCalls("room-1") != 1 {
		t.Fatalf("call should end after the playout timeout")
	}
}
