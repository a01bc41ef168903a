package hangup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callflow/internal/calls"
	"callflow/internal/metrics"
	"callflow/internal/telephony"
	"callflow/pkg/logger"
)

// ErrAlreadyTerminated is returned when another path ended, or is ending, the call.
var ErrAlreadyTerminated = errors.New("hangup: call already terminated")

type Outcome string

const (
	OutcomeEnded        Outcome = "ended"
	OutcomeAlreadyEnded Outcome = "already_ended"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkipped      Outcome = "skipped"
)

// Ender ends a call. *Terminator is the production implementation.
type Ender interface {
	Terminate(ctx context.Context, s *calls.Session, reason string) (Outcome, error)
}

type TerminatorOptions struct {
	// PlayoutWait bounds how long an in-flight assistant utterance may delay the hangup.
	PlayoutWait time.Duration

	// OnEnded runs once per session after the room is gone.
	OnEnded func(s *calls.Session, reason string)

	Log     *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Terminator ends rooms on the call platform. It never retries.
type Terminator struct {
	platform telephony.Platform
	opts     TerminatorOptions
}

func NewTerminator(p telephony.Platform, opts TerminatorOptions) *Terminator {
	if opts.PlayoutWait <= 0 {
		opts.PlayoutWait = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Terminator{platform: p, opts: opts}
}

// Terminate waits for playout, then deletes the room. Concurrent and repeated
// calls for one session reach the platform at most once per successful end.
func (t *Terminator) Terminate(ctx context.Context, s *calls.Session, reason string) (Outcome, error) {
	log := logger.Session(t.opts.Log, s.ID, s.RoomName).With("reason", reason)
	if !s.BeginTermination() {
		log.Debug("termination already claimed")
		return OutcomeSkipped, ErrAlreadyTerminated
	}

	if s.Speaking() {
		if !s.WaitPlayout(ctx, t.opts.PlayoutWait) {
			log.Warn("playout did not finish in time; ending call anyway", "wait", t.opts.PlayoutWait)
		}
	}

	err := t.platform.EndCall(ctx, s.RoomName)
	outcome := OutcomeEnded
	switch {
	case errors.Is(err, telephony.ErrRoomNotFound):
		outcome = OutcomeAlreadyEnded
	case err != nil:
		s.FinishTermination(false)
		t.opts.Metrics.Hangup(string(OutcomeFailed))
		log.Error("end call failed", "err", err)
		return OutcomeFailed, err
	}

	s.FinishTermination(true)
	s.MarkEnded(t.opts.Now().UTC(), calls.CallStatusCompleted)
	t.opts.Metrics.Hangup(string(outcome))
	log.Info("call ended", "outcome", string(outcome))

	if t.opts.OnEnded != nil {
		t.opts.OnEnded(s, reason)
	}
	return outcome, nil
}
