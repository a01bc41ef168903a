package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callflow/internal/audit"
	"callflow/internal/calls"
	"callflow/internal/hangup"
	"callflow/internal/metrics"
	"callflow/internal/reconcile"
	"callflow/internal/telephony"
	"callflow/internal/transcript"
	"callflow/pkg/logger"
)

// Recorder starts a call's recording. *egress.Tracker implements it.
type Recorder interface {
	Start(ctx context.Context, s *calls.Session) (string, error)
}

// Reconciler finishes a call after it ends. *reconcile.HotPath implements it.
type Reconciler interface {
	Persist(s *calls.Session) (string, error)
	Reconcile(ctx context.Context, s *calls.Session) (reconcile.HotResult, error)
}

// StartRequest describes a call the conversation worker has accepted.
type StartRequest struct {
	SessionID      string          `json:"session_id"`
	RoomName       string          `json:"room_name" binding:"required"`
	DialedNumber   string          `json:"dialed_number"`
	CallerNumber   string          `json:"caller_number"`
	Direction      calls.Direction `json:"direction"`
	Identity       calls.Identity  `json:"identity"`
	ClosingMessage string          `json:"closing_message"`
}

type Options struct {
	Hangup         hangup.Config
	PlayoutWait    time.Duration
	HotPathTimeout time.Duration

	Log     *slog.Logger
	Audit   *audit.Service
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Orchestrator runs the lifecycle of every live call in this process:
// start → recording → watcher → termination → hot path.
type Orchestrator struct {
	registry   *calls.Registry
	terminator *hangup.Terminator
	recorder   Recorder
	hot        Reconciler
	opts       Options

	// ctx outlives request contexts; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*hangup.Watcher
	// tornDown holds sessions whose teardown is running.
	tornDown  map[string]bool
	teardowns sync.WaitGroup
}

func New(p telephony.Platform, rec Recorder, hot Reconciler, opts Options) *Orchestrator {
	if opts.HotPathTimeout <= 0 {
		opts.HotPathTimeout = 45 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry: calls.NewRegistry(),
		recorder: rec,
		hot:      hot,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]*hangup.Watcher),
		tornDown: make(map[string]bool),
	}
	o.terminator = hangup.NewTerminator(p, hangup.TerminatorOptions{
		PlayoutWait: opts.PlayoutWait,
		OnEnded:     o.onEnded,
		Log:         opts.Log,
		Metrics:     opts.Metrics,
		Now:         opts.Now,
	})
	return o
}

func (o *Orchestrator) Registry() *calls.Registry { return o.registry }

// StartCall registers the session, starts its recording and its hangup watcher.
// A recording that fails to start does not fail the call.
func (o *Orchestrator) StartCall(ctx context.Context, req StartRequest) (*calls.Session, error) {
	if req.RoomName == "" {
		return nil, errors.New("orchestrator: room name is required")
	}
	s := calls.NewSession(calls.Params{
		SessionID:      req.SessionID,
		RoomName:       req.RoomName,
		DialedNumber:   req.DialedNumber,
		CallerNumber:   req.CallerNumber,
		Direction:      req.Direction,
		Identity:       req.Identity,
		ClosingMessage: req.ClosingMessage,
		StartedAt:      o.opts.Now().UTC(),
	})
	if err := o.registry.Add(s); err != nil {
		return nil, err
	}
	o.opts.Metrics.SessionStarted()
	log := logger.Session(logger.From(ctx), s.ID, s.RoomName)

	if o.recorder != nil {
		if _, err := o.recorder.Start(ctx, s); err != nil {
			log.Warn("recording not started; call continues without it", "err", err)
		}
	}

	w := hangup.NewWatcher(s, o.terminator, o.opts.Hangup, hangup.Options{
		Log:     o.opts.Log,
		Audit:   o.opts.Audit,
		Metrics: o.opts.Metrics,
		Clock:   o.opts.Now,
	})
	o.mu.Lock()
	o.watchers[s.ID] = w
	o.mu.Unlock()
	w.Start(o.ctx)

	log.Info("call started", "direction", string(s.Direction))
	return s, nil
}

func (o *Orchestrator) Session(id string) (*calls.Session, error) {
	return o.registry.Get(id)
}

// AppendEvents adds conversation items to the session's transcript. The
// watcher picks them up on its next poll.
func (o *Orchestrator) AppendEvents(sessionID string, events []transcript.Event) ([]transcript.Event, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	stored := make([]transcript.Event, 0, len(events))
	for _, e := range events {
		stored = append(stored, s.Transcript.Append(e))
	}
	return stored, nil
}

func (o *Orchestrator) SetLead(sessionID string, lead map[string]any) error {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}
	s.SetLead(lead)
	return nil
}

// SetPlayout tracks assistant audio so a hangup waits for the utterance to finish.
func (o *Orchestrator) SetPlayout(sessionID string, speaking bool) error {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if speaking {
		s.BeginUtterance()
	} else {
		s.EndUtterance()
	}
	return nil
}

// EndConversation is the agent's end-of-conversation tool.
func (o *Orchestrator) EndConversation(ctx context.Context, sessionID, reason string) (hangup.Outcome, error) {
	o.mu.Lock()
	w, ok := o.watchers[sessionID]
	o.mu.Unlock()
	if !ok {
		return hangup.OutcomeSkipped, calls.ErrSessionNotFound
	}
	return w.EndConversation(ctx, reason)
}

// RoomFinished handles the platform reporting that a room is gone without us
// ending it, e.g. the caller hung up.
func (o *Orchestrator) RoomFinished(_ context.Context, roomName string) error {
	s, err := o.registry.FindByRoom(roomName)
	if errors.Is(err, calls.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.BeginTermination() {
		return nil
	}
	s.FinishTermination(true)
	s.MarkEnded(o.opts.Now().UTC(), calls.CallStatusCompleted)
	o.opts.Metrics.Hangup(string(hangup.OutcomeAlreadyEnded))
	o.onEnded(s, "room_finished")
	return nil
}

func (o *Orchestrator) onEnded(s *calls.Session, reason string) {
	o.mu.Lock()
	if o.tornDown[s.ID] {
		o.mu.Unlock()
		return
	}
	o.tornDown[s.ID] = true
	o.mu.Unlock()

	o.teardowns.Add(1)
	go func() {
		defer o.teardowns.Done()
		o.teardown(s, reason)
	}()
}

// teardown runs once per session in its own goroutine: the terminator may call
// onEnded from a hangup timer owned by the watcher being stopped.
func (o *Orchestrator) teardown(s *calls.Session, reason string) {
	log := logger.Session(o.opts.Log, s.ID, s.RoomName).With("reason", reason)

	o.mu.Lock()
	w := o.watchers[s.ID]
	delete(o.watchers, s.ID)
	o.mu.Unlock()
	if w != nil {
		w.Stop()
	}

	if o.hot != nil {
		ctx, cancel := context.WithTimeout(o.ctx, o.opts.HotPathTimeout)
		res, err := o.hot.Reconcile(ctx, s)
		cancel()
		if err != nil {
			log.Warn("hot path did not complete", "result", string(res), "err", err)
		} else {
			log.Info("hot path finished", "result", string(res))
		}
	}

	// The session leaves the registry and the teardown set together, so Shutdown
	// never sees a finished call as live.
	o.mu.Lock()
	o.registry.Remove(s.ID)
	delete(o.tornDown, s.ID)
	o.mu.Unlock()
	o.opts.Metrics.SessionEnded()
}

// Shutdown hands every live call to durable state and waits for running
// teardowns. Pending recordings are not awaited; the directory sweep finishes them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	var errs []error
	for _, s := range o.registry.List() {
		o.mu.Lock()
		w := o.watchers[s.ID]
		delete(o.watchers, s.ID)
		_, err := o.registry.Get(s.ID)
		skip := o.tornDown[s.ID] || err != nil
		o.mu.Unlock()
		if w != nil {
			w.Stop()
		}
		if skip || o.hot == nil {
			continue
		}
		if _, err := o.hot.Persist(s); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: persist %s: %w", s.ID, err))
			continue
		}
		o.opts.Log.Info("live call persisted for the directory sweep", "session_id", s.ID)
	}

	done := make(chan struct{})
	go func() {
		o.teardowns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
