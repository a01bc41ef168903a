package hangup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callflow/internal/audit"
	"callflow/internal/calls"
	"callflow/internal/metrics"
	"callflow/internal/transcript"
	"callflow/pkg/logger"

	"github.com/google/uuid"
)

const (
	TriggerPhrase  = "user_phrase"
	TriggerClosing = "closing_message"
)

type Config struct {
	Phrases      []string
	ClosingWait  time.Duration
	PhraseWait   time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClosingWait <= 0 {
		c.ClosingWait = 4 * time.Second
	}
	if c.PhraseWait <= 0 {
		c.PhraseWait = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	phrases := make([]string, 0, len(c.Phrases))
	for _, p := range c.Phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	c.Phrases = phrases
	return c
}

type Options struct {
	Log     *slog.Logger
	Audit   *audit.Service
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Watcher follows one session's transcript and ends the call when the caller
// asks to hang up or the agent has spoken its closing message.
//
// Invariants:
// - Each ItemID is handled once.
// - The session holds at most one pending hangup.
// - A pending hangup fires only if no caller speech arrived after its decision.
type Watcher struct {
	session *calls.Session
	ender   Ender
	cfg     Config
	log     *slog.Logger
	audit   *audit.Service
	metrics *metrics.Metrics
	clock   func() time.Time

	// pollMu serialises transcript reads between the poll loop and a firing timer.
	pollMu sync.Mutex
	seen   map[string]struct{}
	offset int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  sync.Once
}

func NewWatcher(s *calls.Session, ender Ender, cfg Config, opts Options) *Watcher {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Watcher{
		session: s,
		ender:   ender,
		cfg:     cfg.withDefaults(),
		log:     logger.Session(opts.Log, s.ID, s.RoomName),
		audit:   opts.Audit,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		seen:    make(map[string]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the watcher in its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.started.Do(func() {
		go func() { _ = w.Run(ctx) }()
	})
}

// Stop ends the poll loop, cancels any pending hangup and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	started := true
	w.started.Do(func() { started = false })
	if started {
		<-w.done
	} else {
		w.session.CancelPending()
	}
}

// Run polls the transcript until ctx ends or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.session.CancelPending()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.Poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Poll handles every event appended since the last poll.
func (w *Watcher) Poll(ctx context.Context) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	w.poll(ctx)
}

func (w *Watcher) poll(ctx context.Context) {
	events, next := w.session.Transcript.Since(w.offset)
	w.offset = next
	for _, e := range events {
		if _, ok := w.seen[e.ItemID]; ok {
			continue
		}
		w.seen[e.ItemID] = struct{}{}
		w.handleSafe(ctx, e)
	}
}

func (w *Watcher) handleSafe(ctx context.Context, e transcript.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("transcript event handling panicked; event skipped", "item_id", e.ItemID, "panic", fmt.Sprint(r))
		}
	}()
	w.handle(ctx, e)
}

func (w *Watcher) handle(ctx context.Context, e transcript.Event) {
	switch {
	case e.IsUser():
		w.session.MarkUserActivity(w.clock())
		if p, ok := w.session.CancelPending(); ok {
			w.log.Info("pending hangup cancelled by caller speech", "hangup_id", p.ID, "trigger", p.Trigger)
			w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangupCancelled, "caller spoke", map[string]any{
				"hangup_id": p.ID,
				"trigger":   p.Trigger,
			})
		}
		if phrase := w.matchPhrase(e.Content); phrase != "" {
			w.schedule(ctx, TriggerPhrase, w.cfg.PhraseWait, phrase)
		}

	case e.IsAgent():
		if matchesClosing(w.session.ClosingMessage(), e.Content) {
			w.schedule(ctx, TriggerClosing, w.cfg.ClosingWait, "")
		}
	}
}

func (w *Watcher) matchPhrase(content string) string {
	text := strings.ToLower(content)
	for _, p := range w.cfg.Phrases {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

// matchesClosing reports whether content and the closing message contain one another.
func matchesClosing(closing, content string) bool {
	closing = strings.ToLower(strings.TrimSpace(closing))
	content = strings.ToLower(strings.TrimSpace(content))
	if closing == "" || content == "" {
		return false
	}
	return strings.Contains(content, closing) || strings.Contains(closing, content)
}

func (w *Watcher) schedule(ctx context.Context, trigger string, delay time.Duration, phrase string) {
	id := uuid.NewString()
	decisionAt := w.clock()

	installed := make(chan struct{})
	fireCtx := context.WithoutCancel(ctx)
	timer := time.AfterFunc(delay, func() {
		<-installed
		w.fire(fireCtx, id)
	})

	p := calls.NewPendingHangup(id, trigger, decisionAt, delay, timer.Stop)
	if prev, replaced := w.session.ReplacePending(p); replaced {
		w.log.Debug("pending hangup replaced", "previous_id", prev.ID)
	}
	close(installed)

	w.metrics.HangupScheduled(trigger)
	w.log.Info("hangup scheduled", "type", string(audit.EventHangupScheduled), "hangup_id", id, "trigger", trigger, "delay", delay)
	meta := map[string]any{
		"hangup_id": id,
		"trigger":   trigger,
		"delay_ms":  delay.Milliseconds(),
	}
	if phrase != "" {
		meta["phrase"] = phrase
	}
	w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangupScheduled, trigger, meta)
}

func (w *Watcher) fire(ctx context.Context, id string) {
	// Caller speech stored since the last poll must cancel this hangup too.
	w.catchUp(ctx)

	p, res := w.session.ClaimPending(id)
	switch res {
	case calls.ClaimSuperseded:
		return
	case calls.ClaimUserActive:
		w.log.Info("hangup skipped; caller spoke after decision", "hangup_id", id)
		w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangupCancelled, "caller spoke after decision", map[string]any{
			"hangup_id": id,
			"trigger":   p.Trigger,
		})
		return
	}

	outcome, err := w.ender.Terminate(ctx, w.session, "auto_hangup:"+p.Trigger)
	switch {
	case errors.Is(err, ErrAlreadyTerminated):
		w.log.Debug("hangup skipped; call already terminating", "hangup_id", id)
	case err != nil:
		w.log.Error("auto hangup failed", "type", string(audit.EventHangupFailed), "hangup_id", id, "err", err)
		w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangupFailed, err.Error(), map[string]any{
			"hangup_id": id,
			"trigger":   p.Trigger,
		})
	default:
		w.log.Info("auto hangup", "type", string(audit.EventHangup), "hangup_id", id, "outcome", string(outcome))
		w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangup, string(outcome), map[string]any{
			"hangup_id": id,
			"trigger":   p.Trigger,
		})
	}
}

// catchUp handles events the poll loop has not reached yet. A stopped watcher
// reads nothing more.
func (w *Watcher) catchUp(ctx context.Context) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	select {
	case <-w.stop:
		return
	default:
	}
	w.poll(ctx)
}

// EndConversation ends the call immediately on the agent's end-of-conversation
// signal, bypassing any timer.
func (w *Watcher) EndConversation(ctx context.Context, reason string) (Outcome, error) {
	w.session.CancelPending()
	w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventEndCallRequested, reason, nil)

	outcome, err := w.ender.Terminate(ctx, w.session, "end_conversation:"+reason)
	if err != nil && !errors.Is(err, ErrAlreadyTerminated) {
		w.audit.Emit(ctx, w.session.ID, w.session.RoomName, audit.EventHangupFailed, err.Error(), map[string]any{
			"trigger": "end_conversation",
		})
	}
	return outcome, err
}
