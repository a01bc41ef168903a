package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/audit"
	"callflow/internal/calls"
	"callflow/internal/metrics"
	"callflow/internal/telephony"
	"callflow/pkg/logger"
)

// ErrNoRecording is returned when a call has no egress to wait for.
var ErrNoRecording = errors.New("egress: call has no recording")

type Result string

const (
	ResultComplete Result = "complete"
	ResultNoFiles  Result = "no_files"
	ResultFailed   Result = "failed"
	ResultPending  Result = "pending"
)

// Outcome is what AwaitCompletion observed. Only ResultComplete carries an
// uploadable File.
type Outcome struct {
	Result Result
	Job    Job
	File   File
}

func (o Outcome) Uploadable() bool { return o.Result == ResultComplete }

type TrackerOptions struct {
	// OutputDir is the recordings directory as the recorder sees it.
	OutputDir string
	AudioOnly bool

	Log     *slog.Logger
	Audit   *audit.Service
	Metrics *metrics.Metrics

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Tracker starts recordings and observes them until they are terminal.
// Transitions are driven by the platform; the tracker only records them.
type Tracker struct {
	platform telephony.Platform
	repo     Repository
	opts     TrackerOptions

	// mu serialises load-observe-save so webhook pushes and polls do not
	// overwrite each other.
	mu sync.Mutex
}

func NewTracker(p telephony.Platform, repo Repository, opts TrackerOptions) *Tracker {
	if repo == nil {
		repo = NewMemoryRepo()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "recordings"
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Tracker{platform: p, repo: repo, opts: opts}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TargetPath is where the recorder writes the session's file. The name embeds
// the session key so the directory sweep can match it by filename.
func (t *Tracker) TargetPath(s *calls.Session) string {
	k := artifact.Key{
		CampaignID:   s.Identity.CampaignID,
		VoiceAgentID: s.Identity.VoiceAgentID,
		SessionID:    s.ID,
	}
	name := artifact.RecordingPrefix + artifact.SanitizeID(s.ID) + artifact.RecordingExt
	if k.Complete() {
		name = artifact.RecordingFileName(k)
	}
	return path.Join(t.opts.OutputDir, name)
}

// Start requests a recording of the session's room. Failure leaves the call
// running without a recording; the caller only logs it.
func (t *Tracker) Start(ctx context.Context, s *calls.Session) (string, error) {
	log := logger.Session(t.opts.Log, s.ID, s.RoomName)
	target := t.TargetPath(s)

	res, err := t.platform.StartRecording(ctx, telephony.StartRecordingRequest{
		RoomName:  s.RoomName,
		FilePath:  target,
		AudioOnly: t.opts.AudioOnly,
	})
	if err != nil {
		log.Warn("recording start failed; continuing without recording", "err", err)
		t.opts.Audit.Emit(ctx, s.ID, s.RoomName, audit.EventRecordingFailed, err.Error(), nil)
		return "", fmt.Errorf("egress: start: %w", err)
	}

	s.SetEgressID(res.EgressID)
	status := ParseStatus(res.Status)
	if status == StatusUnknown {
		status = StatusStarting
	}
	job := Job{
		EgressID:   res.EgressID,
		SessionID:  s.ID,
		RoomName:   s.RoomName,
		TargetPath: target,
		Status:     status,
		StartedAt:  t.opts.Now().UTC(),
		UpdatedAt:  t.opts.Now().UTC(),
	}
	if err := t.repo.Save(ctx, job); err != nil {
		log.Warn("egress job save failed", "egress_id", res.EgressID, "err", err)
	}

	log.Info("recording started", "egress_id", res.EgressID, "target", target)
	t.opts.Audit.Emit(ctx, s.ID, s.RoomName, audit.EventRecordingStarted, "", map[string]any{
		"egress_id": res.EgressID,
		"target":    target,
	})
	return res.EgressID, nil
}

// Observe applies a platform report (poll result or webhook) and persists it.
func (t *Tracker) Observe(ctx context.Context, info telephony.RecordingInfo) (Job, error) {
	if info.EgressID == "" {
		return Job{}, errors.New("egress: report without egress id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := t.repo.Get(ctx, info.EgressID)
	if errors.Is(err, ErrNotFound) {
		job = Job{EgressID: info.EgressID, RoomName: info.RoomName}
	} else if err != nil {
		return Job{}, err
	}
	if !job.Observe(info, t.opts.Now()) {
		return job, nil
	}
	if err := t.repo.Save(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Job returns the last stored observation of egressID.
func (t *Tracker) Job(ctx context.Context, egressID string) (Job, error) {
	return t.repo.Get(ctx, egressID)
}

// AwaitCompletion polls up to maxAttempts times, interval apart. It stops on the
// first terminal status, whether polled or already pushed by a webhook. Running
// out of attempts yields ResultPending with a nil error: the directory sweep
// picks the recording up later.
func (t *Tracker) AwaitCompletion(ctx context.Context, egressID string, maxAttempts int, interval time.Duration) (Outcome, error) {
	if egressID == "" {
		return Outcome{Result: ResultPending}, ErrNoRecording
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	log := t.opts.Log.With("egress_id", egressID)

	var last Job
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if job, err := t.repo.Get(ctx, egressID); err == nil {
			last = job
			if job.Status.IsTerminal() {
				return t.finish(ctx, job), nil
			}
		}

		info, err := t.platform.PollRecording(ctx, egressID)
		switch {
		case err != nil:
			log.Debug("egress poll failed", "attempt", attempt, "err", err)
		default:
			job, err := t.Observe(ctx, info)
			if err != nil {
				log.Warn("egress observe failed", "err", err)
			}
			last = job
			if job.Status.IsTerminal() {
				return t.finish(ctx, job), nil
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := t.opts.Sleep(ctx, interval); err != nil {
			t.opts.Metrics.EgressResult(string(ResultPending))
			return Outcome{Result: ResultPending, Job: last}, err
		}
	}

	log.Info("egress not complete after polling", "attempts", maxAttempts, "status", last.Status.String())
	t.opts.Metrics.EgressResult(string(ResultPending))
	return Outcome{Result: ResultPending, Job: last}, nil
}

func (t *Tracker) finish(ctx context.Context, job Job) Outcome {
	out := Outcome{Job: job}
	switch {
	case job.Status != StatusComplete:
		out.Result = ResultFailed
	default:
		f, ok := job.FirstFile()
		if !ok {
			out.Result = ResultNoFiles
			break
		}
		out.Result = ResultComplete
		out.File = f
	}

	log := t.opts.Log.With("egress_id", job.EgressID, "session_id", job.SessionID)
	switch out.Result {
	case ResultComplete:
		log.Info("egress complete", "file", out.File.Filename, "size", out.File.Size)
	case ResultNoFiles:
		log.Warn("egress complete without files; nothing to upload")
	default:
		log.Warn("egress ended without recording", "status", job.Status.String(), "error", job.Error)
	}
	t.opts.Metrics.EgressResult(string(out.Result))
	if job.SessionID != "" {
		t.opts.Audit.Emit(ctx, job.SessionID, job.RoomName, audit.EventRecordingResult, string(out.Result), map[string]any{
			"egress_id": job.EgressID,
			"status":    job.Status.String(),
		})
	}
	return out
}
