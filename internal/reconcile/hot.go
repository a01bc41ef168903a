package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/audit"
	"callflow/internal/calls"
	"callflow/internal/crm"
	"callflow/internal/egress"
	"callflow/internal/metrics"
	"callflow/pkg/logger"
)

// Awaiter waits for a recording to become terminal. *egress.Tracker implements it.
type Awaiter interface {
	AwaitCompletion(ctx context.Context, egressID string, maxAttempts int, interval time.Duration) (egress.Outcome, error)
}

type HotResult string

const (
	HotUploaded         HotResult = "uploaded"
	HotHandedOff        HotResult = "handed_off"
	HotAlreadyProcessed HotResult = "already_processed"
	HotLocked           HotResult = "locked"
	HotFailed           HotResult = "failed"
)

type HotPathOptions struct {
	ConversationsDir string
	LeadsDir         string
	RecordingsDir    string
	Markers          *artifact.MarkerStore

	Lease    Lease
	LeaseTTL time.Duration

	EgressAttempts int
	EgressInterval time.Duration

	DeleteAfterUpload bool

	Log     *slog.Logger
	Audit   *audit.Service
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// HotPath reconciles a call right after it ends, inside the agent process.
// Whatever it cannot finish is left on disk for the directory sweep.
type HotPath struct {
	egress Awaiter
	up     uploader
	opts   HotPathOptions
}

func NewHotPath(a Awaiter, c CRM, opts HotPathOptions) *HotPath {
	if opts.Lease == nil {
		opts.Lease = NoLease{}
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.Markers == nil {
		opts.Markers = artifact.NewMarkerStore("processed_uploads")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HotPath{
		egress: a,
		up:     uploader{crm: c, log: opts.Log, metrics: opts.Metrics, path: "hot"},
		opts:   opts,
	}
}

// Persist writes the session's conversation dump (and lead file, if any) and
// returns the dump's path. Once it returns, the directory sweep can finish the
// call without this process.
func (h *HotPath) Persist(s *calls.Session) (string, error) {
	conv := ConversationFromSession(s, h.opts.Now().UTC())
	if err := os.MkdirAll(h.opts.ConversationsDir, 0o755); err != nil {
		return "", fmt.Errorf("reconcile: create conversations dir: %w", err)
	}
	path, err := artifact.WriteConversation(h.opts.ConversationsDir, conv)
	if err != nil {
		return "", fmt.Errorf("reconcile: write conversation: %w", err)
	}

	if lead := s.Lead(); len(lead) > 0 && h.opts.LeadsDir != "" {
		l := artifact.Lead{Fields: lead, Metadata: conv.Metadata.CampaignMetadata}
		if err := os.MkdirAll(h.opts.LeadsDir, 0o755); err == nil {
			if _, err := artifact.WriteLead(h.opts.LeadsDir, l); err != nil {
				h.opts.Log.Warn("lead file not written", "session_id", s.ID, "err", err)
			}
		}
	}
	return path, nil
}

// Reconcile persists the call, waits (bounded) for its recording and uploads
// everything once. ctx bounds the whole attempt.
func (h *HotPath) Reconcile(ctx context.Context, s *calls.Session) (HotResult, error) {
	log := logger.Session(h.opts.Log, s.ID, s.RoomName)

	convPath, err := h.Persist(s)
	if err != nil {
		log.Error("conversation not persisted; call cannot be reconciled later", "err", err)
		return HotFailed, err
	}
	name := filepath.Base(convPath)
	log = log.With("artifact", name)

	release, ok, err := h.opts.Lease.Acquire(ctx, LeaseKey(name), h.opts.LeaseTTL)
	if err != nil {
		log.Warn("lease unavailable; handing off", "err", err)
		h.handOff(ctx, s, "lease unavailable")
		return HotHandedOff, nil
	}
	if !ok {
		log.Info("artifact locked by another reconciler")
		return HotLocked, nil
	}
	defer release()

	done, err := h.opts.Markers.Exists(name)
	if err != nil {
		return HotFailed, err
	}
	if done {
		return HotAlreadyProcessed, nil
	}

	conv, err := artifact.ReadConversation(convPath)
	if err != nil {
		return HotFailed, err
	}

	opts := crm.BuildOptions{
		CallerPhone: callerPhone(conv),
		Lead:        s.Lead(),
		Now:         h.opts.Now,
	}

	var (
		recordingPath string
		egressResult  string
	)
	if egressID := s.EgressID(); egressID != "" {
		out, err := h.egress.AwaitCompletion(ctx, egressID, h.opts.EgressAttempts, h.opts.EgressInterval)
		egressResult = string(out.Result)
		if out.Result == egress.ResultPending {
			log.Info("recording not ready; handing off to directory sweep", "egress_id", egressID, "err", err)
			h.handOff(ctx, s, "recording pending")
			return HotHandedOff, nil
		}
		if out.Uploadable() {
			p := filepath.Join(h.opts.RecordingsDir, out.File.LocalName())
			if _, statErr := os.Stat(p); statErr == nil {
				recordingPath = p
				opts.RecordingDuration = out.File.Duration
			} else {
				log.Warn("completed recording not found locally", "file", p, "err", statErr)
			}
		}
	}

	res, err := h.up.upload(ctx, conv, recordingPath, opts)
	res.EgressResult = egressResult
	if err != nil {
		log.Error("hot path upload failed; directory sweep will retry", "err", err)
		h.opts.Audit.Emit(ctx, s.ID, s.RoomName, audit.EventUploadFailed, err.Error(), map[string]any{"path": "hot"})
		return HotFailed, err
	}

	if err := h.opts.Markers.Write(name, artifact.Marker{OriginalPath: convPath, UploadResult: res}); err != nil {
		log.Error("marker not written; artifact may be uploaded again", "err", err)
	}
	h.opts.Audit.Emit(ctx, s.ID, s.RoomName, audit.EventUploadSucceeded, res.CallID, map[string]any{
		"path":      "hot",
		"recording": res.Recording != nil,
	})

	if res.Recording != nil && h.opts.DeleteAfterUpload {
		if err := os.Remove(recordingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("local recording not deleted", "file", recordingPath, "err", err)
		}
	}
	return HotUploaded, nil
}

func (h *HotPath) handOff(ctx context.Context, s *calls.Session, reason string) {
	h.opts.Audit.Emit(context.WithoutCancel(ctx), s.ID, s.RoomName, audit.EventHandedOff, reason, nil)
}
