package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/crm"
	"callflow/internal/metrics"
)

var ErrScanInProgress = errors.New("reconcile: scan already in progress")

// Defaults fill identity fields for dumps that carry none.
type Defaults struct {
	CampaignID   string
	VoiceAgentID string
	ClientID     string
}

type ScannerOptions struct {
	ConversationsDir string
	RecordingsDir    string
	LeadsDir         string
	Markers          *artifact.MarkerStore

	// BatchSize artifacts are processed per run, for at most MaxRuns runs.
	BatchSize int
	MaxRuns   int

	// DryRun logs what would be uploaded and makes no network calls or markers.
	DryRun            bool
	DeleteAfterUpload bool

	Lease    Lease
	LeaseTTL time.Duration

	// RecordingGrace defers dumps whose recording is still being written.
	RecordingGrace time.Duration

	Defaults Defaults

	Log     *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Stats are the counters of one Scanner.Run.
type Stats struct {
	Scanned            int  `json:"scanned"`
	Processed          int  `json:"processed"`
	Uploaded           int  `json:"uploaded"`
	RecordingsUploaded int  `json:"recordingsUploaded"`
	LeadsMerged        int  `json:"leadsMerged"`
	Failed             int  `json:"failed"`
	Skipped            int  `json:"skipped"`
	AlreadyProcessed   int  `json:"alreadyProcessed"`
	Locked             int  `json:"locked"`
	Deferred           int  `json:"deferred"`
	DryRun             bool `json:"dryRun"`
}

// HasFailures reports whether any upload failed; the CLI exits non-zero on it.
func (s Stats) HasFailures() bool { return s.Failed > 0 }

// Scanner is the directory sweep. It needs nothing but the files on disk, so
// it finishes calls whose agent process is gone.
type Scanner struct {
	up    uploader
	match matcher
	opts  ScannerOptions

	running sync.Mutex
}

func NewScanner(c CRM, opts ScannerOptions) *Scanner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = 1
	}
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
	return &Scanner{
		up:    uploader{crm: c, log: opts.Log, metrics: opts.Metrics, path: "cold"},
		match: matcher{recordingsDir: opts.RecordingsDir, leadsDir: opts.LeadsDir, log: opts.Log},
		opts:  opts,
	}
}

type candidate struct {
	path    string
	modTime time.Time
}

// Run sweeps the conversations directory once. Per-artifact failures are
// counted, never returned; the error is reserved for an unreadable directory,
// a cancelled context or an overlapping run.
func (s *Scanner) Run(ctx context.Context) (Stats, error) {
	return s.run(ctx, s.opts.DryRun)
}

// RunDry sweeps once without network calls or markers, whatever DryRun says.
func (s *Scanner) RunDry(ctx context.Context) (Stats, error) {
	return s.run(ctx, true)
}

func (s *Scanner) run(ctx context.Context, dryRun bool) (Stats, error) {
	if !s.running.TryLock() {
		return Stats{}, ErrScanInProgress
	}
	defer s.running.Unlock()

	started := s.opts.Now()
	st := Stats{DryRun: dryRun}
	defer func() { s.opts.Metrics.ReconcileRun(s.opts.Now().Sub(started)) }()

	pending, err := s.pending(&st)
	if err != nil {
		return st, err
	}

	for run := 0; run < s.opts.MaxRuns; run++ {
		lo := run * s.opts.BatchSize
		if lo >= len(pending) {
			break
		}
		hi := min(lo+s.opts.BatchSize, len(pending))
		for _, c := range pending[lo:hi] {
			if err := ctx.Err(); err != nil {
				s.logStats(st)
				return st, err
			}
			s.process(ctx, c, &st)
		}
	}

	s.logStats(st)
	return st, nil
}

// Loop runs the sweep immediately and then every interval until ctx ends.
func (s *Scanner) Loop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrScanInProgress) && ctx.Err() == nil {
			s.opts.Log.Error("reconcile sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// pending lists unmarked dumps, oldest first.
func (s *Scanner) pending(st *Stats) ([]candidate, error) {
	if _, err := os.Stat(s.opts.ConversationsDir); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.opts.ConversationsDir, artifact.ConversationGlob))
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(paths))
	for _, p := range paths {
		st.Scanned++
		done, err := s.opts.Markers.Exists(filepath.Base(p))
		if err == nil && done {
			st.AlreadyProcessed++
			s.opts.Metrics.ReconcileArtifact("already_processed")
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		out = append(out, candidate{path: p, modTime: fi.ModTime()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })
	return out, nil
}

func (s *Scanner) process(ctx context.Context, c candidate, st *Stats) {
	name := filepath.Base(c.path)
	log := s.opts.Log.With("artifact", name)
	result := func(r string) { s.opts.Metrics.ReconcileArtifact(r) }

	release, ok, err := s.opts.Lease.Acquire(ctx, LeaseKey(name), s.opts.LeaseTTL)
	if err != nil {
		log.Warn("lease unavailable; will retry next sweep", "err", err)
		st.Failed++
		result("failed")
		return
	}
	if !ok {
		log.Info("artifact locked by another reconciler")
		st.Locked++
		result("locked")
		return
	}
	defer release()

	done, err := s.opts.Markers.Exists(name)
	if err != nil {
		log.Error("marker check failed", "err", err)
		st.Failed++
		result("failed")
		return
	}
	if done {
		st.AlreadyProcessed++
		result("already_processed")
		return
	}

	conv, err := artifact.ReadConversation(c.path)
	if err != nil {
		if errors.Is(err, artifact.ErrInvalidArtifact) {
			log.Warn("skipping malformed conversation", "err", err)
			st.Skipped++
			result("skipped")
			return
		}
		log.Error("conversation unreadable", "err", err)
		st.Failed++
		result("failed")
		return
	}
	s.fillIdentity(name, &conv)
	log = log.With("session_id", conv.SessionID)

	if _, err := crm.BuildCallData(conv, crm.BuildOptions{Now: s.opts.Now}); errors.Is(err, crm.ErrMissingIdentity) {
		log.Warn("skipping conversation without campaign identity")
		st.Skipped++
		result("skipped")
		return
	}

	rec := s.match.recording(name, conv)
	if rec.vetoed {
		log.Info("no usable recording for this egress; uploading call data only",
			"egress_id", conv.Metadata.CampaignMetadata.EgressID,
			"reason", rec.via,
		)
	}
	if rec.path == "" && rec.unsettled && s.opts.Now().Sub(c.modTime) < s.opts.RecordingGrace {
		log.Info("recording not settled yet; deferring", "egress_id", conv.Metadata.CampaignMetadata.EgressID)
		st.Deferred++
		result("deferred")
		return
	}

	opts := crm.BuildOptions{CallerPhone: callerPhone(conv), Now: s.opts.Now}
	lead, leadPath, haveLead := s.match.lead(name, conv)
	if haveLead && len(lead.Fields) > 0 {
		opts.Lead = lead.Fields
	}

	if st.DryRun {
		log.Info("dry run: would upload",
			"recording", rec.path,
			"recording_match", rec.via,
			"lead", leadPath,
		)
		st.Processed++
		result("dry_run")
		return
	}

	res, err := s.up.upload(ctx, conv, rec.path, opts)
	if errors.Is(err, crm.ErrMissingIdentity) {
		st.Skipped++
		result("skipped")
		return
	}
	st.Processed++
	if err != nil {
		log.Error("upload failed; will retry next sweep", "err", err)
		st.Failed++
		result("failed")
		return
	}

	if err := s.opts.Markers.Write(name, artifact.Marker{
		UploadedAt:   s.opts.Now().UTC(),
		OriginalPath: c.path,
		UploadResult: res,
	}); err != nil {
		log.Error("marker not written; artifact may be uploaded again", "err", err)
	}
	st.Uploaded++
	result("uploaded")
	if res.Recording != nil {
		st.RecordingsUploaded++
		if s.opts.DeleteAfterUpload {
			if err := os.Remove(rec.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("local recording not deleted", "file", rec.path, "err", err)
			}
		}
	}
	if res.LeadMerged {
		st.LeadsMerged++
	}
}

// fillIdentity completes the dump's identity from its file name and then from
// configured defaults. Values already in the dump win.
func (s *Scanner) fillIdentity(name string, conv *artifact.Conversation) {
	m := &conv.Metadata.CampaignMetadata
	if k, ok := artifact.ParseKey(name); ok {
		if m.CampaignID == "" {
			m.CampaignID = k.CampaignID
		}
		if m.VoiceAgentID == "" {
			m.VoiceAgentID = k.VoiceAgentID
		}
	}
	if m.CampaignID == "" {
		m.CampaignID = s.opts.Defaults.CampaignID
	}
	if m.VoiceAgentID == "" {
		m.VoiceAgentID = s.opts.Defaults.VoiceAgentID
	}
	if m.ClientID == "" {
		m.ClientID = s.opts.Defaults.ClientID
	}
	if m.SessionID == "" {
		m.SessionID = conv.SessionID
	}
}

func (s *Scanner) logStats(st Stats) {
	s.opts.Log.Info("reconcile sweep finished",
		"scanned", st.Scanned,
		"processed", st.Processed,
		"uploaded", st.Uploaded,
		"recordings_uploaded", st.RecordingsUploaded,
		"leads_merged", st.LeadsMerged,
		"failed", st.Failed,
		"skipped", st.Skipped,
		"already_processed", st.AlreadyProcessed,
		"locked", st.Locked,
		"deferred", st.Deferred,
		"dry_run", st.DryRun,
	)
}
