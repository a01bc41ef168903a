// Command reconcile sweeps the conversations directory once and uploads every
// call the live agent did not finish. It exits 0 when everything uploaded, 1
// when some artifacts failed and 2 when it could not run at all.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"callflow/internal/artifact"
	"callflow/internal/config"
	"callflow/internal/crm"
	"callflow/internal/reconcile"
	"callflow/pkg/logger"
	"callflow/pkg/utils"
)

const (
	exitOK       = 0
	exitFailures = 1
	exitError    = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type flags struct {
	dryRun           bool
	batchSize        int
	runs             int
	verbose          bool
	conversationsDir string
	recordingsDir    string
	leadsDir         string
	processedDir     string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&f.dryRun, "dry-run", false, "log what would be uploaded without calling the CRM")
	fs.IntVar(&f.batchSize, "batch-size", 0, "artifacts per run (default RECONCILE_BATCH_SIZE)")
	fs.IntVar(&f.runs, "runs", 0, "maximum number of batches (default RECONCILE_MAX_RUNS)")
	fs.BoolVar(&f.verbose, "verbose", false, "debug logging")
	fs.StringVar(&f.conversationsDir, "conversations-dir", "", "override CONVERSATIONS_DIR")
	fs.StringVar(&f.recordingsDir, "recordings-dir", "", "override RECORDINGS_DIR")
	fs.StringVar(&f.leadsDir, "leads-dir", "", "override LEADS_DIR")
	fs.StringVar(&f.processedDir, "processed-dir", "", "override PROCESSED_DIR")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.batchSize < 0 || f.runs < 0 {
		return flags{}, fmt.Errorf("batch-size and runs must not be negative")
	}
	return f, nil
}

// apply layers command-line overrides over the environment.
func (f flags) apply(cfg *config.Config) {
	if f.batchSize > 0 {
		cfg.Reconcile.BatchSize = f.batchSize
	}
	if f.runs > 0 {
		cfg.Reconcile.MaxRuns = f.runs
	}
	if f.conversationsDir != "" {
		cfg.Paths.ConversationsDir = f.conversationsDir
	}
	if f.recordingsDir != "" {
		cfg.Paths.RecordingsDir = f.recordingsDir
	}
	if f.leadsDir != "" {
		cfg.Paths.LeadsDir = f.leadsDir
	}
	if f.processedDir != "" {
		cfg.Paths.ProcessedDir = f.processedDir
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return exitError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitError
	}
	f.apply(&cfg)

	log := logger.New(cfg.App.Env, f.verbose)
	slog.SetDefault(log)

	crmClient, err := crm.NewClient(crm.Options{
		BaseURL:        cfg.CRM.BaseURL,
		RequestTimeout: cfg.CRM.RequestTimeout,
		UploadTimeout:  cfg.CRM.UploadTimeout,
	})
	if err != nil {
		log.Error("crm client", "err", err)
		return exitError
	}

	// Without Redis the sweep trusts that no other reconciler runs on these directories.
	var lease reconcile.Lease = reconcile.NoLease{}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis unavailable", "err", err)
			return exitError
		}
		defer rdb.Close()
		lease = reconcile.NewRedisLease(rdb)
	}

	scanner := reconcile.NewScanner(crmClient, reconcile.ScannerOptions{
		ConversationsDir:  cfg.Paths.ConversationsDir,
		RecordingsDir:     cfg.Paths.RecordingsDir,
		LeadsDir:          cfg.Paths.LeadsDir,
		Markers:           artifact.NewMarkerStore(cfg.Paths.ProcessedDir),
		BatchSize:         cfg.Reconcile.BatchSize,
		MaxRuns:           cfg.Reconcile.MaxRuns,
		DryRun:            f.dryRun,
		DeleteAfterUpload: cfg.Reconcile.DeleteAfterUpload,
		Lease:             lease,
		LeaseTTL:          cfg.Reconcile.LeaseTTL,
		RecordingGrace:    cfg.Reconcile.RecordingGrace,
		Defaults: reconcile.Defaults{
			CampaignID:   cfg.Defaults.CampaignID,
			VoiceAgentID: cfg.Defaults.VoiceAgentID,
			ClientID:     cfg.Defaults.ClientID,
		},
		Log: log,
	})

	stats, err := scanner.Run(ctx)
	if err != nil {
		log.Error("reconcile failed", "err", err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)

	if stats.HasFailures() {
		return exitFailures
	}
	return exitOK
}
