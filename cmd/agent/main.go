package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow/internal/artifact"
	"callflow/internal/audit"
	"callflow/internal/auth"
	"callflow/internal/config"
	"callflow/internal/crm"
	"callflow/internal/egress"
	"callflow/internal/hangup"
	"callflow/internal/httpapi"
	"callflow/internal/metrics"
	"callflow/internal/orchestrator"
	"callflow/internal/reconcile"
	"callflow/internal/telephony"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAgent()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, false)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("agent stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cl closers
	defer cl.closeAll(log)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := openPostgres(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	rdb, err := openRedis(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	events := audit.NewService(auditSinks(cfg, log, &cl), log)

	platform, err := telephony.NewLiveKitClient(telephony.LiveKitOptions{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		Timeout:   cfg.LiveKit.RequestTimeout,
	})
	if err != nil {
		return err
	}

	crmClient, err := crm.NewClient(crm.Options{
		BaseURL:        cfg.CRM.BaseURL,
		RequestTimeout: cfg.CRM.RequestTimeout,
		UploadTimeout:  cfg.CRM.UploadTimeout,
	})
	if err != nil {
		return err
	}

	tracker := egress.NewTracker(platform, egressRepo(db, cfg), egress.TrackerOptions{
		OutputDir: cfg.Egress.OutputDir,
		AudioOnly: true,
		Log:       log,
		Audit:     events,
		Metrics:   m,
	})

	markers := artifact.NewMarkerStore(cfg.Paths.ProcessedDir)
	leases := lease(rdb)

	hot := reconcile.NewHotPath(tracker, crmClient, reconcile.HotPathOptions{
		ConversationsDir:  cfg.Paths.ConversationsDir,
		LeadsDir:          cfg.Paths.LeadsDir,
		RecordingsDir:     cfg.Paths.RecordingsDir,
		Markers:           markers,
		Lease:             leases,
		LeaseTTL:          cfg.Reconcile.LeaseTTL,
		EgressAttempts:    cfg.Egress.MaxAttempts,
		EgressInterval:    cfg.Egress.PollInterval,
		DeleteAfterUpload: cfg.Reconcile.DeleteAfterUpload,
		Log:               log,
		Audit:             events,
		Metrics:           m,
	})

	sweep := reconcile.NewScanner(crmClient, reconcile.ScannerOptions{
		ConversationsDir:  cfg.Paths.ConversationsDir,
		RecordingsDir:     cfg.Paths.RecordingsDir,
		LeadsDir:          cfg.Paths.LeadsDir,
		Markers:           markers,
		BatchSize:         cfg.Reconcile.BatchSize,
		MaxRuns:           cfg.Reconcile.MaxRuns,
		DeleteAfterUpload: cfg.Reconcile.DeleteAfterUpload,
		Lease:             leases,
		LeaseTTL:          cfg.Reconcile.LeaseTTL,
		RecordingGrace:    cfg.Reconcile.RecordingGrace,
		Defaults: reconcile.Defaults{
			CampaignID:   cfg.Defaults.CampaignID,
			VoiceAgentID: cfg.Defaults.VoiceAgentID,
			ClientID:     cfg.Defaults.ClientID,
		},
		Log:     log,
		Metrics: m,
	})

	calls := orchestrator.New(platform, tracker, hot, orchestrator.Options{
		Hangup: hangup.Config{
			Phrases:      cfg.Hangup.Phrases,
			ClosingWait:  cfg.Hangup.ClosingWait,
			PhraseWait:   cfg.Hangup.PhraseWait,
			PollInterval: cfg.Hangup.PollInterval,
		},
		PlayoutWait:    cfg.Hangup.PlayoutWait,
		HotPathTimeout: cfg.Reconcile.HotPathTimeout,
		Log:            log,
		Audit:          events,
		Metrics:        m,
	})

	webhook := telephony.WebhookHandler{
		Verifier: telephony.NewWebhookVerifier(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		OnRecording: func(ctx context.Context, info telephony.RecordingInfo) error {
			_, err := tracker.Observe(ctx, info)
			return err
		},
		OnRoomFinished: calls.RoomFinished,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	registerRoutes(r,
		httpapi.Handlers{Calls: calls, Sweep: sweep},
		authManager,
		webhook,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("agent listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			log.Info("in-process directory sweep enabled", "interval", cfg.Reconcile.Interval)
			return sweep.Loop(gctx, cfg.Reconcile.Interval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := calls.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
