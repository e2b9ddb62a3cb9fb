package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"episoded/internal/aria2"
	"episoded/internal/config"
	"episoded/internal/feed"
	apphttp "episoded/internal/http"
	"episoded/internal/ingest"
	"episoded/internal/notify"
	"episoded/internal/orchestrator"
	"episoded/internal/postprocess"
	"episoded/internal/repository/sqlite"
	"episoded/internal/service"
	"episoded/internal/storage"
)

// app holds the wired components shared by the run and once commands.
type app struct {
	cfg      config.Config
	logger   *logrus.Logger
	episodes service.EpisodeService
	orch     *orchestrator.Orchestrator
	gate     *ingest.Gate
	source   feed.Source
	daemon   *aria2.Daemon

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// cycle runs one full pass: fetch the feed, admit new candidates, then
// reconcile every active download against the daemon.
func (a *app) cycle(ctx context.Context) {
	if a.source != nil {
		candidates, err := a.source.Fetch(ctx)
		if err != nil {
			a.logger.WithError(err).Error("fetch feed")
		} else {
			a.gate.AdmitAll(ctx, candidates)
		}
	}
	a.orch.ReconcileAll(ctx)
}

func buildApp(ctx context.Context) (*app, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	lock := flock.New(cfg.Database.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another episoded instance is already running")
	}
	a.closers = append(a.closers, func() { _ = lock.Unlock() })

	if err := os.MkdirAll(cfg.Download.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	repo := sqlite.NewEpisodeRepository(db)
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("init episode repository: %w", err)
	}
	a.episodes = service.NewEpisodeService(repo)

	var client *aria2.Client
	if cfg.Aria2.RPCURL != "" {
		client = aria2.NewClientEndpoint(cfg.Aria2.RPCURL, cfg.Aria2.RPCSecret)
		logger.Infof("using external aria2 rpc at %s", cfg.Aria2.RPCURL)
	} else {
		daemon, err := aria2.StartDaemon(ctx, aria2.DaemonConfig{
			BinaryPath:     cfg.Aria2.BinaryPath,
			ConfPath:       cfg.Aria2.ConfPath,
			StartupTimeout: time.Duration(cfg.Aria2.StartupTimeoutSeconds) * time.Second,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("start aria2 daemon: %w", err)
		}
		a.daemon = daemon
		client = daemon.Client()
		a.closers = append(a.closers, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			daemon.Stop(stopCtx)
		})
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	handler := postprocess.NewHandler(postprocess.Config{
		MoveCommand:   cfg.Download.MoveCommand,
		PublicBaseURL: cfg.Download.PublicBaseURL,
		UploadOptions: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, notify.NewWebhook(cfg.Notify.Endpoint), storageSvc)

	a.orch = orchestrator.New(orchestrator.Config{
		DownloadDir: cfg.Download.DataDir,
		Logger:      logger,
	}, a.episodes, client, handler)
	a.orch.Start(ctx)
	a.closers = append(a.closers, a.orch.Shutdown)

	if err := a.orch.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover active downloads: %w", err)
	}

	if cfg.Feed.URL != "" {
		a.source = feed.NewRSSSource(cfg.Feed.URL)
	} else {
		logger.Warn("no feed url configured, ingestion disabled")
	}
	a.gate = ingest.NewGate(a.episodes, a.orch, cfg.Download.DataDir, logger)

	ok = true
	return a, nil
}

// buildStorage sets up the optional object storage mirror. An empty bucket
// means no mirroring.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("mirroring to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

func runDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if strings.TrimSpace(a.cfg.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}

	auth := service.NewAuthService(
		a.cfg.Auth.AdminUsername,
		a.cfg.Auth.AdminPasswordHash,
		a.cfg.Auth.JWTSecret,
		time.Duration(a.cfg.Auth.TokenTTLMinutes)*time.Minute,
	)

	// triggered cycles run detached from their HTTP request; the shutdown
	// path waits for them before tearing the orchestrator down
	var cycles sync.WaitGroup
	runCycle := func() {
		cycles.Add(1)
		defer cycles.Done()
		a.cycle(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apiHandler := apphttp.NewHandler(a.episodes, auth, runCycle, a.orch.ActiveCount)
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: router,
	}
	go func() {
		a.logger.Infof("listening on %s", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatalf("http server: %v", err)
		}
	}()

	interval := time.Duration(a.cfg.Feed.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Infof("cycle interval %s", interval)

	runCycle()
	for {
		select {
		case <-ticker.C:
			runCycle()
		case <-ctx.Done():
			a.logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warnf("http shutdown: %v", err)
			}
			cycles.Wait()
			return nil
		}
	}
}

func runOnce() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.cycle(ctx)
	return nil
}
