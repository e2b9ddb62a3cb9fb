package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"episoded/internal/aria2"
	"episoded/internal/domain"
	"episoded/internal/service"
)

// DaemonClient is the subset of the aria2 control channel the orchestrator drives.
type DaemonClient interface {
	AddURI(ctx context.Context, sourceURL, downloadDir string) (string, error)
	TellStatus(ctx context.Context, gid string) (*aria2.DownloadStatus, error)
}

// CompletionHandler post-processes an episode whose download finished.
// Its failure never affects the episode's completed status.
type CompletionHandler interface {
	HandleCompleted(ctx context.Context, episode domain.Episode, files []string) error
}

type Config struct {
	DownloadDir        string
	MaxConcurrentPolls int
	CompletionWorkers  int
	Logger             *logrus.Logger
}

// Orchestrator owns the in-memory active job set (episode id to gid) and the
// reconciliation loop that advances episode state from daemon-reported truth.
// The active set is a derived cache: it is rebuilt from the store's
// downloading episodes at startup, never persisted itself.
type Orchestrator struct {
	cfg      Config
	episodes service.EpisodeService
	daemon   DaemonClient
	handler  CompletionHandler

	mu     sync.Mutex
	active map[int64]string
	closed bool

	reconcileMu sync.Mutex

	completionCh chan completionJob
	wg           sync.WaitGroup
	handlerCtx   context.Context
}

type completionJob struct {
	episode domain.Episode
	files   []string
}

func New(cfg Config, episodes service.EpisodeService, daemon DaemonClient, handler CompletionHandler) *Orchestrator {
	if cfg.MaxConcurrentPolls <= 0 {
		cfg.MaxConcurrentPolls = 4
	}
	if cfg.CompletionWorkers <= 0 {
		cfg.CompletionWorkers = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:          cfg,
		episodes:     episodes,
		daemon:       daemon,
		handler:      handler,
		active:       make(map[int64]string),
		completionCh: make(chan completionJob, 16),
	}
}

// Start launches the completion worker pool. Post-processing is fire and
// forget, so workers run with a context detached from the run context:
// queued jobs still drain fully during shutdown.
func (o *Orchestrator) Start(ctx context.Context) {
	o.handlerCtx = context.WithoutCancel(ctx)
	for i := 0; i < o.cfg.CompletionWorkers; i++ {
		o.wg.Add(1)
		go o.completionWorker()
	}
}

// Shutdown waits for any in-flight reconcile pass, then stops the worker pool
// after draining queued completions. Passes that run afterwards still persist
// state transitions but their post-processing is dropped.
func (o *Orchestrator) Shutdown() {
	o.reconcileMu.Lock()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.reconcileMu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	o.reconcileMu.Unlock()

	close(o.completionCh)
	o.wg.Wait()
	o.cfg.Logger.Info("orchestrator stopped")
}

// Recover rebuilds the active job set from the store's downloading episodes.
// Run before the first reconcile pass; jobs the daemon lost during downtime
// surface as errors on the first poll and fail through the normal transitions.
func (o *Orchestrator) Recover(ctx context.Context) error {
	episodes, err := o.episodes.ListByStatuses(ctx, domain.EpisodeStatusDownloading)
	if err != nil {
		return fmt.Errorf("list downloading episodes: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = make(map[int64]string, len(episodes))
	for i := range episodes {
		o.active[episodes[i].ID] = episodes[i].GID
	}
	o.cfg.Logger.Infof("recovered %d active download(s)", len(episodes))
	return nil
}

// ActiveCount reports the size of the active job set.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Submit sends the episode to the daemon and records the assigned gid. On
// failure the episode stays not_started; it is not retried automatically and
// only re-enters through ingestion.
func (o *Orchestrator) Submit(ctx context.Context, episode *domain.Episode) error {
	logger := o.cfg.Logger.WithField("episode_id", episode.ID)

	gid, err := o.daemon.AddURI(ctx, episode.SourceURL, o.cfg.DownloadDir)
	if err != nil {
		logger.WithError(err).Error("submit download")
		return fmt.Errorf("submit download: %w", err)
	}

	if err := o.episodes.MarkDownloading(ctx, episode.ID, gid); err != nil {
		logger.WithError(err).WithField("gid", gid).Error("persist downloading status")
		return fmt.Errorf("persist downloading status: %w", err)
	}
	episode.GID = gid
	episode.Status = domain.EpisodeStatusDownloading

	o.mu.Lock()
	o.active[episode.ID] = gid
	o.mu.Unlock()

	logger.WithField("gid", gid).Info("download submitted")
	return nil
}

// ReconcileAll polls the daemon for every member of the active job set and
// advances episode state. Episodes are polled concurrently but each is
// touched by exactly one goroutine per pass, and passes never overlap. A
// single episode's poll failure is logged and does not stop the others.
func (o *Orchestrator) ReconcileAll(ctx context.Context) {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	o.mu.Lock()
	snapshot := make(map[int64]string, len(o.active))
	for id, gid := range o.active {
		snapshot[id] = gid
	}
	o.mu.Unlock()

	sem := make(chan struct{}, o.cfg.MaxConcurrentPolls)
	var wg sync.WaitGroup
	for id, gid := range snapshot {
		wg.Add(1)
		go func(id int64, gid string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.reconcileOne(ctx, id, gid)
		}(id, gid)
	}
	wg.Wait()
}

func (o *Orchestrator) reconcileOne(ctx context.Context, id int64, gid string) {
	logger := o.cfg.Logger.WithField("episode_id", id).WithField("gid", gid)

	status, err := o.daemon.TellStatus(ctx, gid)
	if err != nil {
		// unknown this tick, re-polled on the next one
		logger.WithError(err).Warn("poll download status")
		return
	}

	// a magnet/torrent admission resolved into a data job under a new gid;
	// the rewrite must persist before status is interpreted again
	if len(status.FollowedBy) > 0 {
		followed := status.FollowedBy[0]
		if err := o.episodes.UpdateGID(ctx, id, followed); err != nil {
			logger.WithError(err).Error("persist followed gid")
			return
		}
		o.mu.Lock()
		o.active[id] = followed
		o.mu.Unlock()
		logger.WithField("followed_gid", followed).Info("download followed to new job")
		return
	}

	switch status.Status {
	case "active", "waiting", "paused", "removed":
		// still in flight as far as the daemon is concerned
	case "error":
		if err := o.episodes.MarkFailed(ctx, id); err != nil {
			logger.WithError(err).Error("persist failed status")
			return
		}
		o.dropActive(id)
		logger.WithFields(logrus.Fields{
			"daemon_error_code": status.ErrorCode,
			"daemon_error":      status.ErrorMessage,
		}).Error("download failed")
	case "complete":
		if err := o.episodes.MarkCompleted(ctx, id); err != nil {
			logger.WithError(err).Error("persist completed status")
			return
		}
		o.dropActive(id)
		logger.Info("download completed")
		o.enqueueCompletion(ctx, id, status.FilePaths())
	default:
		logger.Warnf("unknown daemon status %q", status.Status)
	}
}

func (o *Orchestrator) dropActive(id int64) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) enqueueCompletion(ctx context.Context, id int64, files []string) {
	logger := o.cfg.Logger.WithField("episode_id", id)

	episode, err := o.episodes.GetEpisode(ctx, id)
	if err != nil {
		logger.WithError(err).Error("load completed episode")
		return
	}

	// sends only happen inside a reconcile pass, and Shutdown flips closed
	// while holding reconcileMu, so a send never races the channel close
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		logger.Warn("shut down, dropping post-processing")
		return
	}
	o.completionCh <- completionJob{episode: *episode, files: files}
}

func (o *Orchestrator) completionWorker() {
	defer o.wg.Done()
	for job := range o.completionCh {
		if err := o.handler.HandleCompleted(o.handlerCtx, job.episode, job.files); err != nil {
			o.cfg.Logger.WithField("episode_id", job.episode.ID).
				WithError(err).Error("post-processing")
		}
	}
}
