package postprocess

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"episoded/internal/domain"
	"episoded/internal/notify"
	"episoded/internal/storage"
)

// Config controls what happens to an episode after its download completes.
// MoveCommand is a shell template; {src} is replaced with the common
// directory of the daemon-reported output files.
type Config struct {
	MoveCommand   string
	PublicBaseURL string
	UploadOptions storage.UploadOptions
	Logger        *logrus.Logger
}

// Handler runs best-effort post-processing for completed episodes: the
// external move command, an optional object storage mirror, and the
// completion notification. None of its failures revert an episode's
// completed status; the download itself already succeeded.
type Handler struct {
	cfg        Config
	notifier   notify.Notifier
	storage    storage.Service
	runCommand func(ctx context.Context, cmdline string) error
}

func NewHandler(cfg Config, notifier notify.Notifier, store storage.Service) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if notifier == nil {
		notifier = notify.NewWebhook("")
	}
	h := &Handler{
		cfg:      cfg,
		notifier: notifier,
		storage:  store,
	}
	h.runCommand = h.runShell
	return h
}

// SetRunCommandFunc overrides shell execution. Intended for tests.
func (h *Handler) SetRunCommandFunc(fn func(ctx context.Context, cmdline string) error) {
	h.runCommand = fn
}

func (h *Handler) HandleCompleted(ctx context.Context, episode domain.Episode, files []string) error {
	logger := h.cfg.Logger.WithField("episode_id", episode.ID)

	src := CommonDir(files)
	if src == "" {
		return fmt.Errorf("episode %d completed with no reported files", episode.ID)
	}

	var errs []error

	if h.cfg.MoveCommand != "" {
		cmdline := strings.ReplaceAll(h.cfg.MoveCommand, "{src}", src)
		logger.WithField("command", cmdline).Info("running move command")
		// the command's exit code is not interpreted beyond logging
		if err := h.runCommand(ctx, cmdline); err != nil {
			logger.WithError(err).Error("move command")
			errs = append(errs, fmt.Errorf("move command: %w", err))
		}
	}

	if h.storage != nil && h.cfg.UploadOptions.Bucket != "" {
		opts := h.cfg.UploadOptions
		prefix := strings.Trim(opts.KeyPrefix, "/")
		if prefix == "" {
			opts.KeyPrefix = filepath.Base(src)
		} else {
			opts.KeyPrefix = prefix + "/" + filepath.Base(src)
		}
		opts.ProgressCallback = func(done, total int64) {
			logger.WithFields(logrus.Fields{
				"done_bytes":  done,
				"total_bytes": total,
			}).Debug("mirror upload progress")
		}
		dest, err := h.storage.UploadDirectory(ctx, src, opts)
		if err != nil {
			logger.WithError(err).Error("mirror to object storage")
			errs = append(errs, fmt.Errorf("mirror to object storage: %w", err))
		} else {
			logger.WithField("destination", dest).Info("mirrored to object storage")
		}
	}

	link := h.cfg.PublicBaseURL + filepath.Base(src)
	if err := h.notifier.EpisodeCompleted(ctx, episode.Title, link); err != nil {
		logger.WithError(err).Error("send completion notification")
		errs = append(errs, fmt.Errorf("send completion notification: %w", err))
	}

	return errors.Join(errs...)
}

func (h *Handler) runShell(ctx context.Context, cmdline string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		h.cfg.Logger.WithField("output", strings.TrimSpace(string(out))).Debug("move command output")
	}
	return err
}

// CommonDir returns the deepest directory containing every given file.
func CommonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	common := strings.Split(filepath.Dir(filepath.Clean(paths[0])), string(filepath.Separator))
	for _, p := range paths[1:] {
		segments := strings.Split(filepath.Dir(filepath.Clean(p)), string(filepath.Separator))
		if len(segments) < len(common) {
			common = common[:len(segments)]
		}
		for i := range common {
			if common[i] != segments[i] {
				common = common[:i]
				break
			}
		}
	}

	joined := filepath.Join(common...)
	if strings.HasPrefix(paths[0], string(filepath.Separator)) && !strings.HasPrefix(joined, string(filepath.Separator)) {
		joined = string(filepath.Separator) + joined
	}
	return joined
}
