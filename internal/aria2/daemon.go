package aria2

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DaemonConfig controls how the aria2c subprocess is spawned.
type DaemonConfig struct {
	BinaryPath     string
	ConfPath       string
	ExtraArgs      []string
	StartupTimeout time.Duration
	Logger         *logrus.Logger
}

// Daemon owns a spawned aria2c process and the client bound to its RPC port.
// It is started once at orchestrator startup and torn down at process exit.
type Daemon struct {
	cmd    *exec.Cmd
	client *Client
	logger *logrus.Logger
	port   int
}

// StartDaemon picks a free localhost port, generates a one-shot RPC secret,
// launches aria2c with RPC enabled, and waits until the control channel
// answers. A daemon that never becomes ready is fatal to the caller: no
// downloads can proceed without it.
func StartDaemon(ctx context.Context, cfg DaemonConfig) (*Daemon, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "aria2c"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("find free rpc port: %w", err)
	}
	secret := uuid.NewString()

	args := []string{
		"--enable-rpc",
		fmt.Sprintf("--rpc-listen-port=%d", port),
		fmt.Sprintf("--rpc-secret=%s", secret),
	}
	if cfg.ConfPath != "" {
		args = append(args, fmt.Sprintf("--conf-path=%s", cfg.ConfPath))
	}
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.Command(cfg.BinaryPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start aria2c: %w", err)
	}

	d := &Daemon{
		cmd:    cmd,
		client: NewClient("127.0.0.1", port, secret),
		logger: cfg.Logger,
		port:   port,
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()
	if err := d.waitReady(readyCtx); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("aria2c rpc not ready: %w", err)
	}

	cfg.Logger.Infof("aria2c started, rpc port %d", port)
	return d, nil
}

// Client returns the RPC client bound to this daemon.
func (d *Daemon) Client() *Client {
	return d.client
}

func (d *Daemon) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w (last probe: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
			version, err := d.client.Version(ctx)
			if err == nil {
				d.logger.Debugf("aria2 version %s ready", version)
				return nil
			}
			lastErr = err
		}
	}
}

// Stop shuts the daemon down, preferring the RPC shutdown call and falling
// back to killing the process when it does not exit in time.
func (d *Daemon) Stop(ctx context.Context) {
	if d == nil || d.cmd == nil || d.cmd.Process == nil {
		return
	}

	if err := d.client.Shutdown(ctx); err != nil {
		d.logger.Warnf("aria2 shutdown rpc: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("aria2c did not exit, killing")
		_ = d.cmd.Process.Kill()
		<-done
	}
	d.logger.Info("aria2c stopped")
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
