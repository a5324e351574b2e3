package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/sheetsync/internal/config"
	"github.com/tonimelisma/sheetsync/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run sync on an interval until stopped",
		Long: `Run a sync cycle immediately and then every sync.interval.

SIGUSR1 (or 'sheetsync trigger') runs a cycle now. SIGHUP (or 'sheetsync
reload') and edits to the config file reload the configuration. After three
consecutive failures the daemon backs off: 1m, 5m, 15m, then 1h.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask the running daemon to sync now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return notifyDaemon(mustCLIContext(cmd.Context()), syscall.SIGUSR1, "Triggered sync")
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return notifyDaemon(mustCLIContext(cmd.Context()), syscall.SIGHUP, "Reloaded config")
		},
	}
}

func notifyDaemon(cc *CLIContext, sig syscall.Signal, what string) error {
	pid, err := signalDaemon(config.DefaultPIDPath(), sig)
	if err != nil {
		return err
	}

	cc.Statusf("%s in daemon (PID %d).\n", what, pid)

	return nil
}

// daemon owns the long-running scheduler and its reload plumbing.
type daemon struct {
	holder    *config.Holder
	scheduler *sync.Scheduler
	resolve   func() (*config.Config, error)
	logger    *slog.Logger
	triggered stdsync.WaitGroup // on-demand cycles started by signals
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := cc.Cfg.RequireSpreadsheet(); err != nil {
		return err
	}

	cleanup, err := writePIDFile(config.DefaultPIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	d, err := newDaemon(cc.Cfg, cc.CfgPath, func() (*config.Config, error) {
		return config.Resolve(cc.Env, cc.CLI)
	}, cc.Logger)
	if err != nil {
		return err
	}

	cc.Logger.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.String("config", cc.CfgPath),
		slog.String("mode", cc.Cfg.Sync.Mode),
		slog.Duration("interval", cc.Cfg.Sync.IntervalDuration()),
	)

	err = d.run(ctx)

	cc.Logger.Info("daemon stopped")

	return err
}

func newDaemon(
	cfg *config.Config, path string, resolve func() (*config.Config, error), logger *slog.Logger,
) (*daemon, error) {
	d := &daemon{
		holder:  config.NewHolder(cfg, path),
		resolve: resolve,
		logger:  logger,
	}

	s, err := sync.NewScheduler(sync.SchedulerConfig{
		Cycle:    d.cycle,
		Interval: cfg.Sync.IntervalDuration(),
		Timeout:  cfg.Sync.RunTimeoutDuration(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	d.scheduler = s

	return d, nil
}

// run blocks until ctx is canceled or a component fails.
func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.scheduler.Run(gctx) })
	g.Go(func() error { return d.handleSignals(gctx) })
	g.Go(func() error { return d.watchConfig(gctx) })

	return g.Wait()
}

// cycle builds fresh resources from the current config snapshot for every
// run, so a reload takes effect on the next cycle without restarts.
func (d *daemon) cycle(ctx context.Context) (*sync.CycleReport, error) {
	cfg := d.holder.Config()

	a, err := newApp(ctx, cfg, d.logger)
	if err != nil {
		return nil, err
	}
	defer a.close(d.logger)

	return a.engine.RunCycle(ctx, syncMode(cfg.Sync.Mode))
}

// reload re-resolves the config. An invalid file keeps the running config.
func (d *daemon) reload() {
	cfg, err := d.resolve()
	if err != nil {
		d.logger.Error("config reload failed, keeping current config", slog.String("error", err.Error()))
		return
	}

	if err := cfg.RequireSpreadsheet(); err != nil {
		d.logger.Error("config reload failed, keeping current config", slog.String("error", err.Error()))
		return
	}

	d.holder.Update(cfg)
	d.scheduler.Update(d.cycle, cfg.Sync.IntervalDuration(), cfg.Sync.RunTimeoutDuration())

	d.logger.Info("config reloaded",
		slog.String("mode", cfg.Sync.Mode),
		slog.Duration("interval", cfg.Sync.IntervalDuration()),
	)
}

func (d *daemon) handleSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1)

	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			d.triggered.Wait()
			return nil
		case sig := <-sigCh:
			d.handleSignal(ctx, sig)
		}
	}
}

func (d *daemon) handleSignal(ctx context.Context, sig os.Signal) {
	d.logger.Info("received signal", slog.String("signal", sig.String()))

	switch sig {
	case syscall.SIGHUP:
		d.reload()
	case syscall.SIGUSR1:
		d.triggered.Add(1)

		go func() {
			defer d.triggered.Done()
			d.runTriggered(ctx)
		}()
	}
}

// runTriggered runs a cycle now, off the signal loop so SIGHUP stays
// responsive. A cycle already in flight is joined instead of repeated.
func (d *daemon) runTriggered(ctx context.Context) *sync.CycleResult {
	d.logger.Info("manual sync triggered")

	return d.scheduler.RunNow(ctx)
}

// watchConfig reloads on file edits. Without a config directory there is
// nothing to watch; SIGHUP still works.
func (d *daemon) watchConfig(ctx context.Context) error {
	err := config.Watch(ctx, d.holder.Path(), d.reload, d.logger)
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Info("config directory missing, file watching disabled",
			slog.String("path", d.holder.Path()))

		return nil
	}

	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}

	return nil
}
