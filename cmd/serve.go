package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mroche14/televibecode/internal/api"
	"github.com/mroche14/televibecode/internal/approval"
	"github.com/mroche14/televibecode/internal/daemon"
	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/executor"
	"github.com/mroche14/televibecode/internal/joblog"
	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/orchestrator"
	"github.com/mroche14/televibecode/internal/store"
	"github.com/mroche14/televibecode/internal/tracker"
	"github.com/mroche14/televibecode/internal/workspace"
)

var serveDaemon bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long: `Start the orchestrator: recover orphaned jobs, then accept job
submissions over the REST API. By default it listens on port 8321.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDaemon {
			return serveDaemonize()
		}
		return serveRun(cmd.Context())
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a daemonized server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStopCmd)

	serveCmd.Flags().IntP("port", "p", 8321, "port to listen on")
	serveCmd.Flags().BoolVarP(&serveDaemon, "daemon", "d", false, "run in the background")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func pidFilePath() string {
	return filepath.Join(viper.GetString("state_dir"), "televibe.pid")
}

// serveDaemonize re-execs the server in its own session and records its PID.
func serveDaemonize() error {
	pf := daemon.NewPIDFile(pidFilePath())
	if pid, err := pf.Read(); err == nil {
		if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
			return fmt.Errorf("server already running (pid %d)", pid)
		}
		_ = pf.Remove()
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	child := exec.Command(exe, "serve")
	child.Stdout = nil
	child.Stderr = nil
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	ui.Success("Server started (pid %d)", child.Process.Pid)
	return nil
}

func serveStopRun() error {
	pf := daemon.NewPIDFile(pidFilePath())
	pid, err := pf.Read()
	if err != nil {
		return fmt.Errorf("no running server found: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sigTERM()); err != nil {
		_ = pf.Remove()
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	_ = pf.Remove()
	ui.Success("Server stopped (pid %d)", pid)
	return nil
}

func serverLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildFacade assembles the full orchestration stack from configuration.
// The caller owns closing the returned store.
func buildFacade(logger *slog.Logger) (*orchestrator.Facade, store.Store, error) {
	st, err := getStore()
	if err != nil {
		return nil, nil, err
	}

	logs, err := joblog.NewDir(viper.GetString("log_dir"), viper.GetInt64("executor.max_log_bytes"))
	if err != nil {
		return nil, nil, err
	}
	alloc, err := workspace.NewDirAllocator(viper.GetString("workspace_dir"))
	if err != nil {
		return nil, nil, err
	}

	var gatedScopes []models.ApprovalScope
	for _, s := range viper.GetStringSlice("approval.gated_scopes") {
		if models.ValidScope(s) {
			gatedScopes = append(gatedScopes, models.ApprovalScope(s))
		} else {
			logger.Warn("ignoring unknown approval scope", "scope", s)
		}
	}
	gate := approval.NewGate(st, viper.GetDuration("approval.timeout"), gatedScopes, logger)

	filter := events.DefaultFilterConfig()
	if preset := viper.GetString("tracker.preset"); preset != "" {
		filter = events.Preset(preset)
	}

	var display tracker.Display
	if url := viper.GetString("tracker.webhook_url"); url != "" {
		display = tracker.NewWebhookDisplay(url)
	} else {
		display = tracker.NewLogDisplay(logger)
	}
	limiter := tracker.NewRateLimiter(
		viper.GetDuration("tracker.min_interval"),
		viper.GetInt("tracker.burst"),
		viper.GetDuration("tracker.burst_window"),
	)
	trackers := tracker.NewManager(display, limiter, filter, logger)

	runner := executor.New(executor.Config{
		AgentCommand: viper.GetStringSlice("agent.command"),
		Timeout:      viper.GetDuration("executor.timeout"),
		GracePeriod:  viper.GetDuration("executor.grace_period"),
	}, st, logs, gate, trackers, alloc, filter, logger)

	facade := orchestrator.New(orchestrator.Config{
		MaxConcurrent:     viper.GetInt("scheduler.max_concurrent"),
		MaxQueued:         viper.GetInt("scheduler.max_queued"),
		MaxInstructionLen: viper.GetInt("scheduler.instruction_max"),
		DefaultTarget:     viper.GetString("tracker.default_target"),
	}, st, runner, gate, logs, trackers, alloc, logger)

	return facade, st, nil
}

func serveRun(ctx context.Context) error {
	logger := serverLogger()

	facade, st, err := buildFacade(logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Jobs left running by a previous process are unrecoverable.
	if n, err := facade.Recover(ctx); err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	} else if n > 0 {
		logger.Warn("orphaned jobs failed during recovery", "count", n)
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("server.port"))
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(facade).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
