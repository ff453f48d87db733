package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/scoutsync/internal/api"
	"github.com/joescharf/scoutsync/internal/daemon"
	"github.com/joescharf/scoutsync/internal/state"
)

const (
	startWait    = 5 * time.Second
	stopWait     = 5 * time.Second
	shutdownWait = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync relay in the foreground",
	Long: `Run the HTTP relay that stores the shared sync state.

The relay listens on server.addr (default :8787) and keeps its state in
server.data_file. Use 'serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background relay is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().String("addr", ":8787", "listen address")
	serveCmd.PersistentFlags().String("data-file", "", "state file (default <state_dir>/sync-state.json)")
	serveCmd.PersistentFlags().String("token", "", "shared secret required from clients")
	_ = viper.BindPFlag("server.addr", serveCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("server.data_file", serveCmd.PersistentFlags().Lookup("data-file"))
	_ = viper.BindPFlag("server.token", serveCmd.PersistentFlags().Lookup("token"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "scoutsync-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "scoutsync-serve.log")
}

// newRelay opens the state file and builds the HTTP handler.
func newRelay() (http.Handler, error) {
	logger := newLogger()
	st, err := state.Open(viper.GetString("server.data_file"), state.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	srv := api.NewServer(st,
		api.WithToken(viper.GetString("server.token")),
		api.WithMaxBodyBytes(viper.GetInt64("server.max_body_bytes")),
		api.WithLogger(logger),
	)
	return srv.Router(), nil
}

func serveRun(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), shutdownSignals()...)
	defer stop()

	handler, err := newRelay()
	if err != nil {
		return err
	}

	addr := viper.GetString("server.addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	pf := pidFile()
	if err := pf.Write(ln.Addr().String()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = pf.Remove() }()

	if viper.GetString("server.token") == "" {
		ui.Warning("No server.token set; the relay accepts unauthenticated requests")
	}
	ui.Info("Relay listening on %s (state: %s)", ln.Addr(), viper.GetString("server.data_file"))

	httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	ui.Info("Relay stopped")
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("relay already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"serve",
		"--addr", viper.GetString("server.addr"),
		"--data-file", viper.GetString("server.data_file"),
	}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	if dryRun {
		ui.DryRunMsg("Would run: %s %v (log: %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(serveLogPath()), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	// Token travels through the environment so it stays out of the process list.
	child.Env = append(os.Environ(), "SCOUTSYNC_SERVER_TOKEN="+viper.GetString("server.token"))
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	_ = child.Process.Release()

	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		if info, err := pf.ReadInfo(); err == nil && info.Addr != "" {
			if daemon.Healthy(context.Background(), info.Addr) {
				ui.Success("Relay started (pid %d, %s)", info.PID, info.Addr)
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("relay did not become healthy within %s; see %s", startWait, serveLogPath())
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("relay is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop relay (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal relay: %w", err)
	}
	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			_ = pf.Remove()
			ui.Success("Relay stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Relay did not exit after %s, killing", stopWait)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill relay: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Relay is not running")
		return nil
	}
	info, _ := pf.ReadInfo()
	health := "unreachable"
	if info.Addr != "" && daemon.Healthy(context.Background(), info.Addr) {
		health = "healthy"
	}
	ui.Success("Relay running (pid %d, %s, %s)", pid, info.Addr, health)
	return nil
}
