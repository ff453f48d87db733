package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/scoutsync/internal/agent"
	"github.com/joescharf/scoutsync/internal/client"
	"github.com/joescharf/scoutsync/internal/normalize"
	"github.com/joescharf/scoutsync/internal/output"
	"github.com/joescharf/scoutsync/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui         *output.UI
	localStore *store.SQLiteStore

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "scoutsync",
	Short: "Relay and agents for sharing scout targets, commands and activity",
	Long: `scoutsync keeps a host and any number of slave agents in sync through a
small relay server. The host owns the target list and sends scan commands,
slaves mirror the list, run the scans and report activity back.

Running bare 'scoutsync' starts the role named by sync.mode (host or slave).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/scoutsync/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCOUTSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaultConfigDir, _ := configDirFunc()
	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "agent.db"))

	viper.SetDefault("server.addr", ":8787")
	viper.SetDefault("server.token", "")
	viper.SetDefault("server.data_file", filepath.Join(dir, "sync-state.json"))
	viper.SetDefault("server.max_body_bytes", 1<<20)

	viper.SetDefault("sync.mode", "off")
	viper.SetDefault("sync.endpoint", "http://127.0.0.1:8787/sync-state")
	viper.SetDefault("sync.token", "")
	viper.SetDefault("sync.agent_id", "")
	viper.SetDefault("sync.agent_label", "")
	viper.SetDefault("sync.pull_interval", agent.DefaultPullInterval)
	viper.SetDefault("sync.push_debounce", agent.DefaultPushDebounce)
	viper.SetDefault("sync.activity_debounce", agent.DefaultActivityDebounce)
	viper.SetDefault("sync.activity_batch", agent.DefaultActivityBatch)
	viper.SetDefault("sync.activity_max_queue", agent.DefaultActivityMaxQueue)
	viper.SetDefault("sync.http_timeout", 10*time.Second)
	viper.SetDefault("sync.lock_ttl", agent.DefaultLockTTL)
	viper.SetDefault("sync.hold_lock", false)

	viper.SetDefault("scan.delay", time.Second)
	viper.SetDefault("scan.repeat_interval", time.Minute)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store is opened lazily so config/version run without a db.
}

// rootRun handles `scoutsync` with no subcommand: run the configured role.
func rootRun(cmd *cobra.Command) error {
	switch mode := strings.ToLower(viper.GetString("sync.mode")); mode {
	case "host":
		return hostRunRun(cmd.Context())
	case "slave":
		return slaveRunRun(cmd.Context(), "")
	case "", "off":
		return cmd.Help()
	default:
		return fmt.Errorf("unknown sync.mode %q (want off, host or slave)", mode)
	}
}

// getStore returns the shared agent store, initializing it on first call.
func getStore() (*store.SQLiteStore, error) {
	if localStore != nil {
		return localStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	localStore = s
	return localStore, nil
}

// newLogger returns the slog logger used by the relay and agents.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newSyncClient builds the relay client from sync.* settings.
func newSyncClient() (*client.Client, error) {
	return client.New(viper.GetString("sync.endpoint"), viper.GetString("sync.token"),
		client.WithTimeout(viper.GetDuration("sync.http_timeout")))
}

// agentID returns sync.agent_id, or a random id generated once and kept in
// the agent store.
func agentID(ctx context.Context, s agent.LocalStore) (string, error) {
	if id := strings.TrimSpace(viper.GetString("sync.agent_id")); id != "" {
		return id, nil
	}
	id, err := s.GetValue(ctx, agent.KeyAgentID)
	if err != nil {
		return "", fmt.Errorf("load agent id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.SetValue(ctx, agent.KeyAgentID, id); err != nil {
		return "", fmt.Errorf("save agent id: %w", err)
	}
	return id, nil
}

// agentConfig assembles agent.Config from sync.* and scan.* settings.
func agentConfig(ctx context.Context, s agent.LocalStore) (agent.Config, error) {
	id, err := agentID(ctx, s)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		AgentID:          id,
		AgentLabel:       viper.GetString("sync.agent_label"),
		PullInterval:     viper.GetDuration("sync.pull_interval"),
		PushDebounce:     viper.GetDuration("sync.push_debounce"),
		ActivityDebounce: viper.GetDuration("sync.activity_debounce"),
		ActivityBatch:    viper.GetInt("sync.activity_batch"),
		ActivityMaxQueue: viper.GetInt("sync.activity_max_queue"),
		LockTTL:          viper.GetDuration("sync.lock_ttl"),
		HoldLock:         viper.GetBool("sync.hold_lock"),
		Scan: normalize.ScanSettings{
			ScanDelayMs:      viper.GetDuration("scan.delay").Milliseconds(),
			RepeatIntervalMs: viper.GetDuration("scan.repeat_interval").Milliseconds(),
		},
	}, nil
}

// newHost wires a Host to the relay client and the agent store.
func newHost(ctx context.Context) (*agent.Host, *client.Client, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	c, err := newSyncClient()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := agentConfig(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	return agent.NewHost(cfg, c, s, agent.WithHostLogger(newLogger())), c, nil
}
