package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scoutsync"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage scoutsync configuration.

Running bare 'scoutsync config' is the same as 'scoutsync config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# scoutsync configuration
# See: scoutsync config show (for effective values and sources)

# State/data directory (default: ~/.config/scoutsync)
# state_dir: {{ .StateDir }}

# Agent SQLite database path (default: ~/.config/scoutsync/agent.db)
# db_path: {{ .DBPath }}

# Relay server
server:
  # Listen address
  addr: "{{ .ServerAddr }}"

  # Shared secret; empty disables authentication
  token: "{{ .ServerToken }}"

  # JSON file holding the relay state
  data_file: "{{ .ServerDataFile }}"

# Agent sync
sync:
  # Role started by bare 'scoutsync': off, host or slave
  mode: "{{ .SyncMode }}"

  # Relay endpoint URL
  endpoint: "{{ .SyncEndpoint }}"

  # Shared secret sent as X-Sync-Token
  token: "{{ .SyncToken }}"

  # Agent identity; generated and stored in db_path when empty
  agent_id: "{{ .AgentID }}"
  agent_label: "{{ .AgentLabel }}"

  # Slave poll interval (minimum 2s)
  pull_interval: {{ .PullInterval }}

  # Quiet period before target edits are pushed
  push_debounce: {{ .PushDebounce }}

  # Edit lock lease length (30s to 15m)
  lock_ttl: {{ .LockTTL }}

  # Hold the edit lock while 'scoutsync host run' is active
  hold_lock: {{ .HoldLock }}

# Scan timing for commands this host sends
scan:
  # Wait between coordinates (1s to 5s)
  delay: {{ .ScanDelay }}

  # Wait between passes of a continuous scan (1m to 1h)
  repeat_interval: {{ .RepeatInterval }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	ServerAddr     string
	ServerToken    string
	ServerDataFile string
	SyncMode       string
	SyncEndpoint   string
	SyncToken      string
	AgentID        string
	AgentLabel     string
	PullInterval   string
	PushDebounce   string
	LockTTL        string
	HoldLock       bool
	ScanDelay      string
	RepeatInterval string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		ServerAddr:     viper.GetString("server.addr"),
		ServerToken:    viper.GetString("server.token"),
		ServerDataFile: viper.GetString("server.data_file"),
		SyncMode:       viper.GetString("sync.mode"),
		SyncEndpoint:   viper.GetString("sync.endpoint"),
		SyncToken:      viper.GetString("sync.token"),
		AgentID:        viper.GetString("sync.agent_id"),
		AgentLabel:     viper.GetString("sync.agent_label"),
		PullInterval:   viper.GetDuration("sync.pull_interval").String(),
		PushDebounce:   viper.GetDuration("sync.push_debounce").String(),
		LockTTL:        viper.GetDuration("sync.lock_ttl").String(),
		HoldLock:       viper.GetBool("sync.hold_lock"),
		ScanDelay:      viper.GetDuration("scan.delay").String(),
		RepeatInterval: viper.GetDuration("scan.repeat_interval").String(),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeys lists the keys shown by 'config show', in display order.
var configKeys = []string{
	"state_dir",
	"db_path",
	"server.addr",
	"server.token",
	"server.data_file",
	"server.max_body_bytes",
	"sync.mode",
	"sync.endpoint",
	"sync.token",
	"sync.agent_id",
	"sync.agent_label",
	"sync.pull_interval",
	"sync.push_debounce",
	"sync.activity_debounce",
	"sync.activity_batch",
	"sync.activity_max_queue",
	"sync.http_timeout",
	"sync.lock_ttl",
	"sync.hold_lock",
	"scan.delay",
	"scan.repeat_interval",
}

// envName returns the environment variable viper reads for key.
func envName(key string) string {
	return "SCOUTSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	table := ui.Table([]string{"KEY", "VALUE", "SOURCE"})
	for _, key := range configKeys {
		val := fmt.Sprint(viper.Get(key))
		if isSecret(key) && viper.GetString(key) != "" {
			val = "********"
		}
		table.Append([]string{key, val, detectSource(key, envName(key), fileValues)})
	}
	table.Render()

	return nil
}

// isSecret reports whether a key holds a shared secret that show must mask.
func isSecret(key string) bool {
	return strings.HasSuffix(key, ".token")
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'scoutsync config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
