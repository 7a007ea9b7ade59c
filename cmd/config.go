package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
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
	return filepath.Join(home, ".config", "televibe"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage televibe configuration.

Running bare 'televibe config' is the same as 'televibe config show'.`,
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
const configTemplate = `# televibe configuration
# See: televibe config show (for effective values and sources)

# State/data directory (default: ~/.config/televibe)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/televibe/televibe.db)
# db_path: {{ .DBPath }}

# Job log directory (default: ~/.config/televibe/logs)
# log_dir: {{ .LogDir }}

# Workspace base directory (default: ~/.config/televibe/workspaces)
# workspace_dir: {{ .WorkspaceDir }}

server:
  # Address the CLI uses to reach the server
  addr: "{{ .ServerAddr }}"
  # Port the server listens on
  port: {{ .ServerPort }}

scheduler:
  # Jobs running at once across all sessions (default: 3)
  max_concurrent: {{ .MaxConcurrent }}
  # Jobs waiting per session (default: 10)
  max_queued: {{ .MaxQueued }}

executor:
  # Per-job execution deadline (default: 1h, max 4h)
  timeout: {{ .ExecTimeout }}

approval:
  # How long a gated action may wait for a decision (default: 1h, max 24h)
  timeout: {{ .ApprovalTimeout }}
  # Scopes that require approval; empty gates everything
  # gated_scopes: [push, force_push, shell_sudo]
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	LogDir          string
	WorkspaceDir    string
	ServerAddr      string
	ServerPort      int
	MaxConcurrent   int
	MaxQueued       int
	ExecTimeout     string
	ApprovalTimeout string
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

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		LogDir:          viper.GetString("log_dir"),
		WorkspaceDir:    viper.GetString("workspace_dir"),
		ServerAddr:      viper.GetString("server.addr"),
		ServerPort:      viper.GetInt("server.port"),
		MaxConcurrent:   viper.GetInt("scheduler.max_concurrent"),
		MaxQueued:       viper.GetInt("scheduler.max_queued"),
		ExecTimeout:     viper.GetDuration("executor.timeout").String(),
		ApprovalTimeout: viper.GetDuration("approval.timeout").String(),
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

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "TELEVIBE_STATE_DIR"},
	{Key: "db_path", EnvVar: "TELEVIBE_DB_PATH"},
	{Key: "log_dir", EnvVar: "TELEVIBE_LOG_DIR"},
	{Key: "workspace_dir", EnvVar: "TELEVIBE_WORKSPACE_DIR"},
	{Key: "server.addr", EnvVar: "TELEVIBE_SERVER_ADDR"},
	{Key: "server.port", EnvVar: "TELEVIBE_SERVER_PORT"},
	{Key: "agent.command", EnvVar: "TELEVIBE_AGENT_COMMAND"},
	{Key: "scheduler.max_concurrent", EnvVar: "TELEVIBE_SCHEDULER_MAX_CONCURRENT"},
	{Key: "scheduler.max_queued", EnvVar: "TELEVIBE_SCHEDULER_MAX_QUEUED"},
	{Key: "executor.timeout", EnvVar: "TELEVIBE_EXECUTOR_TIMEOUT"},
	{Key: "approval.timeout", EnvVar: "TELEVIBE_APPROVAL_TIMEOUT"},
	{Key: "approval.gated_scopes", EnvVar: "TELEVIBE_APPROVAL_GATED_SCOPES"},
	{Key: "tracker.webhook_url", EnvVar: "TELEVIBE_TRACKER_WEBHOOK_URL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
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
		return fmt.Errorf("$EDITOR is not set - set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'televibe config init' first)", cfgPath)
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
