package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mroche14/televibecode/internal/api"
	"github.com/mroche14/televibecode/internal/output"
	"github.com/mroche14/televibecode/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "televibe",
	Short: "Televibe - drive coding agents remotely and stream their progress",
	Long: `televibe runs coding-agent jobs in isolated workspaces and streams
their progress to a chat surface. Jobs queue per workspace session,
dangerous actions pause for approval, and every run is logged.`,
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

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/televibe/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("televibe %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "televibe")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TELEVIBE")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultStateDir := filepath.Join(home, ".config", "televibe")

	viper.SetDefault("state_dir", defaultStateDir)
	viper.SetDefault("db_path", filepath.Join(defaultStateDir, "televibe.db"))
	viper.SetDefault("log_dir", filepath.Join(defaultStateDir, "logs"))
	viper.SetDefault("workspace_dir", filepath.Join(defaultStateDir, "workspaces"))

	viper.SetDefault("server.addr", "http://localhost:8321")
	viper.SetDefault("server.port", 8321)

	viper.SetDefault("agent.command", []string{"claude", "-p"})

	viper.SetDefault("scheduler.max_concurrent", 3)
	viper.SetDefault("scheduler.max_queued", 10)
	viper.SetDefault("scheduler.instruction_max", 4000)

	viper.SetDefault("executor.timeout", time.Hour)
	viper.SetDefault("executor.grace_period", 30*time.Second)
	viper.SetDefault("executor.max_log_bytes", 100*1024*1024)

	viper.SetDefault("approval.timeout", time.Hour)
	viper.SetDefault("approval.gated_scopes", []string{})

	viper.SetDefault("tracker.min_interval", time.Second)
	viper.SetDefault("tracker.burst", 3)
	viper.SetDefault("tracker.burst_window", 3*time.Second)
	viper.SetDefault("tracker.preset", "")
	viper.SetDefault("tracker.webhook_url", "")
	viper.SetDefault("tracker.default_target", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store opens lazily so client commands work without one.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getClient returns an API client for the configured server address.
func getClient() *api.Client {
	return api.NewClient(viper.GetString("server.addr"))
}
