package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-backup/internal/config"
	"github.com/kurihiro0119/github-backup/internal/storage"
	"github.com/kurihiro0119/github-backup/internal/storage/postgres"
	"github.com/kurihiro0119/github-backup/internal/storage/sqlite"
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool
	limit      int
	stateFlag  string
)

// errRunFailed makes the process exit with status 1 after the summary was printed
var errRunFailed = errors.New("backup finished with failures")

var rootCmd = &cobra.Command{
	Use:   "github-backup",
	Short: "GitHub account backup tool",
	Long: `A CLI tool for snapshotting a GitHub account.

Every repository owned by the authenticated account is mirror-cloned and,
depending on the enabled options, its issues, pull requests, wiki, release
assets, metadata and project boards are saved next to the clone.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full backup",
	Long:  `Back up every repository of the account that owns the token into the backup directory.`,
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent backup runs",
	Long:  `List recent backup runs from the run history, locally or through the API server (--remote).`,
	Args:  cobra.NoArgs,
	RunE:  runListRuns,
}

var runShowCmd = &cobra.Command{
	Use:   "run-show [run-id]",
	Short: "Show the tasks of one backup run",
	Long:  `Display every task result of a backup run, optionally filtered by state.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./github-backup.{yaml,json,toml} if present)")
	config.RegisterStorageFlags(rootCmd.PersistentFlags())

	config.RegisterBackupFlags(runCmd.Flags())

	for _, cmd := range []*cobra.Command{runsCmd, runShowCmd} {
		cmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
		cmd.Flags().BoolVar(&remote, "remote", false, "read the run history from the API server")
		cmd.Flags().String(config.FlagName("api_endpoint"), config.Default.APIEndpoint, "API server used with --remote")
	}
	runsCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	runShowCmd.Flags().StringVar(&stateFlag, "state", "", "only tasks in this state (completed, failed)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(runShowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and the flags of cmd
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// getStorage opens the run history; it returns nil when storage is disabled
func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case config.StoragePostgres:
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case config.StorageSQLite:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	default:
		return nil, nil
	}
}
