package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-backup/internal/config"
	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/pkg/client"
)

// historySource reads the run history either from storage or from the API server
type historySource interface {
	GetRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	GetTaskResults(ctx context.Context, runID string) ([]domain.TaskResult, error)
}

type remoteSource struct {
	client *client.Client
}

func (r *remoteSource) GetRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	return r.client.GetRuns(ctx, limit)
}

func (r *remoteSource) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return r.client.GetRun(ctx, id)
}

func (r *remoteSource) GetTaskResults(ctx context.Context, runID string) ([]domain.TaskResult, error) {
	return r.client.GetRunTasks(ctx, runID, "")
}

func openHistory(cmd *cobra.Command) (historySource, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	if remote {
		return &remoteSource{client: client.NewClient(cfg.APIEndpoint)}, func() {}, nil
	}

	if err := cfg.ValidateStorage(); err != nil {
		return nil, nil, apperrors.NewConfigError("invalid config", err)
	}
	if cfg.StorageType == config.StorageNone {
		return nil, nil, apperrors.NewConfigError("run history is disabled: set STORAGE_TYPE to sqlite or postgres, or use --remote", nil)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, func() { store.Close() }, nil
}

func runListRuns(cmd *cobra.Command, args []string) error {
	source, closeFn, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	runs, err := source.GetRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to get runs: %w", err)
	}

	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Started", "Account", "Status", "Repos", "Completed", "Failed"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Owner,
			string(r.Status),
			strconv.Itoa(r.Repos),
			strconv.Itoa(r.Completed),
			strconv.Itoa(r.Failed),
		})
	}
	table.Render()
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	id := args[0]

	source, closeFn, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	run, err := source.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	results, err := source.GetTaskResults(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get task results: %w", err)
	}

	if stateFlag != "" {
		filtered := make([]domain.TaskResult, 0, len(results))
		for _, r := range results {
			if string(r.State) == stateFlag {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	if outputJSON {
		return printJSON(struct {
			Run   *domain.Run         `json:"run"`
			Tasks []domain.TaskResult `json:"tasks"`
		}{run, results})
	}

	fmt.Printf("\nBackup Run: %s\n", run.ID)
	fmt.Printf("Account: %s\n", run.Owner)
	fmt.Printf("Status: %s\n", run.Status)
	fmt.Printf("Started: %s\n\n", run.StartedAt.Local().Format(time.DateTime))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Category", "State", "Duration", "Error"})
	table.SetAutoWrapText(false)
	for _, r := range results {
		table.Append([]string{
			r.Repo,
			string(r.Category),
			string(r.State),
			r.Duration().Round(time.Millisecond).String(),
			r.Error,
		})
	}
	table.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
