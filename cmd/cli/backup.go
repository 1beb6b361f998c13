package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-backup/internal/apiclient"
	"github.com/kurihiro0119/github-backup/internal/backup"
	"github.com/kurihiro0119/github-backup/internal/collector"
	"github.com/kurihiro0119/github-backup/internal/config"
	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/internal/gitcmd"
	"github.com/kurihiro0119/github-backup/internal/logger"
	"github.com/kurihiro0119/github-backup/internal/notify"
	"github.com/kurihiro0119/github-backup/internal/postprocess"
)

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.BackupDir, cfg.Debug)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	engine, cleanup, err := buildEngine(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start backup", zap.Error(err))
		return err
	}
	defer cleanup()

	run, err := engine.Run(ctx)
	printRunSummary(run)
	return exitError(run, err)
}

func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.NewConfigError("invalid config", err)
	}
	return nil
}

// exitError maps the outcome of a run to the error that decides the exit status
func exitError(run *domain.Run, err error) error {
	if err != nil {
		return err
	}
	if run.HasFailures() {
		return errRunFailed
	}
	return nil
}

// buildEngine wires every capability of a run from the configuration
func buildEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backup.Engine, func(), error) {
	limiter := collector.NewRateLimiter(cfg.RateLimitRPS, log)
	httpClient, err := apiclient.NewHTTPClient(ctx, apiclient.TransportConfig{
		Token:     cfg.GitHubToken,
		UserAgent: cfg.UserAgent,
		APIURL:    cfg.GitHubAPIURL,
		Limiter:   limiter,
	})
	if err != nil {
		return nil, nil, apperrors.NewConfigError("invalid GITHUB_API_URL", err)
	}

	coll, err := collector.NewGitHubCollector(httpClient, cfg.GitHubAPIURL)
	if err != nil {
		return nil, nil, apperrors.NewConfigError("invalid GITHUB_API_URL", err)
	}

	job := &backup.Job{
		OutputDir:  cfg.BackupDir,
		APIURL:     cfg.GitHubAPIURL,
		Categories: cfg.Categories(),
		API:        apiclient.New(httpClient),
		Git:        gitcmd.New(cfg.GitHubToken, gitcmd.WithBinary(cfg.GitBinary)),
	}

	scheduler := backup.NewScheduler(job, coll, log,
		backup.WithMaxConcurrency(cfg.MaxConcurrency),
		backup.WithTaskTimeout(cfg.TaskTimeout))

	pipeline, cleanup := buildPipeline(ctx, cfg, log)

	return backup.NewEngine(job, scheduler, pipeline, log), cleanup, nil
}

// buildPipeline never fails: a step that cannot be set up is left out and
// reported when the run reaches it
func buildPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger) (*postprocess.Pipeline, func()) {
	opts := []postprocess.Option{
		postprocess.WithArchiver(postprocess.NewZipArchiver()),
		postprocess.WithNotifiers(buildNotifiers(cfg)...),
	}

	if cfg.UploadToS3 {
		uploader, err := postprocess.NewS3Uploader(ctx, postprocess.S3Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
			Prefix:          cfg.S3Prefix,
		})
		if err != nil {
			log.Error("s3 uploader unavailable", zap.Error(err))
		} else {
			opts = append(opts, postprocess.WithUploader(uploader))
		}
	}

	cleanup := func() {}
	if recorder, closeFn := openRecorder(cfg, log); recorder != nil {
		opts = append(opts, postprocess.WithRecorder(recorder))
		cleanup = closeFn
	}

	return postprocess.NewPipeline(postprocess.Options{
		Compress: cfg.CompressBackup,
		Upload:   cfg.UploadToS3,
		Bucket:   cfg.S3Bucket,
	}, log, opts...), cleanup
}

// buildNotifiers always includes email; Slack only with a webhook
func buildNotifiers(cfg *config.Config) []notify.Notifier {
	notifiers := []notify.Notifier{
		notify.NewEmailNotifier(notify.EmailConfig{
			Sender:    cfg.EmailSender,
			Recipient: cfg.EmailRecipient,
			Server:    cfg.SMTPServer,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
		}, nil),
	}
	if cfg.NotifyViaSlack() {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhookURL, nil))
	}
	return notifiers
}

// openRecorder returns nil when run history is disabled or unavailable
func openRecorder(cfg *config.Config, log *zap.Logger) (postprocess.Recorder, func()) {
	store, err := getStorage(cfg)
	if err != nil {
		log.Warn("run history disabled", zap.String("storage_type", cfg.StorageType), zap.Error(err))
		return nil, nil
	}
	if store == nil {
		return nil, nil
	}
	return store, func() { store.Close() }
}

func printRunSummary(run *domain.Run) {
	if run == nil {
		return
	}

	fmt.Printf("\nBackup Run: %s\n", run.ID)
	fmt.Printf("Status: %s\n\n", run.Status)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Account", run.Owner})
	table.Append([]string{"Repositories", strconv.Itoa(run.Repos)})
	table.Append([]string{"Tasks Completed", strconv.Itoa(run.Completed)})
	table.Append([]string{"Tasks Failed", strconv.Itoa(run.Failed)})
	table.Append([]string{"Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()})
	if run.ArchivePath != "" {
		table.Append([]string{"Archive", run.ArchivePath})
	}
	if run.UploadError != "" {
		table.Append([]string{"Upload Error", run.UploadError})
	}
	if run.Error != "" {
		table.Append([]string{"Error", run.Error})
	}
	table.Render()

	if len(run.Failures) == 0 {
		return
	}
	fmt.Println("\nFailed Tasks:")
	failures := tablewriter.NewWriter(os.Stdout)
	failures.SetHeader([]string{"Repository", "Category", "Error"})
	failures.SetAutoWrapText(false)
	for _, f := range run.Failures {
		failures.Append([]string{f.Repo, string(f.Category), f.Error})
	}
	failures.Render()
}
