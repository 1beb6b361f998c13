package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kurihiro0119/github-backup/internal/domain"
)

// Storage types
const (
	StorageNone     = "none"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string `mapstructure:"github_token"`
	GitHubAPIURL string `mapstructure:"github_api_url"`
	UserAgent    string `mapstructure:"user_agent"`

	// Backup
	BackupDir        string        `mapstructure:"backup_dir"`
	DownloadIssues   bool          `mapstructure:"download_issues"`
	DownloadPulls    bool          `mapstructure:"download_pulls"`
	DownloadWiki     bool          `mapstructure:"download_wiki"`
	DownloadReleases bool          `mapstructure:"download_releases"`
	DownloadMetadata bool          `mapstructure:"download_metadata"`
	DownloadProjects bool          `mapstructure:"download_projects"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	RateLimitRPS     float64       `mapstructure:"rate_limit_rps"`
	GitBinary        string        `mapstructure:"git_binary"`
	Debug            bool          `mapstructure:"debug"`

	// Post-processing
	CompressBackup     bool   `mapstructure:"compress_backup"`
	UploadToS3         bool   `mapstructure:"upload_to_s3"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	AWSRegion          string `mapstructure:"aws_region"`
	S3Bucket           string `mapstructure:"s3_bucket"`
	S3Prefix           string `mapstructure:"s3_prefix"`

	// Notification
	EmailSender     string `mapstructure:"email_sender"`
	EmailRecipient  string `mapstructure:"email_recipient"`
	SMTPServer      string `mapstructure:"smtp_server"`
	SMTPPort        int    `mapstructure:"smtp_port"`
	SMTPUsername    string `mapstructure:"smtp_username"`
	SMTPPassword    string `mapstructure:"smtp_password"`
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`

	// Storage
	StorageType string `mapstructure:"storage_type"` // "none", "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`

	// API Server
	APIHost string `mapstructure:"api_host"`
	APIPort string `mapstructure:"api_port"`

	// CLI
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// Default holds the value of every setting nobody set
var Default = Config{
	GitHubAPIURL: "https://api.github.com",
	UserAgent:    "github-backup",
	GitBinary:    "git",
	BackupDir:    "./github-backups",
	AWSRegion:    "us-east-1",
	SMTPPort:     587,
	StorageType:  StorageNone,
	SQLitePath:   "./backups.db",
	APIHost:      "localhost",
	APIPort:      "8080",
	APIEndpoint:  "http://localhost:8080",
}

// keys lists every setting; the environment variable is the upper-cased key
// and the flag is the key with dashes
var keys = []string{
	"github_token", "github_api_url", "user_agent",
	"backup_dir",
	"download_issues", "download_pulls", "download_wiki",
	"download_releases", "download_metadata", "download_projects",
	"max_concurrency", "task_timeout", "rate_limit_rps", "git_binary", "debug",
	"compress_backup", "upload_to_s3",
	"aws_access_key_id", "aws_secret_access_key", "aws_region", "s3_bucket", "s3_prefix",
	"email_sender", "email_recipient", "smtp_server", "smtp_port", "smtp_username", "smtp_password",
	"slack_webhook_url",
	"storage_type", "sqlite_path", "postgres_url",
	"api_host", "api_port", "api_endpoint",
}

// FlagName returns the command line flag bound to a setting
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterBackupFlags adds the flags of the backup command
func RegisterBackupFlags(fs *pflag.FlagSet) {
	fs.String(FlagName("github_token"), "", "GitHub personal access token")
	fs.String(FlagName("backup_dir"), Default.BackupDir, "output root for the backup")
	fs.String(FlagName("github_api_url"), Default.GitHubAPIURL, "GitHub REST API base URL")

	fs.Bool(FlagName("download_issues"), false, "back up issues")
	fs.Bool(FlagName("download_pulls"), false, "back up pull requests")
	fs.Bool(FlagName("download_wiki"), false, "clone wikis")
	fs.Bool(FlagName("download_releases"), false, "download release assets")
	fs.Bool(FlagName("download_metadata"), false, "save repository metadata")
	fs.Bool(FlagName("download_projects"), false, "save project boards")

	fs.Bool(FlagName("compress_backup"), false, "zip the output root into backup.zip")
	fs.Bool(FlagName("upload_to_s3"), false, "upload backup.zip to S3")
	fs.String(FlagName("aws_access_key_id"), "", "AWS access key id")
	fs.String(FlagName("aws_secret_access_key"), "", "AWS secret access key")
	fs.String(FlagName("s3_bucket"), "", "S3 bucket name")

	fs.String(FlagName("email_sender"), "", "notification sender address")
	fs.String(FlagName("email_recipient"), "", "notification recipient address")
	fs.String(FlagName("smtp_server"), "", "SMTP relay host")
	fs.Int(FlagName("smtp_port"), Default.SMTPPort, "SMTP relay port")
	fs.String(FlagName("smtp_username"), "", "SMTP user")
	fs.String(FlagName("smtp_password"), "", "SMTP password")
	fs.String(FlagName("slack_webhook_url"), "", "Slack incoming webhook; enables Slack notification")

	fs.Int(FlagName("max_concurrency"), 0, "maximum tasks running at once (0 = unbounded)")
	fs.Duration(FlagName("task_timeout"), 0, "per-task timeout (0 = none)")
	fs.String(FlagName("git_binary"), Default.GitBinary, "git executable used for clones")
	fs.Bool(FlagName("debug"), false, "debug logging")
}

// RegisterStorageFlags adds the run history flags shared by every command
func RegisterStorageFlags(fs *pflag.FlagSet) {
	fs.String(FlagName("storage_type"), Default.StorageType, "run history storage: none, sqlite or postgres")
	fs.String(FlagName("sqlite_path"), Default.SQLitePath, "SQLite database path")
	fs.String(FlagName("postgres_url"), "", "PostgreSQL connection string")
}

// Load loads the configuration. Precedence: flags that were set, then
// environment (including .env), then the config file, then defaults.
// configFile may be empty; flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if flags != nil {
		for _, key := range keys {
			if f := flags.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("github-backup")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, key := range keys {
		v.SetDefault(key, "")
	}
	v.SetDefault("github_api_url", Default.GitHubAPIURL)
	v.SetDefault("user_agent", Default.UserAgent)
	v.SetDefault("git_binary", Default.GitBinary)
	v.SetDefault("backup_dir", Default.BackupDir)
	v.SetDefault("aws_region", Default.AWSRegion)
	v.SetDefault("smtp_port", Default.SMTPPort)
	v.SetDefault("storage_type", Default.StorageType)
	v.SetDefault("sqlite_path", Default.SQLitePath)
	v.SetDefault("api_host", Default.APIHost)
	v.SetDefault("api_port", Default.APIPort)
	v.SetDefault("api_endpoint", Default.APIEndpoint)
	for _, key := range []string{
		"download_issues", "download_pulls", "download_wiki", "download_releases",
		"download_metadata", "download_projects", "compress_backup", "upload_to_s3", "debug",
	} {
		v.SetDefault(key, false)
	}
	v.SetDefault("max_concurrency", 0)
	v.SetDefault("task_timeout", time.Duration(0))
	v.SetDefault("rate_limit_rps", 0.0)
}

// Categories returns the enabled download categories
func (c *Config) Categories() domain.Categories {
	return domain.Categories{
		Issues:   c.DownloadIssues,
		Pulls:    c.DownloadPulls,
		Wiki:     c.DownloadWiki,
		Releases: c.DownloadReleases,
		Metadata: c.DownloadMetadata,
		Projects: c.DownloadProjects,
	}
}

// NotifyViaSlack reports whether a Slack webhook is configured
func (c *Config) NotifyViaSlack() bool {
	return c.SlackWebhookURL != ""
}

// Validate validates the configuration of a backup run
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if !c.Categories().Any() {
		return &ConfigError{Field: "DOWNLOAD_*", Message: "at least one download option is required"}
	}
	if c.UploadToS3 {
		if c.AWSAccessKeyID == "" || c.AWSSecretAccessKey == "" || c.S3Bucket == "" {
			return &ConfigError{Field: "UPLOAD_TO_S3", Message: "AWS credentials and S3 bucket name are required for uploading to S3"}
		}
	}
	if c.MaxConcurrency < 0 {
		return &ConfigError{Field: "MAX_CONCURRENCY", Message: "must not be negative"}
	}
	if c.TaskTimeout < 0 {
		return &ConfigError{Field: "TASK_TIMEOUT", Message: "must not be negative"}
	}
	if c.GitBinary == "" {
		return &ConfigError{Field: "GIT_BINARY", Message: "git executable is required"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates the run history settings
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case StorageNone, StorageSQLite:
	case StoragePostgres:
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'none', 'sqlite' or 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
