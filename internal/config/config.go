package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// LogSource describes one transfer log the scanner tails.
type LogSource struct {
	// Name identifies the source in state files and status output.
	Name string `toml:"name"`
	// Format is "xferlog" (FTP daemon transfer log) or "paths" (one path per line).
	Format string `toml:"format"`
	// Live is the file name of the active log inside Scanner.LogDir.
	Live string `toml:"live"`
	// RotatedPrefix selects rotated siblings such as xferlog-20240101.gz.
	RotatedPrefix string `toml:"rotated_prefix"`
	// StripPrefix is removed from logged paths before they are resolved
	// against Scanner.TransferRoot.
	StripPrefix string `toml:"strip_prefix"`
}

// Scanner contains arrival discovery settings.
type Scanner struct {
	IncomingDir        string      `toml:"incoming_dir"`
	TransferRoot       string      `toml:"transfer_root"`
	LogDir             string      `toml:"log_dir"`
	LogSources         []LogSource `toml:"log_sources"`
	WatchDirs          []string    `toml:"watch_dirs"`
	MinFileAgeMinutes  int         `toml:"min_file_age_minutes"`
	ScanInterval       int         `toml:"scan_interval"`
	MaxPending         int         `toml:"max_pending"`
	DirectoryWhitelist []string    `toml:"directory_whitelist"`
	SkipDatasets       []string    `toml:"skip_datasets"`
}

// PathRewrite replaces Match with Replace inside destination paths.
type PathRewrite struct {
	Match   string `toml:"match"`
	Replace string `toml:"replace"`
}

// Reclassify moves files with one of Extensions under one of the PathContains
// fragments from the From tree to the To tree.
type Reclassify struct {
	Extensions   []string `toml:"extensions"`
	PathContains []string `toml:"path_contains"`
	From         string   `toml:"from"`
	To           string   `toml:"to"`
}

// Transfer contains configuration for the managed transfer service.
type Transfer struct {
	BaseURL             string        `toml:"base_url"`
	Username            string        `toml:"username"`
	Password            string        `toml:"password"`
	SourceEndpoint      string        `toml:"source_endpoint"`
	DestinationEndpoint string        `toml:"destination_endpoint"`
	DestinationRoot     string        `toml:"destination_root"`
	MaxActiveTasks      int           `toml:"max_active_tasks"`
	MaxFilesPerBatch    int           `toml:"max_files_per_batch"`
	SubmitInterval      int           `toml:"submit_interval"`
	AuthRefreshInterval int           `toml:"auth_refresh_interval"`
	RequestTimeout      int           `toml:"request_timeout"`
	RateLimit           float64       `toml:"rate_limit"`
	PathRewrites        []PathRewrite `toml:"path_rewrites"`
	Reclassify          []Reclassify  `toml:"reclassify"`
	DropSegmentsContain []string      `toml:"drop_segments_containing"`
}

// Ledger selects the task ledger backend.
type Ledger struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Downstream contains configuration for the downstream data-management service.
type Downstream struct {
	BaseURL           string  `toml:"base_url"`
	Key               string  `toml:"key"`
	Username          string  `toml:"username"`
	Password          string  `toml:"password"`
	UserID            string  `toml:"user_id"`
	AgentBaseURL      string  `toml:"agent_base_url"`
	ContextURL        string  `toml:"context_url"`
	Vocabulary        string  `toml:"vocabulary"`
	PrimarySpaceID    string  `toml:"primary_space_id"`
	NotifyURL         string  `toml:"notify_url"`
	ReconcileInterval int     `toml:"reconcile_interval"`
	MaxRetries        int     `toml:"max_retries"`
	IngestWorkers     int     `toml:"ingest_workers"`
	RateLimit         float64 `toml:"rate_limit"`
	RequestTimeout    int     `toml:"request_timeout"`
}

// Cleanup contains configuration for the landing-area sweeper.
type Cleanup struct {
	Enabled          bool   `toml:"enabled"`
	DeletionQueueDir string `toml:"deletion_queue_dir"`
	Delete           bool   `toml:"delete"`
	Interval         int    `toml:"interval"`
	PruneEmptyDirs   bool   `toml:"prune_empty_dirs"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskFailures   bool   `toml:"task_failures"`
	LogGaps        bool   `toml:"log_gaps"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for gantrymon.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and API bind address
//   - Scanner: arrival discovery from transfer logs and folder sweeps
//   - Transfer: managed transfer service credentials and batching limits
//   - Ledger: task ledger backend (sqlite or postgres)
//   - Downstream: data-management service used for notification and ingestion
//   - Cleanup: landing-area sweeper
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scanner       Scanner       `toml:"scanner"`
	Transfer      Transfer      `toml:"transfer"`
	Ledger        Ledger        `toml:"ledger"`
	Downstream    Downstream    `toml:"downstream"`
	Cleanup       Cleanup       `toml:"cleanup"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gantrymon.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The deletion queue is created only when the sweeper moves files into it.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Cleanup.Enabled && !c.Cleanup.Delete && strings.TrimSpace(c.Cleanup.DeletionQueueDir) != "" {
		if err := os.MkdirAll(c.Cleanup.DeletionQueueDir, 0o755); err != nil {
			return fmt.Errorf("create deletion queue directory %q: %w", c.Cleanup.DeletionQueueDir, err)
		}
	}
	return nil
}

// PendingQueuePath is the durable pending-queue file.
func (c *Config) PendingQueuePath() string {
	return filepath.Join(c.Paths.StateDir, "pending.json")
}

// ScannerStatePath is the durable scanner resume-point file.
func (c *Config) ScannerStatePath() string {
	return filepath.Join(c.Paths.StateDir, "scanner_state.json")
}

// InflightPath is the in-flight submission journal.
func (c *Config) InflightPath() string {
	return filepath.Join(c.Paths.StateDir, "inflight.json")
}

// TokenPath stores cached transfer-service credentials.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Paths.StateDir, "transfer_auth.json")
}

// StatusPath is the status snapshot written after each scan.
func (c *Config) StatusPath() string {
	return filepath.Join(c.Paths.StateDir, "monitor_status.json")
}

// LockPath guards against two daemons sharing one state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "gantrymon.lock")
}

// PIDPath records the daemon process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "gantrymon.pid")
}

// LedgerDSN returns the data source name for the configured ledger driver.
// SQLite defaults to a file in the state directory.
func (c *Config) LedgerDSN() string {
	if strings.TrimSpace(c.Ledger.DSN) != "" {
		return c.Ledger.DSN
	}
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// Seconds converts an integer seconds setting into a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
