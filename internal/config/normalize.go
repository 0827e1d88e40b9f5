package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeScanner(); err != nil {
		return err
	}
	c.normalizeTransfer()
	c.normalizeLedger()
	c.normalizeDownstream()
	if err := c.normalizeCleanup(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if port, ok := os.LookupEnv("MONITOR_API_PORT"); ok && strings.TrimSpace(port) != "" {
		if _, convErr := strconv.Atoi(strings.TrimSpace(port)); convErr == nil {
			host := "127.0.0.1"
			if idx := strings.LastIndex(c.Paths.APIBind, ":"); idx > 0 {
				host = c.Paths.APIBind[:idx]
			}
			c.Paths.APIBind = host + ":" + strings.TrimSpace(port)
		}
	}
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("GANTRYMON_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeScanner() error {
	var err error
	if c.Scanner.IncomingDir, err = expandPath(strings.TrimSpace(c.Scanner.IncomingDir)); err != nil {
		return fmt.Errorf("scanner.incoming_dir: %w", err)
	}
	c.Scanner.TransferRoot = strings.TrimRight(strings.TrimSpace(c.Scanner.TransferRoot), "/")
	if c.Scanner.LogDir, err = expandPath(strings.TrimSpace(c.Scanner.LogDir)); err != nil {
		return fmt.Errorf("scanner.log_dir: %w", err)
	}
	for i := range c.Scanner.LogSources {
		src := &c.Scanner.LogSources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Format = strings.ToLower(strings.TrimSpace(src.Format))
		src.Live = strings.TrimSpace(src.Live)
		src.RotatedPrefix = strings.TrimSpace(src.RotatedPrefix)
		if src.Name == "" {
			src.Name = src.Live
		}
		if src.Format == "" {
			src.Format = "xferlog"
		}
	}
	dirs := make([]string, 0, len(c.Scanner.WatchDirs))
	for i, dir := range c.Scanner.WatchDirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("scanner.watch_dirs[%d]: %w", i, err)
		}
		dirs = append(dirs, expanded)
	}
	c.Scanner.WatchDirs = dirs
	c.Scanner.DirectoryWhitelist = trimList(c.Scanner.DirectoryWhitelist)
	c.Scanner.SkipDatasets = trimList(c.Scanner.SkipDatasets)
	return nil
}

func (c *Config) normalizeTransfer() {
	c.Transfer.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transfer.BaseURL), "/")
	if c.Transfer.BaseURL == "" {
		c.Transfer.BaseURL = defaultTransferBaseURL
	}
	c.Transfer.Username = strings.TrimSpace(c.Transfer.Username)
	if c.Transfer.Password == "" {
		if value, ok := os.LookupEnv("GANTRYMON_TRANSFER_PASSWORD"); ok {
			c.Transfer.Password = value
		}
	}
	c.Transfer.SourceEndpoint = strings.TrimSpace(c.Transfer.SourceEndpoint)
	c.Transfer.DestinationEndpoint = strings.TrimSpace(c.Transfer.DestinationEndpoint)
	c.Transfer.DestinationRoot = strings.TrimRight(strings.TrimSpace(c.Transfer.DestinationRoot), "/")
	for i := range c.Transfer.Reclassify {
		rule := &c.Transfer.Reclassify[i]
		for j, ext := range rule.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			rule.Extensions[j] = ext
		}
	}
	c.Transfer.DropSegmentsContain = trimList(c.Transfer.DropSegmentsContain)
}

func (c *Config) normalizeLedger() {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	switch c.Ledger.Driver {
	case "", "sqlite3":
		c.Ledger.Driver = defaultLedgerDriver
	case "pgx", "postgresql":
		c.Ledger.Driver = "postgres"
	}
	c.Ledger.DSN = strings.TrimSpace(c.Ledger.DSN)
	if c.Ledger.DSN == "" {
		if value, ok := os.LookupEnv("GANTRYMON_LEDGER_DSN"); ok {
			c.Ledger.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeDownstream() {
	c.Downstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Downstream.BaseURL), "/")
	if c.Downstream.Key == "" {
		if value, ok := os.LookupEnv("GANTRYMON_DOWNSTREAM_KEY"); ok {
			c.Downstream.Key = strings.TrimSpace(value)
		}
	}
	c.Downstream.Username = strings.TrimSpace(c.Downstream.Username)
	if c.Downstream.Password == "" {
		if value, ok := os.LookupEnv("GANTRYMON_DOWNSTREAM_PASSWORD"); ok {
			c.Downstream.Password = value
		}
	}
	c.Downstream.UserID = strings.TrimSpace(c.Downstream.UserID)
	c.Downstream.AgentBaseURL = strings.TrimRight(strings.TrimSpace(c.Downstream.AgentBaseURL), "/")
	if c.Downstream.AgentBaseURL == "" {
		c.Downstream.AgentBaseURL = defaultAgentBaseURL
	}
	if strings.TrimSpace(c.Downstream.ContextURL) == "" {
		c.Downstream.ContextURL = defaultContextURL
	}
	if strings.TrimSpace(c.Downstream.Vocabulary) == "" {
		c.Downstream.Vocabulary = defaultVocabulary
	}
	c.Downstream.PrimarySpaceID = strings.TrimSpace(c.Downstream.PrimarySpaceID)
	c.Downstream.NotifyURL = strings.TrimSpace(c.Downstream.NotifyURL)
	if c.Downstream.IngestWorkers <= 0 {
		c.Downstream.IngestWorkers = defaultIngestWorkers
	}
}

func (c *Config) normalizeCleanup() error {
	dir := strings.TrimSpace(c.Cleanup.DeletionQueueDir)
	if dir == "" {
		c.Cleanup.DeletionQueueDir = ""
		return nil
	}
	expanded, err := expandPath(dir)
	if err != nil {
		return fmt.Errorf("cleanup.deletion_queue_dir: %w", err)
	}
	c.Cleanup.DeletionQueueDir = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
