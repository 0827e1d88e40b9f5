package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateDownstream(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScanner() error {
	if err := ensurePositiveMap(map[string]int{
		"scanner.scan_interval": c.Scanner.ScanInterval,
		"scanner.max_pending":   c.Scanner.MaxPending,
	}); err != nil {
		return err
	}
	if c.Scanner.MinFileAgeMinutes < 0 {
		return errors.New("scanner.min_file_age_minutes must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Scanner.LogSources))
	for i, src := range c.Scanner.LogSources {
		if src.Live == "" {
			return fmt.Errorf("scanner.log_sources[%d].live must be set", i)
		}
		switch src.Format {
		case "xferlog", "paths":
		default:
			return fmt.Errorf("scanner.log_sources[%d].format must be xferlog or paths (got %q)", i, src.Format)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("scanner.log_sources[%d].name %q is duplicated", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if err := ensurePositiveMap(map[string]int{
		"transfer.max_active_tasks":      c.Transfer.MaxActiveTasks,
		"transfer.max_files_per_batch":   c.Transfer.MaxFilesPerBatch,
		"transfer.submit_interval":       c.Transfer.SubmitInterval,
		"transfer.auth_refresh_interval": c.Transfer.AuthRefreshInterval,
		"transfer.request_timeout":       c.Transfer.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Transfer.RateLimit < 0 {
		return errors.New("transfer.rate_limit must be >= 0")
	}
	if _, err := url.ParseRequestURI(c.Transfer.BaseURL); err != nil {
		return fmt.Errorf("transfer.base_url is invalid: %w", err)
	}
	for i, rule := range c.Transfer.PathRewrites {
		if rule.Match == "" {
			return fmt.Errorf("transfer.path_rewrites[%d].match must be set", i)
		}
	}
	for i, rule := range c.Transfer.Reclassify {
		if rule.From == "" || rule.To == "" {
			return fmt.Errorf("transfer.reclassify[%d] requires from and to", i)
		}
		if len(rule.Extensions) == 0 {
			return fmt.Errorf("transfer.reclassify[%d].extensions must not be empty", i)
		}
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn must be set when ledger.driver is postgres (or set GANTRYMON_LEDGER_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("ledger.driver must be sqlite or postgres (got %q)", c.Ledger.Driver)
	}
}

func (c *Config) validateDownstream() error {
	if err := ensurePositiveMap(map[string]int{
		"downstream.reconcile_interval": c.Downstream.ReconcileInterval,
		"downstream.max_retries":        c.Downstream.MaxRetries,
		"downstream.ingest_workers":     c.Downstream.IngestWorkers,
		"downstream.request_timeout":    c.Downstream.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Downstream.RateLimit < 0 {
		return errors.New("downstream.rate_limit must be >= 0")
	}
	if c.Downstream.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Downstream.BaseURL); err != nil {
			return fmt.Errorf("downstream.base_url is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if !c.Cleanup.Enabled {
		return nil
	}
	if c.Cleanup.Interval <= 0 {
		return errors.New("cleanup.interval must be positive")
	}
	if !c.Cleanup.Delete && strings.TrimSpace(c.Cleanup.DeletionQueueDir) == "" {
		return errors.New("cleanup.deletion_queue_dir must be set when cleanup.enabled is true and cleanup.delete is false")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
