package preflight

import (
	"context"
	"strings"

	"gantrymon/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir, ReadWrite),
	}

	// The sweeper moves or removes landed files; otherwise read access is enough.
	incomingMode := ReadOnly
	if cfg.Cleanup.Enabled {
		incomingMode = ReadWrite
	}
	results = append(results, CheckDirectoryAccess("Incoming directory", cfg.Scanner.IncomingDir, incomingMode))

	if len(cfg.Scanner.LogSources) > 0 {
		results = append(results, CheckDirectoryAccess("Transfer log directory", cfg.Scanner.LogDir, ReadOnly))
	}
	for _, dir := range cfg.Scanner.WatchDirs {
		results = append(results, CheckDirectoryAccess("Watch directory", dir, ReadOnly))
	}
	if cfg.Cleanup.Enabled && !cfg.Cleanup.Delete && strings.TrimSpace(cfg.Cleanup.DeletionQueueDir) != "" {
		results = append(results, CheckDirectoryAccess("Deletion queue", cfg.Cleanup.DeletionQueueDir, ReadWrite))
	}

	results = append(results,
		CheckEndpoint(ctx, "Transfer service", cfg.Transfer.BaseURL, Credentials{}),
		CheckEndpoint(ctx, "Downstream service", downstreamProbeURL(cfg), Credentials{
			Username: cfg.Downstream.Username,
			Password: cfg.Downstream.Password,
		}),
	)
	return results
}

func downstreamProbeURL(cfg *config.Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.Downstream.BaseURL), "/")
	if base == "" {
		return ""
	}
	probe := base + "/api/status"
	if cfg.Downstream.Key != "" {
		probe += "?key=" + cfg.Downstream.Key
	}
	return probe
}
