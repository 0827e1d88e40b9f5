package testsupport

import (
	"path/filepath"
	"testing"

	"gantrymon/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Remote endpoints point nowhere; tests that talk HTTP override them with
// WithTransferURL and WithDownstreamURL.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Scanner.IncomingDir = filepath.Join(base, "incoming")
	cfgVal.Scanner.TransferRoot = "/gantry_data"
	cfgVal.Scanner.LogDir = filepath.Join(base, "xferlogs")
	cfgVal.Scanner.DirectoryWhitelist = nil
	cfgVal.Transfer.BaseURL = "http://127.0.0.1:1"
	cfgVal.Transfer.Username = "tester"
	cfgVal.Transfer.Password = "secret"
	cfgVal.Transfer.SourceEndpoint = "src-endpoint"
	cfgVal.Transfer.DestinationEndpoint = "dst-endpoint"
	cfgVal.Transfer.RateLimit = 0
	cfgVal.Downstream.BaseURL = "http://127.0.0.1:1"
	cfgVal.Downstream.Key = "key"
	cfgVal.Downstream.UserID = "user-1"
	cfgVal.Downstream.RateLimit = 0
	cfgVal.Cleanup.DeletionQueueDir = filepath.Join(base, "deletion")
	cfgVal.Ledger.Driver = "sqlite"
	cfgVal.Ledger.DSN = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTransferURL points the transfer client at a test server.
func WithTransferURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.BaseURL = url
	}
}

// WithDownstreamURL points the downstream client at a test server.
func WithDownstreamURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Downstream.BaseURL = url
	}
}

// WithBatchLimits overrides submitter limits.
func WithBatchLimits(maxActive, maxFiles int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.MaxActiveTasks = maxActive
		b.cfg.Transfer.MaxFilesPerBatch = maxFiles
	}
}

// WithMaxPending overrides the scanner backpressure limit.
func WithMaxPending(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scanner.MaxPending = limit
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
