package testsupport

import (
	"path/filepath"
	"testing"

	"flowscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Notifications.NtfyTopic = ""

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

// WithQuota sets the storage quota in bytes.
func WithQuota(bytes int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.QuotaBytes = bytes
	}
}

// WithThrottle sets the persistence throttle interval in milliseconds.
func WithThrottle(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.ThrottleMS = ms
	}
}

// WithoutWorker disables the serialization worker.
func WithoutWorker() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.WorkerEnabled = false
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
