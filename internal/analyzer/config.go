package analyzer

import (
	"time"
)

// Default tunables. Each is overridable per ServerConfig.
const (
	// DefaultRequestTimeout bounds a single request/response exchange.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultStartupTimeout bounds the bring-up handshake after spawn.
	DefaultStartupTimeout = 10 * time.Second

	// DefaultStopGracePeriod bounds the orderly-shutdown wait before the
	// process is forcibly terminated.
	DefaultStopGracePeriod = 3 * time.Second
)

// transportArg selects stdio transport on the analyzer's command line so it
// listens on its standard streams rather than a socket.
const transportArg = "--stdio"

// ServerConfig defines how to locate and run one analyzer.
type ServerConfig struct {
	// Command is the bare binary name, used for bundled and search-path
	// resolution. The platform executable suffix is appended automatically.
	Command string

	// ExplicitPath, when set, is tried first. If it does not point at an
	// executable the resolver logs a warning and falls through to the
	// next tier rather than failing.
	ExplicitPath string

	// BundleDir is the directory holding binaries shipped with the host
	// application. Empty means <host executable dir>/analyzers.
	BundleDir string

	// Args are extra command-line arguments. The stdio transport flag is
	// always appended.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the subprocess working directory.
	WorkDir string

	// RequestTimeout is the default per-request deadline.
	RequestTimeout time.Duration

	// StartupTimeout bounds the bring-up handshake.
	StartupTimeout time.Duration

	// StopGracePeriod bounds the orderly shutdown before a forced kill.
	StopGracePeriod time.Duration

	// Restart controls crash recovery after an unexpected exit.
	Restart RestartPolicy
}

// RestartPolicy configures automatic restart after an unexpected exit
// while running. Disabled by default: a crash returns the supervisor to
// the inactive state and the host decides whether to start again.
type RestartPolicy struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRestartPolicy returns the restart tuning used when the policy is
// enabled without explicit values.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:        false,
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// withDefaults fills zero values with the package defaults.
func (c ServerConfig) withDefaults() ServerConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = DefaultStopGracePeriod
	}
	if c.Restart.MaxAttempts <= 0 {
		c.Restart.MaxAttempts = 5
	}
	if c.Restart.InitialBackoff <= 0 {
		c.Restart.InitialBackoff = 1 * time.Second
	}
	if c.Restart.MaxBackoff <= 0 {
		c.Restart.MaxBackoff = 30 * time.Second
	}
	return c
}
