package analyzer

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Environment abstracts the pieces of the host environment the resolver
// inspects, so resolution stays deterministic and testable without touching
// a real filesystem or process table.
type Environment interface {
	// Executable reports whether path exists and is runnable.
	Executable(path string) bool

	// LookPath searches the process search path for the named binary.
	LookPath(name string) (string, error)

	// HostDir returns the directory containing the host application's
	// own executable.
	HostDir() (string, error)
}

// osEnvironment is the real-process Environment.
type osEnvironment struct{}

func (osEnvironment) Executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func (osEnvironment) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (osEnvironment) HostDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// Resolver locates the analyzer binary for one ServerConfig. Resolution is
// a pure ordered lookup over the injected Environment: explicit configured
// path, then the bundled location, then the search path. It has no side
// effects and is safe to call once per start, so environment changes are
// picked up without restarting the host.
type Resolver struct {
	config ServerConfig
	env    Environment
	log    *slog.Logger
}

// NewResolver creates a resolver over the given environment. A nil env uses
// the real process environment.
func NewResolver(config ServerConfig, env Environment, log *slog.Logger) *Resolver {
	if env == nil {
		env = osEnvironment{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{config: config, env: env, log: log}
}

// Resolve returns the first tier that yields an executable. When every tier
// is exhausted it returns a *ResolutionError enumerating what was tried;
// that is a reportable condition, not a crash.
func (r *Resolver) Resolve() (string, error) {
	name := binaryName(r.config.Command, runtime.GOOS)
	tiers := make([]TierResult, 0, 3)

	// Tier 1: explicit configured path. A dangling path is configuration
	// drift: warn and keep going rather than fail or stay silent.
	if p := r.config.ExplicitPath; p != "" {
		if r.env.Executable(p) {
			return absPath(p), nil
		}
		r.log.Warn("configured analyzer path is not an executable, trying next tier",
			"path", p, "analyzer", r.config.Command)
		tiers = append(tiers, TierResult{Tier: TierExplicit, Detail: p})
	} else {
		tiers = append(tiers, TierResult{Tier: TierExplicit, Detail: "not configured"})
	}

	// Tier 2: bundled alongside the host application.
	bundleDir := r.config.BundleDir
	if bundleDir == "" {
		if hostDir, err := r.env.HostDir(); err == nil {
			bundleDir = filepath.Join(hostDir, "analyzers")
		}
	}
	if bundleDir != "" {
		bundled := filepath.Join(bundleDir, name)
		if r.env.Executable(bundled) {
			return absPath(bundled), nil
		}
		tiers = append(tiers, TierResult{Tier: TierBundled, Detail: bundled})
	} else {
		tiers = append(tiers, TierResult{Tier: TierBundled, Detail: "host directory unknown"})
	}

	// Tier 3: search path.
	if p, err := r.env.LookPath(name); err == nil {
		return absPath(p), nil
	}
	tiers = append(tiers, TierResult{Tier: TierSearchPath, Detail: name + " not on PATH"})

	return "", &ResolutionError{Binary: name, Tiers: tiers}
}

// binaryName applies the platform executable-suffix convention.
func binaryName(command, goos string) string {
	if goos == "windows" && filepath.Ext(command) != ".exe" {
		return command + ".exe"
	}
	return command
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
