package analyzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnv is a deterministic Environment for resolution tests.
type fakeEnv struct {
	exes    map[string]bool   // executable paths
	path    map[string]string // name -> resolved search-path hit
	hostDir string
	hostErr error
}

func (f *fakeEnv) Executable(path string) bool { return f.exes[path] }

func (f *fakeEnv) LookPath(name string) (string, error) {
	if p, ok := f.path[name]; ok {
		return p, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func (f *fakeEnv) HostDir() (string, error) {
	if f.hostErr != nil {
		return "", f.hostErr
	}
	return f.hostDir, nil
}

func TestResolveExplicitPath(t *testing.T) {
	env := &fakeEnv{exes: map[string]bool{"/opt/tools/analyzer-bin": true}}
	r := NewResolver(ServerConfig{
		Command:      "halcyon-analyzer",
		ExplicitPath: "/opt/tools/analyzer-bin",
	}, env, nil)

	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/opt/tools/analyzer-bin", path)
}

func TestResolveDanglingExplicitFallsThrough(t *testing.T) {
	// The configured path does not exist; resolution must continue to the
	// bundled tier instead of failing outright.
	env := &fakeEnv{
		exes:    map[string]bool{"/usr/lib/halcyon/analyzers/halcyon-analyzer": true},
		hostDir: "/usr/lib/halcyon",
	}
	r := NewResolver(ServerConfig{
		Command:      "halcyon-analyzer",
		ExplicitPath: "/nonexistent/analyzer",
	}, env, nil)

	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/halcyon/analyzers/halcyon-analyzer", path)
}

func TestResolveBundleDirOverride(t *testing.T) {
	env := &fakeEnv{
		exes:    map[string]bool{"/custom/bundle/halcyon-analyzer": true},
		hostDir: "/usr/lib/halcyon",
	}
	r := NewResolver(ServerConfig{
		Command:   "halcyon-analyzer",
		BundleDir: "/custom/bundle",
	}, env, nil)

	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/custom/bundle/halcyon-analyzer", path)
}

func TestResolveSearchPath(t *testing.T) {
	env := &fakeEnv{
		exes:    map[string]bool{},
		path:    map[string]string{"halcyon-analyzer": "/usr/local/bin/halcyon-analyzer"},
		hostDir: "/usr/lib/halcyon",
	}
	r := NewResolver(ServerConfig{Command: "halcyon-analyzer"}, env, nil)

	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/halcyon-analyzer", path)
}

func TestResolveExplicitWinsOverOtherTiers(t *testing.T) {
	env := &fakeEnv{
		exes: map[string]bool{
			"/explicit/analyzer": true,
			"/usr/lib/halcyon/analyzers/halcyon-analyzer": true,
		},
		path:    map[string]string{"halcyon-analyzer": "/usr/local/bin/halcyon-analyzer"},
		hostDir: "/usr/lib/halcyon",
	}
	r := NewResolver(ServerConfig{
		Command:      "halcyon-analyzer",
		ExplicitPath: "/explicit/analyzer",
	}, env, nil)

	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/explicit/analyzer", path)
}

func TestResolveExhaustion(t *testing.T) {
	env := &fakeEnv{exes: map[string]bool{}, hostDir: "/usr/lib/halcyon"}
	r := NewResolver(ServerConfig{
		Command:      "halcyon-analyzer",
		ExplicitPath: "/missing/analyzer",
	}, env, nil)

	_, err := r.Resolve()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "halcyon-analyzer", rerr.Binary)
	require.Len(t, rerr.Tiers, 3, "every tier must be accounted for")
	assert.Equal(t, TierExplicit, rerr.Tiers[0].Tier)
	assert.Equal(t, TierBundled, rerr.Tiers[1].Tier)
	assert.Equal(t, TierSearchPath, rerr.Tiers[2].Tier)

	assert.Contains(t, rerr.Error(), "halcyon-analyzer")
	assert.Contains(t, rerr.Remediation(), "halcyon-analyzer")
}

func TestResolveHostDirUnknown(t *testing.T) {
	env := &fakeEnv{exes: map[string]bool{}, hostErr: errors.New("no executable")}
	r := NewResolver(ServerConfig{Command: "halcyon-analyzer"}, env, nil)

	_, err := r.Resolve()
	require.Error(t, err)
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "host directory unknown", rerr.Tiers[1].Detail)
}

func TestResolveRepeatable(t *testing.T) {
	// Resolution has no cached state: a binary that appears between calls
	// is picked up on the next attempt.
	env := &fakeEnv{exes: map[string]bool{}, hostDir: "/usr/lib/halcyon"}
	r := NewResolver(ServerConfig{Command: "halcyon-analyzer"}, env, nil)

	_, err := r.Resolve()
	require.ErrorIs(t, err, ErrBinaryNotFound)

	env.path = map[string]string{"halcyon-analyzer": "/usr/local/bin/halcyon-analyzer"}
	path, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/halcyon-analyzer", path)
}

func TestBinaryName(t *testing.T) {
	assert.Equal(t, "halcyon-analyzer", binaryName("halcyon-analyzer", "linux"))
	assert.Equal(t, "halcyon-analyzer", binaryName("halcyon-analyzer", "darwin"))
	assert.Equal(t, "halcyon-analyzer.exe", binaryName("halcyon-analyzer", "windows"))
	assert.Equal(t, "tool.exe", binaryName("tool.exe", "windows"))
}
