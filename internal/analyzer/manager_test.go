package analyzer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *fakeFactory) {
	t.Helper()
	factory := newFakeFactory(fakeOpts{
		onRequest: func(fs *fakeServer, id int64, method string, _ json.RawMessage) bool {
			fs.respond(id, map[string]string{"method": method})
			return true
		},
	})
	env := &fakeEnv{exes: map[string]bool{"/test/bin/analyzer": true}}
	m := NewManager(WithSupervisorOptions(
		WithEnvironment(env),
		WithLogger(testLogger()),
		withLauncher(factory.launch),
	))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, factory
}

func testServerConfig() ServerConfig {
	return ServerConfig{Command: "analyzer", ExplicitPath: "/test/bin/analyzer"}
}

func TestManagerRegisterAndRoute(t *testing.T) {
	m, _ := newTestManager(t)
	m.Register("go", testServerConfig())
	m.Register("rust", testServerConfig())

	assert.ElementsMatch(t, []string{"go", "rust"}, m.Names())
	assert.Empty(t, m.Running())

	require.NoError(t, m.Start(context.Background(), "go"))
	assert.Equal(t, []string{"go"}, m.Running())

	var result struct {
		Method string `json:"method"`
	}
	require.NoError(t, m.Call(context.Background(), "go", "analysis/run", nil, &result))
	assert.Equal(t, "analysis/run", result.Method)

	// The other analyzer was never started; routing to it fails fast.
	err := m.Call(context.Background(), "rust", "analysis/run", nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManagerUnknownAnalyzer(t *testing.T) {
	m, _ := newTestManager(t)

	assert.ErrorIs(t, m.Start(context.Background(), "nope"), ErrUnknownAnalyzer)
	assert.ErrorIs(t, m.Stop(context.Background(), "nope"), ErrUnknownAnalyzer)
	assert.ErrorIs(t, m.Call(context.Background(), "nope", "m", nil, nil), ErrUnknownAnalyzer)

	_, ok := m.Supervisor("nope")
	assert.False(t, ok)
}

func TestManagerShutdown(t *testing.T) {
	m, _ := newTestManager(t)
	m.Register("a", testServerConfig())
	m.Register("b", testServerConfig())

	require.NoError(t, m.Start(context.Background(), "a"))
	require.NoError(t, m.Start(context.Background(), "b"))
	require.Len(t, m.Running(), 2)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.Running())

	sup, ok := m.Supervisor("a")
	require.True(t, ok)
	assert.Equal(t, StateInactive, sup.State())
}
