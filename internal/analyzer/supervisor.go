package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

const (
	clientName    = "langbridge"
	clientVersion = "0.1.0"
)

// Supervisor owns one analyzer subprocess: it resolves the binary, spawns
// and supervises the process, drives the app state machine, and is the sole
// entry point collaborators use to talk to the analyzer.
//
// Thread safety: all methods are safe to call concurrently with each other
// and with the internal reader goroutines.
type Supervisor struct {
	mu sync.Mutex

	config   ServerConfig
	env      Environment
	resolver *Resolver
	launch   launchFunc
	log      *slog.Logger
	pool     *ants.Pool

	state atomic.Int32

	// generation ties a monitor goroutine to the start cycle that spawned
	// it, so a stale monitor never tears down a newer process.
	generation atomic.Uint64

	proc       *process
	transport  *Transport
	broker     *Broker
	cancel     context.CancelFunc
	startedAt  time.Time
	serverInfo *ServerInfo

	subsMu        sync.RWMutex
	stateSubs     map[string]StateChangeFunc
	diagSubs      map[string]DiagnosticFunc
	notifHandlers map[string]NotificationHandler

	events    chan StateChange
	diagLines chan string
}

// ServerInfo identifies the analyzer as reported during bring-up.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProcessID  int        `json:"processId"`
	ClientInfo clientInfo `json:"clientInfo"`
}

type initializeResult struct {
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithEnvironment injects the resolution environment. Tests use a fake so
// resolution never touches the real filesystem.
func WithEnvironment(env Environment) SupervisorOption {
	return func(s *Supervisor) { s.env = env }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// withLauncher substitutes the process spawner (test hook).
func withLauncher(l launchFunc) SupervisorOption {
	return func(s *Supervisor) { s.launch = l }
}

// NewSupervisor creates a supervisor in the inactive state.
func NewSupervisor(config ServerConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		config:        config.withDefaults(),
		stateSubs:     make(map[string]StateChangeFunc),
		diagSubs:      make(map[string]DiagnosticFunc),
		notifHandlers: make(map[string]NotificationHandler),
		events:        make(chan StateChange, 32),
		diagLines:     make(chan string, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.launch == nil {
		s.launch = execLaunch
	}
	s.resolver = NewResolver(s.config, s.env, s.log)
	if pool, err := ants.NewPool(8, ants.WithNonblocking(true)); err == nil {
		s.pool = pool
	}
	s.state.Store(int32(StateInactive))

	go s.eventLoop()
	return s
}

// Start resolves the binary, spawns the analyzer, and confirms bring-up.
// Legal only from the inactive state. On any failure the supervisor returns
// to inactive and the condition is reported once; starting again is an
// explicit caller decision.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if State(s.state.Load()) != StateInactive {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.setState(StateLaunching)

	// Re-resolve on every start so PATH or configuration changes are
	// picked up without restarting the host.
	path, err := s.resolver.Resolve()
	if err != nil {
		s.setState(StateInactive)
		s.mu.Unlock()
		return err
	}

	// The process outlives the Start call, so its context is detached
	// from the caller's.
	procCtx, cancel := context.WithCancel(context.Background())
	proc, err := s.launch(procCtx, path, s.config)
	if err != nil {
		cancel()
		s.setState(StateInactive)
		s.mu.Unlock()
		return &SpawnError{Path: path, Err: err}
	}

	transport := NewTransport(proc.stdout, proc.stdin, s.log)
	broker := NewBroker(transport, s.config.RequestTimeout, s.pool, s.log)
	s.subsMu.RLock()
	for method, handler := range s.notifHandlers {
		broker.OnNotification(method, handler)
	}
	s.subsMu.RUnlock()
	transport.Start(procCtx)

	s.proc, s.transport, s.broker, s.cancel = proc, transport, broker, cancel
	gen := s.generation.Add(1)
	go s.drainDiagnostics(proc.stderr)
	go s.monitor(gen, proc, transport, broker)
	s.mu.Unlock()

	// Confirm bring-up without holding the lock: Stop must be able to
	// abort the launch, and the monitor must be able to fail the
	// handshake if the process dies immediately.
	hctx, hcancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	info, herr := s.handshake(hctx, broker)
	hcancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) != StateLaunching {
		// Stop aborted the launch and owns the teardown.
		return ErrLaunchAborted
	}
	if herr != nil {
		s.generation.Add(1)
		s.teardownLocked(true)
		s.setState(StateInactive)
		return &SpawnError{Path: path, Err: fmt.Errorf("bring-up: %w", herr)}
	}
	s.serverInfo = info
	s.startedAt = time.Now()
	s.setState(StateRunning)
	s.log.Info("analyzer running", "path", path, "pid", proc.pid)
	return nil
}

// handshake performs the initialize exchange that confirms bring-up.
func (s *Supervisor) handshake(ctx context.Context, broker *Broker) (*ServerInfo, error) {
	params := initializeParams{
		ProcessID:  os.Getpid(),
		ClientInfo: clientInfo{Name: clientName, Version: clientVersion},
	}
	var result initializeResult
	if err := broker.CallTimeout(ctx, "initialize", params, &result, s.config.StartupTimeout); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := broker.Notify(ctx, "initialized", struct{}{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return result.ServerInfo, nil
}

// Stop shuts the analyzer down: orderly shutdown over the protocol, a
// bounded grace period, then a forced kill. Outstanding requests fail with
// ErrConnectionClosed. A stop while inactive is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	st := State(s.state.Load())
	if st == StateInactive || st == StateStopping {
		s.mu.Unlock()
		return nil
	}
	proc, transport, broker := s.proc, s.transport, s.broker
	s.generation.Add(1)
	s.setState(StateStopping)
	s.mu.Unlock()

	if st == StateRunning && broker != nil && transport != nil && !transport.IsClosed() {
		grace := s.config.StopGracePeriod
		deadline := time.Now().Add(grace)
		sctx, scancel := context.WithDeadline(ctx, deadline)
		_ = broker.CallTimeout(sctx, "shutdown", nil, nil, grace)
		_ = broker.Notify(sctx, "exit", nil)
		scancel()

		if proc != nil {
			select {
			case <-proc.exitCh:
			case <-time.After(time.Until(deadline)):
				s.log.Warn("analyzer did not exit within grace period, killing",
					"pid", proc.pid, "grace", grace)
				_ = proc.kill()
			}
		}
	}

	s.mu.Lock()
	s.teardownLocked(st == StateLaunching)
	s.setState(StateInactive)
	s.mu.Unlock()

	s.log.Info("analyzer stopped")
	return nil
}

// teardownLocked releases the server handle: fails all pending requests,
// closes the transport and pipes, and optionally kills the process.
// Must hold mu.
func (s *Supervisor) teardownLocked(kill bool) {
	if s.broker != nil {
		s.broker.Close()
	}
	if s.transport != nil {
		s.transport.Close()
	}
	if s.proc != nil {
		if kill {
			_ = s.proc.kill()
		}
		s.proc.closePipes()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.proc, s.transport, s.broker, s.cancel = nil, nil, nil, nil
	s.serverInfo = nil
}

// monitor waits for the process belonging to one start cycle to exit. An
// exit during an orderly stop is expected; any other exit tears the cycle
// down and returns the supervisor to inactive.
func (s *Supervisor) monitor(gen uint64, proc *process, transport *Transport, broker *Broker) {
	err := proc.wait()
	select {
	case proc.exitCh <- err:
	default:
	}

	if s.generation.Load() != gen {
		return
	}

	// Resume pending callers (including a launch handshake) before taking
	// the lock.
	broker.Close()
	transport.Close()

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		return
	}
	switch State(s.state.Load()) {
	case StateLaunching:
		// Start's handshake observes the closed broker and finishes the
		// teardown on its own path.
		s.mu.Unlock()
		return
	case StateRunning:
		s.generation.Add(1)
		s.teardownLocked(false)
		s.setState(StateInactive)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return
	}

	s.log.Warn("analyzer exited unexpectedly", "err", err)
	if s.config.Restart.Enabled {
		go s.autoRestart()
	}
}

// --- Requests ---

// Call sends a request and waits for its response using the configured
// default timeout. Legal only while running; otherwise it fails immediately
// without touching the transport.
func (s *Supervisor) Call(ctx context.Context, method string, params, result any) error {
	broker, err := s.runningBroker()
	if err != nil {
		return err
	}
	return broker.Call(ctx, method, params, result)
}

// CallTimeout is Call with an explicit per-request timeout.
func (s *Supervisor) CallTimeout(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	broker, err := s.runningBroker()
	if err != nil {
		return err
	}
	return broker.CallTimeout(ctx, method, params, result, timeout)
}

// Notify sends a notification to the analyzer.
func (s *Supervisor) Notify(ctx context.Context, method string, params any) error {
	broker, err := s.runningBroker()
	if err != nil {
		return err
	}
	return broker.Notify(ctx, method, params)
}

func (s *Supervisor) runningBroker() (*Broker, error) {
	if State(s.state.Load()) != StateRunning {
		return nil, ErrNotRunning
	}
	s.mu.Lock()
	broker := s.broker
	s.mu.Unlock()
	if broker == nil {
		return nil, ErrNotRunning
	}
	return broker, nil
}

// OnNotification registers a handler for analyzer-initiated notifications.
// Handlers survive restarts; "*" matches methods without a dedicated handler.
func (s *Supervisor) OnNotification(method string, handler NotificationHandler) {
	s.subsMu.Lock()
	s.notifHandlers[method] = handler
	s.subsMu.Unlock()

	s.mu.Lock()
	if s.broker != nil {
		s.broker.OnNotification(method, handler)
	}
	s.mu.Unlock()
}

// --- State ---

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// IsRunning returns true iff the state is running.
func (s *Supervisor) IsRunning() bool {
	return s.State() == StateRunning
}

// setState swaps the state and queues the transition for subscribers.
// Transitions are delivered in order by the event loop.
func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if !prev.CanTransition(next) {
		s.log.Error("illegal state transition", "from", prev, "to", next)
	}
	select {
	case s.events <- StateChange{From: prev, To: next}:
	default:
		s.log.Warn("state change dropped, subscriber backlog full", "from", prev, "to", next)
	}
}

// --- Subscriptions ---

// OnStateChange subscribes to state transitions and returns a token for
// Unsubscribe.
func (s *Supervisor) OnStateChange(fn StateChangeFunc) string {
	token := uuid.NewString()
	s.subsMu.Lock()
	s.stateSubs[token] = fn
	s.subsMu.Unlock()
	return token
}

// OnDiagnostics subscribes to verbatim analyzer stderr lines and returns a
// token for Unsubscribe.
func (s *Supervisor) OnDiagnostics(fn DiagnosticFunc) string {
	token := uuid.NewString()
	s.subsMu.Lock()
	s.diagSubs[token] = fn
	s.subsMu.Unlock()
	return token
}

// Unsubscribe removes a state-change or diagnostics subscription.
func (s *Supervisor) Unsubscribe(token string) {
	s.subsMu.Lock()
	delete(s.stateSubs, token)
	delete(s.diagSubs, token)
	s.subsMu.Unlock()
}

// eventLoop fans state changes and diagnostic lines out to subscribers, in
// order, off the supervisor's critical path.
func (s *Supervisor) eventLoop() {
	for {
		select {
		case change := <-s.events:
			s.subsMu.RLock()
			fns := make([]StateChangeFunc, 0, len(s.stateSubs))
			for _, fn := range s.stateSubs {
				fns = append(fns, fn)
			}
			s.subsMu.RUnlock()
			for _, fn := range fns {
				fn(change)
			}
		case line := <-s.diagLines:
			s.subsMu.RLock()
			fns := make([]DiagnosticFunc, 0, len(s.diagSubs))
			for _, fn := range s.diagSubs {
				fns = append(fns, fn)
			}
			s.subsMu.RUnlock()
			for _, fn := range fns {
				fn(line)
			}
		}
	}
}

// drainDiagnostics forwards the analyzer's stderr to the log and to
// diagnostic subscribers. It runs until the stream closes; the drain itself
// never stops even when nothing is subscribed.
func (s *Supervisor) drainDiagnostics(r io.ReadCloser) {
	ForwardDiagnostics(r, func(line string) {
		s.log.Debug("analyzer stderr", "line", line)
		select {
		case s.diagLines <- line:
		default:
		}
	})
}

// Info returns the analyzer identity reported at bring-up, if any.
func (s *Supervisor) Info() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}
