package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/tidwall/gjson"
)

// NotificationHandler handles an inbound notification from the analyzer.
type NotificationHandler func(method string, params json.RawMessage)

// Broker correlates outbound requests with inbound responses over a single
// transport. It assigns monotonically increasing correlation ids, tracks
// each pending request with a deadline, and guarantees exactly-once
// resolution per id: by matching response, by timeout, or by teardown.
//
// The pending table is the one piece of state shared between senders, the
// reader goroutine, and teardown, so it lives in a sharded concurrent map.
// Resolution on the reader's stack is a channel handoff only; handlers and
// result decoding run on the waiting caller.
type Broker struct {
	transport *Transport

	nextID  atomic.Int64
	pending cmap.ConcurrentMap[int64, chan *Response]

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler

	pool *ants.Pool
	log  *slog.Logger

	defaultTimeout time.Duration
	closed         atomic.Bool
	done           chan struct{}
}

// correlationShard spreads int64 correlation ids across the map's shards.
func correlationShard(id int64) uint32 {
	u := uint64(id)
	return uint32(u ^ (u >> 32))
}

// NewBroker creates a broker bound to the transport and registers itself as
// the transport's message callback. The pool runs notification handlers off
// the reader goroutine; it may be shared with the supervisor.
func NewBroker(t *Transport, defaultTimeout time.Duration, pool *ants.Pool, log *slog.Logger) *Broker {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultRequestTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{
		transport:      t,
		pending:        cmap.NewWithCustomShardingFunction[int64, chan *Response](correlationShard),
		handlers:       make(map[string]NotificationHandler),
		pool:           pool,
		log:            log,
		defaultTimeout: defaultTimeout,
		done:           make(chan struct{}),
	}
	t.OnMessage(b.dispatch)
	return b
}

// Call sends a request and suspends the caller until its response arrives,
// the default timeout elapses, or the broker is torn down.
func (b *Broker) Call(ctx context.Context, method string, params, result any) error {
	return b.CallTimeout(ctx, method, params, result, b.defaultTimeout)
}

// CallTimeout is Call with an explicit per-request deadline.
//
// Outcomes are exclusive and exactly-once:
//   - matching response: result decoded (or the protocol error returned)
//   - deadline: ErrTimeout; the pending entry is removed and any late
//     response for the abandoned id is discarded, never resurrected
//   - teardown: ErrConnectionClosed
func (b *Broker) CallTimeout(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	if b.closed.Load() {
		return ErrConnectionClosed
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	id := b.nextID.Add(1)
	ch := make(chan *Response, 1)
	b.pending.Set(id, ch)

	req := &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := b.transport.WriteMessage(req); err != nil {
		b.pending.Remove(id)
		return fmt.Errorf("send %s: %w", method, err)
	}
	requestsTotal.Inc()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		b.pending.Remove(id)
		return ctx.Err()
	case <-b.done:
		b.pending.Remove(id)
		return ErrConnectionClosed
	case <-timer.C:
		b.pending.Remove(id)
		requestTimeouts.Inc()
		return fmt.Errorf("%s after %v: %w", method, timeout, ErrTimeout)
	case resp := <-ch:
		if resp.Error != nil {
			requestFailures.Inc()
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a notification; no response is expected or tracked.
func (b *Broker) Notify(_ context.Context, method string, params any) error {
	if b.closed.Load() {
		return ErrConnectionClosed
	}
	return b.transport.WriteMessage(&Request{JSONRPC: "2.0", Method: method, Params: params})
}

// OnNotification registers a handler for inbound notifications. The method
// "*" matches anything without a dedicated handler.
func (b *Broker) OnNotification(method string, handler NotificationHandler) {
	b.handlersMu.Lock()
	b.handlers[method] = handler
	b.handlersMu.Unlock()
}

// Pending returns the number of outstanding requests.
func (b *Broker) Pending() int {
	return b.pending.Count()
}

// Close tears the broker down: every outstanding request resumes immediately
// with ErrConnectionClosed, in no particular order, and the table is cleared.
// Safe to call more than once.
func (b *Broker) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.done)
	b.pending.Clear()
}

// dispatch routes one complete inbound frame. It runs on the reader
// goroutine, so it only probes, hands off, and returns.
func (b *Broker) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		malformedFrames.Inc()
		b.log.Warn("dropping unparseable frame", "bytes", len(data))
		return
	}

	id := gjson.GetBytes(data, "id")
	if id.Exists() && (gjson.GetBytes(data, "result").Exists() || gjson.GetBytes(data, "error").Exists()) {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			malformedFrames.Inc()
			b.log.Warn("dropping malformed response", "err", err)
			return
		}
		b.resolve(&resp)
		return
	}

	if method := gjson.GetBytes(data, "method"); method.Exists() {
		b.dispatchNotification(method.String(), []byte(gjson.GetBytes(data, "params").Raw))
		return
	}

	malformedFrames.Inc()
	b.log.Warn("dropping frame that is neither response nor notification")
}

// resolve hands a response to its waiting caller. A response whose id is no
// longer pending belongs to a timed-out or torn-down request and is dropped.
func (b *Broker) resolve(resp *Response) {
	ch, ok := b.pending.Pop(resp.ID)
	if !ok {
		lateResponses.Inc()
		b.log.Debug("discarding response for abandoned request", "id", resp.ID)
		return
	}
	// Buffered channel; the pop above makes this send the only one.
	ch <- resp
}

// dispatchNotification runs the handler on the worker pool, falling back to
// a plain goroutine if the pool is saturated. Either way the reader
// goroutine never blocks on a handler.
func (b *Broker) dispatchNotification(method string, params json.RawMessage) {
	b.handlersMu.RLock()
	handler, ok := b.handlers[method]
	if !ok {
		handler, ok = b.handlers["*"]
	}
	b.handlersMu.RUnlock()

	if !ok || handler == nil {
		b.log.Debug("unhandled notification", "method", method)
		return
	}

	task := func() { handler(method, params) }
	if b.pool == nil || b.pool.Submit(task) != nil {
		go task()
	}
}
