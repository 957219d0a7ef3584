package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Request represents an outbound JSON-RPC request or notification.
// A zero ID marks a notification and is omitted from the wire form.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents an inbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Transport frames and unframes messages over an analyzer's stdio streams
// using the Content-Length base protocol. The framing is self-delimiting:
// one corrupt frame is dropped with a diagnostic and never misaligns the
// frames that follow it.
//
// Transport owns no protocol state beyond its parse buffer; complete
// inbound frames are handed to the message callback (the request broker).
type Transport struct {
	reader *bufio.Reader
	writer io.Writer

	// writeMu serializes outbound frames so concurrent senders never
	// interleave partial writes.
	writeMu sync.Mutex

	onMessage func(data []byte)

	closed atomic.Bool
	done   chan struct{}
	log    *slog.Logger
}

// NewTransport creates a transport over the subprocess's stdout (r) and
// stdin (w).
func NewTransport(r io.Reader, w io.Writer, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		done:   make(chan struct{}),
		log:    log,
	}
}

// OnMessage sets the callback invoked with each complete inbound frame.
// Must be set before Start.
func (t *Transport) OnMessage(fn func(data []byte)) {
	t.onMessage = fn
}

// Start launches the reader goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close stops the reader. Safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	return nil
}

// IsClosed returns true once Close has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// WriteMessage marshals msg and writes it as a single frame. The header and
// body are assembled into one buffer so the frame reaches the pipe in a
// single write.
func (t *Transport) WriteMessage(msg any) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "Content-Length: %d\r\n\r\n", len(data))
	buf.Write(data) //nolint:errcheck // ByteBuffer writes cannot fail

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(buf.B); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop drains the stream until EOF, cancellation, or Close.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() || err == io.EOF || err == io.ErrClosedPipe ||
				err == io.ErrUnexpectedEOF {
				return
			}
			// Malformed frame: drop it and keep reading. The header
			// scanner realigns on the next Content-Length header.
			malformedFrames.Inc()
			t.log.Warn("dropping malformed frame", "err", err)
			continue
		}

		if t.onMessage != nil {
			t.onMessage(msg)
		}
	}
}

// readMessage reads one complete frame, reassembling it across however many
// underlying reads the pipe delivers it in. Unrecognized header lines are
// skipped, which is also what realigns the stream after a corrupt frame.
func (t *Transport) readMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if contentLength > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if length, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					contentLength = length
				}
			}
		}
		// Other headers (Content-Type) and stray garbage lines are ignored.
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

// ForwardDiagnostics drains the analyzer's diagnostic stream line by line,
// handing each verbatim line to fn. It must run for the life of the process
// even with no subscriber; an undrained stderr can fill its pipe buffer and
// wedge the analyzer.
func ForwardDiagnostics(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 16*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}
