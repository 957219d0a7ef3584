package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeOpts controls how a fake analyzer process behaves.
type fakeOpts struct {
	// noHandshake makes the server ignore the initialize request.
	noHandshake bool

	// noShutdown makes the server ignore shutdown/exit, forcing the
	// supervisor's kill fallback.
	noShutdown bool

	// onRequest handles any other request; return true if handled.
	onRequest func(fs *fakeServer, id int64, method string, params json.RawMessage) bool
}

// fakeServer plays the analyzer side of the wire over in-memory pipes.
type fakeServer struct {
	opts fakeOpts

	reqR    *io.PipeReader // reads what the client writes to "stdin"
	respW   *io.PipeWriter // writes to the client's "stdout"
	stderrW *io.PipeWriter

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
	exitErr error
}

// fakeFactory builds one fakeServer per launch and remembers them so tests
// can reach the live instance.
type fakeFactory struct {
	mu      sync.Mutex
	opts    fakeOpts
	servers []*fakeServer
}

func newFakeFactory(opts fakeOpts) *fakeFactory {
	return &fakeFactory{opts: opts}
}

func (f *fakeFactory) launch(_ context.Context, _ string, _ ServerConfig) (*process, error) {
	stdinR, stdinW := io.Pipe()   // client writes, server reads
	stdoutR, stdoutW := io.Pipe() // server writes, client reads
	stderrR, stderrW := io.Pipe()

	fs := &fakeServer{
		opts:    f.opts,
		reqR:    stdinR,
		respW:   stdoutW,
		stderrW: stderrW,
		done:    make(chan struct{}),
	}
	go fs.serve()

	f.mu.Lock()
	f.servers = append(f.servers, fs)
	f.mu.Unlock()

	return &process{
		pid:    0,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		exitCh: make(chan error, 1),
		wait: func() error {
			<-fs.done
			return fs.exitErr
		},
		kill: func() error {
			fs.exit(errors.New("killed"))
			return nil
		},
	}, nil
}

func (f *fakeFactory) last() *fakeServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.servers) == 0 {
		return nil
	}
	return f.servers[len(f.servers)-1]
}

func (f *fakeFactory) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.servers)
}

// serve reads client frames and answers the lifecycle protocol.
func (fs *fakeServer) serve() {
	br := bufio.NewReader(fs.reqR)
	for {
		data, err := readTestFrame(br)
		if err != nil {
			fs.exit(nil)
			return
		}

		var msg struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "initialize":
			if fs.opts.noHandshake {
				continue
			}
			fs.respond(*msg.ID, map[string]any{
				"capabilities": map[string]any{},
				"serverInfo":   map[string]string{"name": "fake-analyzer", "version": "1.0"},
			})
		case "initialized":
			// notification, nothing to do
		case "shutdown":
			if fs.opts.noShutdown {
				continue
			}
			fs.respond(*msg.ID, nil)
		case "exit":
			if fs.opts.noShutdown {
				continue
			}
			fs.exit(nil)
			return
		default:
			if fs.opts.onRequest != nil && msg.ID != nil {
				fs.opts.onRequest(fs, *msg.ID, msg.Method, msg.Params)
			}
		}
	}
}

// respond writes a well-formed response frame.
func (fs *fakeServer) respond(id int64, result any) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
	data, _ := json.Marshal(resp)
	fs.writeRaw(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data))
}

// respondError writes a protocol error frame.
func (fs *fakeServer) respondError(id int64, code int, message string) {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}
	data, _ := json.Marshal(resp)
	fs.writeRaw(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data))
}

// writeRaw writes bytes to the client's stdout verbatim (garbage included).
func (fs *fakeServer) writeRaw(s string) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	select {
	case <-fs.done:
		return
	default:
	}
	_, _ = io.WriteString(fs.respW, s)
}

// writeStderr emits one diagnostic line.
func (fs *fakeServer) writeStderr(line string) {
	_, _ = io.WriteString(fs.stderrW, line+"\n")
}

// crash simulates an abnormal process death.
func (fs *fakeServer) crash() {
	fs.exit(errors.New("signal: killed"))
}

// exit ends the fake process exactly once.
func (fs *fakeServer) exit(err error) {
	fs.once.Do(func() {
		fs.exitErr = err
		fs.respW.Close()
		fs.stderrW.Close()
		fs.reqR.Close()
		close(fs.done)
	})
}

// readTestFrame reads one Content-Length frame (server side of the wire).
func readTestFrame(br *bufio.Reader) ([]byte, error) {
	var contentLength int
	for {
		line, err := br.ReadString('\n')
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
			if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				contentLength = n
			}
		}
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return body, nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
