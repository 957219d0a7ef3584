package analyzer

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors returned by the analyzer client.
var (
	// ErrNotRunning indicates a request was issued while the analyzer
	// is not in the running state. No data is written to the transport.
	ErrNotRunning = errors.New("analyzer not running")

	// ErrAlreadyRunning indicates Start was called outside the inactive state.
	ErrAlreadyRunning = errors.New("analyzer already running")

	// ErrConnectionClosed indicates the analyzer stopped or crashed while
	// the request was outstanding.
	ErrConnectionClosed = errors.New("analyzer connection closed")

	// ErrTimeout indicates a response was not received within the deadline.
	// Retrying is the caller's decision; the client never retries on its own.
	ErrTimeout = errors.New("request timed out")

	// ErrLaunchAborted indicates Stop was called while the launch handshake
	// was still in flight.
	ErrLaunchAborted = errors.New("analyzer launch aborted")

	// ErrBinaryNotFound indicates no resolution tier produced an executable.
	ErrBinaryNotFound = errors.New("analyzer binary not found")

	// ErrUnknownAnalyzer indicates no supervisor is registered under the name.
	ErrUnknownAnalyzer = errors.New("unknown analyzer")
)

// Tier identifies one of the ordered strategies tried during binary resolution.
type Tier int

const (
	// TierExplicit is the explicitly configured executable path.
	TierExplicit Tier = iota
	// TierBundled is the well-known location relative to the host install dir.
	TierBundled
	// TierSearchPath is the process search-path lookup.
	TierSearchPath
)

// String returns a human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "configured path"
	case TierBundled:
		return "bundled location"
	case TierSearchPath:
		return "search path"
	default:
		return "unknown"
	}
}

// TierResult records what a single resolution tier tried.
type TierResult struct {
	Tier   Tier
	Detail string
}

// ResolutionError reports that every resolution tier was exhausted.
// It carries enough detail for the host to present actionable remediation
// rather than a bare failure.
type ResolutionError struct {
	Binary string
	Tiers  []TierResult
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "analyzer binary %q not found (", e.Binary)
	for i, tr := range e.Tiers {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", tr.Tier, tr.Detail)
	}
	b.WriteString(")")
	return b.String()
}

// Unwrap allows errors.Is(err, ErrBinaryNotFound).
func (e *ResolutionError) Unwrap() error {
	return ErrBinaryNotFound
}

// Remediation returns a short next-step hint suitable for display.
func (e *ResolutionError) Remediation() string {
	return fmt.Sprintf("set an explicit path in the configuration, or install %q on your PATH", e.Binary)
}

// SpawnError reports that a resolved binary could not be started, or exited
// before bring-up completed. The underlying OS or handshake error is preserved
// for diagnostics.
type SpawnError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("start analyzer %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// RPCError represents a protocol-reported error from the analyzer.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
)
