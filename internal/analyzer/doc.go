// Package analyzer supervises external language-analysis servers and
// brokers requests to them over JSON-RPC 2.0 on the subprocess's standard
// streams.
//
// The package does not implement any analysis itself; the analyzer binary
// is an opaque collaborator reached only through the protocol channel. What
// lives here is the client-side machinery: finding the right binary across
// heterogeneous environments, managing the subprocess lifecycle through a
// small strict state machine, multiplexing concurrent requests over one
// duplex byte stream with timeouts, and degrading with actionable
// diagnostics when the binary is missing or the process misbehaves.
//
// # Architecture
//
//   - Resolver: pure, ordered binary resolution (configured path, bundled
//     location, search path)
//   - Supervisor: process lifecycle and the app state machine
//     (inactive, launching, running, stopping)
//   - Transport: Content-Length framing over stdio, stderr draining
//   - Broker: correlation ids, pending table, per-request deadlines
//   - Manager: registry over multiple supervised analyzers
//
// # Quick Start
//
//	sup := analyzer.NewSupervisor(analyzer.ServerConfig{
//	    Command: "halcyon-analyzer",
//	})
//	if err := sup.Start(ctx); err != nil {
//	    var rerr *analyzer.ResolutionError
//	    if errors.As(err, &rerr) {
//	        fmt.Println(rerr.Remediation())
//	    }
//	    return err
//	}
//	defer sup.Stop(ctx)
//
//	var result CompletionResult
//	err := sup.Call(ctx, "analysis/complete", params, &result)
//
// # Failure semantics
//
// Resolution and spawn failures return the supervisor to inactive and are
// reported once; they are never retried automatically. A request timeout is
// scoped to its caller and retrying is the caller's decision. When the
// process stops or crashes, every outstanding request fails with
// ErrConnectionClosed and the pending table is cleared. Malformed frames
// are logged and dropped without disturbing the frames that follow.
//
// # Thread Safety
//
// Supervisor, Broker, and Manager are safe for concurrent use. Writes to
// the subprocess are serialized whole-frame; a single reader goroutine
// drains its output and never runs user handlers on its own stack.
package analyzer
