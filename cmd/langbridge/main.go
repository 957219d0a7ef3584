// Package main is the langbridge command line front end. It starts the
// analyzers declared in the configuration file, optionally issues a single
// request, and supervises them until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyonedit/langbridge/internal/analyzer"
	"github.com/halcyonedit/langbridge/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

type options struct {
	configPath string
	analyzer   string
	method     string
	params     string
	timeout    time.Duration
	logLevel   string
}

func run() int {
	opts := parseFlags()

	log := newLogger(opts.logLevel)
	slog.SetDefault(log)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 1
	}

	mgr := analyzer.NewManager(analyzer.WithSupervisorOptions(
		analyzer.WithLogger(log),
	))
	for name, a := range cfg.Analyzers {
		mgr.Register(name, a.ServerConfig())
	}

	ctx := context.Background()

	// One-shot mode: start one analyzer, issue the request, print the
	// result, and exit.
	if opts.method != "" {
		if opts.analyzer == "" {
			fmt.Fprintln(os.Stderr, "Error: -method requires -analyzer")
			return 2
		}
		return runOnce(ctx, mgr, opts)
	}

	// Supervise mode: start everything and run until interrupted.
	started := 0
	for _, name := range mgr.Names() {
		if err := mgr.Start(ctx, name); err != nil {
			reportStartError(name, err)
			continue
		}
		started++
	}
	if started == 0 {
		fmt.Fprintln(os.Stderr, "Error: no analyzer could be started")
		return 1
	}

	// Live configuration reload: newly declared analyzers are registered
	// and started, removed ones keep running until the next restart.
	watcher, err := config.NewWatcher(opts.configPath, config.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config watching disabled", "err", err)
	} else {
		defer watcher.Close()
		watcher.OnChange(func(cfg *config.Config) {
			for name, a := range cfg.Analyzers {
				if _, ok := mgr.Supervisor(name); ok {
					continue
				}
				mgr.Register(name, a.ServerConfig())
				if err := mgr.Start(ctx, name); err != nil {
					reportStartError(name, err)
				}
			}
		})
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Info("shutting down", "signal", sig.String())

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(sctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		return 1
	}
	return 0
}

// runOnce drives a single request through one analyzer.
func runOnce(ctx context.Context, mgr *analyzer.Manager, opts options) int {
	if err := mgr.Start(ctx, opts.analyzer); err != nil {
		reportStartError(opts.analyzer, err)
		return 1
	}
	defer mgr.Shutdown(context.Background())

	var params any
	if opts.params != "" {
		if err := json.Unmarshal([]byte(opts.params), &params); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -params is not valid JSON: %v\n", err)
			return 2
		}
	}

	var result json.RawMessage
	err := mgr.CallTimeout(ctx, opts.analyzer, opts.method, params, &result, opts.timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", opts.method, err)
		return 1
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode result: %v\n", err)
		return 1
	}
	return 0
}

// reportStartError prints resolution failures with their remediation hint.
func reportStartError(name string, err error) {
	fmt.Fprintf(os.Stderr, "Error: start %s: %v\n", name, err)
	var rerr *analyzer.ResolutionError
	if errors.As(err, &rerr) {
		fmt.Fprintf(os.Stderr, "  hint: %s\n", rerr.Remediation())
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "langbridge.yaml", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "langbridge.yaml", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.analyzer, "analyzer", "", "Analyzer name for one-shot requests")
	flag.StringVar(&opts.method, "method", "", "Issue a single request and exit")
	flag.StringVar(&opts.params, "params", "", "JSON parameters for -method")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for -method")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "langbridge - supervisor for language analysis servers\n\n")
		fmt.Fprintf(os.Stderr, "Usage: langbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  langbridge -c langbridge.yaml                 Supervise all configured analyzers\n")
		fmt.Fprintf(os.Stderr, "  langbridge -analyzer go -method analysis/run  One request, print the result\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("langbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(2)
	}

	return opts
}
