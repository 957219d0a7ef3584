package analyzer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// process is the live subprocess handle: process identity plus its three
// standard streams. Exclusively owned by the Supervisor; at most one exists
// per supervisor at any time.
type process struct {
	pid    int
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// exitCh receives the process's exit result exactly once.
	exitCh chan error

	wait func() error
	kill func() error
}

func (p *process) closePipes() {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.stdout != nil {
		p.stdout.Close()
	}
	if p.stderr != nil {
		p.stderr.Close()
	}
}

// launchFunc spawns the analyzer at path. Tests substitute a pipe-backed
// implementation; production uses execLaunch.
type launchFunc func(ctx context.Context, path string, config ServerConfig) (*process, error)

// execLaunch starts the analyzer with the stdio transport flag appended so
// it serves on its standard streams.
func execLaunch(ctx context.Context, path string, config ServerConfig) (*process, error) {
	args := make([]string, 0, len(config.Args)+1)
	args = append(args, config.Args...)
	args = append(args, transportArg)

	cmd := exec.CommandContext(ctx, path, args...)

	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if config.WorkDir != "" {
		cmd.Dir = config.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &process{
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exitCh: make(chan error, 1),
		wait:   cmd.Wait,
		kill: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
	}, nil
}
