// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fentz26/cortex/internal/connectors"
)

// Allowlist maps a command to its permitted subcommands. An empty list
// permits the command with any arguments.
type Allowlist map[string][]string

// DefaultAllowlist is the read-only command set used when none is configured.
func DefaultAllowlist() Allowlist {
	return Allowlist{
		"go":  {"test", "vet", "version"},
		"git": {"diff", "status", "log"},
		"ls":  {},
	}
}

// Config configures a LocalExec connector.
type Config struct {
	WorkDir   string        `yaml:"work_dir,omitempty"`
	Allow     Allowlist     `yaml:"allow,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
}

// DefaultConfig returns the default connector configuration.
func DefaultConfig() Config {
	return Config{
		Allow:     DefaultAllowlist(),
		Timeout:   2 * time.Minute,
		MaxOutput: 64 << 10,
	}
}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	cfg Config
}

// New creates a new LocalExec connector.
func New(cfg Config) *LocalExec {
	if cfg.Allow == nil {
		cfg.Allow = DefaultAllowlist()
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultConfig().MaxOutput
	}
	return &LocalExec{cfg: cfg}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.cfg.Allow[cmd]
	if !ok {
		return false
	}
	if len(allowedSubcmds) == 0 {
		return true
	}
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// Execute runs a command if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", connectors.ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.cfg.WorkDir != "" {
		execCmd.Dir = l.cfg.WorkDir
	}

	stdout := &cappedBuffer{limit: l.cfg.MaxOutput}
	stderr := &cappedBuffer{limit: l.cfg.MaxOutput}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("exec %s: %w", cmd, ctx.Err())
		}
		exitCode = exitError.ExitCode()
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
