// Package executor runs IOSM phases and metric collection as external commands.
//
// Each command receives the request as JSON on stdin and the IOSM_* environment
// variables, and must print a JSON object on stdout. A non-zero exit status is
// an execution failure.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/logging"
)

const (
	// maxOutputSize bounds the stdout captured from a command.
	maxOutputSize = 1024 * 1024

	// stderrTail is how much stderr is kept for error messages.
	stderrTail = 2048
)

// ErrOutputTooLarge is returned when a command prints more than maxOutputSize bytes.
var ErrOutputTooLarge = errors.New("command output too large")

// Command is an external program invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string
}

// FromConfig converts a configured command.
func FromConfig(c config.CommandConfig) (Command, error) {
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		return Command{}, errors.New("command is empty")
	}
	return Command{Name: c.Command[0], Args: c.Command[1:], Dir: c.Dir, Env: c.Env}, nil
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner launches commands, optionally throttled by a shared rate limiter.
type Runner struct {
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewRunner creates a runner. perSecond <= 0 disables throttling.
func NewRunner(perSecond float64, burst int, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{logger: logger}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return r
}

// Run executes cmd with stdin and extra environment and returns its stdout.
func (r *Runner) Run(ctx context.Context, cmd Command, stdin []byte, env map[string]string) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for launch slot: %w", err)
		}
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env, env)
	c.Stdin = bytes.NewReader(stdin)
	c.WaitDelay = 5 * time.Second

	stdout := &limitedBuffer{limit: maxOutputSize}
	var stderr bytes.Buffer
	c.Stdout = stdout
	c.Stderr = &tailWriter{buf: &stderr, limit: stderrTail}

	started := time.Now()
	err := c.Run()
	r.logger.Debug(ctx, "command finished",
		zap.String("command", cmd.String()),
		zap.Duration("duration", time.Since(started)),
		zap.Bool("ok", err == nil),
	)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if stdout.overflow {
		return nil, fmt.Errorf("%s: %w (max %d bytes)", cmd.Name, ErrOutputTooLarge, maxOutputSize)
	}
	if err != nil {
		msg := redact(strings.TrimSpace(stderr.String()), cmd.Env)
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", cmd.Name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return stdout.Bytes(), nil
}

// mergeEnv appends overrides in a stable order; later values win.
func mergeEnv(base []string, overrides ...map[string]string) []string {
	out := append([]string(nil), base...)
	for _, m := range overrides {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, k+"="+m[k])
		}
	}
	return out
}

type limitedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.limit {
		b.overflow = true
		return 0, ErrOutputTooLarge
	}
	return b.Buffer.Write(p)
}

// tailWriter keeps the last limit bytes written.
type tailWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf.Write(p)
	if extra := w.buf.Len() - w.limit; extra > 0 {
		w.buf.Next(extra)
	}
	return n, nil
}
