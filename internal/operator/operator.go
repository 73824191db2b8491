// Package operator hands soft-failure messages to a human and waits for them to act.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// ErrNoOperator is returned when nobody can acknowledge, for example when stdin is closed.
var ErrNoOperator = errors.New("no operator available")

type line struct {
	text string
	err  error
}

// Console prompts on out and reads acknowledgments from in.
type Console struct {
	out         io.Writer
	interactive bool
	logger      *zap.Logger

	once  sync.Once
	in    *bufio.Reader
	lines chan line
	mu    sync.Mutex
}

// NewConsole reads from in and writes prompts to out. Prompts are only printed when interactive.
func NewConsole(in io.Reader, out io.Writer, interactive bool, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		out:         out,
		interactive: interactive,
		logger:      logger.Named("operator"),
		in:          bufio.NewReader(in),
		lines:       make(chan line),
	}
}

// Stdio returns a Console on the process's stdin and stderr.
func Stdio(logger *zap.Logger) *Console {
	return NewConsole(os.Stdin, os.Stderr, term.IsTerminal(int(os.Stdin.Fd())), logger)
}

// Acknowledge prints message and blocks until a line is read, the input ends or ctx is done.
func (c *Console) Acknowledge(ctx context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once.Do(func() { go c.readLines() })

	c.logger.Warn("Waiting for operator", zap.String("message", message))
	fmt.Fprintf(c.out, "\n%s\n", strings.TrimSpace(message))
	if c.interactive {
		fmt.Fprint(c.out, "Resolve the page in the browser, then press Enter to retry: ")
	}

	select {
	case l, ok := <-c.lines:
		if !ok || l.err != nil {
			if l.err != nil && !errors.Is(l.err, io.EOF) {
				return fmt.Errorf("read operator input: %w", l.err)
			}
			return ErrNoOperator
		}
		c.logger.Info("Operator acknowledged")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("operator wait: %w", ctx.Err())
	}
}

// readLines feeds lines until the input fails. A pending read survives a canceled wait.
func (c *Console) readLines() {
	defer close(c.lines)
	for {
		text, err := c.in.ReadString('\n')
		if err != nil && (text == "" || !errors.Is(err, io.EOF)) {
			c.lines <- line{err: err}
			return
		}
		c.lines <- line{text: text}
		if err != nil {
			return
		}
	}
}

// Wait acknowledges every soft failure after a fixed delay. It serves unattended runs.
type Wait struct {
	Delay  time.Duration
	Logger *zap.Logger
}

// Acknowledge sleeps for Delay or until ctx is done.
func (w Wait) Acknowledge(ctx context.Context, message string) error {
	if w.Logger != nil {
		w.Logger.Warn("Soft failure, retrying after delay",
			zap.String("message", message),
			zap.Duration("delay", w.Delay),
		)
	}
	t := time.NewTimer(w.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("operator wait: %w", ctx.Err())
	}
}

// Func adapts a function to the operator contract.
type Func func(ctx context.Context, message string) error

// Acknowledge calls f.
func (f Func) Acknowledge(ctx context.Context, message string) error {
	return f(ctx, message)
}
