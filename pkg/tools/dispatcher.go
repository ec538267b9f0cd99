package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/logging"
)

var ErrToolTimeout = errors.New("tool timeout")

type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Dispatcher executes tool calls against the registry. Failures are
// absorbed into a textual result so one broken tool never fails the
// turn.
type Dispatcher struct {
	registry *Registry
	opts     Options
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return NewDispatcherWithOptions(registry, Options{})
}

func NewDispatcherWithOptions(registry *Registry, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 6 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 150 * time.Millisecond
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		logger:   logging.NewComponentLogger(slog.Default(), "tools"),
	}
}

// Schema exposes the registered tool declarations.
func (d *Dispatcher) Schema() []llm.Tool {
	return d.registry.Schema()
}

// Execute runs one call and never returns an error to the caller. An
// unknown tool, a handler error, a timeout, or a panic all come back as
// text for the model to work into its reply.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall) Result {
	h, ok := d.registry.handler(call.Name)
	if !ok {
		d.logger.Warn("unknown_tool", "tool_name", call.Name)
		return Result{Text: fmt.Sprintf("The tool %q is not available.", call.Name)}
	}
	res, err := d.callWithRetry(ctx, h, call)
	if err != nil {
		d.logger.Warn("tool_failed", "tool_name", call.Name, "error", err)
		return Result{Text: fmt.Sprintf("The %s tool failed: %v", call.Name, err)}
	}
	return res
}

func (d *Dispatcher) callWithRetry(ctx context.Context, h Handler, call llm.ToolCall) (Result, error) {
	attempts := d.opts.Retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := d.callWithTimeout(ctx, h, call)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < attempts-1 {
			time.Sleep(d.opts.RetryBackoff * time.Duration(i+1))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("tool error")
	}
	return Result{}, lastErr
}

func (d *Dispatcher) callWithTimeout(ctx context.Context, h Handler, call llm.ToolCall) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool panic: %v", r)}
			}
		}()
		res, err := h(callCtx, call.Arguments)
		ch <- outcome{res: res, err: err}
	}()
	select {
	case out := <-ch:
		return out.res, out.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrToolTimeout
		}
		return Result{}, callCtx.Err()
	}
}
