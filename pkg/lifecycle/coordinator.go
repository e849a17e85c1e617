// Package lifecycle drives one agent session through connect, start, run and
// teardown. Teardown runs exactly once on every exit path, and every phase
// error is returned to the caller.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/chriscow/livekit-voice-agent/internal/metrics"
)

// Connector owns the room connection.
type Connector interface {
	Connect(ctx context.Context) error
	// Shutdown releases whatever Connect acquired. It is called even when
	// Connect failed.
	Shutdown(ctx context.Context) error
}

// Monitor is implemented by connectors whose connection can be lost while
// the session runs. Done is closed on loss and Err reports why.
type Monitor interface {
	Done() <-chan struct{}
	Err() error
}

// Session is the conversation running on top of the connection.
type Session interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	// Done is closed when the session ends on its own.
	Done() <-chan struct{}
	// Err is the reason the session ended, nil for a normal end.
	Err() error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTeardownTimeout bounds Close and Shutdown together. Zero means no bound.
func WithTeardownTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.teardownTimeout = d }
}

// WithMetrics records state changes and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Coordinator runs a single session lifecycle.
type Coordinator struct {
	conn Connector
	sess Session

	teardownTimeout time.Duration
	metrics         *metrics.Metrics
	logger          *slog.Logger

	mu    sync.Mutex
	state State

	ran      atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	teardownOnce sync.Once
	teardownErr  error
}

// New creates a coordinator for conn and sess.
func New(conn Connector, sess Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		conn:   conn,
		sess:   sess,
		logger: slog.Default(),
		state:  StateCreated,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "lifecycle"))
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop asks Run to leave the running phase. Safe to call any number of times
// from any goroutine.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Run connects, starts the session and blocks until ctx is cancelled, Stop is
// called or the session ends. Teardown always runs before Run returns. The
// returned error combines the phase error with any teardown errors.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	if !c.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	began := time.Now()
	var (
		phaseErr     error
		closeSession bool
	)
	defer func() {
		err = multierr.Combine(phaseErr, c.teardown(ctx, closeSession))
		c.metrics.RecordSession(time.Since(began))
		if err != nil {
			c.logger.Error("session ended with errors", slog.Any("error", err), slog.Duration("duration", time.Since(began)))
			return
		}
		c.logger.Info("session ended", slog.Duration("duration", time.Since(began)))
	}()

	if cerr := c.conn.Connect(ctx); cerr != nil {
		phaseErr = &ConnectionError{Err: cerr}
		c.metrics.RecordLifecycleError("connect")
		return
	}
	c.transition(EventConnect)

	closeSession = true
	if serr := c.sess.Start(ctx); serr != nil {
		phaseErr = &StartError{Err: serr}
		c.metrics.RecordLifecycleError("start")
		return
	}
	c.transition(EventStart)
	c.transition(EventRun)

	phaseErr = c.wait(ctx)
	return
}

func (c *Coordinator) wait(ctx context.Context) error {
	var lost <-chan struct{}
	mon, ok := c.conn.(Monitor)
	if ok {
		lost = mon.Done()
	}

	select {
	case <-ctx.Done():
		c.logger.Info("stop signal received", slog.Any("cause", context.Cause(ctx)))
		return nil
	case <-c.stop:
		c.logger.Info("stop requested")
		return nil
	case <-c.sess.Done():
		if err := c.sess.Err(); err != nil {
			c.metrics.RecordLifecycleError("runtime")
			return &RuntimeFailure{Err: err}
		}
		c.logger.Info("session finished")
		return nil
	case <-lost:
		c.metrics.RecordLifecycleError("runtime")
		return &RuntimeFailure{Err: mon.Err()}
	}
}

// teardown closes the session when it was ever started, then shuts the
// connection down. It runs once, on a context that outlives ctx.
func (c *Coordinator) teardown(ctx context.Context, closeSession bool) error {
	c.teardownOnce.Do(func() {
		if c.State() == StateRunning {
			c.transition(EventStop)
		} else {
			c.transition(EventAbort)
		}

		tctx := context.WithoutCancel(ctx)
		if c.teardownTimeout > 0 {
			var cancel context.CancelFunc
			tctx, cancel = context.WithTimeout(tctx, c.teardownTimeout)
			defer cancel()
		}

		var errs error
		if closeSession {
			if err := c.sess.Close(tctx); err != nil {
				c.metrics.RecordTeardownError(StepClose)
				errs = multierr.Append(errs, &TeardownError{Step: StepClose, Err: err})
			}
		}
		if err := c.conn.Shutdown(tctx); err != nil {
			c.metrics.RecordTeardownError(StepShutdown)
			errs = multierr.Append(errs, &TeardownError{Step: StepShutdown, Err: err})
		}
		c.transition(EventShutdown)
		c.teardownErr = errs
	})
	return c.teardownErr
}

func (c *Coordinator) transition(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Transition(c.state, event)
	if err != nil {
		c.logger.Warn("lifecycle transition rejected", slog.Any("error", err))
		return
	}
	c.logger.Debug("lifecycle transition",
		slog.String("from", string(c.state)),
		slog.String("event", string(event)),
		slog.String("to", string(next)),
	)
	c.metrics.RecordLifecycleState(string(c.state), string(next))
	c.state = next
}
