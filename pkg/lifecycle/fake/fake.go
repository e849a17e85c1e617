// Package fake provides a scripted connector and session that record the
// order of lifecycle calls.
package fake

import (
	"context"
	"sync"
)

// Call names recorded in a Log.
const (
	CallConnect  = "connect"
	CallStart    = "start"
	CallOnEnter  = "on-enter"
	CallClose    = "close"
	CallOnExit   = "on-exit"
	CallShutdown = "shutdown"
)

// Log is an ordered, concurrency-safe record of calls.
type Log struct {
	mu    sync.Mutex
	calls []string
}

// Record appends call.
func (l *Log) Record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns a copy of every call in order.
func (l *Log) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// Count returns how many times call was recorded.
func (l *Log) Count(call string) int {
	n := 0
	for _, c := range l.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Connector records Connect and Shutdown.
type Connector struct {
	Log         *Log
	ConnectErr  error
	ShutdownErr error
	// Block makes Shutdown wait for its context to end.
	Block bool

	mu       sync.Mutex
	lost     chan struct{}
	lostErr  error
	lostOnce sync.Once
}

func (c *Connector) lostCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil {
		c.lost = make(chan struct{})
	}
	return c.lost
}

// Lose simulates the connection dropping while the session runs.
func (c *Connector) Lose(err error) {
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.lostErr = err
		c.mu.Unlock()
		close(c.lostCh())
	})
}

// Done is closed by Lose.
func (c *Connector) Done() <-chan struct{} {
	return c.lostCh()
}

// Err returns the error given to Lose.
func (c *Connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

func (c *Connector) Connect(ctx context.Context) error {
	c.Log.Record(CallConnect)
	return c.ConnectErr
}

func (c *Connector) Shutdown(ctx context.Context) error {
	c.Log.Record(CallShutdown)
	if c.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.ShutdownErr
}

// Session records Start and Close. Start fires on-enter after a successful
// start and Close fires on-exit only when on-enter completed.
type Session struct {
	Log      *Log
	StartErr error
	EnterErr error
	CloseErr error

	// CloseCtxErr holds the error of the context Close received.
	CloseCtxErr error

	mu      sync.Mutex
	entered bool
	done    chan struct{}
	once    sync.Once
	err     error
}

// NewSession returns a session recording into log.
func NewSession(log *Log) *Session {
	return &Session{Log: log, done: make(chan struct{})}
}

func (s *Session) Start(ctx context.Context) error {
	s.Log.Record(CallStart)
	if s.StartErr != nil {
		return s.StartErr
	}
	s.Log.Record(CallOnEnter)
	if s.EnterErr != nil {
		return s.EnterErr
	}
	s.mu.Lock()
	s.entered = true
	s.mu.Unlock()
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.Log.Record(CallClose)
	s.mu.Lock()
	entered := s.entered
	s.CloseCtxErr = ctx.Err()
	s.mu.Unlock()
	if entered {
		s.Log.Record(CallOnExit)
	}
	s.Finish(nil)
	return s.CloseErr
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finish ends the session with err as if the pipeline had stopped on its own.
func (s *Session) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
