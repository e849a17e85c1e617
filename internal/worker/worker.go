// Package worker runs a single agent job: it builds the job's connection
// context and hands it to the entrypoint once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

var (
	ErrNoEntrypoint = errors.New("worker: entrypoint is required")
	ErrNoFactory    = errors.New("worker: context factory is required")
	ErrRunning      = errors.New("worker: job already running")
)

// Entrypoint runs the agent inside a job context until ctx is done.
type Entrypoint func(ctx context.Context, jc *job.Context) error

// ContextFactory creates the connection context of a job.
type ContextFactory func() (*job.Context, error)

// Job pairs an entrypoint with the factory of its context.
type Job struct {
	Entrypoint     Entrypoint
	ContextFactory ContextFactory
	Logger         *slog.Logger

	running atomic.Bool
}

// Run builds the context and runs the entrypoint once. A panic in the
// entrypoint is returned as an error.
func (j *Job) Run(ctx context.Context) (err error) {
	if j.Entrypoint == nil {
		return ErrNoEntrypoint
	}
	if j.ContextFactory == nil {
		return ErrNoFactory
	}
	if !j.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer j.running.Store(false)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jc, err := j.ContextFactory()
	if err != nil {
		return fmt.Errorf("create job context: %w", err)
	}
	logger = logger.With(slog.String("identity", jc.Identity()))

	start := time.Now()
	logger.Info("job started")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		if err != nil {
			logger.Error("job failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("job finished", slog.Duration("duration", time.Since(start)))
	}()

	return j.Entrypoint(ctx, jc)
}

// IsRunning reports whether Run is in progress.
func (j *Job) IsRunning() bool {
	return j.running.Load()
}
