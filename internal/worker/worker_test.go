package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

func newContext() (*job.Context, error) {
	return job.New(job.Config{
		Credentials: job.Credentials{URL: "ws://localhost:7880", APIKey: "key", APISecret: "secret"},
		Room:        job.RoomOptions{AllowCreate: true},
	}), nil
}

func TestJob_Run(t *testing.T) {
	is := is.New(t)

	var got *job.Context
	calls := 0
	j := &Job{
		Entrypoint: func(ctx context.Context, jc *job.Context) error {
			calls++
			got = jc
			return nil
		},
		ContextFactory: newContext,
	}

	is.NoErr(j.Run(context.Background()))
	is.Equal(calls, 1)      // entrypoint runs once
	is.True(got != nil)     // entrypoint receives the factory's context
	is.True(!j.IsRunning()) // not running after return
}

func TestJob_Run_Errors(t *testing.T) {
	entryErr := errors.New("session failed")
	factoryErr := errors.New("bad config")

	tests := []struct {
		name string
		job  *Job
		want error
	}{
		{
			name: "no entrypoint",
			job:  &Job{ContextFactory: newContext},
			want: ErrNoEntrypoint,
		},
		{
			name: "no factory",
			job:  &Job{Entrypoint: func(context.Context, *job.Context) error { return nil }},
			want: ErrNoFactory,
		},
		{
			name: "factory fails",
			job: &Job{
				Entrypoint:     func(context.Context, *job.Context) error { return nil },
				ContextFactory: func() (*job.Context, error) { return nil, factoryErr },
			},
			want: factoryErr,
		},
		{
			name: "entrypoint fails",
			job: &Job{
				Entrypoint:     func(context.Context, *job.Context) error { return entryErr },
				ContextFactory: newContext,
			},
			want: entryErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.True(errors.Is(tt.job.Run(context.Background()), tt.want))
		})
	}
}

func TestJob_Run_Panic(t *testing.T) {
	is := is.New(t)
	j := &Job{
		Entrypoint:     func(context.Context, *job.Context) error { panic("boom") },
		ContextFactory: newContext,
	}

	err := j.Run(context.Background())
	is.True(err != nil)
	is.Equal(err.Error(), "job panicked: boom")
	is.True(!j.IsRunning())
}

func TestJob_Run_Concurrent(t *testing.T) {
	is := is.New(t)
	release := make(chan struct{})
	started := make(chan struct{})
	j := &Job{
		Entrypoint: func(ctx context.Context, jc *job.Context) error {
			close(started)
			<-release
			return nil
		},
		ContextFactory: newContext,
	}

	errc := make(chan error, 1)
	go func() { errc <- j.Run(context.Background()) }()
	<-started

	is.True(j.IsRunning())
	is.True(errors.Is(j.Run(context.Background()), ErrRunning))

	close(release)
	select {
	case err := <-errc:
		is.NoErr(err)
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
}

func TestJob_Run_PassesContext(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &Job{
		Entrypoint: func(ctx context.Context, jc *job.Context) error {
			return ctx.Err()
		},
		ContextFactory: newContext,
	}
	is.True(errors.Is(j.Run(ctx), context.Canceled))
}
