// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"tessera.org/internal/config"
	"tessera.org/internal/obs"
)

// Job is a unit of scheduled work. It receives a context bounded by the job timeout.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// New returns a scheduler using the five-field cron syntax. Overlapping runs
// of the same job are skipped and panics are recovered.
func New(timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		timeout: timeout,
	}
}

// Add registers job under name on spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := time.Now()
	err := job(ctx)
	attrs := []any{
		slog.String("job", name),
		slog.Float64("duration_ms", float64(time.Since(started).Microseconds())/1000),
	}
	if err != nil {
		obs.Logger().Error("job_failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	obs.Logger().Info("job_complete", attrs...)
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	obs.Logger().Debug("cron_"+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	obs.Logger().Error("cron_"+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
