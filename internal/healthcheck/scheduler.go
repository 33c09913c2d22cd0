package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs at fixed intervals. A job that is still
// running when its next tick fires is skipped, and a panicking job is
// logged without stopping the scheduler.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []job
}

type job struct {
	name  string
	every time.Duration
	run   func(ctx context.Context)
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	cronLogger := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
	}
}

// Add registers fn to run every interval once Run is called. Intervals
// below one second are rejected because cron rounds them up.
func (s *Scheduler) Add(name string, every time.Duration, fn func(ctx context.Context)) error {
	if every < time.Second {
		return fmt.Errorf("job %q: interval %s is below one second", name, every)
	}
	s.jobs = append(s.jobs, job{name: name, every: every, run: fn})
	return nil
}

// Run starts every job and blocks until ctx is cancelled. It returns after
// the running jobs have finished.
func (s *Scheduler) Run(ctx context.Context) {
	for _, j := range s.jobs {
		s.cron.Schedule(cron.Every(j.every), cron.FuncJob(func() {
			if ctx.Err() != nil {
				return
			}
			j.run(ctx)
		}))
		s.logger.Info("Job scheduled",
			slog.String("job", j.name),
			slog.Duration("every", j.every))
	}

	s.cron.Start()
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// cronLogger routes cron's key/value logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
