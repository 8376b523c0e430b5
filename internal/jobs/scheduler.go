// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"

	"workflow-service/internal/notification"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// EmailRetrier retries failed queue items
type EmailRetrier interface {
	RetryFailedEmails(ctx context.Context) notification.RetryReport
}

// Scheduler owns the cron runner. Runs of the same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewScheduler creates a stopped scheduler
func NewScheduler(log *zap.Logger) *Scheduler {
	log = log.Named("jobs")
	cronLog := cronLogger{log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// ScheduleEmailRetry registers the failed email retry on spec, e.g. "@every 5m"
func (s *Scheduler) ScheduleEmailRetry(spec string, retrier EmailRetrier) error {
	_, err := s.cron.AddFunc(spec, func() {
		report := retrier.RetryFailedEmails(s.ctx)
		if report.Selected > 0 {
			s.log.Info("Email retry run",
				zap.Int("selected", report.Selected),
				zap.Int("sent", report.Sent),
				zap.Int("failed", report.Failed))
		}
	})
	return err
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels running jobs and waits for them until ctx expires
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out")
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
