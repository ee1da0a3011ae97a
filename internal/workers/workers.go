// Package workers runs the background sweeps of the worker binary: sending
// webhook deliveries whose next attempt is due and expiring stale payment
// intents.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DueProcessor sends webhook deliveries whose next attempt time has passed.
type DueProcessor interface {
	ProcessDue(ctx context.Context, limit int) (int, error)
}

type IntentExpirer interface {
	ExpireIntents(ctx context.Context) (int64, error)
}

type Jobs struct {
	deliveries DueProcessor
	intents    IntentExpirer
	batchSize  int
	timeout    time.Duration
}

func NewJobs(deliveries DueProcessor, intents IntentExpirer, batchSize int, timeout time.Duration) *Jobs {
	if batchSize <= 0 {
		batchSize = 50
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Jobs{deliveries: deliveries, intents: intents, batchSize: batchSize, timeout: timeout}
}

// RetryWebhooks drains due deliveries batch by batch until a batch comes
// back short.
func (j *Jobs) RetryWebhooks() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	total := 0
	for {
		n, err := j.deliveries.ProcessDue(ctx, j.batchSize)
		total += n
		if err != nil {
			log.Error().Err(err).Msg("webhook retry sweep failed")
			return
		}
		if n < j.batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		log.Info().Int("count", total).Msg("webhook retry sweep sent deliveries")
	}
}

func (j *Jobs) ExpireIntents() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.intents.ExpireIntents(ctx); err != nil {
		log.Error().Err(err).Msg("intent expiry sweep failed")
	}
}

// Scheduler runs Jobs on fixed intervals.
type Scheduler struct {
	cron         *cron.Cron
	jobs         *Jobs
	pollInterval time.Duration
	expirySweep  time.Duration
}

func NewScheduler(jobs *Jobs, pollInterval, expirySweep time.Duration) *Scheduler {
	cronLogger := cron.PrintfLogger(&log.Logger)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:         c,
		jobs:         jobs,
		pollInterval: pollInterval,
		expirySweep:  expirySweep,
	}
}

func every(d time.Duration) (string, error) {
	if d < time.Second {
		return "", fmt.Errorf("interval %v is shorter than one second", d)
	}
	return "@every " + d.String(), nil
}

// Start registers both sweeps and starts the scheduler.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"webhook retry", s.pollInterval, s.jobs.RetryWebhooks},
		{"intent expiry", s.expirySweep, s.jobs.ExpireIntents},
	}

	for _, job := range jobs {
		spec, err := every(job.interval)
		if err != nil {
			return fmt.Errorf("%s job: %w", job.name, err)
		}
		if _, err := s.cron.AddFunc(spec, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
		log.Info().Str("job", job.name).Str("schedule", spec).Msg("scheduled job")
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling. The returned context is done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
