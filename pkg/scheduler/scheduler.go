// Package scheduler runs the periodic maintenance jobs: disabling
// services whose enable window elapsed, purging expired sessions and
// exporting the generated config.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled task. An empty Spec registers nothing.
type Job struct {
	Name string
	// Spec is a robfig/cron schedule, e.g. "@every 1m" or "*/5 * * * *".
	Spec string
	// RunOnStart also runs the job once when the scheduler starts.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler owns a cron instance and the jobs registered on it.
type Scheduler struct {
	log  logrus.FieldLogger
	cron *cron.Cron
	jobs map[string]Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for jobs. Overlapping runs of the same job are
// skipped.
func New(log logrus.FieldLogger, jobs ...Job) *Scheduler {
	log = log.WithField("component", "scheduler")

	s := &Scheduler{
		log: log,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(log)),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		jobs: make(map[string]Job, len(jobs)),
	}

	for _, job := range jobs {
		s.jobs[job.Name] = job
	}

	return s
}

// Start registers every job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for name, job := range s.jobs {
		if job.Spec == "" {
			s.log.WithField("job", name).Debug("Job disabled")

			continue
		}

		if _, err := s.cron.AddFunc(job.Spec, func() {
			s.run(job)
		}); err != nil {
			s.cancel()

			return fmt.Errorf("scheduling %s (%q): %w", name, job.Spec, err)
		}

		s.log.WithFields(logrus.Fields{
			"job":  name,
			"spec": job.Spec,
		}).Info("Job scheduled")

		if job.RunOnStart {
			s.wg.Add(1)

			go func() {
				defer s.wg.Done()

				s.run(job)
			}()
		}
	}

	s.cron.Start()

	return nil
}

// Stop waits for running jobs and halts the cron loop.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	<-s.cron.Stop().Done()
	s.wg.Wait()

	return nil
}

// RunNow runs the named job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	return job.Run(ctx)
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	log := s.log.WithField("job", job.Name)

	if err := job.Run(s.ctx); err != nil {
		log.WithError(err).Warn("Job failed")

		return
	}

	log.WithField("duration", time.Since(start)).Debug("Job finished")
}
