// Package scheduler runs background jobs, currently only the periodic
// token staleness check.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/sageinvest/kis-engine/internal/logger"
)

type Job interface {
	Run() error
	Name() string
}

type Scheduler struct {
	cron   *cron.Cron
	logger logger.Logger
}

func New(logger logger.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infof("scheduler started")
}

// Stop waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Infof("scheduler stopped")
}

// AddJob registers a job under a cron schedule ("@hourly",
// "@every 30m", five-field cron specs). Job failures are logged and
// never stop the schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job.Run(); err != nil {
			s.logger.Errorf("%s: job %s failed", err, job.Name())
			return
		}
		s.logger.Debugf("job %s completed", job.Name())
	})
	if err != nil {
		return err
	}

	s.logger.Infof("registered job %s with schedule %s", job.Name(), schedule)
	return nil
}
