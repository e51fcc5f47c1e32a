package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for the periodic sweeps. Empty
// entries disable the corresponding sweep.
type Schedules struct {
	Coverage string `yaml:"coverage"`
	Retries  string `yaml:"retries"`
}

// Scheduler runs the coverage check and retry sweep on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	svc  *Service
	log  *slog.Logger
}

// NewScheduler wires the service sweeps onto a cron runner. Specs use the
// standard five-field syntax or descriptors like "@every 1h".
func NewScheduler(svc *Service, schedules Schedules, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{cron: cron.New(), svc: svc, log: log}

	if schedules.Coverage != "" {
		if _, err := s.cron.AddFunc(schedules.Coverage, s.runCoverage); err != nil {
			return nil, fmt.Errorf("indexing: coverage schedule %q: %w", schedules.Coverage, err)
		}
	}
	if schedules.Retries != "" {
		if _, err := s.cron.AddFunc(schedules.Retries, s.runRetries); err != nil {
			return nil, fmt.Errorf("indexing: retry schedule %q: %w", schedules.Retries, err)
		}
	}
	return s, nil
}

func (s *Scheduler) runCoverage() {
	cov, err := s.svc.CheckCoverage(context.Background())
	if err != nil {
		s.log.Error("indexing: scheduled coverage check failed", "error", err)
		return
	}
	s.log.Info("indexing: coverage",
		"total", cov.Total, "indexed", cov.Indexed,
		"not_indexed", cov.NotIndexed, "unknown", cov.Unknown,
		"rate", cov.IndexRate)
}

func (s *Scheduler) runRetries() {
	n, err := s.svc.ScheduleRetries(context.Background())
	if err != nil {
		s.log.Error("indexing: scheduled retry sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("indexing: resubmitted unconfirmed pages", "count", n)
	}
}

// Start begins the schedules in a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedules and waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
