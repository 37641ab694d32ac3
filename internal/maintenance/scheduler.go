// Package maintenance drives the periodic learning-engine routines.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/lease"
	internalsettings "github.com/router-for-me/AIGateway/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Job names a maintenance routine.
type Job string

// Maintenance jobs and their cadences.
const (
	JobRefreshBlocked   Job = "refresh-blocked"    // every 30s
	JobResetMinute      Job = "reset-minute"       // every 60s
	JobResetDaily       Job = "reset-daily"        // 00:00 UTC
	JobPruneFailureLogs Job = "prune-failure-logs" // 03:00 UTC
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultMinuteInterval  = time.Minute
	dailyResetHour         = 0
	pruneHour              = 3
	defaultLeaseTTL        = 30 * time.Second
)

// ErrUnknownJob is returned for job names outside the fixed set.
var ErrUnknownJob = errors.New("maintenance: unknown job")

// Jobs lists every job in a stable order.
var Jobs = []Job{JobRefreshBlocked, JobResetMinute, JobResetDaily, JobPruneFailureLogs}

// ParseJob resolves a job name.
func ParseJob(raw string) (Job, error) {
	name := Job(strings.ToLower(strings.TrimSpace(raw)))
	for _, job := range Jobs {
		if job == name {
			return job, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, raw)
}

// Runner is the set of routines the scheduler invokes. *learning.Engine implements it.
type Runner interface {
	RefreshBlockedInstances(ctx context.Context, now time.Time) (int64, error)
	ResetMinuteQuotas(ctx context.Context, now time.Time) (int64, error)
	ResetDailyQuotas(ctx context.Context, now time.Time) (learning.DailyResetStats, error)
	PruneFailureLogs(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// Report describes one job execution.
type Report struct {
	Job      Job                       `json:"job"`
	Affected int64                     `json:"affected"`
	Daily    *learning.DailyResetStats `json:"daily,omitempty"`
	RanAt    time.Time                 `json:"ran_at"`
	Duration time.Duration             `json:"duration"`
}

// Scheduler runs each job on its own cadence. When a Locker is set, a tick
// only runs if this process wins the job's lease.
type Scheduler struct {
	runner   Runner
	locker   lease.Locker
	leaseTTL time.Duration
	now      func() time.Time

	refreshInterval time.Duration
	minuteInterval  time.Duration

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker sets the lease provider used to coordinate replicas.
func WithLocker(locker lease.Locker) Option {
	return func(s *Scheduler) { s.locker = locker }
}

// WithLeaseTTL overrides the per-tick lease duration.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithClock overrides the time passed to the routines.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler constructs a Scheduler. It returns nil for a nil runner.
func NewScheduler(runner Runner, opts ...Option) *Scheduler {
	if runner == nil {
		return nil
	}
	s := &Scheduler{
		runner:          runner,
		leaseTTL:        defaultLeaseTTL,
		now:             func() time.Time { return time.Now().UTC() },
		refreshInterval: defaultRefreshInterval,
		minuteInterval:  defaultMinuteInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one loop per job in background goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(4)
	go s.runEvery(ctx, JobRefreshBlocked, s.refreshInterval)
	go s.runEvery(ctx, JobResetMinute, s.minuteInterval)
	go s.runDaily(ctx, JobResetDaily, dailyResetHour)
	go s.runDaily(ctx, JobPruneFailureLogs, pruneHour)
	log.Infof("maintenance scheduler started (refresh=%s minute=%s)", s.refreshInterval, s.minuteInterval)
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// RunJob executes one job immediately, without taking a lease.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (Report, error) {
	if s == nil || s.runner == nil {
		return Report{}, errors.New("maintenance: scheduler not initialized")
	}
	now := s.now()
	report := Report{Job: job, RanAt: now}

	var errRun error
	switch job {
	case JobRefreshBlocked:
		report.Affected, errRun = s.runner.RefreshBlockedInstances(ctx, now)
	case JobResetMinute:
		report.Affected, errRun = s.runner.ResetMinuteQuotas(ctx, now)
	case JobResetDaily:
		var stats learning.DailyResetStats
		stats, errRun = s.runner.ResetDailyQuotas(ctx, now)
		report.Affected = stats.Instances
		report.Daily = &stats
	case JobPruneFailureLogs:
		report.Affected, errRun = s.runner.PruneFailureLogs(ctx, now, failureLogRetention())
	default:
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	report.Duration = s.now().Sub(now)
	if errRun != nil {
		return report, fmt.Errorf("maintenance: %s: %w", job, errRun)
	}
	return report, nil
}

// tick runs a job under its lease. It reports whether the job ran.
func (s *Scheduler) tick(ctx context.Context, job Job) bool {
	if !internalsettings.BoolValue(internalsettings.MaintenanceEnabledKey, internalsettings.DefaultMaintenanceEnabled) {
		return false
	}
	if s.locker != nil {
		held, ok, errAcquire := s.locker.Acquire(ctx, string(job), s.leaseTTL)
		if errAcquire != nil {
			log.WithError(errAcquire).WithField("job", job).Warn("maintenance: acquire lease failed")
			return false
		}
		if !ok {
			log.WithField("job", job).Debug("maintenance: lease held elsewhere, skipping")
			return false
		}
		defer func() {
			if errRelease := held.Release(context.WithoutCancel(ctx)); errRelease != nil && !errors.Is(errRelease, lease.ErrNotHeld) {
				log.WithError(errRelease).WithField("job", job).Warn("maintenance: release lease failed")
			}
		}()
	}

	report, errRun := s.RunJob(ctx, job)
	if errRun != nil {
		log.WithError(errRun).WithField("job", job).Warn("maintenance: job failed")
		return false
	}
	if report.Affected > 0 {
		log.WithFields(log.Fields{
			"job":      job,
			"affected": report.Affected,
		}).Debug("maintenance: job finished")
	}
	return true
}

func (s *Scheduler) runEvery(ctx context.Context, job Job, interval time.Duration) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		s.tick(ctx, job)
		if !sleep(ctx, interval) {
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, job Job, hour int) {
	defer s.wg.Done()
	for {
		now := s.now()
		if !sleep(ctx, NextDailyRun(now, hour).Sub(now)) {
			return
		}
		s.tick(ctx, job)
	}
}

// sleep waits for d or ctx cancellation. It returns false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		return false
	case <-timer.C:
		return true
	}
}

// NextDailyRun returns the first hour:00 UTC strictly after now.
func NextDailyRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func failureLogRetention() time.Duration {
	days := internalsettings.IntValue(internalsettings.FailureLogRetentionDaysKey, internalsettings.DefaultFailureLogRetentionDays)
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
