package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/metrics"
	"github.com/chinmaydhabale/medschedule/internal/notification"
	redisclient "github.com/chinmaydhabale/medschedule/internal/redis"
	"github.com/chinmaydhabale/medschedule/internal/user"
)

const sweepLockKey = "noshow-sweep"

type SweeperConfig struct {
	Schedule    string // cron spec, e.g. "@every 1m"
	BatchSize   int
	FrontendURL string
}

type SweepResult struct {
	Candidates int
	Marked     int
	Skipped    int // already processed by a racing writer
	Failed     int
}

type SweeperOption func(*NoShowSweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *NoShowSweeper) { s.now = now }
}

// WithLeaderLock makes each tick run on at most one process at a time.
func WithLeaderLock(l redisclient.Locker) SweeperOption {
	return func(s *NoShowSweeper) { s.locker = l }
}

func WithSweeperMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *NoShowSweeper) { s.metrics = m }
}

// NoShowSweeper transitions scheduled appointments whose end time passed
// without a check-in to no-show, notifying the patient first. A patient may
// be notified more than once if a tick dies between notifying and marking;
// the transition itself happens at most once.
type NoShowSweeper struct {
	appts    Repository
	users    user.Directory
	notifier notification.Dispatcher
	cfg      SweeperConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	locker   redisclient.Locker
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewNoShowSweeper(appts Repository, users user.Directory, notifier notification.Dispatcher, cfg SweeperConfig, log *zap.Logger, opts ...SweeperOption) *NoShowSweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	s := &NoShowSweeper{
		appts:    appts,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules ticks until Stop is called or ctx is done.
func (s *NoShowSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info("no-show sweeper started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop waits for a running tick to finish. It is safe to call more than once.
func (s *NoShowSweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("no-show sweeper stopped")
}

func (s *NoShowSweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.locker == nil {
		s.RunOnce(ctx)
		return
	}

	err := s.locker.WithLock(ctx, sweepLockKey, func(lockCtx context.Context) error {
		s.RunOnce(lockCtx)
		return nil
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.log.Debug("no-show sweep skipped, another instance holds the lock")
		s.metrics.ObserveSweep("skipped", 0, 0)
	case err != nil:
		s.log.Error("no-show sweep lock failed", zap.Error(err))
		s.metrics.ObserveSweep("error", 0, 0)
	}
}

// RunOnce performs one sweep. Per-candidate failures are logged and counted
// and do not stop the batch.
func (s *NoShowSweeper) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult

	now := s.now()
	candidates, err := s.appts.FindNoShowCandidates(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("find no-show candidates failed", zap.Error(err))
		s.metrics.ObserveSweep("error", 0, 0)
		return res
	}
	res.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		switch err := s.process(ctx, &candidates[i], now); {
		case err == nil:
			res.Marked++
		case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrAppointmentNotFound):
			res.Skipped++
		default:
			res.Failed++
			s.log.Warn("no-show candidate failed",
				zap.String("appointment_id", candidates[i].ID.String()),
				zap.Error(err),
			)
		}
	}

	s.metrics.ObserveSweep("ok", res.Candidates, res.Marked)
	if res.Candidates > 0 {
		s.log.Info("no-show sweep finished",
			zap.Int("candidates", res.Candidates),
			zap.Int("marked", res.Marked),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}
	return res
}

func (s *NoShowSweeper) process(ctx context.Context, appt *Appointment, now time.Time) error {
	patient, err := s.users.GetByID(ctx, appt.PatientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}

	s.notifier.Dispatch(ctx, *patient, notification.Email(
		fmt.Sprintf("You missed your appointment on %s. Reschedule here: %s/reschedule/%s",
			appt.AppointmentTime.Format(timeLayout), s.cfg.FrontendURL, appt.ID),
		appt.ID,
	))

	// the patient may have rescheduled while the notice was going out
	if _, err := s.appts.MarkNoShowIfNoticePending(ctx, appt.ID, now); err != nil {
		return err
	}
	return nil
}
