package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrTickInProgress is returned when a manual trigger finds an evaluation
// tick already running (here or in another process).
var ErrTickInProgress = errors.New("evaluation tick already in progress")

// tickLockKey is shared by every process that may run a tick, so scheduled
// and manually triggered evaluations never overlap.
const tickLockKey = "enviro:evaluator:tick"

// TickFunc runs one evaluation tick.
type TickFunc func(ctx context.Context) error

// Scheduler drives fixed-interval evaluation ticks. Overlap is prevented
// twice over: cron's SkipIfStillRunning skips (never queues) a tick that
// comes due while the previous one runs in this process, and a redis lock
// extends the guarantee across processes, including the HTTP trigger-check
// endpoint. A process that only needs manual triggering simply never calls
// Start.
type Scheduler struct {
	locker   *redislock.Client
	run      TickFunc
	interval time.Duration
	lockTTL  time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewScheduler(redisClient *redis.Client, run TickFunc, interval, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &Scheduler{
		locker:   redislock.New(redisClient),
		run:      run,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Start begins scheduled ticking until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.runGuarded(ctx); err != nil {
			if errors.Is(err, ErrTickInProgress) {
				s.logger.Debug("tick skipped, another process holds the guard")
				return
			}
			// The scheduler never surfaces errors to users, only to logs;
			// the next scheduled run retries.
			s.logger.Error("evaluation tick failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ticks: %w", err)
	}

	s.cron.Start()
	s.logger.Info("evaluation scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// TriggerNow runs one tick outside the schedule. It contends on the same
// guard as scheduled ticks and fails fast with ErrTickInProgress instead of
// waiting.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.runGuarded(ctx)
}

func (s *Scheduler) runGuarded(ctx context.Context) error {
	lock, err := s.locker.Obtain(ctx, tickLockKey, s.lockTTL, nil)
	if err == redislock.ErrNotObtained {
		return ErrTickInProgress
	}
	if err != nil {
		return fmt.Errorf("failed to obtain tick guard: %w", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && err != redislock.ErrLockNotHeld {
			s.logger.Warn("failed to release tick guard", zap.Error(err))
		}
	}()

	return s.run(ctx)
}
