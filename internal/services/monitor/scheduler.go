package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Ticker is satisfied by Loop.
type Ticker interface {
	RequestTick(ctx context.Context, now time.Time) (TickReport, error)
}

// Scheduler is the external clock of the loop. A tick still running when
// the next one is due makes the next one skip.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	loop     Ticker
	schedule string
	entry    cron.EntryID
	ctx      context.Context
	logger   *zap.Logger
}

func NewScheduler(loop Ticker, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{s: logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		loop:   loop,
		ctx:    context.Background(),
		logger: logger,
	}
}

// Start registers schedule and starts the cron runner; ticks use ctx.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.Reschedule(schedule); err != nil {
		return err
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// Reschedule replaces the tick schedule; an unchanged schedule is a no-op.
func (s *Scheduler) Reschedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule == s.schedule && s.entry != 0 {
		return nil
	}
	id, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry, s.schedule = id, schedule
	s.logger.Info("tick schedule set", zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.loop.RequestTick(ctx, time.Now()); err != nil {
		s.logger.Warn("tick failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
