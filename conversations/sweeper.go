package conversations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ParseSchedule parses a sweep schedule.
// Supports:
//   - Cron expressions: "0 */15 * * * *" (6-field) or "*/15 * * * *" (5-field)
//   - Go duration strings: "15m", "2h", "1h30m"
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule interval must be positive, got %s", duration)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// Sweeper prunes idle conversations on a schedule.
type Sweeper struct {
	pruner   Pruner
	schedule cron.Schedule
	idleFor  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewSweeper creates a sweeper that removes conversations idle for longer
// than idleFor each time schedule fires.
func NewSweeper(pruner Pruner, schedule string, idleFor time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if idleFor <= 0 {
		return nil, fmt.Errorf("idle TTL must be positive, got %s", idleFor)
	}
	return &Sweeper{
		pruner:   pruner,
		schedule: sched,
		idleFor:  idleFor,
		logger:   logger.With().Str("component", "conversations.sweeper").Logger(),
	}, nil
}

// Start begins sweeping in the background until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron = cron.New()
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.Sweep(ctx)
	}))
	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("idle_ttl", s.idleFor).Msg("Conversation sweeper started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Sweep runs one pruning pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	removed, err := s.pruner.Prune(ctx, s.idleFor)
	if err != nil {
		s.logger.Error().Err(err).Msg("Conversation sweep failed")
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned idle conversations")
	} else {
		s.logger.Debug().Msg("Conversation sweep found nothing to prune")
	}
	return removed, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Conversation sweeper stopped")
}

// Running reports whether the schedule is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
