package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/flashbots/fedledger/protocol"
	"github.com/robfig/cron/v3"
)

// Scheduler closes rounds on a cron schedule. Each tick aggregates the
// current round and opens the next one. A round without valid updates stays
// open and is retried on the following tick.
type Scheduler struct {
	agg  *AggregatorImpl
	cron *cron.Cron
	log  *slog.Logger

	mutex   sync.Mutex
	current protocol.RoundID
	running bool

	// OnResult, if set, is called after every tick with the outcome.
	OnResult func(*Result, error)
}

// NewScheduler creates a scheduler that ticks on schedule, which is any
// expression the cron package accepts, e.g. "@every 30s" or "*/5 * * * *".
func NewScheduler(agg *AggregatorImpl, schedule string, log *slog.Logger) (*Scheduler, error) {
	if agg == nil {
		return nil, errors.New("aggregator cannot be nil")
	}
	if log == nil {
		log = agg.log
	}
	s := &Scheduler{
		agg:  agg,
		cron: cron.New(),
		log:  log.With("component", "scheduler"),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start opens the first round, unless one is already current, and starts
// the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		s.log.Info("Scheduler already running")
		return nil
	}
	if s.current == 0 {
		id, err := s.agg.OpenRound(ctx)
		if err != nil {
			return err
		}
		s.current = id
	}

	s.log.Info("Starting round scheduler", "round", s.current)
	s.running = true
	s.cron.Start()
	return nil
}

// Current returns the round clients should submit to.
func (s *Scheduler) Current() protocol.RoundID {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

func (s *Scheduler) tick() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ctx := context.Background()
	round := s.current

	result, err := s.agg.RunAggregation(ctx, round)
	if s.OnResult != nil {
		s.OnResult(result, err)
	}

	switch {
	case err == nil, errors.Is(err, protocol.ErrRoundClosed):
		// Closed here or by someone else; either way move on.
	case errors.Is(err, protocol.ErrNoValidUpdates):
		s.log.Info("Keeping round open", "round", round)
		return
	default:
		s.log.Error("Failed to aggregate round", "round", round, "err", err)
		return
	}

	next, err := s.agg.OpenRound(ctx)
	if err != nil {
		s.log.Error("Failed to open next round", "err", err)
		return
	}
	s.current = next
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	s.mutex.Unlock()

	s.log.Info("Shutting down round scheduler")
	<-s.cron.Stop().Done()
}
