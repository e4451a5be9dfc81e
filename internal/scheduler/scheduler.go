package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is how often stale downloads are looked for.
const DefaultSchedule = "@every 10m"

// StaleRecoverer puts requests left downloading without a worker back in the
// queue and returns how many it moved.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// Scheduler runs periodic queue maintenance.
type Scheduler struct {
	cron      *cron.Cron
	recoverer StaleRecoverer
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler that checks for stale downloads on schedule, a
// cron spec or descriptor such as "@every 10m".
func New(recoverer StaleRecoverer, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		recoverer: recoverer,
		ctx:       ctx,
		cancel:    cancel,
	}
	if _, err := s.cron.AddFunc(schedule, s.check); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("[scheduler] stale download checker started")
}

// Stop stops the schedule and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Println("[scheduler] scheduler stopped")
}

func (s *Scheduler) check() {
	n, err := s.recoverer.RecoverStale(s.ctx)
	if err != nil {
		log.Printf("[scheduler] error recovering stale downloads: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] re-queued %d stale downloads", n)
	}
}
