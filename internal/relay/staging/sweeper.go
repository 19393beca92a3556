package staging

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes staged files left behind by requests that
// never released them, e.g. after a crash.
type Sweeper struct {
	store    *Store
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
}

func NewSweeper(store *Store, schedule string, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start runs one sweep immediately, then on the configured schedule.
func (s *Sweeper) Start() error {
	s.RunOnce()

	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		log.Printf("Failed to create sweep job: %v", err)
		return err
	}

	log.Printf("Staging sweeper started (schedule=%q max_age=%s dir=%s)", s.schedule, s.maxAge, s.store.Dir())
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) RunOnce() {
	removed, err := s.store.Sweep(s.maxAge)
	if err != nil {
		log.Printf("[warn] operation=sweep_staging removed=%d error=%v", removed, err)
		return
	}
	if removed > 0 {
		log.Printf("[info] operation=sweep_staging removed=%d", removed)
	}
}
