package backup

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// backups older than this that already completed fan-out are reclaimed
const retention = 30 * 24 * time.Hour

// Sweeper runs the periodic safety nets: redundant drains for connected
// subscribers and retention cleanup of delivered backups.
type Sweeper struct {
	cron    *cron.Cron
	store   *Store
	drainer Drainer
}

// Drainer is what the sweeper needs from the push registry.
type Drainer interface {
	DrainConnected()
}

func NewSweeper(store *Store, drainer Drainer) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		store:   store,
		drainer: drainer,
	}
}

func (s *Sweeper) Start() {
	s.cron.AddFunc("@every 1m", func() {
		s.drainer.DrainConnected()
	})

	s.cron.AddFunc("@every 24h", func() {
		removed, err := s.store.CleanupOlderThan(retention)
		if err != nil {
			log.Printf("backup cleanup error: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("backup cleanup removed %d rows", removed)
		}
	})

	s.cron.Start()
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}
