package backup

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/log"
)

// defaultResync is how often a running scheduler re-reads the record
// store.
const defaultResync = time.Minute

// Scheduler runs periodic backups for tenants that opted in. While
// running it re-syncs against the record store on an interval, so
// schedule edits take effect without a restart.
type Scheduler struct {
	svc     *Service
	cron    *cron.Cron
	resync  time.Duration
	stopCh  chan struct{}
	mu      sync.Mutex
	entries map[string]cron.EntryID
	logger  zerolog.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{
		svc:     svc,
		cron:    cron.New(),
		resync:  defaultResync,
		stopCh:  make(chan struct{}),
		entries: make(map[string]cron.EntryID),
		logger:  log.WithComponent("backup-scheduler"),
	}
}

// Sync reconciles cron entries against the record store: tenants with
// backups enabled get an entry, everyone else loses theirs.
func (s *Scheduler) Sync() error {
	records, err := s.svc.store.List()
	if err != nil {
		return err
	}

	wanted := make(map[string]string)
	for _, rec := range records {
		if rec.BackupEnabled && rec.BackupSchedule != "" {
			wanted[rec.Name] = rec.BackupSchedule
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, id := range s.entries {
		if _, ok := wanted[name]; !ok {
			s.cron.Remove(id)
			delete(s.entries, name)
			s.logger.Info().Str("tenant", name).Msg("backup unscheduled")
		}
	}

	for name, schedule := range wanted {
		if _, ok := s.entries[name]; ok {
			continue
		}
		tenant := name
		id, err := s.cron.AddFunc(schedule, func() {
			if _, err := s.svc.Backup(context.Background(), tenant); err != nil {
				s.logger.Error().Err(err).Str("tenant", tenant).Msg("scheduled backup failed")
			}
		})
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", name).Str("schedule", schedule).
				Msg("invalid backup schedule, skipping")
			continue
		}
		s.entries[name] = id
		s.logger.Info().Str("tenant", name).Str("schedule", schedule).Msg("backup scheduled")
	}
	return nil
}

// Start begins running scheduled backups and the periodic re-sync.
func (s *Scheduler) Start() {
	s.cron.Start()
	go s.run()
}

// Stop halts the re-sync loop and the scheduler, waiting for an
// in-flight backup to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sync(); err != nil {
				s.logger.Error().Err(err).Msg("scheduler sync failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Entries reports how many tenants currently have a scheduled backup.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
