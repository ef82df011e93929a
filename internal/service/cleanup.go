package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// ReceiptPruner deletes sync receipts older than a retention window.
type ReceiptPruner interface {
	DeleteReceiptsBefore(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupConfig holds configuration for the receipt cleanup.
type CleanupConfig struct {
	// Retention is how long sync receipts are kept. An entry redelivered
	// after this window is answered from entity state instead of its
	// receipt. Default: 30 days
	Retention time.Duration

	// Interval between runs. Default: 24 hours
	Interval time.Duration

	// InitialDelay postpones the first run after Start.
	InitialDelay time.Duration
}

// DefaultCleanupConfig returns the defaults used for zero fields.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Retention:    30 * 24 * time.Hour,
		Interval:     24 * time.Hour,
		InitialDelay: time.Minute,
	}
}

// CleanupRun describes the most recent prune.
type CleanupRun struct {
	At      time.Time `json:"at"`
	Deleted int64     `json:"deleted"`
	Error   string    `json:"error,omitempty"`
}

// CleanupScheduler prunes old sync receipts on a fixed interval. Receipts
// only need to outlive the longest plausible offline window of an agent.
type CleanupScheduler struct {
	pruner ReceiptPruner
	config CleanupConfig

	mu      sync.Mutex
	started bool
	last    *CleanupRun

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewCleanupScheduler creates a scheduler; zero Retention and Interval
// take their defaults. A zero InitialDelay runs the first prune at once.
func NewCleanupScheduler(pruner ReceiptPruner, config CleanupConfig) *CleanupScheduler {
	defaults := DefaultCleanupConfig()
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	return &CleanupScheduler{
		pruner: pruner,
		config: config,
		stop:   make(chan struct{}),
	}
}

// Start launches the loop. Calling it twice is a no-op.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	log.Printf("[CleanupScheduler] Started - interval %v, receipt retention %v", s.config.Interval, s.config.Retention)
	s.done.Add(1)
	go s.loop()
}

func (s *CleanupScheduler) loop() {
	defer s.done.Done()

	timer := time.NewTimer(s.config.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			log.Printf("[CleanupScheduler] Stopped")
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			s.RunNow(ctx)
			cancel()
			timer.Reset(s.config.Interval)
		}
	}
}

// Stop ends the loop and waits for a running prune to finish.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.done.Wait()
}

// RunNow prunes immediately and records the run.
func (s *CleanupScheduler) RunNow(ctx context.Context) (int64, error) {
	deleted, err := s.pruner.DeleteReceiptsBefore(ctx, s.config.Retention)
	run := &CleanupRun{At: time.Now().UTC(), Deleted: deleted}
	if err != nil {
		run.Error = err.Error()
		log.Printf("[CleanupScheduler] Prune failed: %v", err)
	} else if deleted > 0 {
		log.Printf("[CleanupScheduler] Pruned %d receipts older than %v", deleted, s.config.Retention)
	}

	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	return deleted, err
}

// LastRun returns the most recent prune, or nil before the first one.
func (s *CleanupScheduler) LastRun() *CleanupRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	run := *s.last
	return &run
}
