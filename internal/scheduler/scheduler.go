// Package scheduler decides when the agent drains its sync queue.
//
// A Scheduler owns one state machine: Idle, then Syncing while a drain pass
// runs, then Idle again with the pass outcome recorded. Passes are started
// by a reconnect, by a jittered periodic timer, or manually; a trigger that
// arrives while a pass is running is dropped rather than queued.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"retailsync/internal/reconciler"
)

// State is the scheduler's current activity.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Outcome is the result of the last finished pass.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Trigger reasons.
const (
	ReasonManual    = "manual"
	ReasonReconnect = "reconnect"
	ReasonTimer     = "timer"
)

// Drainer runs one reconciliation pass.
type Drainer interface {
	Drain(ctx context.Context) (reconciler.Report, error)
}

// Pinger probes server reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports how many entries are waiting.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Publisher receives every status change.
type Publisher interface {
	Publish(ctx context.Context, status Status) error
}

// ReportCounts summarises the last pass.
type ReportCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Held      int `json:"held"`
}

// Status is a snapshot for the UI.
type Status struct {
	State       State        `json:"state"`
	Online      bool         `json:"online"`
	Pending     int64        `json:"pending"`
	LastSyncAt  *time.Time   `json:"last_sync_at,omitempty"`
	LastOutcome Outcome      `json:"last_outcome,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	LastReport  ReportCounts `json:"last_report"`
	LastReason  string       `json:"last_reason,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Config holds scheduler settings.
type Config struct {
	// Interval is the base period of the timer trigger. Zero disables it.
	Interval time.Duration

	// Jitter adds a uniform random delay in [0, Jitter) to every period,
	// so many agents do not retry in lockstep.
	Jitter time.Duration

	// ProbeInterval is how often Pinger is called. Zero disables probing
	// and the scheduler assumes it is online.
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe. Default: 5s
	ProbeTimeout time.Duration

	Logger *log.Logger
}

// Scheduler owns the sync state machine.
type Scheduler struct {
	drainer    Drainer
	pinger     Pinger
	counter    Counter
	publishers []Publisher
	config     Config
	logger     *log.Logger
	now        func() time.Time

	mu         sync.Mutex
	status     Status
	cancelPass context.CancelFunc
	subs       map[chan Status]struct{}
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	passes sync.WaitGroup
	once   sync.Once
}

// New creates a scheduler. pinger and counter may be nil.
func New(drainer Drainer, pinger Pinger, counter Counter, config Config, publishers ...Publisher) *Scheduler {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[Scheduler] ", log.LstdFlags)
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		drainer:    drainer,
		pinger:     pinger,
		counter:    counter,
		publishers: publishers,
		config:     config,
		logger:     config.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		subs:       make(map[chan Status]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.status = Status{
		State:     StateIdle,
		Online:    pinger == nil || config.ProbeInterval <= 0,
		UpdatedAt: s.now(),
	}
	return s
}

// Start launches the timer and probe loops. They stop when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.refreshPending(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	if s.config.Interval > 0 {
		s.wg.Add(1)
		go s.timerLoop()
	}
	if s.pinger != nil && s.config.ProbeInterval > 0 {
		s.wg.Add(1)
		go s.probeLoop()
	}
	s.logger.Printf("Started (interval %s, jitter %s, probe %s)",
		s.config.Interval, s.config.Jitter, s.config.ProbeInterval)
}

// Stop cancels any running pass, waits for the loops and closes
// subscriber channels.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		// No pass may be added once passes.Wait has begun.
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.passes.Wait()

		s.mu.Lock()
		for ch := range s.subs {
			close(ch)
			delete(s.subs, ch)
		}
		s.mu.Unlock()
		s.logger.Println("Stopped")
	})
}

// Trigger starts a pass unless one is already running or the agent is
// offline. It reports whether a pass was started.
func (s *Scheduler) Trigger(reason string) bool {
	s.mu.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if s.status.State == StateSyncing {
		s.mu.Unlock()
		s.logger.Printf("Trigger %q coalesced: pass already running", reason)
		return false
	}
	if !s.status.Online {
		s.mu.Unlock()
		s.logger.Printf("Trigger %q skipped: offline", reason)
		return false
	}

	passCtx, cancel := context.WithCancel(s.ctx)
	s.cancelPass = cancel
	s.status.State = StateSyncing
	s.status.LastReason = reason
	s.status.UpdatedAt = s.now()
	snapshot := s.status
	s.passes.Add(1)
	s.mu.Unlock()

	s.publish(snapshot)
	go s.runPass(passCtx, cancel, reason)
	return true
}

func (s *Scheduler) runPass(ctx context.Context, cancel context.CancelFunc, reason string) {
	defer s.passes.Done()
	defer cancel()

	start := time.Now()
	report, err := s.drainer.Drain(ctx)

	// The queue is re-counted even when the pass was cancelled.
	pending, countErr := s.count(context.Background())

	s.mu.Lock()
	now := s.now()
	s.status.State = StateIdle
	s.cancelPass = nil
	s.status.LastSyncAt = &now
	s.status.LastReport = ReportCounts{
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
		Deferred:  len(report.Deferred),
		Held:      len(report.Held),
	}
	switch {
	case err != nil:
		s.status.LastOutcome = OutcomeError
		s.status.LastError = err.Error()
	case len(report.Failed) > 0:
		s.status.LastOutcome = OutcomeError
		s.status.LastError = firstError(report)
	default:
		s.status.LastOutcome = OutcomeSuccess
		s.status.LastError = ""
	}
	if countErr == nil {
		s.status.Pending = pending
	}
	s.status.UpdatedAt = now
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Printf("Pass (%s) finished in %s: %s, %d synced, %d failed, %d pending",
		reason, time.Since(start).Round(time.Millisecond), snapshot.LastOutcome,
		snapshot.LastReport.Succeeded, snapshot.LastReport.Failed, snapshot.Pending)
	s.publish(snapshot)
}

func firstError(report reconciler.Report) string {
	id := report.Failed[0]
	msg := fmt.Sprintf("%d entries failed", len(report.Failed))
	if e, ok := report.Errors[id]; ok {
		msg += ": " + e
	}
	return msg
}

// SetOnline records connectivity. Going online starts a pass; going
// offline cancels the running one, leaving unsent entries pending.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	if s.status.Online == online {
		s.mu.Unlock()
		return
	}
	s.status.Online = online
	s.status.UpdatedAt = s.now()
	cancelPass := s.cancelPass
	snapshot := s.status
	s.mu.Unlock()

	s.publish(snapshot)
	if online {
		s.logger.Println("Connectivity restored")
		s.Trigger(ReasonReconnect)
		return
	}
	s.logger.Println("Connectivity lost")
	if cancelPass != nil {
		cancelPass()
	}
}

// Status returns the current snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe returns a channel of status changes and a function that ends
// the subscription. Slow subscribers miss intermediate updates. After Stop
// the channel comes back closed.
func (s *Scheduler) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 16)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// RefreshPending re-counts the queue and publishes the result.
func (s *Scheduler) RefreshPending(ctx context.Context) {
	s.refreshPending(ctx)
}

func (s *Scheduler) refreshPending(ctx context.Context) {
	pending, err := s.count(ctx)
	if err != nil {
		s.logger.Printf("Failed to count pending entries: %v", err)
		return
	}

	s.mu.Lock()
	if s.status.Pending == pending {
		s.mu.Unlock()
		return
	}
	s.status.Pending = pending
	s.status.UpdatedAt = s.now()
	snapshot := s.status
	s.mu.Unlock()
	s.publish(snapshot)
}

func (s *Scheduler) count(ctx context.Context) (int64, error) {
	if s.counter == nil {
		return 0, nil
	}
	return s.counter.Count(ctx)
}

func (s *Scheduler) publish(status Status) {
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- status:
		default:
		}
	}
	s.mu.Unlock()

	for _, p := range s.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.Publish(ctx, status); err != nil {
			s.logger.Printf("Failed to publish status: %v", err)
		}
		cancel()
	}
}

// nextDelay is the timer period plus uniform jitter.
func (s *Scheduler) nextDelay() time.Duration {
	d := s.config.Interval
	if s.config.Jitter > 0 {
		d += rand.N(s.config.Jitter)
	}
	return d
}

func (s *Scheduler) timerLoop() {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Trigger(ReasonTimer)
		}
	}
}

func (s *Scheduler) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	s.probe()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

func (s *Scheduler) probe() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.ProbeTimeout)
	err := s.pinger.Ping(ctx)
	cancel()
	if s.ctx.Err() != nil {
		return
	}
	s.SetOnline(err == nil)
	s.refreshPending(s.ctx)
}
