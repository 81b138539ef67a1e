/*
scheduler.go - Per-account sync serialization and periodic syncing

PURPOSE:
  SyncRunner is the only path to the Materializer from the API and the
  command. It guarantees at most one sync per account at a time and fans
  SyncAll out over a bounded worker pool. SyncScheduler ticks SyncAll at a
  fixed interval; it stands in for an external job queue.

DESIGN:
  - A running set keyed by account id; a second request for a running
    account fails fast with engine.ErrSyncInProgress
  - Different accounts sync concurrently up to Concurrency workers
  - SyncAll reports one outcome per account and never stops on failure

USAGE:
  runner := NewSyncRunner(materializer, 4, logger)
  scheduler := NewSyncScheduler(runner, time.Hour, engine.Forward, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/materializer.go: Materialize
  - handlers.go: SyncAccount endpoint
*/
package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/balance-engine/engine"
)

// =============================================================================
// SYNC RUNNER
// =============================================================================

// SyncRunner serializes syncs per account.
type SyncRunner struct {
	Materializer *engine.Materializer
	Concurrency  int
	Logger       zerolog.Logger

	mu      sync.Mutex
	running map[engine.AccountID]struct{}
}

// SyncOutcome is the result of one account in SyncAll.
type SyncOutcome struct {
	AccountID engine.AccountID
	Result    *engine.SyncResult
	Err       error
}

// NewSyncRunner creates a runner. Concurrency below 1 means 1.
func NewSyncRunner(m *engine.Materializer, concurrency int, logger zerolog.Logger) *SyncRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SyncRunner{
		Materializer: m,
		Concurrency:  concurrency,
		Logger:       logger.With().Str("component", "sync_runner").Logger(),
		running:      make(map[engine.AccountID]struct{}),
	}
}

// Sync materializes one account unless it is already syncing.
func (r *SyncRunner) Sync(ctx context.Context, req engine.SyncRequest) (*engine.SyncResult, error) {
	if !r.acquire(req.AccountID) {
		return nil, engine.ErrSyncInProgress
	}
	defer r.release(req.AccountID)
	return r.Materializer.Materialize(ctx, req)
}

// SyncAll syncs every account with the given strategy. Outcomes are sorted
// by account id.
func (r *SyncRunner) SyncAll(ctx context.Context, strategy engine.Direction) ([]SyncOutcome, error) {
	ids, err := r.Materializer.Store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make(chan engine.AccountID)
	results := make(chan SyncOutcome, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < min(r.Concurrency, len(ids)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				res, err := r.Sync(ctx, engine.SyncRequest{AccountID: id, Strategy: strategy})
				results <- SyncOutcome{AccountID: id, Result: res, Err: err}
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]SyncOutcome, 0, len(ids))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].AccountID < outcomes[j].AccountID })
	return outcomes, ctx.Err()
}

// IsRunning reports whether the account is syncing right now.
func (r *SyncRunner) IsRunning(id engine.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

func (r *SyncRunner) acquire(id engine.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[id]; ok {
		return false
	}
	r.running[id] = struct{}{}
	return true
}

func (r *SyncRunner) release(id engine.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

// =============================================================================
// SYNC SCHEDULER
// =============================================================================

// SyncScheduler runs SyncAll periodically.
type SyncScheduler struct {
	Runner   *SyncRunner
	Interval time.Duration
	Strategy engine.Direction
	Logger   zerolog.Logger

	ticker *time.Ticker
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSyncScheduler creates a scheduler. It does nothing until Start.
func NewSyncScheduler(runner *SyncRunner, interval time.Duration, strategy engine.Direction, logger zerolog.Logger) *SyncScheduler {
	return &SyncScheduler{
		Runner:   runner,
		Interval: interval,
		Strategy: strategy,
		Logger:   logger.With().Str("component", "sync_scheduler").Logger(),
	}
}

// Start begins ticking. A zero interval leaves the scheduler disabled.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info().Msg("scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker.C, s.stop)

	s.Logger.Info().Dur("interval", s.Interval).Str("strategy", string(s.Strategy)).Msg("scheduler started")
}

// Stop cancels any in-flight run and waits for it to return.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info().Msg("scheduler stopped")
}

func (s *SyncScheduler) run(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow(ctx)

	for {
		select {
		case <-tick:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow syncs every account once and logs the outcome.
func (s *SyncScheduler) RunNow(ctx context.Context) []SyncOutcome {
	started := time.Now()
	outcomes, err := s.Runner.SyncAll(ctx, s.Strategy)
	if err != nil {
		s.Logger.Error().Err(err).Msg("scheduled sync aborted")
	}

	failed, skipped := 0, 0
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
		case errors.Is(o.Err, engine.ErrSyncInProgress):
			skipped++
		default:
			failed++
			s.Logger.Warn().Err(o.Err).Str("account_id", string(o.AccountID)).Msg("scheduled sync failed")
		}
	}
	s.Logger.Info().
		Int("accounts", len(outcomes)).
		Int("failed", failed).
		Int("skipped", skipped).
		Dur("elapsed", time.Since(started)).
		Msg("scheduled sync completed")
	return outcomes
}
