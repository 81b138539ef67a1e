package api

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/engine"
)

func seedCheckingAccounts(t *testing.T, s *testServer, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := engine.AccountID(fmt.Sprintf("chk-%d", i))
		require.NoError(t, s.store.SaveAccount(ctx, engine.Account{
			ID: id, Name: string(id), Currency: "USD",
			Classification: engine.Asset, AccountableType: engine.Depository,
		}))
		amount := d(fmt.Sprintf("-%d", 100*(i+1)))
		_, err := s.store.SaveEntry(ctx, engine.NewTransactionEntry("", id, today.AddDays(-2), amount, "USD"))
		require.NoError(t, err)
	}
}

func TestSyncRunner_SyncAllSortedOutcomes(t *testing.T) {
	s := newTestServer(t)
	seedCheckingAccounts(t, s, 5)

	// WHEN
	outcomes, err := s.handler.Runner.SyncAll(context.Background(), engine.Forward)

	// THEN: one outcome per account, sorted, all successful
	require.NoError(t, err)
	require.Len(t, outcomes, 5)
	for i, o := range outcomes {
		assert.Equal(t, engine.AccountID(fmt.Sprintf("chk-%d", i)), o.AccountID)
		require.NoError(t, o.Err)
		assert.Equal(t, 4, o.Result.Balances)
	}

	acct, err := s.store.GetAccount(context.Background(), "chk-4")
	require.NoError(t, err)
	assert.Equal(t, "500", acct.Balance.String())
}

func TestSyncRunner_SkipsRunningAccount(t *testing.T) {
	s := newTestServer(t)
	seedCheckingAccounts(t, s, 2)
	runner := s.handler.Runner

	// GIVEN: chk-0 already syncing
	require.True(t, runner.acquire("chk-0"))
	assert.True(t, runner.IsRunning("chk-0"))

	// WHEN
	outcomes, err := runner.SyncAll(context.Background(), engine.Forward)

	// THEN: chk-0 is reported busy, chk-1 syncs
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.ErrorIs(t, outcomes[0].Err, engine.ErrSyncInProgress)
	assert.NoError(t, outcomes[1].Err)

	runner.release("chk-0")
	assert.False(t, runner.IsRunning("chk-0"))
	_, err = runner.Sync(context.Background(), engine.SyncRequest{AccountID: "chk-0"})
	assert.NoError(t, err)
}

func TestSyncRunner_ConcurrencyFloor(t *testing.T) {
	r := NewSyncRunner(&engine.Materializer{}, 0, zerolog.Nop())
	assert.Equal(t, 1, r.Concurrency)
}

func TestSyncScheduler_RunsOnStartAndStops(t *testing.T) {
	s := newTestServer(t)
	seedCheckingAccounts(t, s, 3)
	scheduler := NewSyncScheduler(s.handler.Runner, time.Hour, engine.Forward, zerolog.Nop())

	// WHEN: started, it syncs immediately
	scheduler.Start()
	require.Eventually(t, func() bool {
		acct, err := s.store.GetAccount(context.Background(), "chk-2")
		return err == nil && acct.Balance.String() == "300"
	}, 5*time.Second, 10*time.Millisecond)

	// THEN: Stop returns and is idempotent
	scheduler.Stop()
	scheduler.Stop()
}

func TestSyncScheduler_ZeroIntervalDisabled(t *testing.T) {
	s := newTestServer(t)
	seedCheckingAccounts(t, s, 1)
	scheduler := NewSyncScheduler(s.handler.Runner, 0, engine.Forward, zerolog.Nop())

	scheduler.Start()
	scheduler.Stop()

	balances, err := s.store.LoadBalances(context.Background(), "chk-0", "USD")
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestSyncScheduler_RunNowReportsOutcomes(t *testing.T) {
	s := newTestServer(t)
	seedCheckingAccounts(t, s, 2)
	scheduler := NewSyncScheduler(s.handler.Runner, time.Hour, engine.Reverse, zerolog.Nop())

	outcomes := scheduler.RunNow(context.Background())

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, engine.Reverse, o.Result.Strategy)
	}
}
