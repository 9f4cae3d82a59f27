package txn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTxn(id TxnID) *Txn { return newTxn(id) }

func TestCompatMatrixMatchesSpec(t *testing.T) {
	// held (rows) x requested (cols).
	want := map[[2]Mode]bool{
		{IS, IS}: true, {IS, IX}: true, {IS, S}: true, {IS, SIX}: true, {IS, X}: false,
		{IX, IS}: true, {IX, IX}: true, {IX, S}: false, {IX, SIX}: false, {IX, X}: false,
		{S, IS}: true, {S, IX}: false, {S, S}: true, {S, SIX}: false, {S, X}: false,
		{SIX, IS}: true, {SIX, IX}: false, {SIX, S}: false, {SIX, SIX}: false, {SIX, X}: false,
		{X, IS}: false, {X, IX}: false, {X, S}: false, {X, SIX}: false, {X, X}: false,
	}
	for pair, expect := range want {
		require.Equalf(t, expect, compatible(pair[0], pair[1]), "held=%s requested=%s", pair[0], pair[1])
	}
}

func TestTableLockFIFOFairness(t *testing.T) {
	lm := NewLockManager()
	holder := newTestTxn(9)
	w1 := newTestTxn(3) // arrives first
	w2 := newTestTxn(2) // arrives second; older, but FIFO keeps it behind w1

	require.NoError(t, lm.AcquireTableLock(holder, "t", X))

	order := make(chan TxnID, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, lm.AcquireTableLock(w1, "t", X))
		order <- 3
		lm.ReleaseTableLock(w1, "t", X)
	}()
	time.Sleep(20 * time.Millisecond) // ensure w1 enqueues before w2
	go func() {
		defer wg.Done()
		require.NoError(t, lm.AcquireTableLock(w2, "t", X))
		order <- 2
	}()
	time.Sleep(20 * time.Millisecond)

	lm.ReleaseTableLock(holder, "t", X)
	wg.Wait()
	close(order)

	first := <-order
	second := <-order
	require.Equal(t, TxnID(3), first, "first-arrived waiter must be granted first, even against an older later arrival")
	require.Equal(t, TxnID(2), second)
}

func TestWaitDieYoungerRequesterAborts(t *testing.T) {
	lm := NewLockManager()
	told := newTestTxn(5)  // older (smaller id)
	tyoung := newTestTxn(9) // younger

	require.NoError(t, lm.AcquireTableLock(told, "t", X))

	err := lm.AcquireTableLock(tyoung, "t", X)
	require.ErrorIs(t, err, ErrDeadlockAbort)
}

func TestWaitDieOlderRequesterWaits(t *testing.T) {
	lm := NewLockManager()
	tyoung := newTestTxn(9)
	told := newTestTxn(5)

	require.NoError(t, lm.AcquireTableLock(tyoung, "t", X))

	done := make(chan error, 1)
	go func() { done <- lm.AcquireTableLock(told, "t", X) }()

	select {
	case <-done:
		t.Fatal("older requester should not have been granted yet")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseTableLock(tyoung, "t", X)
	require.NoError(t, <-done)
}

// TestWaitDieCrossTableDeadlock: older T0 holds X on
// t2 and requests X on t1 held by younger T1; T1 then requests X on t2 and
// must die, unblocking T0.
func TestWaitDieCrossTableDeadlock(t *testing.T) {
	lm := NewLockManager()
	t0 := newTestTxn(0)
	t1 := newTestTxn(1)

	require.NoError(t, lm.AcquireTableLock(t0, "t2", X))
	require.NoError(t, lm.AcquireTableLock(t1, "t1", X))

	t0done := make(chan error, 1)
	go func() { t0done <- lm.AcquireTableLock(t0, "t1", X) }()
	time.Sleep(20 * time.Millisecond) // t0 is now waiting on t1's lock

	err := lm.AcquireTableLock(t1, "t2", X)
	require.ErrorIs(t, err, ErrDeadlockAbort)

	// The wait-die loser releases everything it holds; t0 then proceeds.
	lm.ReleaseAll(t1)
	require.NoError(t, <-t0done)
}

func TestMultiUpgradeSecondAborts(t *testing.T) {
	lm := NewLockManager()
	t0 := newTestTxn(0)
	t1 := newTestTxn(1)
	t2 := newTestTxn(2)

	require.NoError(t, lm.AcquireTableLock(t0, "t", S))
	require.NoError(t, lm.AcquireTableLock(t1, "t", S))
	require.NoError(t, lm.AcquireTableLock(t2, "t", S))

	upgradeDone := make(chan error, 1)
	go func() { upgradeDone <- lm.AcquireTableLock(t1, "t", X) }()
	time.Sleep(20 * time.Millisecond) // t1 becomes the upgrader, then blocks on t0/t2's S

	err := lm.AcquireTableLock(t2, "t", X)
	require.ErrorIs(t, err, ErrMultiUpgrade)

	lm.ReleaseTableLock(t0, "t", S)
	lm.ReleaseTableLock(t2, "t", S)
	require.NoError(t, <-upgradeDone)
}

func TestUpgradePathValidation(t *testing.T) {
	lm := NewLockManager()
	tx := newTestTxn(0)

	require.NoError(t, lm.AcquireTableLock(tx, "t", IX))
	// IX -> S is not a valid upgrade per the lattice (IX and S are incomparable).
	err := lm.AcquireTableLock(tx, "t", S)
	require.ErrorIs(t, err, ErrInvalidBehavior)

	// IX -> SIX is valid.
	require.NoError(t, lm.AcquireTableLock(tx, "t", SIX))
}

func TestMultiGranularityRequiresTableLockFirst(t *testing.T) {
	lm := NewLockManager()
	tx := newTestTxn(0)

	err := lm.AcquireTupleLock(tx, "t", []byte("k"), S)
	require.ErrorIs(t, err, ErrInvalidBehavior)

	require.NoError(t, lm.AcquireTableLock(tx, "t", IS))
	require.NoError(t, lm.AcquireTupleLock(tx, "t", []byte("k"), S))

	tx2 := newTestTxn(1)
	require.NoError(t, lm.AcquireTableLock(tx2, "t2", IS))
	err = lm.AcquireTupleLock(tx2, "t2", []byte("k"), X) // X requires IX/SIX/X, not IS
	require.ErrorIs(t, err, ErrInvalidBehavior)
}

func TestTwoPLRejectsAcquireAfterShrinking(t *testing.T) {
	lm := NewLockManager()
	tx := newTestTxn(0)
	require.NoError(t, lm.AcquireTableLock(tx, "t", S))
	lm.ReleaseTableLock(tx, "t", S)
	tx.setState(Shrinking)

	err := lm.AcquireTableLock(tx, "t2", S)
	require.ErrorIs(t, err, ErrInvalidBehavior)
}

func TestReleaseAllReleasesTupleLocksBeforeTableLocks(t *testing.T) {
	lm := NewLockManager()
	tx := newTestTxn(0)
	require.NoError(t, lm.AcquireTableLock(tx, "t", IX))
	require.NoError(t, lm.AcquireTupleLock(tx, "t", []byte("k1"), X))

	other := newTestTxn(1)
	lm.ReleaseAll(tx)

	// Table lock must be free now; a fresh X acquire on the table must succeed immediately.
	require.NoError(t, lm.AcquireTableLock(other, "t", X))
}
