package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentBalanceSafetyProperty checks that concurrent read-modify-write
// updates under WithLock end with the sequential result.
func TestConcurrentBalanceSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		amounts := make([]int64, numOps)
		expected := initialBalance
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		userID := fmt.Sprintf("user-%d", rapid.IntRange(1, 1000).Draw(t, "userID"))
		ul := NewUserLock(0)
		balance := initialBalance

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				_ = ul.WithLock(context.Background(), userID, func() error {
					balance += amount
					return nil
				})
			}(amount)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if n := ul.size(); n != 0 {
			t.Fatalf("expected lock entries to be released, %d remain", n)
		}
	})
}

// TestNoNegativeBalanceProperty checks that a guarded debit never overdraws
// when many debits race for the same user.
func TestNoNegativeBalanceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		balance := rapid.Int64Range(0, 1000).Draw(t, "balance")
		debits := rapid.SliceOfN(rapid.Int64Range(1, 300), 2, 30).Draw(t, "debits")

		ul := NewUserLock(0)
		var wg sync.WaitGroup
		for _, d := range debits {
			wg.Add(1)
			go func(d int64) {
				defer wg.Done()
				_ = ul.WithLock(context.Background(), "u", func() error {
					if balance >= d {
						balance -= d
					}
					return nil
				})
			}(d)
		}
		wg.Wait()

		if balance < 0 {
			t.Fatalf("balance went negative: %d", balance)
		}
	})
}

// mustLock takes key or fails the test.
func mustLock(t *testing.T, ul *UserLock, key string) func() {
	t.Helper()
	unlock, ok := ul.TryLock(key)
	require.True(t, ok, "lock %q should be free", key)
	return unlock
}

func TestTryLock(t *testing.T) {
	ul := NewUserLock(0)

	unlockA := mustLock(t, ul, "a")
	assert.True(t, ul.IsLocked("a"))
	_, ok := ul.TryLock("a")
	assert.False(t, ok)
	unlockB := mustLock(t, ul, "b")

	unlockA()
	unlockB()
	assert.False(t, ul.IsLocked("a"))
	assert.Equal(t, 0, ul.size())
}

func TestStaleUnlockKeepsNewHolder(t *testing.T) {
	ul := NewUserLock(0)

	first := mustLock(t, ul, "a")
	first()
	second := mustLock(t, ul, "a")

	// Releasing again from the first holder must not free the second.
	first()
	assert.True(t, ul.IsLocked("a"))
	_, ok := ul.TryLock("a")
	assert.False(t, ok)

	second()
	second()
	assert.False(t, ul.IsLocked("a"))
	assert.Equal(t, 0, ul.size())
}

func TestWithLockTimeout(t *testing.T) {
	ul := NewUserLock(20 * time.Millisecond)
	defer mustLock(t, ul, "a")()

	called := false
	err := ul.WithLock(context.Background(), "a", func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
	assert.Equal(t, 1, ul.size(), "the timed-out waiter must drop its reference")
}

func TestWithLockCancelled(t *testing.T) {
	ul := NewUserLock(0)
	defer mustLock(t, ul, "a")()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ul.WithLock(ctx, "a", func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLockPropagatesError(t *testing.T) {
	ul := NewUserLock(0)
	want := fmt.Errorf("boom")

	err := ul.WithLock(context.Background(), "a", func() error { return want })
	assert.Equal(t, want, err)
	assert.False(t, ul.IsLocked("a"))
}
