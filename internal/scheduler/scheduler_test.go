package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "kopa/pkg/domain"
)

func testKey(n string) Key {
	return Key{MSISDN: id.MSISDN("254700000001"), Session: id.SessionID(n)}
}

func TestScheduleOnceFires(t *testing.T) {
	s := New()
	fired := make(chan struct{})
	s.ScheduleOnce(context.Background(), testKey("once"), 5*time.Millisecond, func(context.Context) {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	// One-shot keys are released after firing.
	assert.Eventually(t, func() bool {
		return !s.Pending(testKey("once"))
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleRepeatingFiresUntilCancelled(t *testing.T) {
	s := New()
	var ticks atomic.Int64
	key := testKey("repeat")
	s.ScheduleRepeating(context.Background(), key, 5*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	s.Cancel(key)
	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "tick fired after cancel")
	assert.False(t, s.Pending(key))
}

func TestCancelIsSynchronous(t *testing.T) {
	// A tick must never be observed after Cancel returns, even when Cancel
	// races the timer's own firing goroutine.
	s := New()
	for i := 0; i < 50; i++ {
		var cancelled atomic.Bool
		key := testKey("race")
		s.ScheduleRepeating(context.Background(), key, time.Millisecond, func(context.Context) {
			if cancelled.Load() {
				t.Error("tick observed after Cancel returned")
			}
		})
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		s.Cancel(key)
		cancelled.Store(true)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	key := testKey("idem")
	s.ScheduleOnce(context.Background(), key, time.Hour, func(context.Context) {})
	s.Cancel(key)
	s.Cancel(key)
	s.Cancel(Key{MSISDN: "unknown", Session: "unknown"})
	assert.False(t, s.Pending(key))
}

func TestRescheduleReplacesPrevious(t *testing.T) {
	s := New()
	key := testKey("replace")
	var old, fresh atomic.Int64
	s.ScheduleRepeating(context.Background(), key, time.Hour, func(context.Context) { old.Add(1) })
	s.ScheduleRepeating(context.Background(), key, 5*time.Millisecond, func(context.Context) { fresh.Add(1) })

	require.Eventually(t, func() bool { return fresh.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Zero(t, old.Load(), "replaced timer kept firing")
	s.Cancel(key)
}

func TestCancelAll(t *testing.T) {
	s := New()
	var ticks atomic.Int64
	for _, n := range []string{"a", "b", "c"} {
		s.ScheduleRepeating(context.Background(), testKey(n), time.Millisecond, func(context.Context) {
			ticks.Add(1)
		})
	}
	s.CancelAll()
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}
