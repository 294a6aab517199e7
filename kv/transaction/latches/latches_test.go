package latches

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLatches(t *testing.T) {
	l := NewLatchesWithSlots(4)

	// A new latch starts out held by its creator.
	assert.True(t, l.Insert(1))
	assert.False(t, l.Insert(1))
	assert.True(t, l.Held(1))

	// Release then acquire is ok.
	l.Release(1)
	assert.False(t, l.Held(1))
	assert.True(t, l.Acquire(1))
	assert.True(t, l.Held(1))

	// Unknown latches can't be acquired.
	assert.False(t, l.Acquire(2))
	assert.False(t, l.Held(2))

	l.Remove(1)
	assert.False(t, l.Acquire(1))
	assert.Equal(t, 0, l.Len())
}

func TestWaitForRelease(t *testing.T) {
	l := NewLatchesWithSlots(1)
	require.True(t, l.Insert(7))
	// Shares the only slot with 7.
	require.True(t, l.Insert(8))
	l.Release(8)

	acquired := make(chan bool, 1)
	go func() {
		acquired <- l.Acquire(7)
	}()

	// Releasing a different latch in the same slot does not hand over 7.
	l.Release(8)
	select {
	case <-acquired:
		t.Fatal("latch 7 is still held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(7)
	select {
	case ok := <-acquired:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.True(t, l.Held(7))
}

func TestRemoveWakesWaiters(t *testing.T) {
	l := NewLatches()
	require.True(t, l.Insert(3))

	acquired := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			acquired <- l.Acquire(3)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	l.Remove(3)

	for i := 0; i < 2; i++ {
		select {
		case ok := <-acquired:
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter was not woken")
		}
	}
}
