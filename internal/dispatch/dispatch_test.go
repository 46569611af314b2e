package dispatch

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aortez/dirtsim/internal/wire"
)

func TestSink_CompleteDeliversValueOnce(t *testing.T) {
	var got []Response
	s := NewSink(func(r Response) { got = append(got, r) })

	s.Complete("ok")
	s.Complete("ignored") // second call is a no-op
	s.Fail(nil)           // also a no-op

	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Value)
	assert.Nil(t, got[0].Err)
}

func TestSink_FailDeliversError(t *testing.T) {
	var got Response
	s := NewSink(func(r Response) { got = r })

	apiErr := wire.Validation("bad field %q", "x")
	s.Fail(apiErr)

	assert.Equal(t, apiErr, got.Err)
	assert.Nil(t, got.Value)
}

func TestSink_DroppedWithoutCompletionFiresFinalizer(t *testing.T) {
	done := make(chan Response, 1)
	func() {
		s := NewSink(func(r Response) { done <- r })
		_ = s
	}()

	runtime.GC()
	runtime.GC()

	select {
	case r := <-done:
		require.NotNil(t, r.Err)
		assert.Equal(t, "dropped", r.Err.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("finalizer did not fire a Dropped() response")
	}
}

func TestQueue_DrainAllPreservesArrivalOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Event{CommandName: "A"})
	q.Push(Event{CommandName: "B"})
	q.Push(Event{CommandName: "C"})

	assert.Equal(t, 3, q.Len())

	events := q.DrainAll()
	require.Len(t, events, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{events[0].CommandName, events[1].CommandName, events[2].CommandName})
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainAllEmptyReturnsNil(t *testing.T) {
	q := NewQueue()
	assert.Nil(t, q.DrainAll())
}

func TestQueue_WaitSignalsOnPush(t *testing.T) {
	q := NewQueue()
	go q.Push(Event{CommandName: "A"})

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait() channel did not signal after Push")
	}
}
