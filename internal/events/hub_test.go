package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(10, EventValidateProgress)

	hub.EmitProgress(EventValidateProgress, "enforcement", "validate", "probing guest <-> iot", 50)

	select {
	case e := <-sub.C:
		assert.Equal(t, EventValidateProgress, e.Type)
		data, ok := e.Data.(ProgressData)
		require.True(t, ok)
		assert.Equal(t, 50.0, data.Percent)
		assert.Equal(t, "validate", data.Phase)
		assert.False(t, e.Timestamp.IsZero(), "timestamp is filled on publish")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_AllTypes(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(10)

	hub.EmitDeviceSeen("192.168.1.20", "printer", []int{9100})
	hub.EmitPairResult("guest", "iot", "passed")
	hub.EmitConfigGenerated("openwrt", 9, 1024)

	assert.Len(t, sub.C, 3)
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(10, EventScanProgress, EventDeviceSeen)

	hub.EmitPairResult("a", "b", "failed")
	hub.EmitDeviceSeen("10.0.0.2", "", nil)

	require.Len(t, sub.C, 1)
	assert.Equal(t, EventDeviceSeen, (<-sub.C).Type)
}

func TestHub_NonBlockingDrop(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1, EventEngineProgress)
	other := hub.Subscribe(10, EventEngineProgress)

	for i := 0; i < 5; i++ {
		hub.EmitProgress(EventEngineProgress, "engine", "optimize", "", float64(i))
	}

	published, dropped := hub.Stats()
	assert.Equal(t, uint64(5), published)
	assert.Equal(t, uint64(4), dropped)
	assert.Equal(t, uint64(4), sub.Dropped())
	assert.Equal(t, uint64(0), other.Dropped())
	assert.Len(t, other.C, 5)
}

func TestSubscription_Close(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(10)
	hub.EmitPairResult("a", "b", "passed")

	sub.Close()
	sub.Close()
	hub.EmitConfigGenerated("openwrt", 9, 1024)

	var got []Event
	for e := range sub.C {
		got = append(got, e)
	}
	require.Len(t, got, 1, "buffered events survive Close, later ones are not delivered")
	assert.Equal(t, EventPairResult, got[0].Type)
}

func TestHub_NilIsSafe(t *testing.T) {
	var hub *Hub
	hub.EmitProgress(EventScanProgress, "discovery", "scan", "", 10)
	p, d := hub.Stats()
	assert.Zero(t, p)
	assert.Zero(t, d)
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub()
	keep := hub.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				hub.EmitPairResult("a", "b", "passed")
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Subscribe(1).Close()
		}()
	}
	wg.Wait()

	assert.Len(t, keep.C, 100)
}
