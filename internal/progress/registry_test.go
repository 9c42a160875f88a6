package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan string) []string {
	var msgs []string
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestRegistry_PublishReachesSubscriber(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	events, cancel, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancel()

	r.Publish("op-1", "extracting")
	r.Publish("op-1", "embedding")
	r.Publish("op-1", "complete:done")

	assert.Equal(t, []string{"extracting", "embedding", "complete:done"}, collect(events))
}

func TestRegistry_LateSubscriberGetsHistory(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	r.Publish("op-1", "extracting")
	r.Publish("op-1", "chunking")

	events, cancel, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancel()

	r.Publish("op-1", "complete:done")

	assert.Equal(t, []string{"extracting", "chunking", "complete:done"}, collect(events))
}

func TestRegistry_SubscribeAfterTerminalReplaysAndCloses(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	r.Publish("op-1", "error:extraction failed")

	events, cancel, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancel()

	// Channel already closed, history still delivered
	assert.Equal(t, []string{"error:extraction failed"}, collect(events))
}

func TestRegistry_UnknownOperation(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	_, _, ok := r.Subscribe("ghost")
	assert.False(t, ok)

	// Publishing to an unknown operation must not panic
	r.Publish("ghost", "extracting")
}

func TestRegistry_MultipleSubscribers(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	a, cancelA, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancelA()
	b, cancelB, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancelB()

	r.Publish("op-1", "storing")
	r.Publish("op-1", "complete:done")

	assert.Equal(t, []string{"storing", "complete:done"}, collect(a))
	assert.Equal(t, []string{"storing", "complete:done"}, collect(b))
}

func TestRegistry_CancelDetachesSubscriber(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	events, cancel, ok := r.Subscribe("op-1")
	require.True(t, ok)

	cancel()
	r.Publish("op-1", "embedding")

	// Channel closed by cancel; no events delivered after detach
	_, open := <-events
	assert.False(t, open)
}

func TestRegistry_PublishNeverBlocks(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Register("op-1")
	_, cancel, ok := r.Subscribe("op-1")
	require.True(t, ok)
	defer cancel()

	// Overflow the subscriber buffer without draining; Publish must
	// return promptly every time.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			r.Publish("op-1", "event")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestRegistry_TTLEviction(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	defer r.Close()

	r.Register("op-1")
	require.True(t, r.Known("op-1"))

	require.Eventually(t, func() bool {
		return !r.Known("op-1")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal("complete:created"))
	assert.True(t, IsTerminal("error:boom"))
	assert.False(t, IsTerminal("embedding"))
}
