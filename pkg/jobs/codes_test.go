package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/pkg/flow"
)

func TestCodeRelayDelivery(t *testing.T) {
	store := flow.NewStore()
	msg := &recordingMessenger{}
	relay := NewCodeRelay(store, msg)

	got := make(chan string, 1)
	go func() {
		code, err := relay.RequestCode(context.Background(), 7)
		require.NoError(t, err)
		got <- code
	}()

	// wait for the handoff to appear, then deliver as the command layer
	// would
	delivered := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.DeliverCode(7, "123456") {
			delivered = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, delivered)

	select {
	case code := <-got:
		assert.Equal(t, "123456", code)
	case <-time.After(2 * time.Second):
		t.Fatal("code never arrived")
	}

	// session cleaned up afterwards
	_, ok := store.Get(7)
	assert.False(t, ok)
}

func TestCodeRelayContextCancelled(t *testing.T) {
	store := flow.NewStore()
	relay := NewCodeRelay(store, &recordingMessenger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := relay.RequestCode(ctx, 7)
	assert.Error(t, err)
}
