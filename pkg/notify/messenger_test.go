package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMessengerConcurrentSends(t *testing.T) {
	m := NewLogMessenger(nil)
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ref, err := m.SendText(ctx, 1, "hi")
				assert.NoError(t, err)
				mu.Lock()
				seen[ref.MessageID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// every send gets a distinct message id
	assert.Len(t, seen, workers*perWorker)
}

func TestEditorAdaptsMessenger(t *testing.T) {
	m := NewLogMessenger(nil)
	ref, err := m.SendText(context.Background(), 5, "status")
	require.NoError(t, err)

	ed := NewEditor(m, ref)
	assert.NoError(t, ed.EditMessage(context.Background(), "updated"))
}
