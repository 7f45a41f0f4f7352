package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndGet(t *testing.T) {
	s := NewStore()
	_, ok := s.Get(1)
	assert.False(t, ok)

	s.Start(1, "awaiting_email", map[string]any{"attempt": 1})
	sess, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "awaiting_email", sess.Stage)
	assert.Equal(t, 1, sess.Data["attempt"])

	// Get hands out a copy; mutating it must not touch the store
	sess.Data["attempt"] = 99
	again, _ := s.Get(1)
	assert.Equal(t, 1, again.Data["attempt"])
}

func TestUpdateMergesData(t *testing.T) {
	s := NewStore()
	s.Start(1, "awaiting_email", map[string]any{"email": "a@b.c"})

	s.Update(1, "awaiting_password", map[string]any{"tries": 2})
	sess, _ := s.Get(1)
	assert.Equal(t, "awaiting_password", sess.Stage)
	assert.Equal(t, "a@b.c", sess.Data["email"])
	assert.Equal(t, 2, sess.Data["tries"])

	// empty stage keeps the current one
	s.Update(1, "", map[string]any{"tries": 3})
	sess, _ = s.Get(1)
	assert.Equal(t, "awaiting_password", sess.Stage)
	assert.Equal(t, 3, sess.Data["tries"])

	// update without a session is a no-op
	s.Update(7, "x", nil)
	_, ok := s.Get(7)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Start(1, "stage", nil)
	s.Clear(1)
	_, ok := s.Get(1)
	assert.False(t, ok)
	s.Clear(1) // idempotent
}

func TestCodeHandoff(t *testing.T) {
	s := NewStore()
	s.Start(1, "awaiting_2fa", nil)

	ch := s.CreateCodeHandoff(1)
	assert.True(t, s.DeliverCode(1, "123456"))

	select {
	case code := <-ch:
		assert.Equal(t, "123456", code)
	default:
		t.Fatal("code not delivered")
	}

	// handoff is one-shot
	assert.False(t, s.DeliverCode(1, "654321"))
}

func TestDeliverCodeWithoutHandoff(t *testing.T) {
	s := NewStore()
	assert.False(t, s.DeliverCode(1, "123456"))
	s.Start(1, "stage", nil)
	assert.False(t, s.DeliverCode(1, "123456"))
}
