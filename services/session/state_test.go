package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreConsumeOnce(t *testing.T) {
	states := NewStateStore(time.Minute)

	nonce, err := states.Issue()
	require.NoError(t, err)
	assert.Equal(t, 1, states.Pending())

	require.NoError(t, states.Consume(nonce))
	assert.ErrorIs(t, states.Consume(nonce), ErrNotFound, "a nonce must not be accepted twice")
	assert.Equal(t, 0, states.Pending())
}

func TestStateStoreRejectsUnknown(t *testing.T) {
	states := NewStateStore(time.Minute)
	assert.ErrorIs(t, states.Consume(""), ErrNotFound)
	assert.ErrorIs(t, states.Consume("never-issued"), ErrNotFound)
}

func TestStateStoreRejectsExpired(t *testing.T) {
	clock := newFakeClock()
	states := NewStateStore(time.Minute, WithClock(clock.Now))

	nonce, err := states.Issue()
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, states.Consume(nonce), ErrNotFound)
}

func TestStateStorePrunesOnIssue(t *testing.T) {
	clock := newFakeClock()
	states := NewStateStore(time.Minute, WithClock(clock.Now))

	_, err := states.Issue()
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	_, err = states.Issue()
	require.NoError(t, err)
	assert.Equal(t, 1, states.Pending())
}
