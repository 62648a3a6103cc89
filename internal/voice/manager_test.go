package voice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomvoice/agentcore/internal/adapters/id"
)

// fakeRecognizer never emits an event; it just blocks until the session
// context is canceled, so Run() exits cleanly without exercising any
// downstream reasoning/synth dependency.
type fakeRecognizer struct{}

func (fakeRecognizer) Start(ctx context.Context, frames <-chan []int16) (<-chan STTEvent, error) {
	events := make(chan STTEvent)
	go func() {
		<-ctx.Done()
		close(events)
	}()
	return events, nil
}

type fakeSink struct{}

func (fakeSink) Write(chunk []byte) error { return nil }

func newTestManager() *Manager {
	return NewManager(func() Recognizer { return fakeRecognizer{} }, nil, nil, nil, id.New(), Deadlines{})
}

func TestManagerJoinTracksSession(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := m.Join(ctx, "room_1", "part_1", "user_1", "agent_1", fakeSink{})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, m.Count())
}

func TestManagerGetReturnsTrackedSession(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := m.Join(ctx, "room_1", "part_1", "user_1", "agent_1", fakeSink{})
	require.NoError(t, err)

	got, ok := m.Get(s.model.ID)
	assert.True(t, ok)
	assert.Same(t, s, got)
}

func TestManagerGetUnknownSessionReturnsFalse(t *testing.T) {
	m := newTestManager()
	_, ok := m.Get("sess_nonexistent")
	assert.False(t, ok)
}

func TestManagerLeaveSignalsSession(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := m.Join(ctx, "room_1", "part_1", "user_1", "agent_1", fakeSink{})
	require.NoError(t, err)

	assert.True(t, m.Leave(s.model.ID))
	// session's own Leave is idempotent; signaling it twice must not panic.
	assert.NotPanics(t, func() { s.Leave() })
}

func TestManagerLeaveUnknownSessionReturnsFalse(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.Leave("sess_nonexistent"))
}

func TestManagerStopClearsSessions(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.Join(ctx, "room_1", "part_1", "user_1", "agent_1", fakeSink{})
	require.NoError(t, err)
	_, err = m.Join(ctx, "room_2", "part_2", "user_2", "agent_2", fakeSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count())

	m.Stop()
	assert.Equal(t, 0, m.Count())
}

func TestManagerReapRemovesFinishedSessions(t *testing.T) {
	m := newTestManager()
	sessionCtx, cancelSession := context.WithCancel(context.Background())

	s, err := m.Join(sessionCtx, "room_1", "part_1", "user_1", "agent_1", fakeSink{})
	require.NoError(t, err)

	cancelSession()
	e, ok := m.sessions[s.model.ID]
	require.True(t, ok)

	require.Eventually(t, func() bool {
		select {
		case <-e.done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	m.reap()
	assert.Equal(t, 0, m.Count())
}
