package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomvoice/agentcore/internal/domain/models"
)

func newTestSession() *Session {
	model := models.NewSession("sess_1", "room_1", "part_1", "user_1", "agent_1")
	return New(model, nil, nil, nil, nil, nil, nil, Deadlines{})
}

func TestPushAudioFillsQueueWithoutDropping(t *testing.T) {
	s := newTestSession()
	for i := 0; i < audioQueueCapacity; i++ {
		s.PushAudio([]int16{int16(i)})
	}
	assert.Equal(t, int64(0), s.FramesDropped())
}

func TestPushAudioDropsOldestOnOverflow(t *testing.T) {
	s := newTestSession()
	for i := 0; i < audioQueueCapacity; i++ {
		s.PushAudio([]int16{int16(i)})
	}

	s.PushAudio([]int16{999})
	assert.Equal(t, int64(1), s.FramesDropped())

	s.PushAudio([]int16{1000})
	assert.Equal(t, int64(2), s.FramesDropped())
}

func TestNewSessionStartsIdle(t *testing.T) {
	s := newTestSession()
	assert.Equal(t, StateIdle, s.State())
}

func TestLeaveIsIdempotent(t *testing.T) {
	s := newTestSession()
	assert.NotPanics(t, func() {
		s.Leave()
		s.Leave()
	})
}
