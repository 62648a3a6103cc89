package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomvoice/agentcore/internal/domain"
)

type turnPayload struct {
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
}

func TestWrapParseRoundTrip(t *testing.T) {
	r := NewRouter("voice")
	payload := turnPayload{UtteranceID: "u-1", Text: "hello"}

	env, err := r.Wrap(payload, "trace-123", "voice.utterance")
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, env.TraceID, parsed.TraceID)
	assert.Equal(t, env.EventType, parsed.EventType)
	assert.Equal(t, env.Service, parsed.Service)

	out, err := DecodeBody[turnPayload](parsed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestWrapGeneratesTraceIDWhenEmpty(t *testing.T) {
	r := NewRouter("brain")
	env, err := r.Wrap(turnPayload{}, "", "evt")
	require.NoError(t, err)
	assert.NotEmpty(t, env.TraceID)
}

func TestValidateSubjectAccepts(t *testing.T) {
	valid := []string{
		"agent.voice.join",
		"agent.brain.generate_reply",
		"agent.tts.synthesize",
		"agent.stt.transcribe",
		"system.health.voice",
		"system.service.restart",
	}
	for _, s := range valid {
		assert.NoError(t, ValidateSubject(s), s)
	}
}

func TestValidateSubjectRejectsUnknownPrefix(t *testing.T) {
	err := ValidateSubject("agent.unknown.thing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)
}

func TestParseEnvelopeRejectsMalformedBytes(t *testing.T) {
	_, err := ParseEnvelope([]byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}
