// Package speech implements the TTS synthesizer wrapper and the STT
// recognizer wrapper that the voice session state machine drives.
package speech

import (
	"context"
	"time"

	speechclient "github.com/loomvoice/agentcore/internal/adapters/speech"
	"github.com/loomvoice/agentcore/internal/domain"
	"github.com/loomvoice/agentcore/internal/telemetry"
)

// ttsBusyWait is how long a caller waits on the synthesis semaphore before
// failing with TTSBusy.
const ttsBusyWait = 500 * time.Millisecond

// chunkBufferSize is how many synthesized audio chunks the output channel
// buffers ahead of the consumer.
const chunkBufferSize = 8

// Synthesizer wraps an HTTP TTS backend with a bounded concurrency
// semaphore. It loads no model itself: construction only records the
// backend URL, and the backend is first contacted by Synthesize.
type Synthesizer struct {
	client *speechclient.Client
	voice  string
	sem    chan struct{}
}

// NewSynthesizer builds a client for the TTS backend at baseURL without
// contacting it (the returned error is always nil) and caps concurrent
// synthesis calls at maxConcurrent (default 4).
func NewSynthesizer(baseURL, voice string, maxConcurrent int) (*Synthesizer, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Synthesizer{
		client: speechclient.NewClient(baseURL),
		voice:  voice,
		sem:    make(chan struct{}, maxConcurrent),
	}, nil
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize streams audio chunks for text. It is finite and
// non-restartable: the returned channel is closed once the reply has been
// fully produced, ctx is cancelled, or the backend request fails (in which
// case no chunks are sent). Cancellation is honored within one
// chunk boundary, matching the session's barge-in contract.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	select {
	case s.sem <- struct{}{}:
	case <-time.After(ttsBusyWait):
		return nil, domain.NewDomainError(domain.ErrTTSBusy, "tts concurrency limit exceeded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make(chan []byte, chunkBufferSize)

	go func() {
		defer close(out)
		defer func() { <-s.sem }()

		spanCtx, span := telemetry.StartSpan(ctx, telemetry.StageTTS)
		start := time.Now()

		var resp struct {
			Audio [][]byte `json:"audio_chunks"`
		}
		err := s.client.PostJSON(spanCtx, "/v1/synthesize", synthesizeRequest{Text: text, Voice: s.voice}, &resp)
		telemetry.RecordStage(span, telemetry.StageTTS, start, err)
		if err != nil {
			return
		}

		for _, chunk := range resp.Audio {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
