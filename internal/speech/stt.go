package speech

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/loomvoice/agentcore/internal/adapters/livekit"
	speechclient "github.com/loomvoice/agentcore/internal/adapters/speech"
	"github.com/loomvoice/agentcore/internal/telemetry"
	"github.com/loomvoice/agentcore/internal/voice"
)

// hangover is the silence window after voice_end before final_text is
// emitted as authoritative, giving the ASR backend time to settle on its
// best transcript for the just-completed utterance.
const hangover = 400 * time.Millisecond

// eventBufferSize bounds the outbound event channel so a slow session
// consumer cannot stall the VAD processing goroutine indefinitely.
const eventBufferSize = 16

// Recognizer implements voice.Recognizer: a VAD-gated ASR wrapper. The VAD
// is authoritative for turn boundaries; the ASR backend is only invoked
// once a complete utterance (voice_start..voice_end) has been buffered.
type Recognizer struct {
	client    *speechclient.Client
	vadConfig livekit.VADConfig
	sampleRate int
}

// NewRecognizer builds a Recognizer calling the ASR backend at baseURL,
// gated by a Silero VAD model at modelPath.
func NewRecognizer(baseURL, modelPath string, sampleRate int) *Recognizer {
	if sampleRate <= 0 {
		sampleRate = livekit.VADSampleRate
	}
	return &Recognizer{
		client:     speechclient.NewClient(baseURL),
		vadConfig:  livekit.VADConfig{ModelPath: modelPath},
		sampleRate: sampleRate,
	}
}

// Start consumes frames and emits {voice_start, interim_text?, final_text,
// voice_end} events for one session. Cancellation discards any pending
// interim state rather than flushing a partial transcript.
func (r *Recognizer) Start(ctx context.Context, frames <-chan []int16) (<-chan voice.STTEvent, error) {
	out := make(chan voice.STTEvent, eventBufferSize)

	var mu sync.Mutex
	var utterance []int16
	var recognizing bool

	vad, err := livekit.NewVADProcessor(livekit.VADConfig{
		ModelPath: r.vadConfig.ModelPath,
		OnTurnStart: func() {
			mu.Lock()
			recognizing = true
			utterance = utterance[:0]
			mu.Unlock()
			select {
			case out <- voice.STTEvent{Kind: voice.STTVoiceStart}:
			case <-ctx.Done():
			}
		},
		OnTurnEnd: func(durationMs int64) {
			select {
			case out <- voice.STTEvent{Kind: voice.STTVoiceEnd}:
			case <-ctx.Done():
				return
			}

			mu.Lock()
			frozen := make([]int16, len(utterance))
			copy(frozen, utterance)
			recognizing = false
			mu.Unlock()

			go func() {
				select {
				case <-time.After(hangover):
				case <-ctx.Done():
					return
				}
				text, err := r.transcribe(ctx, frozen)
				if err != nil {
					text = ""
				}
				select {
				case out <- voice.STTEvent{Kind: voice.STTFinalText, Text: text}:
				case <-ctx.Done():
				}
			}()
		},
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		defer vad.Destroy()

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				mu.Lock()
				if recognizing {
					utterance = append(utterance, frame...)
				}
				mu.Unlock()
				samples := int16ToFloat32(frame)
				_ = vad.ProcessAudio(samples)
			}
		}
	}()

	return out, nil
}

type transcribeRequest struct {
	Audio      []byte `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (r *Recognizer) transcribe(ctx context.Context, samples []int16) (string, error) {
	spanCtx, span := telemetry.StartSpan(ctx, telemetry.StageSTT)
	start := time.Now()

	pcm := int16ToPCMBytes(samples)
	var resp transcribeResponse
	err := r.client.PostJSON(spanCtx, "/v1/transcribe", transcribeRequest{Audio: pcm, SampleRate: r.sampleRate}, &resp)
	telemetry.RecordStage(span, telemetry.StageSTT, start, err)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

func int16ToPCMBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
