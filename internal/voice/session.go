// Package voice implements the per-participant voice session state
// machine: idle -> listening -> transcribing -> reasoning -> speaking,
// with barge-in, turn-index allocation, and bounded-latency deadlines.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loomvoice/agentcore/internal/adapters/id"
	"github.com/loomvoice/agentcore/internal/bus"
	"github.com/loomvoice/agentcore/internal/domain"
	"github.com/loomvoice/agentcore/internal/domain/models"
	"github.com/loomvoice/agentcore/internal/reasoning"
	"github.com/loomvoice/agentcore/internal/telemetry"
)

// State is one of the seven states in the session state machine.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateReasoning    State = "reasoning"
	StateSpeaking     State = "speaking"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// audioQueueCapacity is the bounded audio-frame queue size: 128
// frames, drop-oldest on overflow.
const audioQueueCapacity = 128

// maxTurnIndexRetries bounds retries when the memory store reports DuplicateTurn.
const maxTurnIndexRetries = 3

// sttHangover is the silence window after voice_end before final_text is
// treated as authoritative. The STT wrapper enforces it; nothing in the
// session refers to this constant.
const sttHangover = 400 * time.Millisecond

// STTEventKind enumerates the events the recognizer emits for one session.
type STTEventKind string

const (
	STTVoiceStart  STTEventKind = "voice_start"
	STTInterimText STTEventKind = "interim_text"
	STTFinalText   STTEventKind = "final_text"
	STTVoiceEnd    STTEventKind = "voice_end"
)

// STTEvent is one event emitted by the STT recognizer for a session.
type STTEvent struct {
	Kind STTEventKind
	Text string
}

// Recognizer is the speech-to-text contract as seen by a session: consume audio frames,
// emit transcript lifecycle events.
type Recognizer interface {
	Start(ctx context.Context, frames <-chan []int16) (<-chan STTEvent, error)
}

// Synthesizer is the text-to-speech contract as seen by a session: produce a finite,
// non-restartable sequence of audio chunks for one reply.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

// AudioSink receives the chunks a session wants played back to the room.
type AudioSink interface {
	Write(chunk []byte) error
}

// Deadlines bundles the bounded-latency timeouts a session enforces.
type Deadlines struct {
	Turn          time.Duration
	STT           time.Duration
	Reason        time.Duration
	TTSFirstChunk time.Duration
}

// Session runs the state machine for one participant. State transitions
// happen on the goroutine started by Run; state, framesDropped and
// turnIndex sit behind mu because State, FramesDropped and PushAudio are
// called from other goroutines.
type Session struct {
	model *models.Session

	recognizer Recognizer
	synth      Synthesizer
	sink       AudioSink
	workflow   *reasoning.Workflow
	durable    *bus.Durable
	ids        *id.Generator
	deadlines  Deadlines

	audioIn       chan []int16
	leave         chan struct{}
	framesDropped int64

	state     State
	turnIndex int64

	mu sync.RWMutex
}

// New constructs a session in state idle for one participant.
func New(model *models.Session, recognizer Recognizer, synth Synthesizer, sink AudioSink, workflow *reasoning.Workflow, durable *bus.Durable, ids *id.Generator, deadlines Deadlines) *Session {
	return &Session{
		model:      model,
		recognizer: recognizer,
		synth:      synth,
		sink:       sink,
		workflow:   workflow,
		durable:    durable,
		ids:        ids,
		deadlines:  deadlines,
		audioIn:    make(chan []int16, audioQueueCapacity),
		leave:      make(chan struct{}),
		state:      StateIdle,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// FramesDropped returns the number of audio frames dropped so far.
func (s *Session) FramesDropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framesDropped
}

// PushAudio enqueues one frame, dropping the oldest queued frame on
// overflow rather than blocking the caller (the realtime transport thread).
func (s *Session) PushAudio(frame []int16) {
	select {
	case s.audioIn <- frame:
		return
	default:
	}

	select {
	case <-s.audioIn:
	default:
	}
	s.mu.Lock()
	s.framesDropped++
	s.mu.Unlock()

	select {
	case s.audioIn <- frame:
	default:
	}
}

// Leave signals participant departure; the session moves to closing and
// drains.
func (s *Session) Leave() {
	select {
	case <-s.leave:
	default:
		close(s.leave)
	}
}

// Run drives the state machine until the session closes. Participant
// leave and cancellation end it with status ended; the recognizer's event
// channel closing ends it with status error. Failed transcriptions are
// not counted (they arrive as an empty final_text), so repeated STT
// failures do not end the session.
func (s *Session) Run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sttEvents, err := s.recognizer.Start(sessionCtx, s.audioIn)
	if err != nil {
		return domain.NewDomainError(err, "failed to start recognizer")
	}

	s.setState(StateListening)

	for {
		select {
		case <-s.leave:
			return s.close(sessionCtx, models.SessionEnded)
		case <-ctx.Done():
			return s.close(sessionCtx, models.SessionEnded)
		case evt, ok := <-sttEvents:
			if !ok {
				return s.close(sessionCtx, models.SessionError)
			}
			if err := s.handleSTTEvent(sessionCtx, evt, sttEvents); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleSTTEvent(ctx context.Context, evt STTEvent, sttEvents <-chan STTEvent) error {
	switch evt.Kind {
	case STTVoiceStart:
		switch s.State() {
		case StateListening:
			s.setState(StateTranscribing)
		case StateSpeaking:
			s.bargeIn(ctx)
		case StateReasoning:
			// runTurn runs on this goroutine and does not read sttEvents
			// while reasoning, so a voice_start during reasoning does not
			// cancel the reasoning call: it stays queued, and speak then
			// treats it as a barge-in once speaking starts.
		}
	case STTFinalText:
		if s.State() != StateTranscribing {
			return nil
		}
		if evt.Text == "" {
			s.setState(StateListening)
			return nil
		}
		s.setState(StateReasoning)
		s.runTurn(ctx, evt.Text, sttEvents)
	}
	return nil
}

// bargeIn moves the session to transcribing without rolling back audio
// already sent and emits a barge_in event. speak calls it after cancelling
// the in-flight TTS stream, which the synthesizer honors within one chunk.
func (s *Session) bargeIn(ctx context.Context) {
	s.setState(StateTranscribing)
	if s.durable != nil {
		_ = s.durable.ProduceConversationEvent(ctx, s.model.ID, map[string]any{
			"session_id": s.model.ID,
		}, "barge_in")
	}
}

// runTurn executes one reasoning-then-speaking cycle for a finalized
// utterance, allocating and retrying the turn index on DuplicateTurn.
func (s *Session) runTurn(ctx context.Context, utterance string, sttEvents <-chan STTEvent) {
	turnStart := time.Now()
	turnCtx, cancel := context.WithTimeout(ctx, s.deadlines.Turn)
	defer cancel()

	turnCtx, turnSpan := telemetry.StartSpan(turnCtx, telemetry.StageTurn)
	var turnErr error
	defer func() { telemetry.RecordStage(turnSpan, telemetry.StageTurn, turnStart, turnErr) }()

	state := &reasoning.State{
		UserID:    s.model.UserID,
		AgentID:   s.model.AgentID,
		RoomID:    s.model.RoomID,
		SessionID: s.model.ID,
	}

	var result *reasoning.State
	for attempt := 0; attempt < maxTurnIndexRetries; attempt++ {
		s.mu.Lock()
		turnIndex := s.turnIndex
		s.mu.Unlock()

		reasonCtx, reasonCancel := context.WithTimeout(turnCtx, s.deadlines.Reason)
		attemptState := *state
		attemptState.TurnIndex = turnIndex
		attemptState.Utterance = utterance

		s.workflow.RetrieveContext(reasonCtx, &attemptState)
		r, err := s.workflow.GenerateReply(reasonCtx, &attemptState)
		reasonCancel()

		if err != nil && domain.IsDuplicateTurn(err) {
			s.mu.Lock()
			s.turnIndex++
			s.mu.Unlock()
			continue
		}
		result = r
		s.mu.Lock()
		s.turnIndex++
		s.mu.Unlock()
		break
	}

	if turnCtx.Err() != nil {
		turnErr = turnCtx.Err()
		slog.Warn("turn aborted on T_turn deadline", "session_id", s.model.ID)
		if s.durable != nil {
			_ = s.durable.ProduceConversationEvent(context.Background(), s.model.ID, map[string]any{
				"session_id": s.model.ID,
			}, "turn_timeout")
		}
		s.setState(StateListening)
		return
	}

	if result == nil {
		turnErr = errors.New("turn exhausted duplicate-turn retries without a result")
		s.setState(StateListening)
		return
	}

	s.setState(StateSpeaking)
	s.speak(turnCtx, result.Reply, sttEvents)

	latencyTotal := time.Since(turnStart).Milliseconds()
	s.model.RecordTurn(latencyTotal)
	if s.State() == StateSpeaking {
		s.setState(StateListening)
	}
}

// speak streams TTS chunks to the room sink, honoring barge-in by watching
// sttEvents for a concurrent voice_start while synthesis is in flight.
func (s *Session) speak(ctx context.Context, text string, sttEvents <-chan STTEvent) {
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := s.synth.Synthesize(speakCtx, text)
	if err != nil {
		slog.Warn("tts synthesis failed", "session_id", s.model.ID, "error", err)
		return
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := s.sink.Write(chunk); err != nil {
				slog.Warn("audio sink write failed", "session_id", s.model.ID, "error", err)
				return
			}
		case evt := <-sttEvents:
			if evt.Kind == STTVoiceStart {
				cancel()
				s.bargeIn(ctx)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) close(ctx context.Context, status models.SessionStatus) error {
	s.setState(StateClosing)

	s.model.DowngradeQuality(s.FramesDropped())

	var err error
	if status == models.SessionError {
		err = s.model.Fail(time.Now().UTC())
	} else {
		err = s.model.End(time.Now().UTC())
	}

	if s.durable != nil {
		_ = s.durable.ProduceConversationEvent(ctx, s.model.ID, map[string]any{
			"session_id": s.model.ID,
			"status":     s.model.Status,
		}, "session_ended")
	}

	s.setState(StateClosed)
	return err
}
