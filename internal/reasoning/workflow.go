// Package reasoning implements the two-stage reasoning workflow: retrieving
// similar prior turns and generating a reply, then persisting the turn.
package reasoning

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/loomvoice/agentcore/internal/adapters/embedding"
	"github.com/loomvoice/agentcore/internal/adapters/id"
	"github.com/loomvoice/agentcore/internal/bus"
	"github.com/loomvoice/agentcore/internal/domain"
	"github.com/loomvoice/agentcore/internal/domain/models"
	"github.com/loomvoice/agentcore/internal/llm"
	"github.com/loomvoice/agentcore/internal/memory"
	"github.com/loomvoice/agentcore/internal/telemetry"
)

const fallbackReply = "I apologize, but I'm having trouble processing your request right now."

const systemRole = "You are a helpful voice assistant. Keep replies concise; you are being read aloud."

// State carries one turn's working data through the two-stage workflow.
type State struct {
	UserID        string
	AgentID       string
	RoomID        string
	SessionID     string
	TurnIndex     int64
	Utterance     string
	Messages      []llm.ChatMessage
	Context       []string
	Embedding     []float32
	Reply         string
	ReasoningDegraded bool
	PersistDeferred   bool
}

// Workflow wires the embedding client, memory store, LLM client, and
// durable bus together for one retrieve-then-generate turn.
type Workflow struct {
	embed     *embedding.Client
	store     *memory.Store
	llmClient *llm.Client
	durable   *bus.Durable
	ids       *id.Generator
	reasonTimeout time.Duration
	topK          int
}

// New builds a Workflow bounded by reasonTimeout (T_reason, default 5s)
// and retrieving topK similar turns per retrieval.
func New(embed *embedding.Client, store *memory.Store, llmClient *llm.Client, durable *bus.Durable, ids *id.Generator, reasonTimeout time.Duration, topK int) *Workflow {
	if topK <= 0 {
		topK = 5
	}
	return &Workflow{embed: embed, store: store, llmClient: llmClient, durable: durable, ids: ids, reasonTimeout: reasonTimeout, topK: topK}
}

// RetrieveContext computes an embedding of the latest utterance and
// attaches up to topK similar turns to state.Context. Failures here are
// non-fatal: context becomes empty and the caller should increment a
// warning metric.
func (w *Workflow) RetrieveContext(ctx context.Context, state *State) *State {
	spanCtx, span := telemetry.StartSpan(ctx, telemetry.StageRetrieveContext)
	start := time.Now()
	var stageErr error
	defer func() { telemetry.RecordStage(span, telemetry.StageRetrieveContext, start, stageErr) }()

	result, err := w.embed.Embed(spanCtx, state.Utterance)
	if err != nil {
		stageErr = err
		state.Context = nil
		return state
	}
	state.Embedding = result.Embedding

	turns, err := w.similarTurnsWithRetry(spanCtx, state.UserID, result.Embedding)
	if err != nil {
		stageErr = err
		state.Context = nil
		return state
	}

	context := make([]string, 0, len(turns))
	for _, t := range turns {
		context = append(context, t.Text)
	}
	state.Context = context
	telemetry.RecordContextSize(len(context))
	return state
}

// similarTurnsWithRetry retries memory-store retrieval once with jittered 50ms
// backoff before giving up and returning an empty context.
func (w *Workflow) similarTurnsWithRetry(ctx context.Context, userID string, queryEmbedding []float32) ([]memory.SimilarTurn, error) {
	turns, err := w.store.SimilarTurns(ctx, userID, queryEmbedding, w.topK)
	if err == nil {
		return turns, nil
	}

	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	select {
	case <-time.After(50*time.Millisecond + jitter):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return w.store.SimilarTurns(ctx, userID, queryEmbedding, w.topK)
}

// GenerateReply builds a prompt from the fixed system role, formatted
// context, and running messages, then invokes the LLM under T_reason. On
// failure or timeout it falls back to the fixed apology string and marks
// the turn reasoning_degraded. The reply is then persisted to the memory
// store: a DuplicateTurn error is returned to the caller so it can retry
// with an incremented turn index, any other persist failure is swallowed
// and marks the turn persist_deferred instead. Once persisted, a
// turn_completed event is published to the durable log.
func (w *Workflow) GenerateReply(ctx context.Context, state *State) (*State, error) {
	reasonCtx, cancel := context.WithTimeout(ctx, w.reasonTimeout)
	defer cancel()

	messages := buildMessages(state)

	llmCtx, llmSpan := telemetry.StartSpan(reasonCtx, telemetry.StageLLM)
	llmStart := time.Now()
	resp, err := w.llmClient.Chat(llmCtx, messages)
	telemetry.RecordStage(llmSpan, telemetry.StageLLM, llmStart, err)
	if err != nil || len(resp.Choices) == 0 {
		state.Reply = fallbackReply
		state.ReasoningDegraded = true
	} else {
		state.Reply = resp.Choices[0].Message.Content
	}

	state.Messages = append(state.Messages, llm.ChatMessage{Role: "assistant", Content: state.Reply})

	if err := w.persistTurn(ctx, state); err != nil {
		if domain.IsDuplicateTurn(err) {
			return state, err
		}
		log.Printf("[reasoning] persist turn failed after retries, marking persist_deferred: %v", err)
		state.PersistDeferred = true
	}

	if w.durable != nil {
		event := map[string]any{
			"session_id":         state.SessionID,
			"turn_index":         state.TurnIndex,
			"reasoning_degraded": state.ReasoningDegraded,
			"persist_deferred":   state.PersistDeferred,
		}
		if pubErr := w.durable.ProduceConversationEvent(ctx, state.SessionID, event, "turn_completed"); pubErr != nil {
			log.Printf("[reasoning] failed to publish turn_completed: %v", pubErr)
		}
	}

	return state, nil
}

func buildMessages(state *State) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(state.Messages)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemRole})
	if len(state.Context) > 0 {
		formatted := "Relevant prior turns:\n"
		for _, c := range state.Context {
			formatted += "- " + c + "\n"
		}
		messages = append(messages, llm.ChatMessage{Role: "system", Content: formatted})
	}
	messages = append(messages, state.Messages...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: state.Utterance})
	return messages
}

// persistTurn retries the memory-store write with exponential backoff (50ms * 2^n,
// n<3) before giving up.
func (w *Workflow) persistTurn(ctx context.Context, state *State) (err error) {
	spanCtx, span := telemetry.StartSpan(ctx, telemetry.StagePersistTurn)
	start := time.Now()
	defer func() { telemetry.RecordStage(span, telemetry.StagePersistTurn, start, err) }()
	ctx = spanCtx

	embedding := state.Embedding
	if embedding == nil {
		if result, err := w.embed.Embed(ctx, state.Utterance); err == nil {
			embedding = result.Embedding
		}
	}

	turn := &models.Turn{
		ID:            w.ids.GenerateTurnID(),
		UserID:        state.UserID,
		AgentID:       state.AgentID,
		RoomID:        state.RoomID,
		SessionID:     state.SessionID,
		TurnIndex:     state.TurnIndex,
		UserUtterance: state.Utterance,
		AgentReply:    state.Reply,
		Embedding:     embedding,
		ReasoningDegraded: state.ReasoningDegraded,
		CreatedAt:     time.Now().UTC(),
	}

	var lastErr error
	for n := 0; n < 3; n++ {
		lastErr = w.store.SaveTurn(ctx, turn)
		if lastErr == nil {
			return nil
		}
		if domain.IsDuplicateTurn(lastErr) {
			return lastErr
		}
		delay := time.Duration(50*(1<<uint(n))) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("persist turn after retries: %w", lastErr)
}
