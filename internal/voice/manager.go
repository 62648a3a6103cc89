package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomvoice/agentcore/internal/adapters/id"
	"github.com/loomvoice/agentcore/internal/bus"
	"github.com/loomvoice/agentcore/internal/domain/models"
	"github.com/loomvoice/agentcore/internal/reasoning"
)

// cleanupInterval is how often Manager sweeps for sessions whose
// goroutine has already exited (closed, never reaped).
const cleanupInterval = 30 * time.Second

// RecognizerFactory builds the STT recognizer for one session. Separate
// from Manager's other dependencies because each session needs its own
// recognizer instance (per-utterance state), not a shared one.
type RecognizerFactory func() Recognizer

// entry pairs a live session with the bookkeeping Manager needs to reap
// it once its goroutine exits.
type entry struct {
	session *Session
	done    chan struct{}
}

// Manager owns the set of live per-participant sessions, keyed by session
// ID: a sync.RWMutex-guarded map plus a ticker-driven cleanup sweep, with
// each tracked session running the full seven-state machine.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	recognizerFactory RecognizerFactory
	synth             Synthesizer
	workflow          *reasoning.Workflow
	durable           *bus.Durable
	ids               *id.Generator
	deadlines         Deadlines

	cancel context.CancelFunc
}

// NewManager constructs a session manager. synth and workflow are shared
// across sessions (both are safe for concurrent use); recognizerFactory
// is invoked once per joining participant since recognition state is not
// shareable.
func NewManager(recognizerFactory RecognizerFactory, synth Synthesizer, workflow *reasoning.Workflow, durable *bus.Durable, ids *id.Generator, deadlines Deadlines) *Manager {
	return &Manager{
		sessions:          make(map[string]*entry),
		recognizerFactory: recognizerFactory,
		synth:             synth,
		workflow:          workflow,
		durable:           durable,
		ids:               ids,
		deadlines:         deadlines,
	}
}

// Start launches the periodic cleanup sweep on a context derived from
// ctx; Stop cancels that context to end it.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.sweep(ctx)
	slog.Info("session manager started")
}

func (m *Manager) sweep(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("session manager sweep stopped")
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		select {
		case <-e.done:
			slog.Info("session manager reaping finished session", "session_id", id)
			delete(m.sessions, id)
		default:
		}
	}
}

// Join creates a session for a newly-joined participant, starts its state
// machine on its own goroutine, and tracks it for later lookup/cleanup.
func (m *Manager) Join(ctx context.Context, roomID, participantID, userID, agentID string, sink AudioSink) (*Session, error) {
	sessionModel := models.NewSession(m.ids.GenerateSessionID(), roomID, participantID, userID, agentID)

	recognizer := m.recognizerFactory()
	session := New(sessionModel, recognizer, m.synth, sink, m.workflow, m.durable, m.ids, m.deadlines)

	done := make(chan struct{})
	m.mu.Lock()
	m.sessions[sessionModel.ID] = &entry{session: session, done: done}
	m.mu.Unlock()

	if m.durable != nil {
		if err := m.durable.ProduceAudit(ctx, userID, "create", "session", map[string]any{
			"session_id":     sessionModel.ID,
			"room_id":        roomID,
			"participant_id": participantID,
			"agent_id":       agentID,
		}); err != nil {
			slog.Warn("session manager failed to publish audit event", "session_id", sessionModel.ID, "error", err)
		}
	}

	go func() {
		defer close(done)
		if err := session.Run(ctx); err != nil {
			slog.Error("session manager session ended with error", "session_id", sessionModel.ID, "error", err)
		}
	}()

	slog.Info("session manager created session", "session_id", sessionModel.ID, "room_id", roomID, "participant_id", participantID)
	return session, nil
}

// Leave signals the named session to end gracefully. It returns false if
// no such session is tracked.
func (m *Manager) Leave(sessionID string) bool {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.session.Leave()
	if m.durable != nil {
		if err := m.durable.ProduceAudit(context.Background(), e.session.model.UserID, "delete", "session", map[string]any{
			"session_id": sessionID,
		}); err != nil {
			slog.Warn("session manager failed to publish audit event", "session_id", sessionID, "error", err)
		}
	}
	return true
}

// Get returns the live session for sessionID, if any.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Count returns the number of sessions currently tracked, live or
// pending reap.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop signals every live session to leave, stops the cleanup sweep, and
// clears the map.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		e.session.Leave()
		slog.Info("session manager stopping session", "session_id", id)
	}
	m.sessions = make(map[string]*entry)
}
