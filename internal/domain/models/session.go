package models

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle status of a Session. It transitions only
// active -> ended or active -> error (never ended -> error); once
// terminal, a Session never transitions again.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
	SessionError  SessionStatus = "error"
)

// ConnectionQuality is a coarse signal derived from dropped-frame rate and
// transport liveness checks, surfaced on the Session row for observability.
type ConnectionQuality string

const (
	ConnectionExcellent ConnectionQuality = "excellent"
	ConnectionGood      ConnectionQuality = "good"
	ConnectionFair      ConnectionQuality = "fair"
	ConnectionPoor      ConnectionQuality = "poor"
)

// Session is a single participant's continuous engagement with the agent
// from join to disconnect.
type Session struct {
	ID                string
	RoomID            string
	ParticipantID     string
	UserID            string
	AgentID           string
	StartedAt         time.Time
	EndedAt           *time.Time
	DurationS         *float64
	TotalTurns        int64
	AvgLatencyMs      float64
	P95LatencyMs      float64
	P99LatencyMs      float64
	Status            SessionStatus
	ConnectionQuality ConnectionQuality
}

// NewSession creates a session in the initial active state.
func NewSession(id, roomID, participantID, userID, agentID string) *Session {
	return &Session{
		ID:            id,
		RoomID:        roomID,
		ParticipantID: participantID,
		UserID:        userID,
		AgentID:       agentID,
		StartedAt:     time.Now().UTC(),
		Status:        SessionActive,
	}
}

// ValidateTransition enforces the only two legal terminal transitions.
func ValidateTransition(from, to SessionStatus) error {
	if from != SessionActive {
		return fmt.Errorf("session already terminal: %s -> %s", from, to)
	}
	if to != SessionEnded && to != SessionError {
		return fmt.Errorf("invalid session transition: %s -> %s", from, to)
	}
	return nil
}

// End transitions the session to ended and stamps duration.
func (s *Session) End(at time.Time) error {
	if err := ValidateTransition(s.Status, SessionEnded); err != nil {
		return err
	}
	s.Status = SessionEnded
	s.EndedAt = &at
	d := at.Sub(s.StartedAt).Seconds()
	s.DurationS = &d
	return nil
}

// Fail transitions the session to error and stamps duration.
func (s *Session) Fail(at time.Time) error {
	if err := ValidateTransition(s.Status, SessionError); err != nil {
		return err
	}
	s.Status = SessionError
	s.EndedAt = &at
	d := at.Sub(s.StartedAt).Seconds()
	s.DurationS = &d
	return nil
}

// RecordTurn folds one completed turn's total latency into the running
// aggregates. p95/p99 are approximated with an exponential estimator since
// the session keeps no full latency history in memory; a precise
// percentile is recomputed from the turns table by reporting jobs.
func (s *Session) RecordTurn(latencyTotalMs int64) {
	s.TotalTurns++
	n := float64(s.TotalTurns)
	s.AvgLatencyMs += (float64(latencyTotalMs) - s.AvgLatencyMs) / n

	lat := float64(latencyTotalMs)
	if lat > s.P95LatencyMs {
		s.P95LatencyMs = s.P95LatencyMs*0.9 + lat*0.1
	} else {
		s.P95LatencyMs = s.P95LatencyMs*0.98 + lat*0.02
	}
	if lat > s.P99LatencyMs {
		s.P99LatencyMs = s.P99LatencyMs*0.95 + lat*0.05
	} else {
		s.P99LatencyMs = s.P99LatencyMs*0.99 + lat*0.01
	}
}

// DowngradeQuality lowers connection quality once frames_dropped crosses a
// threshold; it never upgrades quality automatically.
func (s *Session) DowngradeQuality(framesDropped int64) {
	rank := map[ConnectionQuality]int{"": 0, ConnectionExcellent: 1, ConnectionGood: 2, ConnectionFair: 3, ConnectionPoor: 4}
	q := ConnectionExcellent
	switch {
	case framesDropped == 0:
	case framesDropped < 10:
		q = ConnectionGood
	case framesDropped < 50:
		q = ConnectionFair
	default:
		q = ConnectionPoor
	}
	if rank[q] > rank[s.ConnectionQuality] {
		s.ConnectionQuality = q
	}
}
