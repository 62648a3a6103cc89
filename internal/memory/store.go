// Package memory implements the vector memory store: turn persistence and
// user-scoped similarity retrieval backed by Postgres + pgvector.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/loomvoice/agentcore/internal/adapters/postgres"
	"github.com/loomvoice/agentcore/internal/domain"
	"github.com/loomvoice/agentcore/internal/domain/models"
)

// DistanceMetric selects the operator pgvector uses to score similarity.
// The choice is deploy-time config, not per-query.
type DistanceMetric string

const (
	DistanceL2     DistanceMetric = "l2"
	DistanceCosine DistanceMetric = "cosine"
)

// Store persists turns and serves similarity/recency queries, always
// scoped to a single user_id so retrieval can never cross users.
type Store struct {
	postgres.BaseRepository
	dimension int
	metric    DistanceMetric
}

// New wraps pool into a Store validating embeddings of exactly dimension
// length against the configured distance metric.
func New(pool *pgxpool.Pool, dimension int, metric DistanceMetric) *Store {
	if metric == "" {
		metric = DistanceCosine
	}
	return &Store{
		BaseRepository: postgres.NewBaseRepository(pool),
		dimension:      dimension,
		metric:         metric,
	}
}

func (s *Store) operator() string {
	if s.metric == DistanceL2 {
		return "<->"
	}
	return "<=>"
}

// SaveTurn atomically inserts one turn. It fails with DuplicateTurn if
// (user_id, agent_id, turn_index) already exists, and DimensionMismatch if
// the embedding length does not match the configured dimension.
func (s *Store) SaveTurn(ctx context.Context, t *models.Turn) error {
	if len(t.Embedding) != s.dimension {
		return domain.NewDomainError(domain.ErrDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.dimension, len(t.Embedding)))
	}

	query := `
		INSERT INTO turns (
			id, user_id, agent_id, room_id, session_id, turn_index,
			user_utterance, agent_reply, embedding,
			latency_stt_ms, latency_reason_ms, latency_tts_ms, latency_total_ms,
			reasoning_degraded, persist_deferred, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.Conn(ctx).Exec(ctx, query,
		t.ID, t.UserID, t.AgentID, t.RoomID, t.SessionID, t.TurnIndex,
		t.UserUtterance, t.AgentReply, pgvector.NewVector(t.Embedding),
		t.LatencySTTMs, t.LatencyReasonMs, t.LatencyTTSMs, t.LatencyTotalMs,
		t.ReasoningDegraded, t.PersistDeferred, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.NewDomainError(domain.ErrDuplicateTurn,
				fmt.Sprintf("turn_index %d already exists for agent %s", t.TurnIndex, t.AgentID))
		}
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// SimilarTurn is one scored result from SimilarTurns.
type SimilarTurn struct {
	TurnID   string
	Text     string
	Distance float64
}

// SimilarTurns returns up to k turns belonging to userID, ordered
// ascending by the configured distance metric. It never returns another
// user's turns: userID is always the first predicate in the WHERE clause.
func (s *Store) SimilarTurns(ctx context.Context, userID string, queryEmbedding []float32, k int) ([]SimilarTurn, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, domain.NewDomainError(domain.ErrDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.dimension, len(queryEmbedding)))
	}
	if k <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, user_utterance, embedding %s $2 AS distance
		FROM turns
		WHERE user_id = $1
		ORDER BY embedding %s $2
		LIMIT $3
	`, s.operator(), s.operator())

	rows, err := s.Pool().Query(ctx, query, userID, pgvector.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("similar turns: %w", err)
	}
	defer rows.Close()

	var results []SimilarTurn
	for rows.Next() {
		var r SimilarTurn
		if err := rows.Scan(&r.TurnID, &r.Text, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan similar turn: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecentTurn is one result from RecentTurns.
type RecentTurn struct {
	TurnID string
	Text   string
}

// RecentTurns returns the limit most recent turns for userID, most recent
// first, used as the fallback when the similarity index is cold.
func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]RecentTurn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.Pool().Query(ctx, `
		SELECT id, user_utterance
		FROM turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var results []RecentTurn
	for rows.Next() {
		var r RecentTurn
		if err := rows.Scan(&r.TurnID, &r.Text); err != nil {
			return nil, fmt.Errorf("scan recent turn: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Health runs a one-shot liveness query against the pool.
func (s *Store) Health(ctx context.Context) bool {
	var one int
	err := s.Pool().QueryRow(ctx, "SELECT 1").Scan(&one)
	return err == nil && one == 1
}
