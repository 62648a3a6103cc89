package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomvoice/agentcore/internal/domain"
	"github.com/loomvoice/agentcore/internal/domain/models"
)

func TestSaveTurnRejectsDimensionMismatch(t *testing.T) {
	s := New(nil, 384, DistanceCosine)
	turn := &models.Turn{
		ID:            "turn_1",
		UserID:        "user_1",
		AgentID:       "agent_1",
		TurnIndex:     0,
		UserUtterance: "hi",
		Embedding:     make([]float32, 16),
	}

	err := s.SaveTurn(context.Background(), turn)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSimilarTurnsRejectsDimensionMismatch(t *testing.T) {
	s := New(nil, 384, DistanceCosine)
	_, err := s.SimilarTurns(context.Background(), "user_1", make([]float32, 10), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSimilarTurnsZeroKReturnsNoResultsWithoutQuerying(t *testing.T) {
	s := New(nil, 4, DistanceCosine)
	results, err := s.SimilarTurns(context.Background(), "user_1", make([]float32, 4), 0)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRecentTurnsZeroLimitReturnsNoResultsWithoutQuerying(t *testing.T) {
	s := New(nil, 4, DistanceCosine)
	results, err := s.RecentTurns(context.Background(), "user_1", 0)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestOperatorSelectsConfiguredMetric(t *testing.T) {
	l2 := New(nil, 4, DistanceL2)
	assert.Equal(t, "<->", l2.operator())

	cosine := New(nil, 4, DistanceCosine)
	assert.Equal(t, "<=>", cosine.operator())

	def := New(nil, 4, "")
	assert.Equal(t, "<=>", def.operator())
}
