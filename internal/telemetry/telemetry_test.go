package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMarksTimeoutsDistinctly(t *testing.T) {
	assert.Equal(t, "llm_timeout", errorKind("llm", context.DeadlineExceeded))
	assert.Equal(t, "llm_error", errorKind("llm", errors.New("boom")))
}

func TestTraceIDFromContextEmptyWhenNoSpan(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
