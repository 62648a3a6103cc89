package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleChatReturns503WhenNotReady(t *testing.T) {
	s := New(nil, nil, nil, nil, func() bool { return false }, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"user_id":"u1","text":"hi"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChatReturns400OnMalformedBody(t *testing.T) {
	s := New(nil, nil, nil, nil, func() bool { return true }, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTTSReturns400OnMalformedBody(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/tts", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRoomTokenReturns503WhenLiveKitNotConfigured(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rooms/room_1/token", bytes.NewBufferString(`{"participant_id":"p1"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleRoomTokenReturns503OnMalformedBodyWhenLiveKitNotConfigured(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rooms/room_1/token", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	// liveKit is nil, so this is caught before body decoding even matters.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealthReportsDegradedWithNoDependencies(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Database)
	assert.False(t, resp.ModelLoaded)
	assert.True(t, resp.Bus)
}
