package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomvoice/agentcore/internal/domain"
)

func newBlockingTTSServer(release <-chan struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		resp := map[string]any{"audio_chunks": [][]byte{[]byte("chunk")}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestSynthesizeReturnsChunksOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"audio_chunks": [][]byte{[]byte("hello-audio")}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	synth, err := NewSynthesizer(server.URL, "default", 4)
	require.NoError(t, err)

	chunks, err := synth.Synthesize(context.Background(), "hi")
	require.NoError(t, err)

	var got [][]byte
	for c := range chunks {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "hello-audio", string(got[0]))
}

func TestSynthesizeFailsWithTTSBusyWhenSemaphoreExhausted(t *testing.T) {
	release := make(chan struct{})
	server := newBlockingTTSServer(release)
	defer server.Close()

	synth, err := NewSynthesizer(server.URL, "default", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch, err := synth.Synthesize(context.Background(), "occupying the only slot")
		require.NoError(t, err)
		for range ch {
		}
	}()

	time.Sleep(50 * time.Millisecond)

	_, err = synth.Synthesize(context.Background(), "should be busy")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTTSBusy)

	close(release)
	wg.Wait()
}
