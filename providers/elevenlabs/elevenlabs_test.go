package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenfocus/vibelog-capture/providers"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSynthesize(t *testing.T) {
	var gotPath, gotKey string
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 bytes"))
	}))
	defer srv.Close()

	c := New("secret", testLogger(), WithBaseURL(srv.URL))
	audio, err := c.Synthesize(context.Background(), providers.SpeechRequest{
		Text:  "hello narration",
		Voice: "voice-123",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3 bytes"), audio)
	assert.Equal(t, "/v1/text-to-speech/voice-123", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "hello narration", gotPayload["text"])
	assert.Equal(t, defaultModelID, gotPayload["model_id"])
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := New("secret", testLogger(), WithBaseURL(srv.URL))
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/text-to-speech/"+defaultVoiceID, gotPath)
}

func TestSynthesizeQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("secret", testLogger(), WithBaseURL(srv.URL))
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{Text: "hi"})
	require.Error(t, err)

	q, ok := providers.AsQuota(err)
	require.True(t, ok)
	assert.NotEmpty(t, q.Message)
	assert.NotEmpty(t, q.Benefits)
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("secret", testLogger(), WithBaseURL(srv.URL))
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{Text: "hi"})
	require.Error(t, err)
	assert.False(t, providers.IsQuota(err))
}
