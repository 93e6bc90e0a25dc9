package openai

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenfocus/vibelog-capture/providers"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func stubClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New("test-key", testLogger(), WithBaseURL("test-key", srv.URL+"/v1"))
	return c, srv.Close
}

func TestGenerate_ReturnsPolishedContent(t *testing.T) {
	c, closeSrv := stubClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Hello World\n\nBody text"}},
			},
		})
	})
	defer closeSrv()

	got, err := c.Generate(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello World\n\nBody text", got.Content)
	assert.False(t, got.IsTeaser)
}

func TestGenerate_QuotaMapsToTypedError(t *testing.T) {
	c, closeSrv := stubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "You exceeded your current quota",
				"type":    "insufficient_quota",
			},
		})
	})
	defer closeSrv()

	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, providers.IsQuota(err), "429 should surface as a quota rejection")

	gate, ok := providers.AsQuota(err)
	require.True(t, ok)
	assert.NotEmpty(t, gate.Benefits, "quota rejection carries upgrade messaging")
}

func TestTranscribe_SendsBlobAndReturnsText(t *testing.T) {
	c, closeSrv := stubClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello world  "})
	})
	defer closeSrv()

	got, err := c.Transcribe(context.Background(), []byte("RIFFfakewav"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got, "transcription is trimmed")
}

func TestAltText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"title line", "My Day\n\nIt went well.", "Cover illustration for: My Day"},
		{"markdown heading", "# My Day\nbody", "Cover illustration for: My Day"},
		{"empty", "", "Cover illustration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, altText(tc.content))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".wav", extensionFor("audio/wav"))
	assert.Equal(t, ".mp4", extensionFor("video/mp4"))
	assert.Equal(t, ".webm", extensionFor("audio/webm;codecs=opus"))
	assert.Equal(t, ".wav", extensionFor("application/octet-stream"))
}
