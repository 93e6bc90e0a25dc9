package modal

import (
	"context"
	"encoding/base64"
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

var wavSample = append([]byte("RIFF"), make([]byte, 64)...)

func TestSynthesize_RoundTrip(t *testing.T) {
	want := []byte("synthesized-wav-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req.Text)
		assert.Equal(t, "en", req.Language)

		sample, err := base64.StdEncoding.DecodeString(req.VoiceAudio)
		require.NoError(t, err)
		assert.Equal(t, wavSample, sample)

		json.NewEncoder(w).Encode(ttsResponse{
			AudioBase64: base64.StdEncoding.EncodeToString(want),
			Duration:    1.2,
			Language:    "en",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	got, err := c.Synthesize(context.Background(), providers.SpeechRequest{
		Text:        "hello world",
		VoiceSample: wavSample,
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSynthesize_RequiresVoiceSample(t *testing.T) {
	c := New("http://unused", testLogger())
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{Text: "hi"})
	assert.Error(t, err)
}

func TestSynthesize_RejectsUnsupportedLanguage(t *testing.T) {
	c := New("http://unused", testLogger())
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{
		Text:        "hi",
		VoiceSample: wavSample,
		Language:    "xx",
	})
	assert.ErrorContains(t, err, "unsupported language")
}

func TestSynthesize_QuotaMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{
		Text:        "hi",
		VoiceSample: wavSample,
	})
	assert.True(t, providers.IsQuota(err))
}

func TestSynthesize_EmptyAudioIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ttsResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, testLogger())
	_, err := c.Synthesize(context.Background(), providers.SpeechRequest{
		Text:        "hi",
		VoiceSample: wavSample,
	})
	assert.ErrorContains(t, err, "no audio")
}

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   string
	}{
		{"wav", wavSample, "wav"},
		{"webm", append([]byte{0x1a, 0x45, 0xdf, 0xa3}, make([]byte, 16)...), "webm"},
		{"mp4", append([]byte{0, 0, 0, 24}, append([]byte("ftyp"), make([]byte, 16)...)...), "mp4"},
		{"unknown", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sampleFormat(tc.sample))
		})
	}
}
