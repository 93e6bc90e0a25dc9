package uploader

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
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func TestUpload_RoundTrip(t *testing.T) {
	blob := make([]byte, 256*1024)
	for i := range blob {
		blob[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<24))
		assert.Equal(t, "post-42", r.FormValue("contentId"))

		file, header, err := r.FormFile("video")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.mp4", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example.com/v/post-42.mp4"})
	}))
	defer srv.Close()

	var percents []int
	u := New(srv.URL, testLogger())
	url, err := u.Upload(context.Background(), "post-42", blob, "video/mp4", func(pct int) {
		percents = append(percents, pct)
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v/post-42.mp4", url)

	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1], "progress ends at 100")
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress is monotonic")
	}
}

func TestUpload_ServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	u := New(srv.URL, testLogger())
	_, err := u.Upload(context.Background(), "post-1", []byte("x"), "video/mp4", nil)
	assert.ErrorContains(t, err, "502")
}

func TestUpload_MissingURLInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	u := New(srv.URL, testLogger())
	_, err := u.Upload(context.Background(), "post-1", []byte("x"), "video/mp4", nil)
	assert.ErrorContains(t, err, "no url")
}
