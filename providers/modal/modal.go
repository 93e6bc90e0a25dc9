// Package modal implements voice-cloned speech synthesis against a
// self-hosted XTTS endpoint: the author's own recorded voice is sent
// along as the cloning sample and the narration comes back in it.
package modal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/goldenfocus/vibelog-capture/providers"
)

// supportedLanguages mirrors what the XTTS model accepts; anything
// else is rejected before the round trip.
var supportedLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "pl": true, "tr": true, "ru": true, "nl": true,
	"cs": true, "ar": true, "zh-cn": true, "ja": true, "hu": true,
	"ko": true, "hi": true,
}

// Client implements providers.SpeechSynthesizer over the endpoint's
// JSON contract: {text, voiceAudio, language} in, {audioBase64} out.
type Client struct {
	endpoint string
	httpc    *http.Client
	log      *log.Logger
}

// New creates a client for the given endpoint URL.
func New(endpoint string, logger *log.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		// Cold starts on the GPU worker can take a while.
		httpc: &http.Client{Timeout: 5 * time.Minute},
		log:   logger,
	}
}

type ttsRequest struct {
	Text       string `json:"text"`
	VoiceAudio string `json:"voiceAudio"`
	Language   string `json:"language"`
}

type ttsResponse struct {
	AudioBase64 string  `json:"audioBase64"`
	Duration    float64 `json:"duration"`
	Language    string  `json:"language"`
	TextLength  int     `json:"textLength"`
}

// Synthesize clones the voice in req.VoiceSample and speaks req.Text
// with it, returning WAV bytes.
func (c *Client) Synthesize(ctx context.Context, req providers.SpeechRequest) ([]byte, error) {
	if len(req.VoiceSample) == 0 {
		return nil, fmt.Errorf("modal: voice sample required for cloning")
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	if !supportedLanguages[lang] {
		return nil, fmt.Errorf("modal: unsupported language %q", lang)
	}
	c.log.Printf("voice clone request: %d chars, %s sample, lang=%s",
		len(req.Text), sampleFormat(req.VoiceSample), lang)

	body, err := json.Marshal(ttsRequest{
		Text:       req.Text,
		VoiceAudio: base64.StdEncoding.EncodeToString(req.VoiceSample),
		Language:   lang,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("modal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &providers.QuotaError{
			Message:  "voice cloning limit reached",
			Benefits: []string{"unlimited voice cloning", "faster narration"},
		}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("modal: status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.AudioBase64 == "" {
		return nil, fmt.Errorf("modal: response carried no audio")
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return audio, nil
}

// sampleFormat sniffs the voice sample's container from its magic
// bytes, for logging only; the endpoint does its own detection.
func sampleFormat(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(b, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "webm"
	case len(b) > 8 && bytes.Equal(b[4:8], []byte("ftyp")):
		return "mp4"
	default:
		return "unknown"
	}
}
