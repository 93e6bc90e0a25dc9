// Package livecaption streams microphone audio to Deepgram over a
// websocket and yields live caption lines while a recording is in
// progress. The session auto-restarts on retryable failures with
// capped backoff; whether a failure is terminal or retryable is an
// explicit classification, not string matching scattered through
// callbacks.
package livecaption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goldenfocus/vibelog-capture/media"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	dedupCapacity     = 8
	dedupThreshold    = 0.85
	dedupWindow       = 30 * time.Second
	defaultBackoff    = 500 * time.Millisecond
	maxBackoff        = 8 * time.Second
	defaultMaxRestart = 5
)

// ErrorClass tags a session failure as worth retrying or not.
type ErrorClass int

const (
	// ClassRetryable failures restart the session with backoff.
	ClassRetryable ErrorClass = iota
	// ClassTerminal failures end captioning for good.
	ClassTerminal
)

func (c ErrorClass) String() string {
	if c == ClassTerminal {
		return "terminal"
	}
	return "retryable"
}

// Config configures a Captioner.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Language string
	// SampleRate of the tapped track's PCM.
	SampleRate int
	// MaxRestarts bounds consecutive retryable failures. Default 5.
	MaxRestarts int
	// Backoff is the initial restart delay, doubled per attempt up to
	// a cap. Default 500ms.
	Backoff time.Duration
}

// Captioner owns one live captioning run over a tapped audio track.
// It never stops the track.
type Captioner struct {
	cfg   Config
	log   *log.Logger
	dedup *captionBuffer

	mu      sync.Mutex
	lines   chan string
	cancel  context.CancelFunc
	track   *media.AudioTrack
	tapID   int
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a captioner with defaults applied.
func New(cfg Config, logger *log.Logger) *Captioner {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestart
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Captioner{
		cfg:   cfg,
		log:   logger,
		dedup: newCaptionBuffer(dedupCapacity, dedupWindow),
		lines: make(chan string, 32),
	}
}

// Start begins captioning the track. The returned channel closes when
// captioning ends, whether by Stop or a terminal failure.
func (c *Captioner) Start(ctx context.Context, track *media.AudioTrack) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, errors.New("livecaption: already started")
	}
	if track == nil || !track.Live() {
		return nil, errors.New("livecaption: live audio track required")
	}
	c.started = true
	c.track = track

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	tapID, samples := track.Tap(64)
	c.tapID = tapID

	c.wg.Add(1)
	go c.run(runCtx, samples)
	return c.lines, nil
}

// Stop ends captioning and releases the tap. Idempotent.
func (c *Captioner) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancel()
	c.track.Untap(c.tapID)
	c.mu.Unlock()
	c.wg.Wait()
}

// run drives sessions until the context ends, a terminal failure
// occurs, or restarts are exhausted.
func (c *Captioner) run(ctx context.Context, samples <-chan []int16) {
	defer c.wg.Done()
	defer close(c.lines)

	backoff := c.cfg.Backoff
	restarts := 0
	for {
		err := c.session(ctx, samples)
		if err == nil || ctx.Err() != nil {
			return
		}

		class := Classify(err)
		c.log.Printf("caption session failed (%s): %v", class, err)
		if class == ClassTerminal {
			return
		}
		restarts++
		if restarts > c.cfg.MaxRestarts {
			c.log.Printf("caption restarts exhausted after %d attempts", restarts-1)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// transcriptMessage is the slice of Deepgram's response we consume.
type transcriptMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session runs one websocket connection: audio out, transcripts in.
// Returns nil only on clean context cancellation.
func (c *Captioner) session(ctx context.Context, samples <-chan []int16) error {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return terminalErr(fmt.Errorf("bad endpoint: %w", err))
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("language", c.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", c.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	u.RawQuery = q.Encode()

	header := http.Header{"Authorization": {"Token " + c.cfg.APIKey}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return terminalErr(fmt.Errorf("dial rejected: %s", resp.Status))
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	writeErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopping"))
				writeErr <- nil
				// Unblock the read loop; a cancelled session must not
				// hang on a server that never closes.
				conn.Close()
				return
			case <-done:
				return
			case block, ok := <-samples:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "source ended"))
					writeErr <- nil
					conn.Close()
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, pcmBytes(block)); err != nil {
					writeErr <- fmt.Errorf("write audio: %w", err)
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case werr := <-writeErr:
				if werr == nil {
					// Writer closed the session cleanly: context
					// cancellation or the source track ending.
					return nil
				}
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg transcriptMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Printf("unparseable caption message: %v", err)
			continue
		}
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		line := msg.Channel.Alternatives[0].Transcript
		if line == "" {
			continue
		}
		if c.dedup.IsSimilar(line, dedupThreshold) {
			continue
		}
		c.dedup.Add(line)
		select {
		case c.lines <- line:
		case <-ctx.Done():
			return nil
		}
	}
}

// terminalError wraps an error that must not trigger a restart.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func terminalErr(err error) error {
	return &terminalError{err: err}
}

// Classify decides whether a session failure is worth a restart.
// Authorization rejections and malformed configuration are terminal;
// transport drops and timeouts are retryable.
func Classify(err error) ErrorClass {
	var te *terminalError
	if errors.As(err, &te) {
		return ClassTerminal
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData:
			return ClassTerminal
		default:
			return ClassRetryable
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	// Unknown transport failures default to retryable; the restart
	// budget bounds the damage.
	return ClassRetryable
}

// pcmBytes converts int16 samples to little-endian bytes, the wire
// format the recognizer expects.
func pcmBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
