package recorder

import (
	"bytes"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/goldenfocus/vibelog-capture/media"
)

// Encoder produces sessions for a specific output format. Encoders are
// tried in preference order; Supports gates on stream shape and
// platform capability.
type Encoder interface {
	Name() string
	MimeType() string
	Supports(stream *media.Stream) bool
	NewSession(stream *media.Stream, chunkInterval time.Duration) (Session, error)
}

// Session consumes a stream's tracks for the duration of one recording.
type Session interface {
	// Finalize stops consumption and returns the encoded blob.
	Finalize() ([]byte, error)
	// Abort stops consumption and discards everything.
	Abort()
}

// WAVEncoder encodes the stream's first audio track as 16-bit PCM WAV.
// Pure Go, so it is always available as the last-resort format.
type WAVEncoder struct{}

// NewWAVEncoder returns the WAV encoder.
func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{}
}

func (e *WAVEncoder) Name() string     { return "wav" }
func (e *WAVEncoder) MimeType() string { return "audio/wav" }

// Supports requires at least one live audio track.
func (e *WAVEncoder) Supports(stream *media.Stream) bool {
	track := stream.FirstAudio()
	return track != nil && track.Live()
}

// NewSession taps the audio track and accumulates PCM chunks until
// finalized.
func (e *WAVEncoder) NewSession(stream *media.Stream, chunkInterval time.Duration) (Session, error) {
	track := stream.FirstAudio()
	s := &wavSession{
		track:      track,
		sampleRate: track.SampleRate(),
		channels:   track.Channels(),
		stop:       make(chan struct{}),
	}
	tapID, ch := track.Tap(int(chunkInterval/time.Millisecond) + 16)
	s.tapID = tapID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case block, ok := <-ch:
				if !ok {
					return
				}
				s.mu.Lock()
				s.chunks = append(s.chunks, block)
				s.mu.Unlock()
			}
		}
	}()
	return s, nil
}

type wavSession struct {
	track      *media.AudioTrack
	tapID      int
	sampleRate int
	channels   int

	mu     sync.Mutex
	chunks [][]int16
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *wavSession) halt() {
	s.once.Do(func() {
		close(s.stop)
		s.track.Untap(s.tapID)
	})
	s.wg.Wait()
}

// Finalize concatenates the accumulated chunks into one WAV blob.
func (s *wavSession) Finalize() ([]byte, error) {
	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	frames := total / s.channels

	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), uint16(s.channels), uint32(s.sampleRate), 16)

	samples := make([]wav.Sample, 0, frames)
	var pending []int16
	for _, chunk := range s.chunks {
		pending = append(pending, chunk...)
		for len(pending) >= s.channels {
			var sm wav.Sample
			sm.Values[0] = int(pending[0])
			if s.channels > 1 {
				sm.Values[1] = int(pending[1])
			} else {
				sm.Values[1] = int(pending[0])
			}
			samples = append(samples, sm)
			pending = pending[s.channels:]
		}
	}
	if err := w.WriteSamples(samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *wavSession) Abort() {
	s.halt()
	s.mu.Lock()
	s.chunks = nil
	s.mu.Unlock()
}
