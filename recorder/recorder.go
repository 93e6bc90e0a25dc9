// Package recorder turns a composed audio/video stream into a finished
// encoded blob, enforcing a maximum-duration policy.
package recorder

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/goldenfocus/vibelog-capture/media"
)

// ErrRecordingUnsupported means no encoder in the preference order can
// handle the stream on this platform. Fatal for the session; there is
// no retry path.
var ErrRecordingUnsupported = errors.New("recorder: no supported encoding available")

// StopReason distinguishes why a recording ended, so the caller can
// explain an automatic stop to the user.
type StopReason int

const (
	// ReasonUser is a user- or programmatically-initiated stop.
	ReasonUser StopReason = iota
	// ReasonDurationLimit is the automatic stop at MaxDuration.
	ReasonDurationLimit
)

func (r StopReason) String() string {
	if r == ReasonDurationLimit {
		return "duration limit reached"
	}
	return "user stop"
}

// Options configure one recording run.
type Options struct {
	// MaxDuration stops the recording automatically when reached.
	// Zero means unlimited.
	MaxDuration time.Duration
	// ChunkInterval is the cadence at which encoder sessions flush
	// accumulated data into chunks. Default 100ms.
	ChunkInterval time.Duration
}

// Result is a finished recording.
type Result struct {
	Blob     []byte
	MimeType string
	// Duration is computed from wall-clock elapsed time, not chunk
	// count, which can be inaccurate.
	Duration time.Duration
	Reason   StopReason
}

// Recorder wraps an encoder session around a stream. One recorder runs
// at most one session at a time.
type Recorder struct {
	log      *log.Logger
	encoders []Encoder

	mu        sync.Mutex
	session   Session
	mimeType  string
	startedAt time.Time
	elapsed   int
	maxSecs   int
	recording bool
	stopped   bool
	result    *Result
	resultErr error
	// finished closes once the result (or abort error) is stored, so a
	// Stop racing an in-flight finalization waits for the real result
	// instead of reading an empty one.
	finished chan struct{}
	tickStop chan struct{}
	done     chan Result
	wg       sync.WaitGroup
}

// New creates a recorder with the given encoder preference order. With
// no encoders supplied the default order is used: ffmpeg-muxed video
// first, then WAV audio.
func New(logger *log.Logger, encoders ...Encoder) *Recorder {
	if len(encoders) == 0 {
		encoders = []Encoder{NewFFmpegEncoder(logger), NewWAVEncoder()}
	}
	return &Recorder{log: logger, encoders: encoders}
}

// Start begins chunked recording of the stream using the first encoder
// in the preference order that supports it. Fails fast with
// ErrRecordingUnsupported when none does: an empty blob produced
// silently would be worse than an explicit error.
func (r *Recorder) Start(stream *media.Stream, opts Options) error {
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = 100 * time.Millisecond
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return errors.New("recorder: already recording")
	}
	if r.stopped {
		return errors.New("recorder: recorder is finished; create a new one")
	}

	var session Session
	var mimeType string
	for _, enc := range r.encoders {
		if !enc.Supports(stream) {
			continue
		}
		s, err := enc.NewSession(stream, opts.ChunkInterval)
		if err != nil {
			r.log.Printf("encoder %s failed to start: %v", enc.Name(), err)
			continue
		}
		session = s
		mimeType = enc.MimeType()
		r.log.Printf("recording with encoder %s (%s)", enc.Name(), mimeType)
		break
	}
	if session == nil {
		return ErrRecordingUnsupported
	}

	r.session = session
	r.mimeType = mimeType
	r.startedAt = time.Now()
	r.elapsed = 0
	r.maxSecs = int(opts.MaxDuration / time.Second)
	r.recording = true
	r.finished = make(chan struct{})
	r.tickStop = make(chan struct{})
	r.done = make(chan Result, 1)

	r.wg.Add(1)
	go r.tickLoop(r.tickStop)
	return nil
}

func (r *Recorder) tickLoop(stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.onTick(1)
		}
	}
}

// onTick advances the elapsed counter by delta seconds and applies the
// duration-limit policy. The check runs on the same tick that
// increments elapsed, so the counter and the auto-stop can never race;
// an overshooting tick clamps to the limit rather than exceeding it.
func (r *Recorder) onTick(delta int) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.elapsed += delta
	limitHit := r.maxSecs > 0 && r.elapsed >= r.maxSecs
	if limitHit {
		r.elapsed = r.maxSecs
	}
	r.mu.Unlock()

	if limitHit {
		res, err := r.finish(ReasonDurationLimit, false)
		if err != nil {
			r.log.Printf("auto-stop finalize failed: %v", err)
			return
		}
		select {
		case r.done <- res:
		default:
		}
	}
}

// Elapsed returns whole seconds recorded so far; it never exceeds the
// configured limit.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Recording reports whether a session is currently active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Done delivers the result of an automatic duration-limit stop.
func (r *Recorder) Done() <-chan Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stop finalizes the recording and returns the finished blob. Calling
// Stop after the recording already ended (by user or by the duration
// limit) returns the original result; the second stop is a no-op.
func (r *Recorder) Stop() (Result, error) {
	return r.finish(ReasonUser, true)
}

// finish finalizes the session. joinTick is false when called from the
// tick goroutine itself, which must not wait for its own exit; closing
// tickStop is enough to stop it, and recording=false gates any tick
// already in flight.
func (r *Recorder) finish(reason StopReason, joinTick bool) (Result, error) {
	r.mu.Lock()
	if r.stopped {
		finished := r.finished
		r.mu.Unlock()
		<-finished
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.result != nil {
			return *r.result, r.resultErr
		}
		return Result{}, r.resultErr
	}
	if !r.recording {
		r.mu.Unlock()
		return Result{}, errors.New("recorder: not recording")
	}
	r.recording = false
	r.stopped = true
	wall := time.Since(r.startedAt)
	if reason == ReasonDurationLimit {
		wall = time.Duration(r.maxSecs) * time.Second
	}
	session := r.session
	mimeType := r.mimeType
	close(r.tickStop)
	r.mu.Unlock()

	if joinTick {
		r.wg.Wait()
	}

	blob, err := session.Finalize()
	res := Result{
		Blob:     blob,
		MimeType: mimeType,
		Duration: wall,
		Reason:   reason,
	}

	r.mu.Lock()
	r.result = &res
	r.resultErr = err
	close(r.finished)
	r.mu.Unlock()
	return res, err
}

// Abort discards an in-progress recording without producing a blob.
// Safe to call in any state.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	r.stopped = true
	session := r.session
	close(r.tickStop)
	r.mu.Unlock()

	r.wg.Wait()
	session.Abort()

	r.mu.Lock()
	r.resultErr = errors.New("recorder: recording aborted")
	close(r.finished)
	r.mu.Unlock()
}
