package media

import (
	"image"
	"sync"

	"github.com/google/uuid"
)

// Stream is an ownership handle over one or more live media tracks.
// Multiple components may read a stream's tracks through taps, but only
// the component that acquired the stream is responsible for stopping it.
type Stream struct {
	id    string
	audio []*AudioTrack
	video []*VideoTrack
}

// NewStream builds a stream over the given tracks. Nil tracks are skipped.
func NewStream(audio []*AudioTrack, video []*VideoTrack) *Stream {
	s := &Stream{id: uuid.NewString()}
	for _, t := range audio {
		if t != nil {
			s.audio = append(s.audio, t)
		}
	}
	for _, t := range video {
		if t != nil {
			s.video = append(s.video, t)
		}
	}
	return s
}

// ID returns the stream's unique identifier.
func (s *Stream) ID() string {
	return s.id
}

// AudioTracks returns the stream's audio tracks.
func (s *Stream) AudioTracks() []*AudioTrack {
	return s.audio
}

// VideoTracks returns the stream's video tracks.
func (s *Stream) VideoTracks() []*VideoTrack {
	return s.video
}

// FirstAudio returns the first audio track, or nil if the stream has none.
func (s *Stream) FirstAudio() *AudioTrack {
	if len(s.audio) == 0 {
		return nil
	}
	return s.audio[0]
}

// FirstVideo returns the first video track, or nil if the stream has none.
func (s *Stream) FirstVideo() *VideoTrack {
	if len(s.video) == 0 {
		return nil
	}
	return s.video[0]
}

// Stop stops every track on the stream. Safe to call multiple times;
// stopping an already-stopped track is a no-op.
func (s *Stream) Stop() {
	for _, t := range s.audio {
		t.Stop()
	}
	for _, t := range s.video {
		t.Stop()
	}
}

// Live reports whether any track on the stream is still live.
func (s *Stream) Live() bool {
	for _, t := range s.audio {
		if t.Live() {
			return true
		}
	}
	for _, t := range s.video {
		if t.Live() {
			return true
		}
	}
	return false
}

// AudioTrack carries blocks of interleaved 16-bit PCM samples from a
// producer to any number of tap consumers. The producer pushes, taps
// receive. A slow tap drops blocks rather than stalling the producer.
type AudioTrack struct {
	sampleRate int
	channels   int

	mu       sync.Mutex
	taps     map[int]chan []int16
	nextTap  int
	ended    bool
	endedFns []func()
}

// NewAudioTrack creates a live audio track with the given format.
func NewAudioTrack(sampleRate, channels int) *AudioTrack {
	if channels <= 0 {
		channels = 1
	}
	return &AudioTrack{
		sampleRate: sampleRate,
		channels:   channels,
		taps:       make(map[int]chan []int16),
	}
}

// SampleRate returns the track's sample rate in Hz.
func (t *AudioTrack) SampleRate() int {
	return t.sampleRate
}

// Channels returns the number of interleaved channels.
func (t *AudioTrack) Channels() int {
	return t.channels
}

// Push fans a block of samples out to every tap. Each tap receives its
// own copy so consumers can't race on the producer's buffer. Pushing to
// an ended track is a no-op.
func (t *AudioTrack) Push(samples []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	for _, ch := range t.taps {
		block := make([]int16, len(samples))
		copy(block, samples)
		select {
		case ch <- block:
		default:
			// Tap is not keeping up; drop rather than block the source.
		}
	}
}

// Tap registers a new consumer channel with the given buffer depth and
// returns its id together with the receive side. The channel is closed
// when the track ends or the tap is removed.
func (t *AudioTrack) Tap(buffer int) (int, <-chan []int16) {
	if buffer <= 0 {
		buffer = 16
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextTap
	t.nextTap++
	ch := make(chan []int16, buffer)
	if t.ended {
		close(ch)
		return id, ch
	}
	t.taps[id] = ch
	return id, ch
}

// Untap removes a previously registered tap and closes its channel.
func (t *AudioTrack) Untap(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.taps[id]; ok {
		delete(t.taps, id)
		close(ch)
	}
}

// Taps reports how many consumers are currently tapped in.
func (t *AudioTrack) Taps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.taps)
}

// Stop ends the track: all taps are closed and ended listeners fire.
// Idempotent.
func (t *AudioTrack) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	for id, ch := range t.taps {
		delete(t.taps, id)
		close(ch)
	}
	fns := t.endedFns
	t.endedFns = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Live reports whether the track has not yet ended.
func (t *AudioTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ended
}

// OnEnded registers fn to run once when the track ends. If the track
// has already ended, fn runs immediately.
func (t *AudioTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.endedFns = append(t.endedFns, fn)
	t.mu.Unlock()
}

// VideoTrack holds the most recent frame pushed by a producer. Frame
// consumers poll Latest at their own cadence; there is no per-frame
// delivery guarantee, which matches how a renderer samples a live feed.
type VideoTrack struct {
	width  int
	height int
	fps    int

	mu       sync.Mutex
	latest   *image.RGBA
	frames   uint64
	ended    bool
	endedFns []func()
}

// NewVideoTrack creates a live video track with the given nominal geometry.
func NewVideoTrack(width, height, fps int) *VideoTrack {
	return &VideoTrack{width: width, height: height, fps: fps}
}

// Width returns the track's nominal frame width.
func (t *VideoTrack) Width() int { return t.width }

// Height returns the track's nominal frame height.
func (t *VideoTrack) Height() int { return t.height }

// FPS returns the track's nominal frame rate.
func (t *VideoTrack) FPS() int { return t.fps }

// Push publishes a new frame. Pushing to an ended track is a no-op.
func (t *VideoTrack) Push(frame *image.RGBA) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended || frame == nil {
		return
	}
	t.latest = frame
	t.frames++
}

// Latest returns the most recently pushed frame, or nil if the track
// has not produced any frames yet.
func (t *VideoTrack) Latest() *image.RGBA {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// FrameCount returns how many frames have been pushed so far.
func (t *VideoTrack) FrameCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Stop ends the track and fires ended listeners. Idempotent.
func (t *VideoTrack) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.latest = nil
	fns := t.endedFns
	t.endedFns = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Live reports whether the track has not yet ended.
func (t *VideoTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ended
}

// OnEnded registers fn to run once when the track ends. If the track
// has already ended, fn runs immediately.
func (t *VideoTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.endedFns = append(t.endedFns, fn)
	t.mu.Unlock()
}
