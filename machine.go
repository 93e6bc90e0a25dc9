// Package capture is a media capture and composition engine for voice
// and video posts: it acquires device streams, runs the live audio
// visualizer, mixes and composites sources into a recordable stream,
// records it, and drives the post-processing pipeline that turns the
// recording into publishable content.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goldenfocus/vibelog-capture/analyzer"
	"github.com/goldenfocus/vibelog-capture/compositor"
	"github.com/goldenfocus/vibelog-capture/media"
	"github.com/goldenfocus/vibelog-capture/mixer"
	"github.com/goldenfocus/vibelog-capture/providers"
	"github.com/goldenfocus/vibelog-capture/recorder"
)

// State is the machine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Mode selects what gets captured.
type Mode int

const (
	// ModeAudio records the microphone only.
	ModeAudio Mode = iota
	// ModeVideo records a screen share (with optional camera overlay)
	// mixed with the microphone.
	ModeVideo
)

func (m Mode) String() string {
	if m == ModeVideo {
		return "video"
	}
	return "audio"
}

// EventKind tags entries on the Events channel.
type EventKind int

const (
	// EventState reports a lifecycle transition.
	EventState EventKind = iota
	// EventStage reports a processing stage beginning.
	EventStage
	// EventLevels carries a live visualization frame.
	EventLevels
)

// Event is one entry on the machine's subscription channel.
type Event struct {
	Kind   EventKind
	State  State
	Stage  StageID
	Levels analyzer.LevelFrame
}

// Session accumulates everything produced by one recording run. Read
// it through Machine.Session, which returns a copy.
type Session struct {
	ID   string
	Mode Mode

	// LimitReached marks a recording stopped by the duration limit
	// rather than the user.
	LimitReached bool
	// Interrupted marks a recording stopped because an input stream
	// ended externally, e.g. the user ended the screen share from the
	// OS picker.
	Interrupted bool

	// Elapsed is the recorded time in whole seconds, never above the
	// configured limit.
	Elapsed int

	Blob     []byte
	MimeType string
	Duration time.Duration

	Transcription string
	Content       providers.GeneratedContent
	Cover         *providers.CoverImage
	Voiceover     []byte
	UploadURL     string

	// Stages lists every processing stage entered, in order.
	Stages []StageID

	// Gate carries quota/upgrade messaging when any downstream call
	// was rejected for entitlement reasons.
	Gate *providers.QuotaError
	// Err is the failure that moved the session to the error state.
	Err error
}

// BlobUploader publishes a finished video blob.
type BlobUploader interface {
	Upload(ctx context.Context, contentID string, blob []byte, mimeType string, progress func(pct int)) (string, error)
}

// SpeechCache caches synthesized narration blobs.
type SpeechCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, blob []byte)
}

// Config wires a Machine. Transcriber and Generator are required; the
// rest of the AI boundary is optional and simply skipped when absent.
type Config struct {
	Mode Mode

	// MaxDuration auto-stops the recording. Default 5 minutes.
	MaxDuration time.Duration
	// StageDwell paces cosmetic pipeline stages. Default 700ms.
	StageDwell time.Duration

	Acquirer    *media.Acquirer
	Transcriber providers.Transcriber
	Generator   providers.ContentGenerator
	Cover       providers.CoverArtist
	Voice       providers.SpeechSynthesizer
	// VoiceName selects the synthesizer voice for the narration stage.
	VoiceName string
	// VoiceSample is a recording of the author's voice for
	// cloning-capable synthesizers. When empty, the narration stage
	// falls back to the session's own recording — the author speaking
	// is exactly the sample a cloner needs.
	VoiceSample []byte
	Uploads     BlobUploader
	TTSCache    SpeechCache

	// Encoders overrides the recorder's encoder preference order.
	// Empty means the recorder's defaults.
	Encoders []recorder.Encoder

	// Video composition settings, used in ModeVideo.
	Width       int
	Height      int
	PipPosition compositor.Position

	Logger *log.Logger
}

type stopCause int

const (
	causeUser stopCause = iota
	causeLimit
	causeInterrupt
)

// Machine is the recording lifecycle orchestrator.
type Machine struct {
	cfg Config
	log *log.Logger

	events chan Event

	mu      sync.Mutex
	state   State
	session *Session
	// gen invalidates in-flight work across Reset: results carrying a
	// stale generation are discarded.
	gen uint64

	mic    *media.Stream
	camera *media.Stream
	screen *media.Stream
	an     *analyzer.Analyzer
	mix    *mixer.Mixer
	comp   *compositor.Compositor
	rec    *recorder.Recorder

	elapsed       int
	tickStop      chan struct{}
	tickWG        sync.WaitGroup
	processCancel context.CancelFunc
}

// New creates a Machine. Transcriber and Generator are mandatory.
func New(cfg Config) (*Machine, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("capture: Transcriber is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("capture: Generator is required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 5 * time.Minute
	}
	if cfg.StageDwell <= 0 {
		cfg.StageDwell = 700 * time.Millisecond
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	}
	return &Machine{
		cfg:    cfg,
		log:    cfg.Logger,
		events: make(chan Event, 64),
		state:  StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session, or nil before the
// first recording.
func (m *Machine) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	copied := *m.session
	copied.Stages = append([]StageID(nil), m.session.Stages...)
	return &copied
}

// Events is the machine's subscription channel. Slow consumers lose
// events rather than stall the machine.
func (m *Machine) Events() <-chan Event {
	return m.events
}

func (m *Machine) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// Start acquires streams and begins recording. On any acquisition
// failure the state stays idle and everything acquired so far is
// released; recording never starts on a stream failure.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return fmt.Errorf("capture: cannot start from %s", m.state)
	}
	if m.cfg.Acquirer == nil {
		return errors.New("capture: Acquirer is required to record")
	}

	mic, err := m.cfg.Acquirer.AcquireMicrophone(ctx, media.MicConstraints{})
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}

	var screen, camera *media.Stream
	if m.cfg.Mode == ModeVideo {
		screen, err = m.cfg.Acquirer.AcquireScreen(ctx, media.ScreenConstraints{
			Width:  m.cfg.Width,
			Height: m.cfg.Height,
		})
		if err != nil {
			m.cfg.Acquirer.Release(mic)
			if errors.Is(err, media.ErrUserCancelled) {
				m.log.Printf("screen share cancelled, staying idle")
			}
			return fmt.Errorf("screen: %w", err)
		}
		// The camera overlay is a nicety; a missing or busy camera
		// does not block a screen recording.
		camera, err = m.cfg.Acquirer.AcquireCamera(ctx, media.FacingUser, media.CameraConstraints{})
		if err != nil {
			m.log.Printf("continuing without camera overlay: %v", err)
			camera = nil
		}
	}

	an := analyzer.New(m.log)
	an.Attach(mic.FirstAudio())

	var secondaryAudio *media.AudioTrack
	if screen != nil {
		secondaryAudio = screen.FirstAudio()
	}
	mix := mixer.New(mixer.Options{AutoDuck: true}, m.log)
	mixed := mix.Mix(mic.FirstAudio(), secondaryAudio)

	recordStream := mixed
	var comp *compositor.Compositor
	if m.cfg.Mode == ModeVideo {
		var pip *media.VideoTrack
		if camera != nil {
			pip = camera.FirstVideo()
		}
		comp, err = compositor.New(compositor.Options{
			Primary:     screen.FirstVideo(),
			Secondary:   pip,
			Width:       m.cfg.Width,
			Height:      m.cfg.Height,
			PipPosition: m.cfg.PipPosition,
		}, m.log)
		if err == nil {
			var composited *media.Stream
			composited, err = comp.Start()
			if err == nil {
				recordStream = media.NewStream(
					[]*media.AudioTrack{mixed.FirstAudio()},
					[]*media.VideoTrack{composited.FirstVideo()},
				)
			}
		}
		if err != nil {
			an.Detach()
			mix.Cleanup()
			m.cfg.Acquirer.Release(camera)
			m.cfg.Acquirer.Release(screen)
			m.cfg.Acquirer.Release(mic)
			return fmt.Errorf("compositor: %w", err)
		}
	}

	rec := recorder.New(m.log, m.cfg.Encoders...)
	// The machine owns the elapsed-time policy, so the recorder runs
	// without its own limit.
	if err := rec.Start(recordStream, recorder.Options{}); err != nil {
		if comp != nil {
			comp.Stop()
		}
		an.Detach()
		mix.Cleanup()
		m.cfg.Acquirer.Release(camera)
		m.cfg.Acquirer.Release(screen)
		m.cfg.Acquirer.Release(mic)
		return fmt.Errorf("recorder: %w", err)
	}

	m.mic = mic
	m.camera = camera
	m.screen = screen
	m.an = an
	m.mix = mix
	m.comp = comp
	m.rec = rec
	m.elapsed = 0
	m.session = &Session{
		ID:   uuid.NewString(),
		Mode: m.cfg.Mode,
	}
	m.state = StateRecording
	m.tickStop = make(chan struct{})
	m.tickWG.Add(1)
	go m.tickLoop(m.tickStop)

	sessionID := m.session.ID

	// OnEnded runs its handler inline when the track has already
	// ended, and the handler locks the machine, so registration must
	// happen outside the lock.
	m.mu.Unlock()
	if screen != nil {
		if v := screen.FirstVideo(); v != nil {
			v.OnEnded(func() {
				m.stopRecording(causeInterrupt)
			})
		}
	}
	m.log.Printf("recording started: session=%s mode=%s", sessionID, m.cfg.Mode)
	m.emit(Event{Kind: EventState, State: StateRecording})
	m.mu.Lock()
	return nil
}

func (m *Machine) tickLoop(stop chan struct{}) {
	defer m.tickWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.onTick(1)
		}
	}
}

// onTick advances elapsed time by delta seconds and enforces the
// duration limit. The limit check happens on the same tick that
// increments elapsed, so the auto-stop cannot race the timer; elapsed
// is clamped first so an overshooting tick still freezes at the limit.
func (m *Machine) onTick(delta int) {
	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}
	m.elapsed += delta
	maxSecs := int(m.cfg.MaxDuration / time.Second)
	limit := false
	if maxSecs > 0 && m.elapsed >= maxSecs {
		m.elapsed = maxSecs
		limit = true
	}
	levels := m.an.CurrentLevels()
	m.mu.Unlock()

	m.emit(Event{Kind: EventLevels, Levels: levels})
	if limit {
		m.stopRecording(causeLimit)
	}
}

// Microphone returns the live microphone track while recording, or
// nil. Callers may tap it (e.g. for live captions) but never stop it.
func (m *Machine) Microphone() *media.AudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mic == nil {
		return nil
	}
	return m.mic.FirstAudio()
}

// Elapsed returns recorded seconds so far.
func (m *Machine) Elapsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Stop ends the recording and begins processing. No-op outside the
// recording state.
func (m *Machine) Stop() {
	m.stopRecording(causeUser)
}

// stopRecording is the single recording→processing transition. It is
// idempotent: the limit tick, a user stop, and a stream interruption
// can all race here and only the first proceeds. Teardown happens
// outside the lock because track OnEnded handlers can call back into
// the machine inline.
func (m *Machine) stopRecording(cause stopCause) {
	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}
	m.state = StateProcessing
	gen := m.gen
	sess := m.session
	sess.Elapsed = m.elapsed
	switch cause {
	case causeLimit:
		sess.LimitReached = true
	case causeInterrupt:
		sess.Interrupted = true
	}
	tickStop := m.tickStop
	m.tickStop = nil
	rec, an, mix, comp := m.rec, m.an, m.mix, m.comp
	mic, camera, screen := m.mic, m.camera, m.screen
	m.rec, m.an, m.mix, m.comp = nil, nil, nil, nil
	m.mic, m.camera, m.screen = nil, nil, nil
	m.mu.Unlock()

	if tickStop != nil {
		close(tickStop)
	}
	m.log.Printf("recording stopped (%s): session=%s elapsed=%ds", causeName(cause), sess.ID, sess.Elapsed)

	result, err := rec.Stop()
	an.Detach()
	mix.Cleanup()
	if comp != nil {
		comp.Stop()
	}
	m.cfg.Acquirer.Release(camera)
	m.cfg.Acquirer.Release(screen)
	m.cfg.Acquirer.Release(mic)

	m.mu.Lock()
	if m.gen != gen {
		// Reset won while we were tearing down; the result is stale.
		m.mu.Unlock()
		return
	}
	if err != nil {
		sess.Err = fmt.Errorf("finalize recording: %w", err)
		m.state = StateError
		m.mu.Unlock()
		m.emit(Event{Kind: EventState, State: StateError})
		return
	}
	sess.Blob = result.Blob
	sess.MimeType = result.MimeType
	sess.Duration = result.Duration
	ctx, cancel := context.WithCancel(context.Background())
	m.processCancel = cancel
	m.mu.Unlock()

	m.emit(Event{Kind: EventState, State: StateProcessing})
	go m.process(ctx, gen, sess)
}

func causeName(c stopCause) string {
	switch c {
	case causeLimit:
		return "duration limit"
	case causeInterrupt:
		return "stream interrupted"
	default:
		return "user"
	}
}

// Reset returns the machine to idle from any state. All timers,
// loops, streams, and audio graphs are torn down synchronously before
// Reset returns; in-flight AI calls are abandoned and their eventual
// resolutions discarded.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.gen++
	cancel := m.processCancel
	m.processCancel = nil
	tickStop := m.tickStop
	m.tickStop = nil
	rec, an, mix, comp := m.rec, m.an, m.mix, m.comp
	mic, camera, screen := m.mic, m.camera, m.screen
	m.rec, m.an, m.mix, m.comp = nil, nil, nil, nil
	m.mic, m.camera, m.screen = nil, nil, nil
	m.session = nil
	m.elapsed = 0
	m.state = StateIdle
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tickStop != nil {
		close(tickStop)
		m.tickWG.Wait()
	}
	if rec != nil {
		rec.Abort()
	}
	if an != nil {
		an.Detach()
	}
	if mix != nil {
		mix.Cleanup()
	}
	if comp != nil {
		comp.Stop()
	}
	if m.cfg.Acquirer != nil {
		m.cfg.Acquirer.Release(camera)
		m.cfg.Acquirer.Release(screen)
		m.cfg.Acquirer.Release(mic)
	}

	m.emit(Event{Kind: EventState, State: StateIdle})
}
