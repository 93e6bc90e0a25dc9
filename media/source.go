package media

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Typed acquisition failures. Callers branch with errors.Is; raw
// platform errors never cross this package boundary unwrapped.
var (
	// ErrPermissionDenied means the user declined hardware access.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrDeviceNotFound means no matching capture device exists.
	ErrDeviceNotFound = errors.New("media: device not found")

	// ErrDeviceBusy means the device is held by another consumer.
	ErrDeviceBusy = errors.New("media: device busy")

	// ErrUserCancelled means the user dismissed the capture picker.
	// Not an error condition for callers; treat as a silent return.
	ErrUserCancelled = errors.New("media: user cancelled")

	// ErrStreamInterrupted means an input stream was terminated
	// externally while in use (e.g. screen share revoked).
	ErrStreamInterrupted = errors.New("media: stream interrupted")
)

// Facing selects which camera to open.
type Facing int

const (
	// FacingUser is the user-facing (front) camera.
	FacingUser Facing = iota
	// FacingEnvironment is the environment-facing (rear) camera.
	FacingEnvironment
)

func (f Facing) String() string {
	if f == FacingEnvironment {
		return "environment"
	}
	return "user"
}

// MicConstraints are hints for microphone acquisition. Backends apply
// what the device supports and ignore the rest.
type MicConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// CameraConstraints request a camera capture geometry.
type CameraConstraints struct {
	Width  int
	Height int
	FPS    int
	// Device overrides the backend's default device selection.
	Device string
}

// ScreenConstraints request a display capture geometry.
type ScreenConstraints struct {
	Width  int
	Height int
	FPS    int
	// CaptureAudio asks for the display's system audio as well.
	CaptureAudio bool
	// Display overrides the backend's default display selection.
	Display string
}

// Backend opens raw capture streams from the host platform. It exists
// as an interface so tests can substitute synthetic sources for real
// hardware.
type Backend interface {
	OpenMicrophone(ctx context.Context, c MicConstraints) (*Stream, error)
	OpenCamera(ctx context.Context, facing Facing, c CameraConstraints) (*Stream, error)
	OpenScreen(ctx context.Context, c ScreenConstraints) (*Stream, error)
}

// Acquirer requests capture streams from a backend and tracks camera
// ownership so a facing-mode switch fully releases the previous device
// before opening the next one.
type Acquirer struct {
	backend Backend
	log     *log.Logger

	mu           sync.Mutex
	camera       *Stream
	cameraFacing Facing
}

// NewAcquirer wraps a backend. The logger must not be nil.
func NewAcquirer(backend Backend, logger *log.Logger) *Acquirer {
	return &Acquirer{backend: backend, log: logger}
}

// AcquireMicrophone opens a microphone stream with the given hints.
func (a *Acquirer) AcquireMicrophone(ctx context.Context, c MicConstraints) (*Stream, error) {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	s, err := a.backend.OpenMicrophone(ctx, c)
	if err != nil {
		a.log.Printf("microphone acquisition failed: %v", err)
		return nil, err
	}
	return s, nil
}

// AcquireCamera opens a camera stream for the requested facing mode.
// If a camera stream acquired through this Acquirer is still live with
// a different facing mode, it is fully released before the new device
// is opened; the two devices are never held simultaneously.
func (a *Acquirer) AcquireCamera(ctx context.Context, facing Facing, c CameraConstraints) (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.camera != nil && a.camera.Live() {
		if a.cameraFacing == facing {
			return nil, ErrDeviceBusy
		}
		a.log.Printf("switching camera facing %s -> %s", a.cameraFacing, facing)
		a.camera.Stop()
		a.camera = nil
	}

	s, err := a.backend.OpenCamera(ctx, facing, c)
	if err != nil {
		a.log.Printf("camera acquisition failed (facing=%s): %v", facing, err)
		return nil, err
	}
	a.camera = s
	a.cameraFacing = facing
	return s, nil
}

// AcquireScreen opens a display capture stream, optionally with system
// audio. Callers should register an OnEnded listener on the video
// track: the user can revoke sharing at any time and that termination
// must surface as a signal, not a silent hang.
func (a *Acquirer) AcquireScreen(ctx context.Context, c ScreenConstraints) (*Stream, error) {
	s, err := a.backend.OpenScreen(ctx, c)
	if err != nil {
		if errors.Is(err, ErrUserCancelled) {
			a.log.Printf("screen share cancelled by user")
		} else {
			a.log.Printf("screen acquisition failed: %v", err)
		}
		return nil, err
	}
	if v := s.FirstVideo(); v != nil {
		v.OnEnded(func() {
			a.log.Printf("screen stream %s ended externally", s.ID())
		})
	}
	return s, nil
}

// Release stops every track on the stream. Safe to call on a stream
// that was already released.
func (a *Acquirer) Release(s *Stream) {
	if s == nil {
		return
	}
	a.mu.Lock()
	if a.camera == s {
		a.camera = nil
	}
	a.mu.Unlock()
	s.Stop()
}
