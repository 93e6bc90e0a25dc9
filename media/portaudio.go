package media

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// DeviceBackend captures from real hardware: PortAudio for the
// microphone, ffmpeg for camera and display grabs.
type DeviceBackend struct {
	log *log.Logger
}

// NewDeviceBackend creates a backend over the host's capture devices.
func NewDeviceBackend(logger *log.Logger) *DeviceBackend {
	return &DeviceBackend{log: logger}
}

// OpenMicrophone opens the default input device and pumps 16-bit PCM
// blocks onto a fresh audio track until the track is stopped.
func (b *DeviceBackend) OpenMicrophone(ctx context.Context, c MicConstraints) (*Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio.Initialize: %w", err)
	}

	buffer := make([]int16, framesPerBuffer*c.Channels)
	paStream, err := portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, classifyPortAudioErr(err)
	}
	if err := paStream.Start(); err != nil {
		paStream.Close()
		portaudio.Terminate()
		return nil, classifyPortAudioErr(err)
	}

	track := NewAudioTrack(c.SampleRate, c.Channels)
	stream := NewStream([]*AudioTrack{track}, nil)

	done := make(chan struct{})
	track.OnEnded(func() { close(done) })

	go func() {
		defer func() {
			if err := paStream.Stop(); err != nil {
				b.log.Printf("portaudio stop: %v", err)
			}
			paStream.Close()
			portaudio.Terminate()
		}()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				track.Stop()
				return
			default:
			}
			if err := paStream.Read(); err != nil {
				b.log.Printf("portaudio read: %v", err)
				track.Stop()
				return
			}
			track.Push(buffer)
		}
	}()

	return stream, nil
}

// classifyPortAudioErr maps PortAudio failures onto the package's
// typed acquisition errors so callers never string-match downstream.
func classifyPortAudioErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no default input"), strings.Contains(msg, "invalid device"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case strings.Contains(msg, "device unavailable"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	default:
		return fmt.Errorf("open input stream: %w", err)
	}
}
