package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
)

// Camera and display capture shell out to ffmpeg reading raw RGBA
// frames from its stdout. Only the grab half lives here; encoding is
// the recorder's concern.

// OpenCamera opens a camera device via ffmpeg. Facing selection maps
// to a device index where the platform exposes one.
func (b *DeviceBackend) OpenCamera(ctx context.Context, facing Facing, c CameraConstraints) (*Stream, error) {
	applyCameraDefaults(&c)
	device := c.Device
	if device == "" {
		device = defaultCameraDevice(facing)
	}
	args := cameraGrabArgs(device, c.Width, c.Height, c.FPS)
	track, err := b.startGrab(ctx, args, c.Width, c.Height, c.FPS)
	if err != nil {
		return nil, err
	}
	return NewStream(nil, []*VideoTrack{track}), nil
}

// OpenScreen opens a display grab via ffmpeg. System audio capture is
// not wired through the grabber; a screen stream carries video only
// and the mixer treats the missing audio track as absent.
func (b *DeviceBackend) OpenScreen(ctx context.Context, c ScreenConstraints) (*Stream, error) {
	applyScreenDefaults(&c)
	display := c.Display
	if display == "" {
		display = defaultDisplay()
	}
	args := screenGrabArgs(display, c.Width, c.Height, c.FPS)
	track, err := b.startGrab(ctx, args, c.Width, c.Height, c.FPS)
	if err != nil {
		return nil, err
	}
	return NewStream(nil, []*VideoTrack{track}), nil
}

func applyCameraDefaults(c *CameraConstraints) {
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
}

func applyScreenDefaults(c *ScreenConstraints) {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
}

// startGrab launches ffmpeg and pumps full RGBA frames from its stdout
// onto a fresh video track until the track stops or ffmpeg exits.
func (b *DeviceBackend) startGrab(ctx context.Context, args []string, width, height, fps int) (*VideoTrack, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not installed", ErrDeviceNotFound)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	track := NewVideoTrack(width, height, fps)
	track.OnEnded(func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})

	frameSize := width * height * 4
	go func() {
		defer cmd.Wait()
		defer track.Stop()
		buf := make([]byte, frameSize)
		for {
			if _, err := io.ReadFull(stdout, buf); err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					b.log.Printf("ffmpeg frame read: %v", err)
				}
				return
			}
			frame := image.NewRGBA(image.Rect(0, 0, width, height))
			copy(frame.Pix, buf)
			track.Push(frame)
		}
	}()

	return track, nil
}

func defaultCameraDevice(facing Facing) string {
	switch runtime.GOOS {
	case "darwin":
		return "default"
	default:
		// On Linux a second device typically backs the rear camera.
		if facing == FacingEnvironment {
			return "/dev/video1"
		}
		return "/dev/video0"
	}
}

func defaultDisplay() string {
	if runtime.GOOS == "darwin" {
		return "1"
	}
	return ":0.0"
}

func cameraGrabArgs(device string, w, h, fps int) []string {
	inputFormat := "v4l2"
	if runtime.GOOS == "darwin" {
		inputFormat = "avfoundation"
	}
	return []string{
		"-f", inputFormat,
		"-framerate", fmt.Sprintf("%d", fps),
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-i", device,
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-",
	}
}

func screenGrabArgs(display string, w, h, fps int) []string {
	inputFormat := "x11grab"
	if runtime.GOOS == "darwin" {
		inputFormat = "avfoundation"
	}
	return []string{
		"-f", inputFormat,
		"-framerate", fmt.Sprintf("%d", fps),
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-i", display,
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"-",
	}
}
