package compositor

import (
	"image"
	"image/color"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenfocus/vibelog-capture/media"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.SetRGBA(x, y, c)
		}
	}
	return frame
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func newTestCompositor(t *testing.T, opts Options) *Compositor {
	t.Helper()
	if opts.Width == 0 {
		opts.Width = 160
	}
	if opts.Height == 0 {
		opts.Height = 90
	}
	if opts.FPS == 0 {
		// Slow ticker: tests drive renderFrame directly so the
		// background loop doesn't race the assertions.
		opts.FPS = 1
	}
	c, err := New(opts, testLogger())
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "missing primary", opts: Options{Width: 160, Height: 90}, wantErr: true},
		{name: "missing dimensions", opts: Options{Primary: media.NewVideoTrack(64, 48, 30)}, wantErr: true},
		{name: "pip size too large", opts: Options{Primary: media.NewVideoTrack(64, 48, 30), Width: 160, Height: 90, PipSize: 0.6}, wantErr: true},
		{name: "valid", opts: Options{Primary: media.NewVideoTrack(64, 48, 30), Width: 160, Height: 90}, wantErr: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts, testLogger())
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRenderFrame_PrimaryCoversCanvas(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	c := newTestCompositor(t, Options{Primary: primary})
	out, err := c.Start()
	require.NoError(t, err)
	defer c.Stop()

	primary.Push(solidFrame(64, 48, red))
	c.renderFrame()

	frame := out.FirstVideo().Latest()
	require.NotNil(t, frame)
	// Cover scaling crops, never letterboxes: the corners are source
	// pixels, not black bars.
	assert.Equal(t, red, frame.RGBAAt(0, 0))
	assert.Equal(t, red, frame.RGBAAt(159, 89))
	assert.Equal(t, red, frame.RGBAAt(80, 45))
}

func TestRenderFrame_NoPrimaryFrameYetPublishesNothing(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	c := newTestCompositor(t, Options{Primary: primary})
	out, err := c.Start()
	require.NoError(t, err)
	defer c.Stop()

	c.renderFrame()
	assert.Nil(t, out.FirstVideo().Latest())
	assert.Equal(t, uint64(0), out.FirstVideo().FrameCount())
}

func TestRenderFrame_PipSkippedUntilFramesAvailable(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	secondary := media.NewVideoTrack(32, 24, 30)
	c := newTestCompositor(t, Options{Primary: primary, Secondary: secondary, PipPosition: BottomRight, PipSize: 0.25})
	out, err := c.Start()
	require.NoError(t, err)
	defer c.Stop()

	primary.Push(solidFrame(64, 48, red))
	c.renderFrame()

	// Secondary has produced nothing: the PiP corner is primary-colored.
	frame := out.FirstVideo().Latest()
	require.NotNil(t, frame)
	assert.Equal(t, red, frame.RGBAAt(159-pipMargin-2, 89-pipMargin-2))

	// Once frames arrive the overlay is drawn.
	secondary.Push(solidFrame(32, 24, blue))
	c.renderFrame()
	frame = out.FirstVideo().Latest()
	assert.Equal(t, blue, frame.RGBAAt(159-pipMargin-2, 89-pipMargin-2))
}

func TestSetPipPosition_TakesEffectNextFrame(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	secondary := media.NewVideoTrack(32, 24, 30)
	c := newTestCompositor(t, Options{Primary: primary, Secondary: secondary, PipPosition: TopLeft, PipSize: 0.25})
	out, err := c.Start()
	require.NoError(t, err)
	defer c.Stop()

	primary.Push(solidFrame(64, 48, red))
	secondary.Push(solidFrame(32, 24, blue))

	c.renderFrame()
	frame := out.FirstVideo().Latest()
	assert.Equal(t, blue, frame.RGBAAt(pipMargin+2, pipMargin+2))

	c.SetPipPosition(BottomRight)
	c.renderFrame()
	frame = out.FirstVideo().Latest()
	assert.Equal(t, red, frame.RGBAAt(pipMargin+2, pipMargin+2), "old corner reverts to primary")
	assert.Equal(t, blue, frame.RGBAAt(159-pipMargin-2, 89-pipMargin-2), "overlay moved")
}

func TestSetPipSize_InvalidIgnored(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	c := newTestCompositor(t, Options{Primary: primary})
	c.SetPipSize(0.9)
	c.SetPipSize(-1)
	assert.Equal(t, 0.25, c.pipSize)
	c.SetPipSize(0.4)
	assert.Equal(t, 0.4, c.pipSize)
}

func TestStop_DoesNotStopInputStreams(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	secondary := media.NewVideoTrack(32, 24, 30)
	c := newTestCompositor(t, Options{Primary: primary, Secondary: secondary})
	out, err := c.Start()
	require.NoError(t, err)

	c.Stop()
	c.Stop()

	assert.True(t, primary.Live(), "compositor must not stop streams it does not own")
	assert.True(t, secondary.Live())
	assert.False(t, out.FirstVideo().Live(), "compositor owns its output track")
	assert.NoError(t, c.Err())
}

func TestPrimaryEndedExternally_SurfacesInterrupted(t *testing.T) {
	primary := media.NewVideoTrack(64, 48, 30)
	c := newTestCompositor(t, Options{Primary: primary})
	_, err := c.Start()
	require.NoError(t, err)

	// Screen share revoked from outside.
	primary.Stop()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("compositor did not stop after primary ended")
	}
	assert.ErrorIs(t, c.Err(), media.ErrStreamInterrupted)
}

func TestPipRect_Anchors(t *testing.T) {
	bounds := image.Rect(0, 0, 160, 90)
	tests := []struct {
		pos  Position
		want image.Rectangle
	}{
		{TopLeft, image.Rect(16, 16, 56, 38)},
		{TopRight, image.Rect(104, 16, 144, 38)},
		{BottomLeft, image.Rect(16, 52, 56, 74)},
		{BottomRight, image.Rect(104, 52, 144, 74)},
	}
	for _, tc := range tests {
		t.Run(tc.pos.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, pipRect(bounds, 40, 22, tc.pos))
		})
	}
}

func TestDrawCover_CentersCrop(t *testing.T) {
	// Source is a wide image: left half red, right half blue. Covering
	// a square destination must crop both sides equally, so the seam
	// stays centered.
	src := image.NewRGBA(image.Rect(0, 0, 200, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 200; x++ {
			if x < 100 {
				src.SetRGBA(x, y, red)
			} else {
				src.SetRGBA(x, y, blue)
			}
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, 50, 50))
	drawCover(dst, dst.Bounds(), src)

	assert.Equal(t, red, dst.RGBAAt(10, 25))
	assert.Equal(t, blue, dst.RGBAAt(40, 25))
	assert.Equal(t, red, dst.RGBAAt(24, 25))
	assert.Equal(t, blue, dst.RGBAAt(26, 25))
}
