// Package compositor renders one or two video tracks onto a shared
// off-screen canvas at a fixed resolution and frame rate, exposing the
// canvas as a new capturable video stream. The secondary track is drawn
// as a repositionable picture-in-picture overlay.
package compositor

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log"
	"sync"
	"time"

	"github.com/goldenfocus/vibelog-capture/media"
)

// Position anchors the picture-in-picture overlay to a canvas corner.
type Position int

const (
	TopLeft Position = iota
	TopRight
	BottomLeft
	BottomRight
)

func (p Position) String() string {
	switch p {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	default:
		return "bottom-right"
	}
}

// pipMargin is the gap in pixels between the overlay and canvas edges.
const pipMargin = 16

// Options configure a Compositor.
type Options struct {
	// Primary is the full-frame source. Required.
	Primary *media.VideoTrack
	// Secondary, when set, is drawn as the PiP overlay.
	Secondary *media.VideoTrack

	Width  int
	Height int
	FPS    int

	PipPosition Position
	// PipSize is the overlay's fraction of the output dimensions,
	// 0 < size <= 0.5. Default 0.25.
	PipSize float64
}

// Compositor owns its output stream exclusively. It never stops the
// input tracks; their ownership stays with the original acquirer so a
// live preview can keep using them after compositing ends.
type Compositor struct {
	opts Options
	log  *log.Logger

	mu       sync.Mutex
	canvas   *image.RGBA
	out      *media.Stream
	outTrack *media.VideoTrack
	pipPos   Position
	pipSize  float64
	stop     chan struct{}
	done     chan struct{}
	err      error
	started  bool
	stopped  bool
	wg       sync.WaitGroup
}

// New validates the options and returns a compositor ready to Start.
func New(opts Options, logger *log.Logger) (*Compositor, error) {
	if opts.Primary == nil {
		return nil, errors.New("compositor: primary track required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.New("compositor: output dimensions required")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.PipSize == 0 {
		opts.PipSize = 0.25
	}
	if opts.PipSize <= 0 || opts.PipSize > 0.5 {
		return nil, errors.New("compositor: pip size must be in (0, 0.5]")
	}
	return &Compositor{
		opts:    opts,
		log:     logger,
		pipPos:  opts.PipPosition,
		pipSize: opts.PipSize,
		canvas:  image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		done:    make(chan struct{}),
	}, nil
}

// Start begins the render loop and returns the canvas-backed output
// stream. If the primary track ends externally mid-run the loop stops
// itself and Err reports the interruption.
func (c *Compositor) Start() (*media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, errors.New("compositor: already stopped")
	}
	if c.started {
		return c.out, nil
	}
	c.started = true
	c.outTrack = media.NewVideoTrack(c.opts.Width, c.opts.Height, c.opts.FPS)
	c.out = media.NewStream(nil, []*media.VideoTrack{c.outTrack})
	c.stop = make(chan struct{})
	out := c.out
	c.mu.Unlock()

	// Registered outside the lock: OnEnded runs the handler inline
	// when the track has already ended.
	c.opts.Primary.OnEnded(func() { c.interrupt() })

	c.mu.Lock()
	c.wg.Add(1)
	go c.loop(c.stop)
	return out, nil
}

// SetPipPosition moves the overlay; takes effect on the next frame.
func (c *Compositor) SetPipPosition(p Position) {
	c.mu.Lock()
	c.pipPos = p
	c.mu.Unlock()
}

// SetPipSize resizes the overlay; out-of-range fractions are ignored.
// Takes effect on the next frame.
func (c *Compositor) SetPipSize(fraction float64) {
	if fraction <= 0 || fraction > 0.5 {
		return
	}
	c.mu.Lock()
	c.pipSize = fraction
	c.mu.Unlock()
}

// Stop halts the render loop and ends the output stream's track. The
// input tracks are left running. Idempotent.
func (c *Compositor) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.stop != nil {
		close(c.stop)
	}
	out := c.out
	c.mu.Unlock()

	c.wg.Wait()
	if out != nil {
		out.Stop()
	}
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.mu.Unlock()
}

// Done is closed once the compositor has stopped, whether by Stop or
// because the primary stream was interrupted.
func (c *Compositor) Done() <-chan struct{} {
	return c.done
}

// Err reports why the compositor stopped: media.ErrStreamInterrupted
// if the primary ended externally, nil for a normal stop.
func (c *Compositor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// interrupt records external primary termination and stops the loop
// so stale frames are never rendered indefinitely.
func (c *Compositor) interrupt() {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.mu.Unlock()
		return
	}
	if c.err == nil {
		c.err = media.ErrStreamInterrupted
	}
	c.mu.Unlock()
	c.log.Printf("compositor: primary stream interrupted")
	c.Stop()
}

func (c *Compositor) loop(stop chan struct{}) {
	defer c.wg.Done()
	interval := time.Second / time.Duration(c.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.renderFrame()
		}
	}
}

// renderFrame draws one composite frame: canvas cleared, primary
// cover-scaled to fill, then the PiP overlay if its track has produced
// a frame. Publishing copies the canvas so consumers never observe a
// half-drawn frame.
func (c *Compositor) renderFrame() {
	c.mu.Lock()
	pos := c.pipPos
	size := c.pipSize
	c.mu.Unlock()

	primary := c.opts.Primary.Latest()
	if primary == nil {
		// No decodable frames yet; publish nothing rather than black.
		return
	}

	bounds := c.canvas.Bounds()
	draw.Draw(c.canvas, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	drawCover(c.canvas, bounds, primary)

	if c.opts.Secondary != nil {
		if overlay := c.opts.Secondary.Latest(); overlay != nil {
			pipW := int(float64(c.opts.Width) * size)
			pipH := int(float64(c.opts.Height) * size)
			drawCover(c.canvas, pipRect(bounds, pipW, pipH, pos), overlay)
		}
		// Track attached but not yet producing frames: skip the PiP
		// for this frame instead of drawing a blank rectangle.
	}

	frame := image.NewRGBA(bounds)
	copy(frame.Pix, c.canvas.Pix)
	c.outTrack.Push(frame)
}

// pipRect positions a pipW x pipH overlay at the given corner anchor.
func pipRect(bounds image.Rectangle, pipW, pipH int, pos Position) image.Rectangle {
	var x, y int
	switch pos {
	case TopLeft:
		x, y = bounds.Min.X+pipMargin, bounds.Min.Y+pipMargin
	case TopRight:
		x, y = bounds.Max.X-pipW-pipMargin, bounds.Min.Y+pipMargin
	case BottomLeft:
		x, y = bounds.Min.X+pipMargin, bounds.Max.Y-pipH-pipMargin
	default: // BottomRight
		x, y = bounds.Max.X-pipW-pipMargin, bounds.Max.Y-pipH-pipMargin
	}
	return image.Rect(x, y, x+pipW, y+pipH)
}

// drawCover scales src to completely fill dstRect, cropping the source
// centered to preserve aspect ratio. Filling beats letterboxing here: a
// composite recording should never show black bars.
func drawCover(dst *image.RGBA, dstRect image.Rectangle, src *image.RGBA) {
	srcBounds := src.Bounds()
	srcW := float64(srcBounds.Dx())
	srcH := float64(srcBounds.Dy())
	dstW := float64(dstRect.Dx())
	dstH := float64(dstRect.Dy())
	if srcW == 0 || srcH == 0 || dstW == 0 || dstH == 0 {
		return
	}

	scale := dstW / srcW
	if s := dstH / srcH; s > scale {
		scale = s
	}
	cropW := dstW / scale
	cropH := dstH / scale
	cropX := float64(srcBounds.Min.X) + (srcW-cropW)/2
	cropY := float64(srcBounds.Min.Y) + (srcH-cropH)/2

	for y := 0; y < dstRect.Dy(); y++ {
		sy := int(cropY + float64(y)/scale)
		for x := 0; x < dstRect.Dx(); x++ {
			sx := int(cropX + float64(x)/scale)
			dst.SetRGBA(dstRect.Min.X+x, dstRect.Min.Y+y, src.RGBAAt(sx, sy))
		}
	}
}
