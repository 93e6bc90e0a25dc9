// Package mixer combines a foreground voice track with a background
// audio track into one recordable stream, applying independent gain
// and automatic ducking of the background while voice is active.
package mixer

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/goldenfocus/vibelog-capture/media"
)

const (
	// chunkInterval is the cadence of the mix pump.
	chunkInterval = 20 * time.Millisecond

	// duckAttenuation scales the secondary's configured volume while
	// the primary is speaking.
	duckAttenuation = 0.25

	// silenceThreshold is the normalized RMS above which the primary
	// counts as active.
	silenceThreshold = 0.02
)

// Options configure a Mixer. Zero values take the defaults noted.
type Options struct {
	// PrimaryVolume is the gain applied to the voice source. Default 1.0.
	PrimaryVolume float64
	// SecondaryVolume is the gain applied to the background source.
	// Default 0.7.
	SecondaryVolume float64
	// AutoDuck attenuates the background while the voice source is
	// above the silence threshold.
	AutoDuck bool
	// DuckRamp controls how quickly the background recovers after the
	// voice goes silent. Default 250ms.
	DuckRamp time.Duration
	// SampleRate of the mixed output. Default 16000.
	SampleRate int
}

// Mixer owns its output stream exclusively; it never stops the input
// tracks, whose ownership stays with their acquirer.
type Mixer struct {
	opts Options
	log  *log.Logger

	mu       sync.Mutex
	out      *media.Stream
	outTrack *media.AudioTrack
	stop     chan struct{}
	wg       sync.WaitGroup
	cleaned  bool

	primary      *media.AudioTrack
	secondary    *media.AudioTrack
	primaryTap   int
	secondaryTap int

	// duckGain is the current effective multiplier on the secondary's
	// configured volume, ramped between duckAttenuation and 1.
	duckGain float64
}

// New creates a mixer with defaults applied.
func New(opts Options, logger *log.Logger) *Mixer {
	if opts.PrimaryVolume == 0 {
		opts.PrimaryVolume = 1.0
	}
	if opts.SecondaryVolume == 0 {
		opts.SecondaryVolume = 0.7
	}
	if opts.DuckRamp <= 0 {
		opts.DuckRamp = 250 * time.Millisecond
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &Mixer{opts: opts, log: logger, duckGain: 1}
}

// Mix starts combining the two tracks into a new output stream. Either
// input may be nil or already ended; absent inputs are simply omitted.
// With no usable input at all the output is a valid silent stream —
// recording with no audio must not abort a session.
func (m *Mixer) Mix(primary, secondary *media.AudioTrack) *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out != nil {
		return m.out
	}

	if primary != nil && !primary.Live() {
		primary = nil
	}
	if secondary != nil && !secondary.Live() {
		secondary = nil
	}

	m.outTrack = media.NewAudioTrack(m.opts.SampleRate, 1)
	m.out = media.NewStream([]*media.AudioTrack{m.outTrack}, nil)
	m.stop = make(chan struct{})

	var primaryCh, secondaryCh <-chan []int16
	if primary != nil {
		m.primary = primary
		m.primaryTap, primaryCh = primary.Tap(64)
	}
	if secondary != nil {
		m.secondary = secondary
		m.secondaryTap, secondaryCh = secondary.Tap(64)
	}

	m.wg.Add(1)
	go m.pump(primaryCh, secondaryCh, m.stop)

	return m.out
}

// Output returns the mixed stream, or nil before Mix is called.
func (m *Mixer) Output() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// Cleanup stops the pump, releases the input taps, and ends the
// output stream. The inputs themselves stay live; the mixer never
// owned them. Idempotent.
func (m *Mixer) Cleanup() {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	m.cleaned = true
	if m.stop != nil {
		close(m.stop)
	}
	out := m.out
	primary, primaryTap := m.primary, m.primaryTap
	secondary, secondaryTap := m.secondary, m.secondaryTap
	m.primary, m.secondary = nil, nil
	m.mu.Unlock()

	m.wg.Wait()
	if primary != nil {
		primary.Untap(primaryTap)
	}
	if secondary != nil {
		secondary.Untap(secondaryTap)
	}
	if out != nil {
		out.Stop()
	}
}

// pump accumulates pushed blocks from both taps and emits fixed-size
// mixed chunks on a steady cadence.
func (m *Mixer) pump(primaryCh, secondaryCh <-chan []int16, stop chan struct{}) {
	defer m.wg.Done()

	chunkSamples := int(float64(m.opts.SampleRate) * chunkInterval.Seconds())
	var primaryBuf, secondaryBuf []int16

	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case block, ok := <-primaryCh:
			if !ok {
				primaryCh = nil
				continue
			}
			primaryBuf = append(primaryBuf, block...)
		case block, ok := <-secondaryCh:
			if !ok {
				secondaryCh = nil
				continue
			}
			secondaryBuf = append(secondaryBuf, block...)
		case <-ticker.C:
			p := take(&primaryBuf, chunkSamples)
			s := take(&secondaryBuf, chunkSamples)
			m.outTrack.Push(m.mixChunk(p, s, chunkInterval))
		}
	}
}

// take removes up to n samples from the front of buf, zero-padding
// when the source has not produced enough.
func take(buf *[]int16, n int) []int16 {
	out := make([]int16, n)
	copied := copy(out, *buf)
	if copied >= len(*buf) {
		*buf = (*buf)[:0]
	} else {
		*buf = (*buf)[copied:]
	}
	return out
}

// mixChunk combines one chunk of each input, updating the ducking ramp
// for the elapsed dt. Exposed internally so the ducking behavior is
// testable without real time.
func (m *Mixer) mixChunk(primary, secondary []int16, dt time.Duration) []int16 {
	target := 1.0
	if m.opts.AutoDuck && rms(primary) > silenceThreshold {
		target = duckAttenuation
	}

	// Exponential ramp toward the target over DuckRamp.
	alpha := 1 - math.Exp(-float64(dt)/float64(m.opts.DuckRamp))
	m.duckGain += (target - m.duckGain) * alpha

	n := len(primary)
	if len(secondary) > n {
		n = len(secondary)
	}
	out := make([]int16, n)
	secondaryGain := m.opts.SecondaryVolume * m.duckGain
	for i := 0; i < n; i++ {
		var v float64
		if i < len(primary) {
			v += float64(primary[i]) * m.opts.PrimaryVolume
		}
		if i < len(secondary) {
			v += float64(secondary[i]) * secondaryGain
		}
		out[i] = clamp16(v)
	}
	return out
}

// rms returns the normalized root-mean-square level of a chunk, the
// same amplitude technique the analyzer uses reduced to one scalar.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
