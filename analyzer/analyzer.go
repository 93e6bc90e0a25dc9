// Package analyzer derives a small set of smoothed amplitude bars from
// a live audio track for waveform visualization. Analysis observes a
// tap on the track; it never touches the audio delivered to recording.
package analyzer

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/goldenfocus/vibelog-capture/media"
)

const (
	// NumBars is the fixed width of a level frame.
	NumBars = 15

	// windowSize is the number of samples analyzed per frame. Power of
	// two, at least 512, mirroring a frequency-analysis FFT window.
	windowSize = 512

	// Bars never collapse below the floor while nominally active, so a
	// momentarily silent recording doesn't look dead.
	levelFloor = 0.12

	// amplification boosts quiet speech into the visible range before
	// the sub-linear curve is applied.
	amplification = 2.7

	// responseCurve flattens loud peaks and lifts quiet signal.
	responseCurve = 0.55

	// smoothing is the per-frame exponential interpolation factor.
	smoothing = 0.45

	// spectrumUsable keeps analysis in the voice-dominant lower band.
	spectrumUsable = 0.7

	frameInterval = time.Second / 60
)

// LevelFrame is one visualization frame: NumBars normalized amplitudes,
// each within [levelFloor, 1] and always finite.
type LevelFrame [NumBars]float64

// Analyzer runs a per-display-frame sampling loop over a tapped audio
// track and keeps the latest LevelFrame available for rendering.
type Analyzer struct {
	log *log.Logger

	mu     sync.Mutex
	bars   LevelFrame
	track  *media.AudioTrack
	tapID  int
	stop   chan struct{}
	wg     sync.WaitGroup
	window []int16
}

// New creates a detached analyzer whose bars sit at the floor value.
func New(logger *log.Logger) *Analyzer {
	a := &Analyzer{log: logger}
	for i := range a.bars {
		a.bars[i] = levelFloor
	}
	return a
}

// Attach taps the given track and starts the sampling loop. Attaching
// while already attached replaces the prior tap and releases its
// resources. A nil track degrades to a static floor frame; live level
// bars are cosmetic and must never be load-bearing.
func (a *Analyzer) Attach(track *media.AudioTrack) {
	a.Detach()
	if track == nil {
		return
	}

	a.mu.Lock()
	a.track = track
	id, ch := track.Tap(32)
	a.tapID = id
	a.stop = make(chan struct{})
	a.window = make([]int16, 0, windowSize)
	stop := a.stop
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop(ch, stop)
}

// Detach stops the sampling loop and releases the tap. Levels decay
// toward the floor on subsequent frames rather than snapping. Safe to
// call repeatedly.
func (a *Analyzer) Detach() {
	a.mu.Lock()
	if a.stop == nil {
		a.mu.Unlock()
		return
	}
	close(a.stop)
	a.stop = nil
	if a.track != nil {
		a.track.Untap(a.tapID)
		a.track = nil
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// CurrentLevels returns the latest level frame.
func (a *Analyzer) CurrentLevels() LevelFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bars
}

func (a *Analyzer) loop(samples <-chan []int16, stop chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	active := true
	for {
		select {
		case <-stop:
			return
		case block, ok := <-samples:
			if !ok {
				// Source went away; keep decaying until detached.
				active = false
				samples = nil
				continue
			}
			a.appendWindow(block)
		case <-ticker.C:
			a.step(active)
		}
	}
}

func (a *Analyzer) appendWindow(block []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window = append(a.window, block...)
	if n := len(a.window); n > windowSize {
		a.window = a.window[n-windowSize:]
	}
}

// step recomputes bar targets from the current window and eases the
// displayed bars toward them.
func (a *Analyzer) step(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var targets LevelFrame
	if active && len(a.window) >= windowSize {
		targets = computeTargets(a.window)
	} else {
		for i := range targets {
			targets[i] = levelFloor
		}
	}
	for i := range a.bars {
		a.bars[i] += (targets[i] - a.bars[i]) * smoothing
		a.bars[i] = clamp(a.bars[i], levelFloor, 1)
	}
}

// computeTargets maps frequency-domain magnitudes onto NumBars bars.
// Bar index is mapped to its frequency sub-range with a power curve so
// low (voice) frequencies get most of the resolution, then each bar's
// average magnitude is normalized, amplified, shaped sub-linearly and
// clamped.
func computeTargets(window []int16) LevelFrame {
	mags := magnitudes(window)
	usable := int(float64(len(mags)) * spectrumUsable)
	if usable < NumBars {
		usable = len(mags)
	}

	var frame LevelFrame
	for i := 0; i < NumBars; i++ {
		lo := binFor(i, usable)
		if lo > usable-1 {
			lo = usable - 1
		}
		hi := binFor(i+1, usable)
		if hi > usable {
			hi = usable
		}
		if hi <= lo {
			hi = lo + 1
		}

		sum := 0.0
		for k := lo; k < hi; k++ {
			sum += mags[k]
		}
		avg := sum / float64(hi-lo)

		v := math.Pow(clamp(avg*amplification, 0, 1), responseCurve)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = levelFloor
		}
		frame[i] = clamp(v, levelFloor, 1)
	}
	return frame
}

// binFor maps a bar boundary to a frequency bin using the power-1.5
// curve. A linear mapping would waste most bars on inaudible highs.
func binFor(i, usable int) int {
	frac := float64(i) / float64(NumBars-1)
	return int(float64(usable) * math.Pow(frac, 1.5))
}

// magnitudes returns normalized per-bin magnitudes, in [0,1], for the
// lower half-spectrum of the window using a Goertzel evaluation per
// bin. The window is small and the bin count fixed, so the quadratic
// cost stays well under a display frame.
func magnitudes(window []int16) []float64 {
	n := len(window)
	bins := windowSize / 2
	out := make([]float64, bins)
	norm := float64(n) / 2 * 32768

	for k := 0; k < bins; k++ {
		w := 2 * math.Pi * float64(k) / float64(n)
		coeff := 2 * math.Cos(w)
		var s0, s1, s2 float64
		for _, sample := range window {
			s0 = float64(sample) + coeff*s1 - s2
			s2 = s1
			s1 = s0
		}
		power := s1*s1 + s2*s2 - coeff*s1*s2
		if power < 0 {
			power = 0
		}
		out[k] = math.Sqrt(power) / norm
		if math.IsNaN(out[k]) || math.IsInf(out[k], 0) {
			out[k] = 0
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Floor returns the resting level bars decay toward when no source is
// active.
func Floor() float64 {
	return levelFloor
}
