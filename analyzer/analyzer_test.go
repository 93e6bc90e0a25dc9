package analyzer

import (
	"log"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenfocus/vibelog-capture/media"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func sine(freq float64, sampleRate, n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func assertFrameValid(t *testing.T, frame LevelFrame) {
	t.Helper()
	for i, v := range frame {
		require.False(t, math.IsNaN(v), "bar %d is NaN", i)
		require.False(t, math.IsInf(v, 0), "bar %d is Inf", i)
		require.GreaterOrEqual(t, v, Floor(), "bar %d below floor", i)
		require.LessOrEqual(t, v, 1.0, "bar %d above 1", i)
	}
}

func TestComputeTargets_BoundsProperty(t *testing.T) {
	tests := []struct {
		name   string
		window []int16
	}{
		{name: "all zero", window: make([]int16, windowSize)},
		{name: "all max", window: func() []int16 {
			w := make([]int16, windowSize)
			for i := range w {
				w[i] = math.MaxInt16
			}
			return w
		}()},
		{name: "all min", window: func() []int16 {
			w := make([]int16, windowSize)
			for i := range w {
				w[i] = math.MinInt16
			}
			return w
		}()},
		{name: "alternating full scale", window: func() []int16 {
			w := make([]int16, windowSize)
			for i := range w {
				if i%2 == 0 {
					w[i] = math.MaxInt16
				} else {
					w[i] = math.MinInt16
				}
			}
			return w
		}()},
		{name: "low frequency voice band", window: sine(200, 16000, windowSize, 0.8)},
		{name: "quiet speech", window: sine(300, 16000, windowSize, 0.02)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertFrameValid(t, computeTargets(tc.window))
		})
	}
}

func TestComputeTargets_SilenceSitsAtFloor(t *testing.T) {
	frame := computeTargets(make([]int16, windowSize))
	for i, v := range frame {
		assert.InDelta(t, Floor(), v, 1e-9, "bar %d", i)
	}
}

func TestComputeTargets_QuietSignalGetsBoosted(t *testing.T) {
	quiet := computeTargets(sine(250, 16000, windowSize, 0.15))

	moved := false
	for _, v := range quiet {
		if v > Floor()+0.05 {
			moved = true
			break
		}
	}
	assert.True(t, moved, "quiet speech should still move the bars")
}

func TestComputeTargets_LowFrequencyLandsInLowBars(t *testing.T) {
	frame := computeTargets(sine(150, 16000, windowSize, 0.9))

	maxBar, maxVal := 0, 0.0
	for i, v := range frame {
		if v > maxVal {
			maxBar, maxVal = i, v
		}
	}
	assert.Less(t, maxBar, NumBars/2, "voice-band energy should land in the lower bars")
}

func TestBinFor_PowerCurveFavorsLows(t *testing.T) {
	usable := 179 // 70% of a 256-bin half spectrum

	prev := binFor(0, usable)
	assert.Equal(t, 0, prev)
	for i := 1; i <= NumBars; i++ {
		cur := binFor(i, usable)
		assert.GreaterOrEqual(t, cur, prev, "mapping must be monotonic")
		prev = cur
	}

	// The first half of the bars must cover fewer bins than the second
	// half: resolution is concentrated where voice lives.
	lowSpan := binFor(NumBars/2, usable) - binFor(0, usable)
	highSpan := binFor(NumBars, usable) - binFor(NumBars/2, usable)
	assert.Less(t, lowSpan, highSpan)
}

func TestAnalyzer_DetachedReturnsFloorFrame(t *testing.T) {
	a := New(testLogger())
	assertFrameValid(t, a.CurrentLevels())
	for _, v := range a.CurrentLevels() {
		assert.Equal(t, Floor(), v)
	}
}

func TestAnalyzer_AttachNilDegradesSilently(t *testing.T) {
	a := New(testLogger())
	a.Attach(nil)
	assertFrameValid(t, a.CurrentLevels())
	a.Detach()
}

func TestAnalyzer_SmoothingStepsTowardTarget(t *testing.T) {
	a := New(testLogger())
	a.window = sine(200, 16000, windowSize, 0.9)

	before := a.CurrentLevels()
	a.step(true)
	mid := a.CurrentLevels()
	a.step(true)
	after := a.CurrentLevels()

	// Find a bar that the signal actually drives.
	driven := -1
	targets := computeTargets(a.window)
	for i, v := range targets {
		if v > Floor()+0.1 {
			driven = i
			break
		}
	}
	require.GreaterOrEqual(t, driven, 0)

	assert.Greater(t, mid[driven], before[driven], "bar should rise toward target")
	assert.Greater(t, after[driven], mid[driven], "bar should keep rising, not jump")
	assert.Less(t, mid[driven], targets[driven], "a single step must not snap to target")
	assertFrameValid(t, mid)
	assertFrameValid(t, after)
}

func TestAnalyzer_InactiveDecaysTowardFloor(t *testing.T) {
	a := New(testLogger())
	a.window = sine(200, 16000, windowSize, 0.9)
	for i := 0; i < 20; i++ {
		a.step(true)
	}
	raised := a.CurrentLevels()

	a.step(false)
	decayed := a.CurrentLevels()

	for i := range raised {
		if raised[i] > Floor()+0.05 {
			assert.Less(t, decayed[i], raised[i], "bar %d should decay", i)
			assert.Greater(t, decayed[i], Floor(), "bar %d must not snap to floor", i)
		}
	}

	for i := 0; i < 50; i++ {
		a.step(false)
	}
	for i, v := range a.CurrentLevels() {
		assert.InDelta(t, Floor(), v, 0.01, "bar %d should settle at floor", i)
	}
}

func TestAnalyzer_DetachIdempotent(t *testing.T) {
	track := media.NewAudioTrack(16000, 1)
	a := New(testLogger())

	a.Attach(track)
	a.Detach()
	a.Detach()

	// Re-attach replaces the prior tap without error.
	a.Attach(track)
	a.Attach(track)
	a.Detach()
}
