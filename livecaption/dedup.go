package livecaption

import (
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
)

// captionBuffer is a circular buffer of recent caption lines used to
// drop near-duplicates: a restarted recognition session tends to
// re-emit the tail of what it already transcribed. Entries only
// suppress within a recency window; a speaker repeating themselves a
// minute later is new speech, not a session artifact.
type captionBuffer struct {
	entries  []captionEntry
	head     int
	size     int
	capacity int
	window   time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

type captionEntry struct {
	line string
	at   time.Time
}

func newCaptionBuffer(capacity int, window time.Duration) *captionBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &captionBuffer{
		entries:  make([]captionEntry, capacity),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Add records a caption line.
func (cb *captionBuffer) Add(line string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.entries[cb.head] = captionEntry{line: line, at: cb.now()}
	cb.head = (cb.head + 1) % cb.capacity
	if cb.size < cb.capacity {
		cb.size++
	}
}

// IsSimilar reports whether line is close to any caption recorded
// within the recency window.
func (cb *captionBuffer) IsSimilar(line string, threshold float64) bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	normalized := normalizeCaption(line)
	cutoff := cb.now().Add(-cb.window)
	for i := 0; i < cb.size; i++ {
		e := cb.entries[i]
		if cb.window > 0 && e.at.Before(cutoff) {
			continue
		}
		if similarCaptions(normalized, normalizeCaption(e.line), threshold) {
			return true
		}
	}
	return false
}

// normalizeCaption folds away the differences a recognizer introduces
// between takes of the same speech: case, leading/trailing space,
// terminal punctuation, and run-on whitespace.
func normalizeCaption(line string) string {
	line = strings.ToLower(strings.TrimSpace(line))
	line = strings.TrimRight(line, ".,!?;:")
	return strings.Join(strings.Fields(line), " ")
}

// similarCaptions compares two normalized lines by Levenshtein
// similarity ratio.
func similarCaptions(a, b string, threshold float64) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	distance := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	similarity := 1.0 - (float64(distance) / float64(maxLen))
	return similarity >= threshold
}
