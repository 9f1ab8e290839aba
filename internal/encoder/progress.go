package encoder

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// libraryErrorMarkers are output fragments that mean the conversion failed
// even when the process has not exited yet.
var libraryErrorMarkers = []string{
	"Unknown encoder",
	"Unrecognized option",
	"Invalid argument",
}

var timePattern = regexp.MustCompile(`time=([0-9.:]+)`)

// Progress is one progress sample read from encoder output.
type Progress struct {
	Position float64 `json:"position"`
	Percent  float64 `json:"percent"`
}

// ProgressParser turns encoder output lines into progress samples.
type ProgressParser interface {
	Parse(line string) (Progress, bool)
}

// TimeParser reads the time= field of ffmpeg/avconv status lines.
type TimeParser struct {
	duration float64

	mu       sync.Mutex
	libError string
}

// NewTimeParser creates a parser for media of the given duration in seconds.
func NewTimeParser(duration float64) *TimeParser {
	return &TimeParser{duration: duration}
}

// Parse extracts the current position and percentage from line. Lines that
// carry a library error marker are recorded and never yield progress.
func (p *TimeParser) Parse(line string) (Progress, bool) {
	for _, marker := range libraryErrorMarkers {
		if strings.Contains(line, marker) {
			p.mu.Lock()
			if p.libError == "" {
				p.libError = strings.TrimSpace(line)
			}
			p.mu.Unlock()
			return Progress{}, false
		}
	}

	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pos, ok := ParseTimestamp(m[1])
	if !ok {
		return Progress{}, false
	}

	out := Progress{Position: pos}
	if p.duration > 0 {
		out.Percent = pos / p.duration * 100
		if out.Percent > 100 {
			out.Percent = 100
		}
	}
	return out, true
}

// LibraryError returns the first library error line seen, if any.
func (p *TimeParser) LibraryError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.libError
}

// ParseTimestamp accepts HH:MM:SS(.ff), MM:SS(.ff) or plain seconds.
func ParseTimestamp(raw string) (float64, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}
