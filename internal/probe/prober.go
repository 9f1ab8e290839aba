// Package probe reads container metadata for media files before they are
// queued. A file that cannot be sniffed as media or that reports no usable
// duration is rejected with ErrInvalidInput.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"videomorph/internal/domain"
)

// ErrInvalidInput marks files that are not convertible media.
var ErrInvalidInput = errors.New("invalid video file information")

// Prober reads duration and format metadata for one media file.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

// CommandProber runs ffprobe or avprobe with -show_format.
type CommandProber struct {
	binary string
	output func(ctx context.Context, name string, args ...string) ([]byte, error)
	detect func(path string) (*mimetype.MIME, error)
}

// NewCommandProber builds a prober for the given probe binary name.
func NewCommandProber(binary string) *CommandProber {
	return &CommandProber{
		binary: binary,
		output: runOutput,
		detect: mimetype.DetectFile,
	}
}

// Probe validates the file type and parses the prober's format section.
func (p *CommandProber) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.MediaInfo{}, invalid(path, err)
	}

	mime, err := p.detect(path)
	if err != nil {
		return domain.MediaInfo{}, invalid(path, err)
	}
	if !IsMediaType(mime.String()) {
		return domain.MediaInfo{}, invalid(path, fmt.Errorf("unsupported file type %s", mime.String()))
	}

	out, err := p.output(ctx, p.binary, "-show_format", path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaInfo{}, ctxErr
		}
		return domain.MediaInfo{}, invalid(path, fmt.Errorf("%s: %w", p.binary, err))
	}

	info, err := ParseFormat(bytes.NewReader(out))
	if err != nil {
		return domain.MediaInfo{}, invalid(path, err)
	}
	info.Path = path
	info.MimeType = mime.String()
	return info, nil
}

// ParseFormat converts "-show_format" key=value output into MediaInfo.
// Exported for testing without a real probe binary.
func ParseFormat(r io.Reader) (domain.MediaInfo, error) {
	var info domain.MediaInfo
	durationSeen := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "duration":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
				return domain.MediaInfo{}, fmt.Errorf("invalid duration %q", value)
			}
			info.Duration = d
			durationSeen = true
		case "format_name":
			info.FormatName = value
		case "size":
			info.Size = parseInt64(value)
		case "bit_rate":
			info.BitRate = parseInt64(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.MediaInfo{}, err
	}

	if !durationSeen {
		return domain.MediaInfo{}, errors.New("missing duration")
	}
	if info.Duration <= 0 {
		return domain.MediaInfo{}, errors.New("file is zero length")
	}
	return info, nil
}

// mediaApplicationTypes lists application/* types that carry audio or video.
var mediaApplicationTypes = map[string]bool{
	"application/octet-stream":      true,
	"application/ogg":               true,
	"application/vnd.rn-realmedia":  true,
	"application/x-shockwave-flash": true,
	"application/mxf":               true,
	"application/vnd.ms-asf":        true,
}

// IsMediaType reports whether a sniffed MIME type can hold audio or video.
// Unknown binary content is accepted and left for the prober to judge.
func IsMediaType(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.ToLower(strings.TrimSpace(base))

	switch {
	case strings.HasPrefix(base, "video/"), strings.HasPrefix(base, "audio/"):
		return true
	case mediaApplicationTypes[base]:
		return true
	default:
		return false
	}
}

// invalid wraps a cause as ErrInvalidInput citing the offending path.
func invalid(path string, cause error) error {
	return fmt.Errorf("%w for: %s: %v", ErrInvalidInput, path, cause)
}

// runOutput executes the probe and returns its stdout.
func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// NewCommandProberForTests builds a prober with an injectable command runner.
func NewCommandProberForTests(binary string, output func(ctx context.Context, name string, args ...string) ([]byte, error)) *CommandProber {
	return &CommandProber{
		binary: binary,
		output: output,
		detect: mimetype.DetectFile,
	}
}
