// Package encoder builds and runs external conversion library commands
// (ffmpeg or avconv) and interprets their progress output.
package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"videomorph/internal/domain"
)

// ErrInputMissing is returned when the job input no longer exists.
var ErrInputMissing = errors.New("input video not found")

const (
	placeholderInput  = "{input}"
	placeholderOutput = "{output}"
)

var subtitleExtensions = []string{".srt", ".ssa", ".stl", ".SRT", ".SSA", ".STL"}

// Options carries the settings that shape a conversion command.
type Options struct {
	Binary          string
	OutputDir       string
	InsertSubtitles bool
	UseFormatTag    bool
	Threads         int
}

// OptionsFromSettings maps user settings to command options.
func OptionsFromSettings(settings domain.Settings) Options {
	return Options{
		Binary:          string(settings.Encoder),
		OutputDir:       settings.OutputDir,
		InsertSubtitles: settings.InsertSubtitles,
		UseFormatTag:    settings.UseFormatTag,
		Threads:         runtime.NumCPU(),
	}
}

// Command is one fully resolved encoder invocation.
type Command struct {
	Name         string   `json:"name"`
	Args         []string `json:"args"`
	OutputPath   string   `json:"outputPath"`
	SubtitlePath string   `json:"subtitlePath,omitempty"`
}

// String renders the command line for logs.
func (c Command) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Build resolves the command that converts job according to opts.
func Build(job domain.Job, opts Options) (Command, error) {
	if _, err := os.Stat(job.InputPath); err != nil {
		return Command{}, fmt.Errorf("%w: %s", ErrInputMissing, job.InputPath)
	}

	cmd := Command{
		Name:       opts.Binary,
		OutputPath: OutputPath(opts.OutputDir, job.InputPath, job.Profile, opts.UseFormatTag),
	}
	if opts.InsertSubtitles {
		cmd.SubtitlePath = SubtitleFor(job.InputPath)
	}

	args, err := BuildArgs(job.InputPath, cmd.OutputPath, cmd.SubtitlePath, job.Profile.Params, opts.Threads)
	if err != nil {
		return Command{}, err
	}
	cmd.Args = args
	return cmd, nil
}

// BuildArgs splits params with shell-word rules and assembles the argument
// list. Templates that reference {input} or {output} are used verbatim after
// substitution; otherwise the input, subtitle filter, thread count and
// overwrite flag are wrapped around params.
func BuildArgs(input, output, subtitle, params string, threads int) ([]string, error) {
	words, err := shellwords.Parse(params)
	if err != nil {
		return nil, fmt.Errorf("parse profile params %q: %w", params, err)
	}

	if strings.Contains(params, placeholderInput) || strings.Contains(params, placeholderOutput) {
		replacer := strings.NewReplacer(placeholderInput, input, placeholderOutput, output)
		for i, w := range words {
			words[i] = replacer.Replace(w)
		}
		return words, nil
	}

	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	args := make([]string, 0, len(words)+8)
	args = append(args, "-i", input)
	if subtitle != "" {
		args = append(args, "-vf", subtitleFilter(subtitle))
	}
	args = append(args, words...)
	args = append(args, "-threads", strconv.Itoa(threads), "-y", output)
	return args, nil
}

// OutputPath places the converted file in dir, named after the input stem
// with the profile extension and, when tagged, the quality tag prefix.
func OutputPath(dir, input string, profile domain.Profile, tagged bool) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	tag := ""
	if tagged {
		tag = profile.QualityTag()
	}
	return filepath.Join(dir, tag+stem+profile.Extension)
}

// SubtitleFor returns the first subtitle file sharing the input stem, or "".
func SubtitleFor(input string) string {
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	for _, ext := range subtitleExtensions {
		candidate := stem + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func subtitleFilter(path string) string {
	escaped := strings.ReplaceAll(path, `'`, `'\''`)
	return fmt.Sprintf("subtitles='%s':force_style='Fontsize=24':charenc=cp1252", escaped)
}
