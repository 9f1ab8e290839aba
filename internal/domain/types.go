package domain

import (
	"regexp"
	"strings"
	"time"
)

// JobStatus tracks the lifecycle of one conversion task.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
	JobStatusStopped JobStatus = "stopped"
)

// IsTerminal reports whether a job has left the running pipeline.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusError, JobStatusStopped:
		return true
	default:
		return false
	}
}

// CoordinatorState is the global state of the conversion coordinator.
type CoordinatorState string

const (
	StateIdle       CoordinatorState = "idle"
	StateConverting CoordinatorState = "converting"
	StateStopping   CoordinatorState = "stopping"
)

// Encoder names the external conversion library binary.
type Encoder string

const (
	EncoderFFmpeg Encoder = "ffmpeg"
	EncoderAvconv Encoder = "avconv"
)

// Prober returns the metadata probe binary shipped with the encoder.
func (e Encoder) Prober() string {
	if e == EncoderAvconv {
		return "avprobe"
	}
	return "ffprobe"
}

// Valid reports whether the encoder is a supported library.
func (e Encoder) Valid() bool {
	return e == EncoderFFmpeg || e == EncoderAvconv
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir           string  `json:"outputDir"`
	Encoder             Encoder `json:"encoder"`
	DeleteInputOnFinish bool    `json:"deleteInputOnFinish"`
	InsertSubtitles     bool    `json:"insertSubtitles"`
	UseFormatTag        bool    `json:"useFormatTag"`
	ShutdownOnFinish    bool    `json:"shutdownOnFinish"`
	ProfilesDir         string  `json:"profilesDir"`
}

// Profile is one conversion preset: a target quality inside a named format.
type Profile struct {
	Name      string `json:"name"`
	Quality   string `json:"quality"`
	Params    string `json:"params"`
	Extension string `json:"extension"`
}

var qualityTagPattern = regexp.MustCompile(`[A-Z][0-9]?`)

// QualityTag builds the "[TAG]-" output prefix from the quality label.
func (p Profile) QualityTag() string {
	tag := strings.Join(qualityTagPattern.FindAllString(p.Quality, -1), "")
	if tag == "" {
		var b strings.Builder
		for _, word := range strings.Fields(p.Quality) {
			b.WriteString(strings.ToUpper(word[:1]))
		}
		tag = b.String()
	}
	return "[" + tag + "]-"
}

// MediaInfo holds the container metadata needed to schedule a conversion.
type MediaInfo struct {
	Path       string  `json:"path"`
	FormatName string  `json:"formatName"`
	Duration   float64 `json:"duration"`
	Size       int64   `json:"size"`
	BitRate    int64   `json:"bitRate"`
	MimeType   string  `json:"mimeType,omitempty"`
}

// Job is one queued file-to-output conversion request.
type Job struct {
	ID         string        `json:"id"`
	InputPath  string        `json:"inputPath"`
	OutputPath string        `json:"outputPath,omitempty"`
	Profile    Profile       `json:"profile"`
	Duration   float64       `json:"duration"`
	Status     JobStatus     `json:"status"`
	Progress   float64       `json:"progress"`
	Position   float64       `json:"position"`
	Elapsed    time.Duration `json:"elapsed"`
	Remaining  time.Duration `json:"remaining"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	StartedAt  time.Time     `json:"startedAt,omitempty"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
}

// Totals aggregates progress across the whole task list.
type Totals struct {
	State     CoordinatorState `json:"state"`
	Progress  float64          `json:"progress"`
	Elapsed   time.Duration    `json:"elapsed"`
	Remaining time.Duration    `json:"remaining"`
	Queued    int              `json:"queued"`
	Running   int              `json:"running"`
	Done      int              `json:"done"`
	Failed    int              `json:"failed"`
	Stopped   int              `json:"stopped"`
}
