package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/samber/lo"

	"videomorph/internal/config"
	"videomorph/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// toolInstaller runs package manager commands for missing conversion libraries.
type toolInstaller struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
	timeout  time.Duration
}

func newToolInstaller() *toolInstaller {
	return &toolInstaller{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		timeout: installCommandTimeout,
	}
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "tool_ffmpeg", "tool_ffprobe":
		fixErr = a.tools.install(domain.EncoderFFmpeg)
	case "tool_avconv", "tool_avprobe":
		fixErr = a.tools.install(domain.EncoderAvconv)
	case "output_dir":
		settings, settingsChanged, fixErr = fixOutputDir(settings)
	case "profiles_dir":
		settings, settingsChanged, fixErr = fixProfilesDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		a.Logger.Warn("diagnostic fix failed", "item", id, "error", fixErr)
		return report, fixErr
	}
	return report, nil
}

// ensureLocalBinOnPATH prepends dataDir/bin to PATH so user-installed
// encoders are found before system ones.
func ensureLocalBinOnPATH(dataDir string) error {
	binDir := filepath.Join(dataDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	if lo.ContainsBy(filepath.SplitList(current), func(entry string) bool {
		return filepath.Clean(entry) == filepath.Clean(binDir)
	}) {
		return nil
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

// installOptions lists package managers able to provide the library on goos.
func installOptions(goos string, lib domain.Encoder) []installOption {
	if lib == domain.EncoderAvconv {
		switch goos {
		case "windows":
			return nil
		case "darwin":
			return []installOption{
				{manager: "brew", commands: [][]string{{"brew", "install", "libav"}}},
			}
		default:
			return []installOption{
				{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "libav-tools"}}},
				{manager: "brew", commands: [][]string{{"brew", "install", "libav"}}},
			}
		}
	}

	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"}}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "ffmpeg"}}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

// install runs the first package manager that succeeds, then checks both
// the encoder and its prober resolve on PATH.
func (t *toolInstaller) install(lib domain.Encoder) error {
	options := lo.Filter(installOptions(t.goos, lib), func(option installOption, _ int) bool {
		return t.available(option.manager)
	})
	if len(options) == 0 {
		return fmt.Errorf("install %s: no supported package manager found for %s", lib, t.goos)
	}

	failures := make([]string, 0, len(options))
	installed := false
	for _, option := range options {
		if err := t.runAll(option.commands); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", option.manager, err))
			continue
		}
		installed = true
		break
	}
	if !installed {
		return fmt.Errorf("install %s: %s", lib, strings.Join(failures, " | "))
	}

	missing := lo.Reject([]string{string(lib), lib.Prober()}, func(name string, _ int) bool {
		return t.available(name)
	})
	if len(missing) > 0 {
		return fmt.Errorf("verify %s on PATH: missing tools on PATH: %s", lib, strings.Join(missing, ", "))
	}
	return nil
}

func (t *toolInstaller) runAll(commands [][]string) error {
	for _, command := range commands {
		if err := t.runWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

// runWithPossibleElevation retries system package managers through pkexec
// or non-interactive sudo on Linux.
func (t *toolInstaller) runWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if t.goos == "linux" && requiresElevation(command[0]) {
		if t.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if t.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attempts := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := t.runCommand(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attempts = append(attempts, err.Error())
	}
	return errors.New(strings.Join(attempts, " | "))
}

func (t *toolInstaller) runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	output, err := t.run(ctx, name, args...)
	if err == nil {
		return nil
	}

	line := strings.Join(append([]string{name}, args...), " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", line, t.timeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", line, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", line, err, trimmed)
}

func (t *toolInstaller) available(name string) bool {
	_, err := t.lookPath(name)
	return err == nil
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func fixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	dir, changed := defaultIfBlank(settings.OutputDir, config.DefaultSettings().OutputDir)
	settings.OutputDir = dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return settings, changed, nil
}

func fixProfilesDir(settings domain.Settings) (domain.Settings, bool, error) {
	dir, changed := defaultIfBlank(settings.ProfilesDir, config.DefaultSettings().ProfilesDir)
	settings.ProfilesDir = dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create profiles directory %s: %w", dir, err)
	}
	return settings, changed, nil
}

func defaultIfBlank(value, fallback string) (string, bool) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed, false
	}
	return fallback, true
}
