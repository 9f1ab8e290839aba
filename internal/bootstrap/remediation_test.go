package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"videomorph/internal/domain"
)

// scriptedInstaller builds a toolInstaller whose PATH and command results are scripted.
func scriptedInstaller(goos string, onPath map[string]bool, run func(name string, args []string) error) (*toolInstaller, *[]string) {
	var calls []string
	t := &toolInstaller{
		goos: goos,
		lookPath: func(name string) (string, error) {
			if onPath[name] {
				return "/usr/bin/" + name, nil
			}
			return "", exec.ErrNotFound
		},
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, strings.Join(append([]string{name}, args...), " "))
			if err := run(name, args); err != nil {
				return []byte("E: permission denied"), err
			}
			return nil, nil
		},
		timeout: time.Minute,
	}
	return t, &calls
}

// TestInstallUsesFirstAvailableManager ensures unavailable managers are skipped.
func TestInstallUsesFirstAvailableManager(t *testing.T) {
	onPath := map[string]bool{"pacman": true}
	installer, calls := scriptedInstaller("linux", onPath, func(name string, _ []string) error {
		onPath["ffmpeg"] = true
		onPath["ffprobe"] = true
		return nil
	})

	if err := installer.install(domain.EncoderFFmpeg); err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(*calls) != 1 || (*calls)[0] != "pacman -Sy --noconfirm ffmpeg" {
		t.Fatalf("calls = %v", *calls)
	}
}

// TestInstallFallsBackToSudo ensures system managers retry with elevation.
func TestInstallFallsBackToSudo(t *testing.T) {
	onPath := map[string]bool{"dnf": true, "sudo": true, "ffmpeg": true, "ffprobe": true}
	installer, calls := scriptedInstaller("linux", onPath, func(name string, _ []string) error {
		if name != "sudo" {
			return errors.New("exit status 1")
		}
		return nil
	})

	if err := installer.install(domain.EncoderFFmpeg); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := []string{"dnf install -y ffmpeg", "sudo -n dnf install -y ffmpeg"}
	if strings.Join(*calls, ";") != strings.Join(want, ";") {
		t.Fatalf("calls = %v, want %v", *calls, want)
	}
}

// TestInstallReportsMissingManagerAndTools checks failure messages.
func TestInstallReportsMissingManagerAndTools(t *testing.T) {
	installer, _ := scriptedInstaller("windows", map[string]bool{"winget": true}, func(string, []string) error { return nil })
	if err := installer.install(domain.EncoderAvconv); err == nil || !strings.Contains(err.Error(), "no supported package manager") {
		t.Fatalf("avconv on windows error = %v", err)
	}

	err := installer.install(domain.EncoderFFmpeg)
	if err == nil || !strings.Contains(err.Error(), "ffmpeg, ffprobe") {
		t.Fatalf("missing tools error = %v", err)
	}
}

// TestFixOutputDirCreatesDirectory ensures the output dir fix creates missing directories.
func TestFixOutputDirCreatesDirectory(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "nested", "converted")

	fixed, changed, err := fixOutputDir(domain.Settings{OutputDir: outputDir})
	if err != nil {
		t.Fatalf("fix output dir: %v", err)
	}
	if changed {
		t.Fatal("expected settings to remain unchanged")
	}
	if fixed.OutputDir != outputDir {
		t.Fatalf("OutputDir = %s, want %s", fixed.OutputDir, outputDir)
	}
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		t.Fatalf("output dir not created: %v", err)
	}
}

// TestInstallOrFixDiagnosticCreatesProfilesDir checks the profiles dir fix and unknown ids.
func TestInstallOrFixDiagnosticCreatesProfilesDir(t *testing.T) {
	f := newAppFixture(t)
	profilesDir := filepath.Join(t.TempDir(), "custom-profiles")
	f.store.settings.ProfilesDir = profilesDir

	report, err := f.app.InstallOrFixDiagnostic("profiles_dir")
	if err != nil {
		t.Fatalf("InstallOrFixDiagnostic() error = %v", err)
	}
	if _, err := os.Stat(profilesDir); err != nil {
		t.Fatalf("profiles dir not created: %v", err)
	}
	if report.HasFailures {
		t.Fatalf("report has failures: %+v", report.Items)
	}

	if _, err := f.app.InstallOrFixDiagnostic("model_path"); err == nil {
		t.Fatal("expected error for unsupported item")
	}
	if _, err := f.app.InstallOrFixDiagnostic(" "); err == nil {
		t.Fatal("expected error for empty item")
	}
}

// TestEnsureLocalBinOnPATH checks the bin dir is prepended once.
func TestEnsureLocalBinOnPATH(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("PATH", "/usr/bin")

	if err := ensureLocalBinOnPATH(dataDir); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := ensureLocalBinOnPATH(dataDir); err != nil {
		t.Fatalf("ensure twice: %v", err)
	}

	want := filepath.Join(dataDir, "bin") + string(os.PathListSeparator) + "/usr/bin"
	if got := os.Getenv("PATH"); got != want {
		t.Fatalf("PATH = %s, want %s", got, want)
	}
}
