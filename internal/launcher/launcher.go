// Package launcher performs host actions: opening files and folders in the
// desktop environment and powering the machine off.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
)

// Launcher starts detached host commands.
type Launcher struct {
	goos  string
	stat  func(name string) (os.FileInfo, error)
	start func(name string, args ...string) error
}

// New creates a launcher for the current platform.
func New() *Launcher {
	return &Launcher{goos: goruntime.GOOS, stat: os.Stat, start: startDetached}
}

// NewForTests creates a launcher with an injectable platform and starter.
func NewForTests(goos string, stat func(string) (os.FileInfo, error), start func(string, ...string) error) *Launcher {
	return &Launcher{goos: goos, stat: stat, start: start}
}

// Open launches the default application for path: a player for videos, the
// file manager for directories.
func (l *Launcher) Open(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		return fmt.Errorf("path is empty")
	}
	if _, err := l.stat(target); err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	name, args := openCommand(l.goos, target)
	if err := l.start(name, args...); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}
	return nil
}

// OpenFolder opens the directory holding path, or path itself when it is one.
func (l *Launcher) OpenFolder(path string) error {
	target := strings.TrimSpace(path)
	info, err := l.stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	if !info.IsDir() {
		target = filepath.Dir(target)
	}
	return l.Open(target)
}

// Shutdown powers the machine off.
func (l *Launcher) Shutdown() error {
	name, args := shutdownCommand(l.goos)
	if err := l.start(name, args...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "explorer", []string{filepath.Clean(path)}
	default:
		return "xdg-open", []string{path}
	}
}

func shutdownCommand(goos string) (string, []string) {
	if goos == "windows" {
		return "shutdown", []string{"/s", "/t", "0"}
	}
	return "shutdown", []string{"-h", "now"}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
