// Package install makes a verified update artifact installable. Two variants
// exist: a macOS disk image that is mounted for drag-install, and a Linux
// AppImage that is replaced in place and relaunched. The variant is chosen
// once at startup by New; callers only see the Installer interface.
package install

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	apperrors "hatch/internal/errors"
)

// Kind identifies an installer variant.
type Kind int

const (
	KindDMG Kind = iota + 1
	KindAppImage
)

func (k Kind) String() string {
	switch k {
	case KindDMG:
		return "dmg"
	case KindAppImage:
		return "appimage"
	default:
		return "unknown"
	}
}

// Mounts reports whether installing publishes a mount location the user
// finishes the install from.
func (k Kind) Mounts() bool {
	return k == KindDMG
}

// Artifact is a verified, locally stored update.
type Artifact struct {
	Path    string
	Digest  string // lowercase hex SHA-256
	Version string
}

// Installer applies a verified artifact.
type Installer interface {
	Kind() Kind
	// CleanupStale removes leftovers of a previous run, such as a mount
	// that was never detached.
	CleanupStale(ctx context.Context) error
	// Install makes the artifact installable and returns where it went:
	// the mount point for a disk image, the replaced file for an AppImage.
	Install(ctx context.Context, a Artifact) (string, error)
}

// Runner executes external commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	//nolint:gosec // G204: Commands are fixed tool names with controlled arguments
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Options configures the installer variants. Zero values select production
// behavior.
type Options struct {
	MountPoint string // DMG only
	TargetPath string // AppImage only; defaults to $APPIMAGE, then the executable
	Runner     Runner
	// Relaunch starts the replaced binary. Defaults to spawning it with the
	// current arguments.
	Relaunch func(path string, args []string) error
	// Exit ends the process after a successful relaunch. Defaults to os.Exit.
	Exit func(code int)
}

// New returns the installer for goos.
func New(goos string, opts Options) (Installer, error) {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Relaunch == nil {
		opts.Relaunch = spawn
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	switch goos {
	case "darwin":
		if opts.MountPoint == "" {
			return nil, apperrors.New(apperrors.CodeInstallFailed, "disk image installer needs a mount point", nil)
		}
		return &DMG{mountPoint: opts.MountPoint, runner: opts.Runner}, nil
	case "linux":
		return &AppImage{
			target:   opts.TargetPath,
			relaunch: opts.Relaunch,
			exit:     opts.Exit,
		}, nil
	default:
		return nil, apperrors.New(apperrors.CodeInstallFailed,
			fmt.Sprintf("no installer for %s", goos), nil)
	}
}

func spawn(path string, args []string) error {
	//nolint:gosec // G204: Path is the freshly installed application binary
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd.Start()
}
