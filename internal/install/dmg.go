package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"hatch/internal/debug"
	apperrors "hatch/internal/errors"
)

var dmgLog = debug.Component("install/dmg")

// DMG mounts the disk image at a fixed mount point and opens it in Finder so
// the user can drag the new app into place. The system's silent updater is
// not used: it needs a code-signing identity unsigned builds do not have.
type DMG struct {
	mountPoint string
	runner     Runner
}

// Kind returns KindDMG.
func (d *DMG) Kind() Kind { return KindDMG }

// MountPoint returns where images are attached.
func (d *DMG) MountPoint() string { return d.mountPoint }

// CleanupStale detaches an image left mounted by a previous run and removes
// an empty mount directory.
func (d *DMG) CleanupStale(ctx context.Context) error {
	mounted, err := isMountPoint(d.mountPoint)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apperrors.New(apperrors.CodeMountFailed, "inspect mount point", err)
	}
	if mounted {
		dmgLog.Logf("detaching stale mount at %s", d.mountPoint)
		if out, err := d.runner.Run(ctx, "hdiutil", "detach", "-force", d.mountPoint); err != nil {
			return apperrors.New(apperrors.CodeMountFailed,
				fmt.Sprintf("detach stale mount: %s", strings.TrimSpace(string(out))), err)
		}
	}
	// Only succeeds when the directory is empty, which is what we want.
	if err := os.Remove(d.mountPoint); err != nil && !errors.Is(err, os.ErrNotExist) {
		dmgLog.Logf("leaving mount directory %s: %v", d.mountPoint, err)
	}
	return nil
}

// Install attaches the image and opens the mount point.
func (d *DMG) Install(ctx context.Context, a Artifact) (string, error) {
	if err := d.CleanupStale(ctx); err != nil {
		return "", err
	}

	out, err := d.runner.Run(ctx, "hdiutil", "attach",
		"-nobrowse", "-noautoopen", "-mountpoint", d.mountPoint, a.Path)
	if err != nil {
		return "", apperrors.New(apperrors.CodeMountFailed,
			fmt.Sprintf("attach disk image: %s", strings.TrimSpace(string(out))), err)
	}
	dmgLog.Logf("attached %s %s at %s", a.Version, a.Path, d.mountPoint)

	if out, err := d.runner.Run(ctx, "open", d.mountPoint); err != nil {
		return "", apperrors.New(apperrors.CodeMountFailed,
			fmt.Sprintf("open mount point: %s", strings.TrimSpace(string(out))), err)
	}
	return d.mountPoint, nil
}
