package install

import (
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/inconshreveable/go-update"

	"hatch/internal/debug"
	apperrors "hatch/internal/errors"
)

var appImageLog = debug.Component("install/appimage")

// AppImage replaces the running AppImage file with the verified artifact,
// starts the new file and exits.
type AppImage struct {
	target   string
	relaunch func(path string, args []string) error
	exit     func(code int)
}

// Kind returns KindAppImage.
func (a *AppImage) Kind() Kind { return KindAppImage }

// TargetPath returns the file that will be replaced: the configured target,
// $APPIMAGE as set by the AppImage runtime, or the running executable.
func (a *AppImage) TargetPath() (string, error) {
	if a.target != "" {
		return a.target, nil
	}
	if p := os.Getenv("APPIMAGE"); p != "" {
		return p, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return resolved, nil
}

// oldPath is where the replace step parks the previous file.
func oldPath(target string) string {
	return filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.old", filepath.Base(target)))
}

// CleanupStale removes the previous file a replace left behind.
func (a *AppImage) CleanupStale(context.Context) error {
	target, err := a.TargetPath()
	if err != nil {
		return apperrors.New(apperrors.CodeInstallFailed, "locate application", err)
	}
	old := oldPath(target)
	if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.New(apperrors.CodeInstallFailed, "remove previous version", err)
	}
	return nil
}

// Install swaps the artifact into place, checking its digest again while
// writing, then relaunches. On success it does not return unless Exit was
// replaced.
func (a *AppImage) Install(ctx context.Context, art Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.New(apperrors.CodeInstallFailed, "install cancelled", err)
	}
	target, err := a.TargetPath()
	if err != nil {
		return "", apperrors.New(apperrors.CodeInstallFailed, "locate application", err)
	}
	checksum, err := hex.DecodeString(art.Digest)
	if err != nil {
		return "", apperrors.New(apperrors.CodeHashMismatch, "decode expected digest", err)
	}

	opts := goupdate.Options{
		TargetPath: target,
		TargetMode: 0o755,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}
	if err := opts.CheckPermissions(); err != nil {
		return "", apperrors.New(apperrors.CodeInstallPermission, "check write access", err)
	}

	//nolint:gosec // G304: Path is the verified artifact in the download directory
	f, err := os.Open(art.Path)
	if err != nil {
		return "", apperrors.New(apperrors.CodeInstallFailed, "open artifact", err)
	}
	defer func() { _ = f.Close() }()

	if err := goupdate.Apply(f, opts); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			appImageLog.Logf("rollback after failed replace also failed: %v", rerr)
			return "", apperrors.New(apperrors.CodeInstallFailed, "replace failed and could not be rolled back", err)
		}
		return "", apperrors.New(apperrors.CodeInstallFailed, "replace application", err)
	}
	appImageLog.Logf("replaced %s with %s", target, art.Version)

	if err := a.relaunch(target, os.Args[1:]); err != nil {
		return "", apperrors.New(apperrors.CodeRelaunchFailed, "start updated application", err)
	}
	a.exit(0)
	return target, nil
}
