package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"hatch/internal/buildinfo"
	"hatch/internal/config"
	"hatch/internal/debug"
	"hatch/internal/install"
	"hatch/internal/journal"
	"hatch/internal/update"
)

var _ update.Journal = (*journal.Store)(nil)

const downloadDirName = "downloads"

type updaterOptions struct {
	stateDir       string
	currentVersion string
	headless       bool
	// installer replaces the platform installer, mainly for tests.
	installer install.Installer
}

// updater holds everything wired for one run.
type updater struct {
	controller     *update.Controller
	journal        *journal.Store
	scheduler      *update.Scheduler
	manifestURL    string
	currentVersion string

	mu   sync.Mutex
	quit func()
	code int
}

func newUpdater(ctx context.Context, opts updaterOptions) (*updater, error) {
	key, err := update.LoadPublicKey(update.KeyOverride{
		Value: config.GetString(config.KeyPublicKey),
		File:  config.GetString(config.KeyPublicKeyFile),
	})
	if err != nil {
		return nil, fmt.Errorf("load update key: %w", err)
	}

	manifestURL := config.ManifestURL(!buildinfo.Production)
	engine, err := update.NewHTTPEngine(manifestURL, opts.currentVersion,
		update.WithDownloadDir(filepath.Join(opts.stateDir, downloadDirName)),
		update.WithUserAgent("hatch-update/"+buildinfo.Version+" ("+runtime.GOOS+"/"+runtime.GOARCH+")"),
	)
	if err != nil {
		return nil, fmt.Errorf("configure update source: %w", err)
	}

	u := &updater{manifestURL: manifestURL, currentVersion: opts.currentVersion}

	installer := opts.installer
	if installer == nil {
		installer, err = install.New(runtime.GOOS, install.Options{
			MountPoint: config.GetString(config.KeyMountPoint),
			Exit:       u.requestExit,
		})
		if err != nil {
			return nil, fmt.Errorf("configure installer: %w", err)
		}
	}

	store, err := journal.Open(ctx, filepath.Join(opts.stateDir, journal.FileName))
	if err != nil {
		// The journal only adds history and quarantine; updating still works.
		debug.Logf("journal unavailable: %v", err)
	}
	u.journal = store

	ctlOpts := []update.ControllerOption{
		update.WithAutoDownload(!opts.headless && config.GetBool(config.KeyAutoDownload)),
		update.WithCheckOnStart(!opts.headless && config.GetBool(config.KeyCheckOnStart)),
	}
	if store != nil {
		ctlOpts = append(ctlOpts, update.WithJournal(store))
	}
	ctl, err := update.NewController(engine, installer, key, opts.currentVersion, ctlOpts...)
	if err != nil {
		u.closeJournal()
		return nil, err
	}
	u.controller = ctl
	u.scheduler = update.NewScheduler(ctl, config.AutoCheckInterval())

	debug.Logf("updater ready: version=%s source=%s installer=%s production=%t",
		opts.currentVersion, manifestURL, installer.Kind(), buildinfo.Production)
	return u, nil
}

// start runs the controller's startup work and, for interactive runs, the
// scheduler.
func (u *updater) start(ctx context.Context) {
	u.controller.Start(ctx)
	go u.scheduler.Run(ctx)
}

// onExit registers how to stop the UI when the installer asks the process
// to exit after relaunching.
func (u *updater) onExit(quit func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.quit = quit
}

func (u *updater) requestExit(code int) {
	u.mu.Lock()
	u.code = code
	quit := u.quit
	u.mu.Unlock()
	if quit != nil {
		quit()
	}
}

func (u *updater) exitCode() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.code
}

func (u *updater) Close() {
	if u.controller != nil {
		u.controller.Close()
	}
	u.closeJournal()
}

func (u *updater) closeJournal() {
	if u.journal == nil {
		return
	}
	if err := u.journal.Close(); err != nil {
		debug.Logf("close journal: %v", err)
	}
	u.journal = nil
}
