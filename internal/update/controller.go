package update

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"hatch/internal/buildinfo"
	"hatch/internal/debug"
	apperrors "hatch/internal/errors"
	"hatch/internal/install"
)

var updateLog = debug.Component("update")

// Journal persists the update history and the quarantine list. The
// controller treats every call as best effort.
type Journal interface {
	RecordPhase(ctx context.Context, phase, version, detail string) error
	Quarantine(ctx context.Context, name, digest, version, reason string) error
	IsQuarantined(ctx context.Context, name, digest string) (bool, error)
}

// Controller owns the update state machine. Its methods return promptly
// with the resulting state; long work runs on goroutines that report back
// through the same lock. No error crosses its surface: failures become the
// Failed phase.
type Controller struct {
	engine       Engine
	installer    install.Installer
	key          ed25519.PublicKey
	current      string
	platform     Platform
	journal      Journal
	production   bool
	autoDownload bool
	checkOnStart bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notifier *notifier

	mu          sync.Mutex
	state       State
	checking    bool
	downloading bool
	installing  bool
	held        bool // set by a security failure; blocks automatic work
	artifact    ArtifactDescriptor
	closed      bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithJournal records transitions and quarantines artifacts in j.
func WithJournal(j Journal) ControllerOption {
	return func(c *Controller) {
		c.journal = j
	}
}

// WithPlatform overrides the platform used to pick artifacts.
func WithPlatform(p Platform) ControllerOption {
	return func(c *Controller) {
		c.platform = p
	}
}

// WithAutoDownload starts downloading as soon as an update is available.
func WithAutoDownload(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.autoDownload = enabled
	}
}

// WithCheckOnStart controls whether Start runs an initial check.
func WithCheckOnStart(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.checkOnStart = enabled
	}
}

// WithProduction overrides the build's production flag, which decides how
// much failure detail reaches subscribers.
func WithProduction(production bool) ControllerOption {
	return func(c *Controller) {
		c.production = production
	}
}

// NewController creates a controller in the Idle phase.
func NewController(engine Engine, installer install.Installer, key ed25519.PublicKey, currentVersion string, opts ...ControllerOption) (*Controller, error) {
	if engine == nil {
		return nil, fmt.Errorf("update controller needs an engine")
	}
	if installer == nil {
		return nil, fmt.Errorf("update controller needs an installer")
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("update controller needs a %d-byte public key, got %d", ed25519.PublicKeySize, len(key))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:       engine,
		installer:    installer,
		key:          key,
		current:      currentVersion,
		platform:     CurrentPlatform(),
		production:   buildinfo.Production,
		checkOnStart: true,
		ctx:          ctx,
		cancel:       cancel,
		notifier:     newNotifier(),
		state:        idleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.journal != nil {
		c.notifier.subscribe(c.recordTransitions(), c.state)
	}
	return c, nil
}

// Start ties the controller to ctx, removes leftovers of a previous run
// (installer state, and downloads when the engine is a StaleCleaner) and,
// unless disabled, starts the first check.
func (c *Controller) Start(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.cancel)
	go func() {
		<-c.ctx.Done()
		stop()
	}()

	if err := c.installer.CleanupStale(c.ctx); err != nil {
		updateLog.Logf("stale cleanup (%s): %v", c.installer.Kind(), err)
	}
	if cleaner, ok := c.engine.(StaleCleaner); ok {
		if err := cleaner.CleanupStale(); err != nil {
			updateLog.Logf("stale download cleanup: %v", err)
		}
	}
	if c.checkOnStart {
		c.check(false)
	}
}

// Close cancels in-flight work, waits for it, and stops notifications.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.notifier.close()
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Held reports whether a security failure is blocking automatic work.
func (c *Controller) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Subscribe registers fn for every state change. fn first receives the
// current state, then each transition in order, on a single goroutine.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier.subscribe(fn, c.state)
}

// CheckNow starts a manual check. It lifts a security hold. While a check
// or download is running it does nothing and returns the current state.
//
// Besides Idle and Failed, a check is accepted from Available and Mounted.
// From Available it is a refresh: the offered release is dropped and the
// check decides again what, if anything, is offered. From Mounted it starts
// a new cycle after a disk image was opened.
func (c *Controller) CheckNow() State {
	return c.check(true)
}

// AutoCheck starts a scheduled check. It does nothing while a security
// hold is in place.
func (c *Controller) AutoCheck() State {
	return c.check(false)
}

func (c *Controller) check(manual bool) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state
	}
	if c.checking || c.downloading || c.installing {
		updateLog.Logf("check ignored: operation in flight (%s)", c.state.Phase)
		return c.state
	}
	if !manual && c.held {
		updateLog.Logf("automatic check skipped: security hold")
		return c.state
	}
	switch c.state.Phase {
	case PhaseIdle, PhaseFailed, PhaseAvailable, PhaseMounted:
	default:
		updateLog.Logf("check ignored in phase %s", c.state.Phase)
		return c.state
	}

	if manual && c.held {
		updateLog.Logf("security hold lifted by manual check")
		c.held = false
	}
	c.checking = true
	c.transitionLocked(checkingState())

	c.wg.Add(1)
	go c.runCheck()
	return c.state
}

func (c *Controller) runCheck() {
	defer c.wg.Done()

	release, artifact, err := c.discover()
	quarantined := false
	if err == nil && release != nil {
		quarantined = c.isQuarantined(artifact)
	}
	c.finishCheck(release, artifact, quarantined, err)
}

// discover asks the engine for a release and verifies it. A nil release
// with a nil error means there is nothing new.
func (c *Controller) discover() (*ReleaseInfo, ArtifactDescriptor, error) {
	available, err := c.engine.CheckForUpdates(c.ctx)
	if err != nil {
		return nil, ArtifactDescriptor{}, withCode(err, apperrors.CodeManifestFetchFailed)
	}
	if !available {
		return nil, ArtifactDescriptor{}, nil
	}

	raw, err := c.engine.FetchManifest(c.ctx)
	if err != nil {
		return nil, ArtifactDescriptor{}, withCode(err, apperrors.CodeManifestFetchFailed)
	}
	release, err := VerifyManifest(raw, c.key)
	if err != nil {
		return nil, ArtifactDescriptor{}, err
	}
	if err := Gate(c.current, release.Version()); err != nil {
		return nil, ArtifactDescriptor{}, err
	}
	artifact, err := SelectArtifact(release.Files(), c.platform)
	if err != nil {
		return nil, ArtifactDescriptor{}, err
	}
	return release, artifact, nil
}

func (c *Controller) finishCheck(release *ReleaseInfo, artifact ArtifactDescriptor, quarantined bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checking = false
	if c.closed {
		return
	}
	if c.state.Phase != PhaseChecking {
		updateLog.Logf("dropped check result in phase %s", c.state.Phase)
		return
	}

	switch {
	case err != nil:
		c.failLocked(nil, err)
	case release == nil:
		updateLog.Logf("no update: running %s", c.current)
		c.transitionLocked(idleState())
	default:
		c.artifact = artifact
		c.transitionLocked(availableState(release))
		switch {
		case !c.autoDownload:
		case quarantined:
			updateLog.Logf("auto-download skipped: %s %s is quarantined", artifact.Name, artifact.SHA256)
		default:
			c.startDownloadLocked()
		}
	}
}

// DownloadUpdate starts downloading the available release. Outside the
// Available phase, or while a download runs, it does nothing.
func (c *Controller) DownloadUpdate() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.checking || c.downloading {
		return c.state
	}
	if c.state.Phase != PhaseAvailable {
		updateLog.Logf("download ignored in phase %s", c.state.Phase)
		return c.state
	}
	c.startDownloadLocked()
	return c.state
}

func (c *Controller) startDownloadLocked() {
	release := c.state.Release
	artifact := c.artifact
	c.downloading = true
	c.transitionLocked(downloadingState(release, 0))

	c.wg.Add(1)
	go c.runDownload(release, artifact)
}

func (c *Controller) runDownload(release *ReleaseInfo, artifact ArtifactDescriptor) {
	defer c.wg.Done()

	path, err := c.engine.Download(c.ctx, artifact, func(p Progress) {
		c.onProgress(release, p.Percent())
	})
	if err != nil {
		c.finishDownload(release, "", withCode(err, apperrors.CodeArtifactDownloadFailed))
		return
	}
	if !c.onDownloaded(release, path) {
		return
	}

	err = c.verify(release, artifact, path)
	if apperrors.IsCode(err, apperrors.CodeHashMismatch) {
		c.quarantine(release, artifact, err)
	}
	c.finishDownload(release, path, err)
}

func (c *Controller) onProgress(release *ReleaseInfo, pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseDownloading || c.state.Release != release {
		updateLog.Logf("dropped progress %d%% in phase %s", pct, c.state.Phase)
		return
	}
	if pct == c.state.Progress {
		return
	}
	c.transitionLocked(downloadingState(release, pct))
}

// onDownloaded moves through Downloaded into Verifying. It reports false
// when the download is no longer the current operation.
func (c *Controller) onDownloaded(release *ReleaseInfo, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Phase != PhaseDownloading || c.state.Release != release {
		updateLog.Logf("dropped download completion in phase %s", c.state.Phase)
		c.downloading = false
		return false
	}
	c.transitionLocked(downloadedState(release, path))
	c.transitionLocked(verifyingState(release, path))
	return true
}

// verify runs every check an artifact must pass before it may be
// installed: the manifest signature again, the artifact digest, and the
// version policy.
func (c *Controller) verify(release *ReleaseInfo, artifact ArtifactDescriptor, path string) error {
	if err := release.Reverify(c.key); err != nil {
		return err
	}
	// A digest mismatch already carries CodeHashMismatch; anything else
	// means the file could not be read back.
	if err := VerifyArtifactFile(path, artifact.SHA256); err != nil {
		return withCode(err, apperrors.CodeArtifactDownloadFailed)
	}
	return Gate(c.current, release.Version())
}

func (c *Controller) finishDownload(release *ReleaseInfo, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.downloading = false
	if c.closed {
		return
	}
	switch c.state.Phase {
	case PhaseDownloading, PhaseVerifying:
	default:
		updateLog.Logf("dropped download result in phase %s", c.state.Phase)
		return
	}
	if err != nil {
		c.failLocked(release, err)
		return
	}
	c.transitionLocked(readyState(release, path))
}

// RestartToUpdate installs the ready artifact. For a disk image the phase
// moves through Mounting to Mounted; an AppImage is replaced and the
// process relaunches.
func (c *Controller) RestartToUpdate() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.installing {
		return c.state
	}
	if c.state.Phase != PhaseReady {
		updateLog.Logf("restart ignored in phase %s", c.state.Phase)
		return c.state
	}

	release := c.state.Release
	path := c.state.ArtifactPath
	artifact := c.artifact
	c.installing = true
	if c.installer.Kind().Mounts() {
		c.transitionLocked(mountingState(release, path))
	}

	c.wg.Add(1)
	go c.runInstall(release, artifact, path)
	return c.state
}

func (c *Controller) runInstall(release *ReleaseInfo, artifact ArtifactDescriptor, path string) {
	defer c.wg.Done()

	// The file sat on disk since Verifying; check it once more.
	err := VerifyArtifactFile(path, artifact.SHA256)
	if err != nil {
		err = withCode(err, apperrors.CodeInstallFailed)
		if apperrors.IsCode(err, apperrors.CodeHashMismatch) {
			c.quarantine(release, artifact, err)
		}
	}
	var location string
	if err == nil {
		location, err = c.installer.Install(c.ctx, install.Artifact{
			Path:    path,
			Digest:  artifact.SHA256,
			Version: release.Version(),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.installing = false
	if c.closed {
		return
	}
	if err != nil {
		c.failLocked(release, err)
		return
	}
	if c.installer.Kind().Mounts() {
		c.transitionLocked(mountedState(release, location))
		return
	}
	updateLog.Logf("installed %s at %s; relaunch pending", release.Version(), location)
}

// failLocked moves to Failed. Security failures also set the hold.
func (c *Controller) failLocked(release *ReleaseInfo, err error) {
	info := apperrors.Describe(err, c.production)
	updateLog.Logf("failure %s: %v", info.Kind, err)
	switch {
	case apperrors.IsSecurityRelevant(info.Kind):
		c.held = true
		updateLog.Logf("security hold set after %s", info.Kind)
	case apperrors.IsTransient(info.Kind):
		updateLog.Logf("%s is transient; the next check retries", info.Kind)
	}
	c.transitionLocked(failedState(release, info))
}

// transitionLocked applies next if the state machine allows it.
func (c *Controller) transitionLocked(next State) bool {
	prev := c.state.Phase
	if !CanTransition(prev, next.Phase) {
		updateLog.Logf("dropped transition %s -> %s", prev, next.Phase)
		return false
	}
	c.state = next
	if prev != next.Phase {
		updateLog.Logf("%s -> %s", prev, next)
	}
	c.notifier.publish(next)
	return true
}

func (c *Controller) isQuarantined(artifact ArtifactDescriptor) bool {
	if c.journal == nil {
		return false
	}
	q, err := c.journal.IsQuarantined(c.ctx, artifact.Name, artifact.SHA256)
	if err != nil {
		updateLog.Logf("quarantine lookup: %v", err)
		return false
	}
	return q
}

func (c *Controller) quarantine(release *ReleaseInfo, artifact ArtifactDescriptor, cause error) {
	if c.journal == nil {
		return
	}
	reason := string(apperrors.CodeOf(cause))
	if err := c.journal.Quarantine(c.ctx, artifact.Name, artifact.SHA256, release.Version(), reason); err != nil {
		updateLog.Logf("quarantine %s: %v", artifact.Name, err)
	}
}

// recordTransitions returns the subscriber that journals phase changes.
// Progress updates within Downloading are not recorded.
func (c *Controller) recordTransitions() func(State) {
	var last Phase = -1
	return func(s State) {
		if s.Phase == last {
			return
		}
		first := last == -1
		last = s.Phase
		if first {
			return
		}
		detail := ""
		switch {
		case s.Err != nil:
			detail = string(s.Err.Kind)
		case s.MountPoint != "":
			detail = s.MountPoint
		}
		if err := c.journal.RecordPhase(context.Background(), s.Phase.String(), s.Version(), detail); err != nil {
			updateLog.Logf("journal: %v", err)
		}
	}
}

// withCode attaches code to err unless it already carries one.
func withCode(err error, code apperrors.Code) error {
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	return apperrors.New(code, "", err)
}
