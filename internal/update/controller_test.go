package update

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "hatch/internal/errors"
	"hatch/internal/install"
)

const waitTimeout = 2 * time.Second

var darwinARM = Platform{OS: "darwin", Arch: "arm64"}

// fakeEngine serves one manifest and one artifact. Gates, when set, block
// the matching call until closed.
type fakeEngine struct {
	available   bool
	checkErr    error
	manifest    []byte
	fetchErr    error
	content     []byte
	downloadErr error
	dir         string
	// vanish removes the file before Download returns its path.
	vanish bool

	checkGate    chan struct{}
	downloadGate chan struct{}

	checks    atomic.Int32
	fetches   atomic.Int32
	downloads atomic.Int32

	mu    sync.Mutex
	order *[]string
}

func (e *fakeEngine) note(s string) {
	if e.order == nil {
		return
	}
	e.mu.Lock()
	*e.order = append(*e.order, s)
	e.mu.Unlock()
}

func (e *fakeEngine) CheckForUpdates(ctx context.Context) (bool, error) {
	e.checks.Add(1)
	e.note("check")
	if e.checkGate != nil {
		select {
		case <-e.checkGate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return e.available, e.checkErr
}

func (e *fakeEngine) FetchManifest(context.Context) ([]byte, error) {
	e.fetches.Add(1)
	return e.manifest, e.fetchErr
}

func (e *fakeEngine) Download(ctx context.Context, a ArtifactDescriptor, progress func(Progress)) (string, error) {
	e.downloads.Add(1)
	if e.downloadGate != nil {
		select {
		case <-e.downloadGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.downloadErr != nil {
		return "", e.downloadErr
	}
	total := int64(len(e.content))
	progress(Progress{Received: total / 2, Total: total})
	path := filepath.Join(e.dir, a.FileName())
	if err := os.WriteFile(path, e.content, 0o600); err != nil {
		return "", err
	}
	progress(Progress{Received: total, Total: total})
	if e.vanish {
		_ = os.Remove(path)
	}
	return path, nil
}

type fakeInstaller struct {
	kind       install.Kind
	installErr error
	location   string

	cleanups atomic.Int32
	installs atomic.Int32

	mu    sync.Mutex
	order *[]string
	got   install.Artifact
}

func (f *fakeInstaller) Kind() install.Kind { return f.kind }

func (f *fakeInstaller) CleanupStale(context.Context) error {
	f.cleanups.Add(1)
	if f.order != nil {
		f.mu.Lock()
		*f.order = append(*f.order, "cleanup")
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeInstaller) Install(_ context.Context, a install.Artifact) (string, error) {
	f.installs.Add(1)
	f.mu.Lock()
	f.got = a
	f.mu.Unlock()
	return f.location, f.installErr
}

type fakeJournal struct {
	mu          sync.Mutex
	phases      []string
	quarantined map[string]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{quarantined: make(map[string]string)}
}

func (j *fakeJournal) RecordPhase(_ context.Context, phase, version, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phases = append(j.phases, phase)
	return nil
}

func (j *fakeJournal) Quarantine(_ context.Context, name, digest, version, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.quarantined[name+"@"+digest] = reason
	return nil
}

func (j *fakeJournal) IsQuarantined(_ context.Context, name, digest string) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.quarantined[name+"@"+digest]
	return ok, nil
}

func (j *fakeJournal) recorded() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.phases...)
}

// recorder collects every state a subscriber sees.
type recorder struct {
	ch chan State

	mu  sync.Mutex
	all []State
}

func subscribe(t *testing.T, c *Controller) *recorder {
	t.Helper()
	r := &recorder{ch: make(chan State, 1024)}
	unsub := c.Subscribe(func(s State) {
		r.mu.Lock()
		r.all = append(r.all, s)
		r.mu.Unlock()
		r.ch <- s
	})
	t.Cleanup(unsub)
	return r
}

// waitFor consumes states until one with phase p arrives.
func (r *recorder) waitFor(t *testing.T, p Phase) State {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case s := <-r.ch:
			if s.Phase == p {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s; saw %v", p, r.phases())
		}
	}
}

func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.all))
	for _, s := range r.all {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

type scenario struct {
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	engine  *fakeEngine
	inst    *fakeInstaller
	content []byte
}

// newScenario publishes version with a correct digest for a DMG artifact.
func newScenario(t *testing.T, version string) *scenario {
	t.Helper()
	pub, priv := testKeys(1)
	content := []byte("disk image for " + version)
	s := &scenario{
		pub:     pub,
		priv:    priv,
		content: content,
		engine: &fakeEngine{
			available: true,
			content:   content,
			dir:       t.TempDir(),
		},
		inst: &fakeInstaller{kind: install.KindDMG, location: "/Volumes/Hatch Update"},
	}
	s.publish(t, version, digestOf(content))
	return s
}

func (s *scenario) publish(t *testing.T, version, digest string) {
	t.Helper()
	s.engine.manifest = signObject(t, s.priv, manifestObject(version,
		fileEntry("Hatch-"+version+"-universal.dmg", digest),
		fileEntry("Hatch-"+version+"-x86_64.AppImage", digest),
	))
}

func (s *scenario) controller(t *testing.T, opts ...ControllerOption) (*Controller, *recorder) {
	t.Helper()
	opts = append([]ControllerOption{WithPlatform(darwinARM), WithProduction(false)}, opts...)
	c, err := NewController(s.engine, s.inst, s.pub, "1.0.0", opts...)
	if err != nil {
		t.Fatalf("NewController() = %v", err)
	}
	t.Cleanup(c.Close)
	return c, subscribe(t, c)
}

func TestNewControllerValidates(t *testing.T) {
	pub, _ := testKeys(1)
	eng := &fakeEngine{}
	inst := &fakeInstaller{kind: install.KindDMG}
	if _, err := NewController(nil, inst, pub, "1.0.0"); err == nil {
		t.Error("nil engine should be rejected")
	}
	if _, err := NewController(eng, nil, pub, "1.0.0"); err == nil {
		t.Error("nil installer should be rejected")
	}
	if _, err := NewController(eng, inst, pub[:5], "1.0.0"); err == nil {
		t.Error("short key should be rejected")
	}
}

func TestControllerHappyPathDMG(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, rec := s.controller(t)

	if got := c.CheckNow(); got.Phase != PhaseChecking {
		t.Fatalf("CheckNow() = %s", got)
	}
	avail := rec.waitFor(t, PhaseAvailable)
	if avail.Version() != "2.0.0" {
		t.Errorf("available version = %q", avail.Version())
	}

	if got := c.DownloadUpdate(); got.Phase != PhaseDownloading {
		t.Fatalf("DownloadUpdate() = %s", got)
	}
	ready := rec.waitFor(t, PhaseReady)
	if filepath.Base(ready.ArtifactPath) != "Hatch-2.0.0-universal.dmg" {
		t.Errorf("ready artifact = %q", ready.ArtifactPath)
	}

	if got := c.RestartToUpdate(); got.Phase != PhaseMounting {
		t.Fatalf("RestartToUpdate() = %s", got)
	}
	mounted := rec.waitFor(t, PhaseMounted)
	if mounted.MountPoint != "/Volumes/Hatch Update" {
		t.Errorf("mount point = %q", mounted.MountPoint)
	}

	want := []Phase{PhaseIdle, PhaseChecking, PhaseAvailable, PhaseDownloading, PhaseDownloaded,
		PhaseVerifying, PhaseReady, PhaseMounting, PhaseMounted}
	got := rec.phases()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}

	s.inst.mu.Lock()
	art := s.inst.got
	s.inst.mu.Unlock()
	if art.Digest != digestOf(s.content) || art.Version != "2.0.0" {
		t.Errorf("installer got %+v", art)
	}
}

func TestControllerCheckNowIdempotentWhileChecking(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.checkGate = make(chan struct{})
	c, rec := s.controller(t)

	for i := 0; i < 5; i++ {
		if got := c.CheckNow(); got.Phase != PhaseChecking {
			t.Fatalf("CheckNow() #%d = %s", i, got)
		}
	}
	close(s.engine.checkGate)
	rec.waitFor(t, PhaseAvailable)

	if n := s.engine.checks.Load(); n != 1 {
		t.Errorf("engine checked %d times, want 1", n)
	}
	if n := s.engine.fetches.Load(); n != 1 {
		t.Errorf("manifest fetched %d times, want 1", n)
	}
}

func TestControllerCheckNowIgnoredWhileDownloading(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.downloadGate = make(chan struct{})
	c, rec := s.controller(t)

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	if got := c.CheckNow(); got.Phase != PhaseDownloading {
		t.Fatalf("CheckNow() during download = %s", got)
	}
	if got := c.DownloadUpdate(); got.Phase != PhaseDownloading {
		t.Fatalf("repeated DownloadUpdate() = %s", got)
	}
	close(s.engine.downloadGate)
	rec.waitFor(t, PhaseReady)

	if n := s.engine.checks.Load(); n != 1 {
		t.Errorf("engine checked %d times, want 1", n)
	}
	if n := s.engine.downloads.Load(); n != 1 {
		t.Errorf("engine downloaded %d times, want 1", n)
	}
}

func TestControllerWrongKey(t *testing.T) {
	s := newScenario(t, "2.0.0")
	_, otherPriv := testKeys(2)
	s.engine.manifest = signObject(t, otherPriv, manifestObject("2.0.0",
		fileEntry("Hatch-2.0.0.dmg", digestOf(s.content))))
	c, rec := s.controller(t)

	c.CheckNow()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err == nil || failed.Err.Kind != apperrors.CodeSignatureInvalid {
		t.Fatalf("failure = %+v, want signature invalid", failed.Err)
	}
	if !c.Held() {
		t.Fatal("signature failure should set the security hold")
	}

	if got := c.AutoCheck(); got.Phase != PhaseFailed {
		t.Errorf("AutoCheck() under hold = %s", got)
	}
	if n := s.engine.checks.Load(); n != 1 {
		t.Errorf("automatic check ran under hold: %d checks", n)
	}

	c.CheckNow()
	rec.waitFor(t, PhaseFailed)
	if n := s.engine.checks.Load(); n != 2 {
		t.Errorf("manual check should run under hold: %d checks", n)
	}
}

func TestControllerHashMismatch(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.publish(t, "2.0.0", strings.Repeat("deadbeef", 8))
	journal := newFakeJournal()
	c, rec := s.controller(t, WithJournal(journal))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err == nil || failed.Err.Kind != apperrors.CodeHashMismatch {
		t.Fatalf("failure = %+v, want hash mismatch", failed.Err)
	}
	for _, p := range rec.phases() {
		if p == PhaseReady {
			t.Fatal("mismatched artifact must never reach Ready")
		}
	}
	if !c.Held() {
		t.Error("hash mismatch should set the security hold")
	}
	if got := c.RestartToUpdate(); got.Phase != PhaseFailed {
		t.Errorf("RestartToUpdate() after mismatch = %s", got)
	}
	if n := s.inst.installs.Load(); n != 0 {
		t.Errorf("installer ran %d times", n)
	}

	ok, _ := journal.IsQuarantined(context.Background(), "Hatch-2.0.0-universal.dmg", strings.Repeat("deadbeef", 8))
	if !ok {
		t.Error("artifact should be quarantined")
	}
}

func TestControllerAutoDownloadSkipsQuarantined(t *testing.T) {
	s := newScenario(t, "2.0.0")
	digest := digestOf(s.content)
	journal := newFakeJournal()
	_ = journal.Quarantine(context.Background(), "Hatch-2.0.0-universal.dmg", digest, "2.0.0", "hash_mismatch")
	c, rec := s.controller(t, WithJournal(journal), WithAutoDownload(true))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	if got := c.State(); got.Phase != PhaseAvailable {
		t.Fatalf("state = %s, want available", got)
	}
	if n := s.engine.downloads.Load(); n != 0 {
		t.Errorf("quarantined artifact downloaded %d times", n)
	}
}

func TestControllerAutoDownload(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, rec := s.controller(t, WithAutoDownload(true))

	c.CheckNow()
	rec.waitFor(t, PhaseReady)
	if n := s.engine.downloads.Load(); n != 1 {
		t.Errorf("downloads = %d", n)
	}
}

func TestControllerDowngrade(t *testing.T) {
	for _, version := range []string{"0.9.0", "1.0.0", "1.0.0-rc.1"} {
		t.Run(version, func(t *testing.T) {
			s := newScenario(t, version)
			c, rec := s.controller(t)

			c.CheckNow()
			failed := rec.waitFor(t, PhaseFailed)
			if failed.Err == nil || failed.Err.Kind != apperrors.CodeNoDowngrade {
				t.Fatalf("failure = %+v, want no downgrade", failed.Err)
			}
			if c.Held() {
				t.Error("version policy failures are not security holds")
			}
			if n := s.engine.downloads.Load(); n != 0 {
				t.Error("nothing should be downloaded")
			}
		})
	}
}

func TestControllerUnparseableVersion(t *testing.T) {
	s := newScenario(t, "next")
	c, rec := s.controller(t)
	c.CheckNow()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err == nil || failed.Err.Kind != apperrors.CodeVersionUnparseable {
		t.Fatalf("failure = %+v, want version unparseable", failed.Err)
	}
}

func TestControllerNoUpdate(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.available = false
	c, rec := s.controller(t)

	c.CheckNow()
	rec.waitFor(t, PhaseChecking)
	rec.waitFor(t, PhaseIdle)
	if n := s.engine.fetches.Load(); n != 0 {
		t.Errorf("manifest fetched %d times without an update", n)
	}
}

func TestControllerTransientFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		s := newScenario(t, "2.0.0")
		s.engine.checkErr = errors.New("dial tcp: connection refused")
		c, rec := s.controller(t)

		c.CheckNow()
		failed := rec.waitFor(t, PhaseFailed)
		if failed.Err.Kind != apperrors.CodeManifestFetchFailed {
			t.Fatalf("failure = %+v", failed.Err)
		}
		if c.Held() {
			t.Error("network failure should not hold")
		}
		s.engine.checkErr = nil
		if got := c.AutoCheck(); got.Phase != PhaseChecking {
			t.Errorf("AutoCheck() after transient failure = %s", got)
		}
		rec.waitFor(t, PhaseAvailable)
	})

	t.Run("download", func(t *testing.T) {
		s := newScenario(t, "2.0.0")
		s.engine.downloadErr = errors.New("unexpected EOF")
		c, rec := s.controller(t)

		c.CheckNow()
		rec.waitFor(t, PhaseAvailable)
		c.DownloadUpdate()
		failed := rec.waitFor(t, PhaseFailed)
		if failed.Err.Kind != apperrors.CodeArtifactDownloadFailed {
			t.Fatalf("failure = %+v", failed.Err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		s := newScenario(t, "2.0.0")
		s.engine.manifest = []byte("<html>maintenance</html>")
		c, rec := s.controller(t)

		c.CheckNow()
		failed := rec.waitFor(t, PhaseFailed)
		if failed.Err.Kind != apperrors.CodeManifestMalformed {
			t.Fatalf("failure = %+v", failed.Err)
		}
	})
}

func TestControllerIgnoresIllegalCommands(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, _ := s.controller(t)

	if got := c.DownloadUpdate(); got.Phase != PhaseIdle {
		t.Errorf("DownloadUpdate() in idle = %s", got)
	}
	if got := c.RestartToUpdate(); got.Phase != PhaseIdle {
		t.Errorf("RestartToUpdate() in idle = %s", got)
	}
	if n := s.engine.downloads.Load() + s.inst.installs.Load(); n != 0 {
		t.Error("illegal commands must not reach the engine or installer")
	}
}

func TestControllerDropsLateProgress(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.downloadErr = errors.New("reset by peer")
	c, rec := s.controller(t)

	c.CheckNow()
	avail := rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	rec.waitFor(t, PhaseFailed)

	c.onProgress(avail.Release, 75)
	if got := c.State(); got.Phase != PhaseFailed {
		t.Fatalf("late progress changed phase to %s", got)
	}
}

func TestControllerAppImageInstallFailure(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.inst.kind = install.KindAppImage
	s.inst.installErr = apperrors.New(apperrors.CodeInstallPermission, "check write access", errors.New("permission denied"))
	c, rec := s.controller(t, WithPlatform(Platform{OS: "linux", Arch: "amd64"}))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	ready := rec.waitFor(t, PhaseReady)
	if filepath.Base(ready.ArtifactPath) != "Hatch-2.0.0-x86_64.AppImage" {
		t.Errorf("artifact = %q", ready.ArtifactPath)
	}

	if got := c.RestartToUpdate(); got.Phase != PhaseReady {
		t.Errorf("AppImage restart should not publish Mounting, got %s", got)
	}
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err.Kind != apperrors.CodeInstallPermission {
		t.Fatalf("failure = %+v", failed.Err)
	}
	for _, p := range rec.phases() {
		if p == PhaseMounting || p == PhaseMounted {
			t.Fatal("AppImage install must not mount")
		}
	}
}

func TestControllerRestartRechecksArtifact(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, rec := s.controller(t)

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	ready := rec.waitFor(t, PhaseReady)

	if err := os.WriteFile(ready.ArtifactPath, []byte("swapped after verification"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.RestartToUpdate()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err.Kind != apperrors.CodeHashMismatch {
		t.Fatalf("failure = %+v", failed.Err)
	}
	if n := s.inst.installs.Load(); n != 0 {
		t.Error("tampered artifact must not be installed")
	}
}

func TestControllerRefreshFromAvailable(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, rec := s.controller(t)

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)

	s.engine.available = false
	if got := c.CheckNow(); got.Phase != PhaseChecking {
		t.Fatalf("CheckNow() from available = %s", got)
	}
	idle := rec.waitFor(t, PhaseIdle)
	if idle.Release != nil {
		t.Errorf("refresh kept release %s", idle.Version())
	}
	if got := c.DownloadUpdate(); got.Phase != PhaseIdle {
		t.Errorf("DownloadUpdate() after refresh = %s", got)
	}
	if n := s.engine.downloads.Load(); n != 0 {
		t.Errorf("dropped release downloaded %d times", n)
	}
}

func TestControllerMissingArtifactAtRestart(t *testing.T) {
	s := newScenario(t, "2.0.0")
	journal := newFakeJournal()
	c, rec := s.controller(t, WithJournal(journal))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	ready := rec.waitFor(t, PhaseReady)

	if err := os.Remove(ready.ArtifactPath); err != nil {
		t.Fatal(err)
	}
	c.RestartToUpdate()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err.Kind != apperrors.CodeInstallFailed {
		t.Fatalf("failure = %+v, want install_failed", failed.Err)
	}
	if c.Held() {
		t.Error("a missing file is not a security failure")
	}
	if ok, _ := journal.IsQuarantined(context.Background(), "Hatch-2.0.0-universal.dmg", digestOf(s.content)); ok {
		t.Error("a missing file must not quarantine the artifact")
	}
	if n := s.inst.installs.Load(); n != 0 {
		t.Errorf("installer ran %d times", n)
	}
	if got := c.CheckNow(); got.Phase != PhaseChecking {
		t.Errorf("CheckNow() after install failure = %s", got)
	}
}

func TestControllerUnreadableDownload(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.vanish = true
	journal := newFakeJournal()
	c, rec := s.controller(t, WithJournal(journal))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	failed := rec.waitFor(t, PhaseFailed)
	if failed.Err.Kind != apperrors.CodeArtifactDownloadFailed {
		t.Fatalf("failure = %+v, want artifact_download_failed", failed.Err)
	}
	if c.Held() {
		t.Error("an unreadable download is not a security failure")
	}
	if ok, _ := journal.IsQuarantined(context.Background(), "Hatch-2.0.0-universal.dmg", digestOf(s.content)); ok {
		t.Error("an unreadable download must not quarantine the artifact")
	}
}

func TestControllerStartRemovesStaleDownloads(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "Hatch-1.9.0-universal.dmg"+partialSuffix)
	if err := os.WriteFile(stale, []byte("half"), 0o600); err != nil {
		t.Fatal(err)
	}
	eng, err := NewHTTPEngine("https://example.com/manifest.json", "1.0.0", WithDownloadDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	pub, _ := testKeys(1)
	c, err := NewController(eng, &fakeInstaller{kind: install.KindDMG}, pub, "1.0.0", WithCheckOnStart(false))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	c.Start(context.Background())
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale partial download survived Start: %v", err)
	}
}

func TestControllerStartCleansUpBeforeCheck(t *testing.T) {
	s := newScenario(t, "2.0.0")
	var order []string
	s.engine.order = &order
	s.inst.order = &order
	c, rec := s.controller(t)

	c.Start(context.Background())
	rec.waitFor(t, PhaseAvailable)

	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	if len(order) < 2 || order[0] != "cleanup" || order[1] != "check" {
		t.Fatalf("order = %v, want cleanup then check", order)
	}
}

func TestControllerStartWithoutInitialCheck(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, _ := s.controller(t, WithCheckOnStart(false))
	c.Start(context.Background())
	if got := c.State(); got.Phase != PhaseIdle {
		t.Fatalf("state = %s", got)
	}
	if s.inst.cleanups.Load() != 1 || s.engine.checks.Load() != 0 {
		t.Errorf("cleanups=%d checks=%d", s.inst.cleanups.Load(), s.engine.checks.Load())
	}
}

func TestControllerErrorMessages(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.checkErr = errors.New("open /Users/alice/Library/Caches/hatch/manifest.json: permission denied")

	c, rec := s.controller(t, WithProduction(true))
	c.CheckNow()
	failed := rec.waitFor(t, PhaseFailed)
	if strings.Contains(failed.Err.Message, "/Users") || strings.Contains(failed.Err.Message, "(") {
		t.Errorf("production message leaks detail: %q", failed.Err.Message)
	}

	s2 := newScenario(t, "2.0.0")
	s2.engine.checkErr = s.engine.checkErr
	c2, rec2 := s2.controller(t, WithProduction(false))
	c2.CheckNow()
	failed = rec2.waitFor(t, PhaseFailed)
	if !strings.Contains(failed.Err.Message, "permission denied") {
		t.Errorf("development message should carry the cause: %q", failed.Err.Message)
	}
	if strings.Contains(failed.Err.Message, "/Users/alice") {
		t.Errorf("development message should still strip paths: %q", failed.Err.Message)
	}
}

func TestControllerJournalRecordsTransitions(t *testing.T) {
	s := newScenario(t, "2.0.0")
	journal := newFakeJournal()
	c, rec := s.controller(t, WithJournal(journal))

	c.CheckNow()
	rec.waitFor(t, PhaseAvailable)
	c.DownloadUpdate()
	rec.waitFor(t, PhaseReady)
	c.Close()

	got := journal.recorded()
	want := []string{"checking", "available", "downloading", "downloaded", "verifying", "ready"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("journal = %v, want %v", got, want)
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, rec := s.controller(t)

	var once sync.Once
	c.Subscribe(func(st State) {
		_ = c.State()
		if st.Phase == PhaseAvailable {
			once.Do(func() { c.DownloadUpdate() })
		}
	})

	c.CheckNow()
	rec.waitFor(t, PhaseReady)
}

func TestSubscribeDeliversCurrentStateFirst(t *testing.T) {
	s := newScenario(t, "2.0.0")
	c, _ := s.controller(t)

	first := make(chan State, 1)
	unsub := c.Subscribe(func(st State) {
		select {
		case first <- st:
		default:
		}
	})
	defer unsub()

	select {
	case st := <-first:
		if st.Phase != PhaseIdle {
			t.Errorf("first state = %s", st)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no initial state delivered")
	}
}

func TestControllerCloseStopsWork(t *testing.T) {
	s := newScenario(t, "2.0.0")
	s.engine.checkGate = make(chan struct{})
	c, _ := s.controller(t)

	c.CheckNow()
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close() did not cancel the in-flight check")
	}
	if got := c.CheckNow(); got.Phase != PhaseChecking {
		t.Errorf("CheckNow() after Close() changed state to %s", got)
	}
}
