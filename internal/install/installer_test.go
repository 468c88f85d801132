package install

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	apperrors "hatch/internal/errors"
)

// fakeRunner records commands and fails those whose name matches fail.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.calls = append(r.calls, line)
	for prefix := range r.fail {
		if strings.HasPrefix(line, prefix) {
			return []byte("resource busy"), fmt.Errorf("%s: exit status 1", name)
		}
	}
	return nil, nil
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestNewSelectsVariant(t *testing.T) {
	dmg, err := New("darwin", Options{MountPoint: "/Volumes/Hatch Update"})
	if err != nil {
		t.Fatalf("New(darwin) = %v", err)
	}
	if dmg.Kind() != KindDMG || !dmg.Kind().Mounts() {
		t.Errorf("darwin kind = %s", dmg.Kind())
	}

	app, err := New("linux", Options{})
	if err != nil {
		t.Fatalf("New(linux) = %v", err)
	}
	if app.Kind() != KindAppImage || app.Kind().Mounts() {
		t.Errorf("linux kind = %s", app.Kind())
	}

	if _, err := New("windows", Options{}); !apperrors.IsCode(err, apperrors.CodeInstallFailed) {
		t.Errorf("New(windows) = %v", err)
	}
	if _, err := New("darwin", Options{}); err == nil {
		t.Error("New(darwin) without a mount point should fail")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindDMG, "dmg"},
		{KindAppImage, "appimage"},
		{Kind(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
