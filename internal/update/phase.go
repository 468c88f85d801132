package update

import (
	"fmt"

	apperrors "hatch/internal/errors"
)

// Phase is the controller's position in the update lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseAvailable
	PhaseDownloading
	PhaseDownloaded
	PhaseVerifying
	PhaseReady
	PhaseMounting
	PhaseMounted
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:        "idle",
	PhaseChecking:    "checking",
	PhaseAvailable:   "available",
	PhaseDownloading: "downloading",
	PhaseDownloaded:  "downloaded",
	PhaseVerifying:   "verifying",
	PhaseReady:       "ready",
	PhaseMounting:    "mounting",
	PhaseMounted:     "mounted",
	PhaseFailed:      "failed",
}

// String returns the lowercase phase name.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Busy reports whether an operation is running in this phase.
func (p Phase) Busy() bool {
	switch p {
	case PhaseChecking, PhaseDownloading, PhaseDownloaded, PhaseVerifying, PhaseMounting:
		return true
	}
	return false
}

// State is a snapshot of the controller. Only the payload fields relevant to
// Phase are set.
type State struct {
	Phase        Phase
	Release      *ReleaseInfo    // Available onward
	Progress     int             // Downloading, 0..100
	ArtifactPath string          // Downloaded, Verifying, Ready
	MountPoint   string          // Mounted
	Err          *apperrors.Info // Failed
}

func idleState() State { return State{Phase: PhaseIdle} }

func checkingState() State { return State{Phase: PhaseChecking} }

func availableState(r *ReleaseInfo) State {
	return State{Phase: PhaseAvailable, Release: r}
}

func downloadingState(r *ReleaseInfo, progress int) State {
	return State{Phase: PhaseDownloading, Release: r, Progress: clampProgress(progress)}
}

func downloadedState(r *ReleaseInfo, path string) State {
	return State{Phase: PhaseDownloaded, Release: r, Progress: 100, ArtifactPath: path}
}

func verifyingState(r *ReleaseInfo, path string) State {
	return State{Phase: PhaseVerifying, Release: r, ArtifactPath: path}
}

func readyState(r *ReleaseInfo, path string) State {
	return State{Phase: PhaseReady, Release: r, ArtifactPath: path}
}

func mountingState(r *ReleaseInfo, path string) State {
	return State{Phase: PhaseMounting, Release: r, ArtifactPath: path}
}

func mountedState(r *ReleaseInfo, mountPoint string) State {
	return State{Phase: PhaseMounted, Release: r, MountPoint: mountPoint}
}

func failedState(r *ReleaseInfo, info apperrors.Info) State {
	return State{Phase: PhaseFailed, Release: r, Err: &info}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Version returns the offered release version, or "" when there is none.
func (s State) Version() string {
	if s.Release == nil {
		return ""
	}
	return s.Release.Version()
}

func (s State) String() string {
	switch s.Phase {
	case PhaseAvailable, PhaseReady, PhaseMounting:
		return fmt.Sprintf("%s %s", s.Phase, s.Version())
	case PhaseDownloading:
		return fmt.Sprintf("%s %s %d%%", s.Phase, s.Version(), s.Progress)
	case PhaseMounted:
		return fmt.Sprintf("%s %s at %s", s.Phase, s.Version(), s.MountPoint)
	case PhaseFailed:
		if s.Err != nil {
			return fmt.Sprintf("%s: %s", s.Phase, s.Err)
		}
	}
	return s.Phase.String()
}

// transitions lists, for each phase, the phases it may move to.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseChecking, PhaseFailed},
	PhaseChecking:    {PhaseIdle, PhaseAvailable, PhaseFailed},
	PhaseAvailable:   {PhaseChecking, PhaseDownloading, PhaseFailed},
	PhaseDownloading: {PhaseDownloading, PhaseDownloaded, PhaseFailed},
	PhaseDownloaded:  {PhaseVerifying, PhaseFailed},
	PhaseVerifying:   {PhaseReady, PhaseFailed},
	PhaseReady:       {PhaseMounting, PhaseFailed},
	PhaseMounting:    {PhaseMounted, PhaseFailed},
	PhaseMounted:     {PhaseChecking},
	PhaseFailed:      {PhaseChecking, PhaseFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
