package update

import "context"

// Progress reports bytes received for an artifact download. Total is zero
// when the size is unknown.
type Progress struct {
	Received int64
	Total    int64
}

// Percent returns download completion in 0..100, or 0 when Total is unknown.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return clampProgress(int(p.Received * 100 / p.Total))
}

// Engine is the transport the controller drives. It knows nothing about
// signatures, hashes, or versions policy; the controller verifies
// everything the engine returns.
type Engine interface {
	// CheckForUpdates reports whether the published release differs from
	// the running one.
	CheckForUpdates(ctx context.Context) (bool, error)
	// FetchManifest returns the raw published manifest.
	FetchManifest(ctx context.Context) ([]byte, error)
	// Download stores the artifact locally and returns its path. progress
	// may be called from the downloading goroutine.
	Download(ctx context.Context, artifact ArtifactDescriptor, progress func(Progress)) (string, error)
}

// StaleCleaner is implemented by engines that keep files between runs.
// Controller.Start calls CleanupStale before the first check.
type StaleCleaner interface {
	CleanupStale() error
}
