package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hatch/internal/buildinfo"
	apperrors "hatch/internal/errors"
)

// DefaultTimeout bounds manifest requests. Artifact downloads have no
// overall timeout; they are cancelled through the context.
const DefaultTimeout = 15 * time.Second

// partialSuffix marks a download that has not completed.
const partialSuffix = ".partial"

// HTTPEngine is the default Engine. It fetches the manifest from a fixed URL
// and resolves artifact names relative to it.
type HTTPEngine struct {
	manifestURL    *url.URL
	currentVersion string
	downloadDir    string
	userAgent      string

	httpClient     *http.Client
	downloadClient *http.Client

	mu       sync.Mutex
	cached   []byte
	lastBody []byte
	etag     string
}

// EngineOption configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithHTTPClient sets the client used for manifest requests.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		e.httpClient = client
	}
}

// WithDownloadClient sets the client used for artifact downloads.
func WithDownloadClient(client *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		e.downloadClient = client
	}
}

// WithTimeout sets the manifest request timeout.
func WithTimeout(timeout time.Duration) EngineOption {
	return func(e *HTTPEngine) {
		e.httpClient.Timeout = timeout
	}
}

// WithDownloadDir sets where artifacts are staged.
func WithDownloadDir(dir string) EngineOption {
	return func(e *HTTPEngine) {
		e.downloadDir = dir
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) EngineOption {
	return func(e *HTTPEngine) {
		e.userAgent = ua
	}
}

// NewHTTPEngine creates an engine for the manifest at manifestURL. Plain
// http is accepted only in non-production builds.
func NewHTTPEngine(manifestURL, currentVersion string, opts ...EngineOption) (*HTTPEngine, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !buildinfo.Production:
	default:
		return nil, fmt.Errorf("manifest url %q: unsupported scheme %q", manifestURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("manifest url %q has no host", manifestURL)
	}

	e := &HTTPEngine{
		manifestURL:    u,
		currentVersion: currentVersion,
		downloadDir:    filepath.Join(os.TempDir(), "hatch-downloads"),
		userAgent:      "hatch-updater/" + currentVersion,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		downloadClient: &http.Client{
			Timeout: 0, // No timeout for downloads
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ManifestURL returns the manifest location.
func (e *HTTPEngine) ManifestURL() string {
	return e.manifestURL.String()
}

// CheckForUpdates fetches the manifest and compares its advertised version
// with the running one. The body is kept for the FetchManifest call that
// follows. A manifest whose version cannot be read counts as different so
// the verifier gets to report on it.
func (e *HTTPEngine) CheckForUpdates(ctx context.Context) (bool, error) {
	body, err := e.fetchManifest(ctx)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	e.cached = body
	e.mu.Unlock()

	var peek struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &peek); err != nil || peek.Version == "" {
		return true, nil
	}
	return strings.TrimPrefix(peek.Version, "v") != strings.TrimPrefix(e.currentVersion, "v"), nil
}

// FetchManifest returns the body cached by CheckForUpdates, or fetches it.
func (e *HTTPEngine) FetchManifest(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	body := e.cached
	e.cached = nil
	e.mu.Unlock()
	if body != nil {
		return body, nil
	}
	return e.fetchManifest(ctx)
}

// fetchManifest performs a conditional GET. A 304 answer yields the body
// stored with the matching ETag.
func (e *HTTPEngine) fetchManifest(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.manifestURL.String(), nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeManifestFetchFailed, "create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	e.mu.Lock()
	if e.etag != "" && e.lastBody != nil {
		req.Header.Set("If-None-Match", e.etag)
	}
	e.mu.Unlock()

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeManifestFetchFailed, "request manifest", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastBody == nil {
			return nil, apperrors.New(apperrors.CodeManifestFetchFailed, "unexpected 304 without a cached manifest", nil)
		}
		return e.lastBody, nil
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.CodeManifestFetchFailed,
			fmt.Sprintf("rate limited by update server: status %d", resp.StatusCode), nil)
	default:
		return nil, apperrors.New(apperrors.CodeManifestFetchFailed,
			fmt.Sprintf("manifest request: status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize+1))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeManifestFetchFailed, "read manifest", err)
	}
	if len(body) > maxManifestSize {
		return nil, apperrors.New(apperrors.CodeManifestMalformed,
			fmt.Sprintf("manifest exceeds %d bytes", maxManifestSize), nil)
	}

	e.mu.Lock()
	e.etag = resp.Header.Get("ETag")
	e.lastBody = body
	e.mu.Unlock()
	return body, nil
}

// ArtifactURL resolves the artifact's name against the manifest location.
func (e *HTTPEngine) ArtifactURL(artifact ArtifactDescriptor) (string, error) {
	ref, err := url.Parse(artifact.Name)
	if err != nil {
		return "", fmt.Errorf("parse artifact url: %w", err)
	}
	resolved := e.manifestURL.ResolveReference(ref)
	if resolved.Scheme != e.manifestURL.Scheme && resolved.Scheme != "https" {
		return "", fmt.Errorf("artifact url %q: scheme %q not allowed", artifact.Name, resolved.Scheme)
	}
	return resolved.String(), nil
}

// Download streams the artifact into the download directory. The file is
// written under a ".partial" name and renamed once complete, so a crash
// never leaves something that looks like a finished download.
func (e *HTTPEngine) Download(ctx context.Context, artifact ArtifactDescriptor, progress func(Progress)) (string, error) {
	src, err := e.ArtifactURL(artifact)
	if err != nil {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "resolve artifact", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "create request", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.downloadClient.Do(req)
	if err != nil {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "request artifact", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed,
			fmt.Sprintf("artifact request: status %d", resp.StatusCode), nil)
	}

	if err := os.MkdirAll(e.downloadDir, 0o700); err != nil {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "create download directory", err)
	}
	final := filepath.Join(e.downloadDir, artifact.FileName())
	partial := final + partialSuffix

	//nolint:gosec // G304: Name is the base name of a signed manifest entry
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "create staging file", err)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = artifact.Size
	}
	pw := &progressWriter{total: total, report: progress}

	_, copyErr := io.Copy(io.MultiWriter(out, pw), resp.Body)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "write artifact", copyErr)
	}

	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return "", apperrors.New(apperrors.CodeArtifactDownloadFailed, "finalize artifact", err)
	}
	if progress != nil {
		progress(Progress{Received: pw.received, Total: pw.received})
	}
	return final, nil
}

// CleanupStale empties the download directory: staging files left by
// interrupted downloads and artifacts of earlier runs. Nothing downloaded
// before startup is ever installed, so all of it is stale.
func (e *HTTPEngine) CleanupStale() error {
	entries, err := os.ReadDir(e.downloadDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read download dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(e.downloadDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// progressWriter reports progress whenever the whole percentage changes.
type progressWriter struct {
	received int64
	total    int64
	last     int
	report   func(Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.report == nil {
		return len(p), nil
	}
	pr := Progress{Received: w.received, Total: w.total}
	if pct := pr.Percent(); pct != w.last || w.total <= 0 {
		w.last = pct
		w.report(pr)
	}
	return len(p), nil
}
