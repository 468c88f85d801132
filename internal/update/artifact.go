package update

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "hatch/internal/errors"
)

// DigestAlgorithm is the only digest the manifest signing tool emits and the
// only one the verifier accepts. It is fixed, not negotiated.
const DigestAlgorithm = "sha256"

// digestHexLen is the length of a hex-encoded SHA-256 digest.
const digestHexLen = sha256.Size * 2

// ArtifactDescriptor describes one downloadable release file.
type ArtifactDescriptor struct {
	Name   string // file name, relative to the manifest location
	SHA256 string // lowercase hex digest
	Size   int64  // advisory; zero when the manifest omits it
}

// VerifyArtifact streams r through SHA-256 and compares the full digest with
// expectedHex. Any difference, including a malformed expected digest, is a
// hash mismatch.
func VerifyArtifact(r io.Reader, expectedHex string) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	return compareDigest(hex.EncodeToString(h.Sum(nil)), expectedHex)
}

// VerifyArtifactFile verifies the file at path against expectedHex without
// loading it into memory.
func VerifyArtifactFile(path, expectedHex string) error {
	//nolint:gosec // G304: Path is the download engine's staging file
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	return VerifyArtifact(f, expectedHex)
}

// ComputeDigest returns the lowercase hex SHA-256 of the file at path.
func ComputeDigest(path string) (string, error) {
	//nolint:gosec // G304: Path comes from the caller; release tooling hashes local files
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeDigest trims and lowercases a hex digest and reports whether it
// has the shape of a SHA-256 digest.
func NormalizeDigest(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != digestHexLen {
		return s, false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return s, false
	}
	return s, true
}

func compareDigest(actual, expectedHex string) error {
	expected, ok := NormalizeDigest(expectedHex)
	if !ok {
		return apperrors.New(apperrors.CodeHashMismatch,
			fmt.Sprintf("expected digest %q is not a %s hex digest", expectedHex, DigestAlgorithm), nil)
	}
	if actual != expected {
		return apperrors.New(apperrors.CodeHashMismatch,
			fmt.Sprintf("%s mismatch: expected %s, got %s", DigestAlgorithm, expected, actual), nil)
	}
	return nil
}
