package update

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	apperrors "hatch/internal/errors"
)

// Manifest field names.
const (
	fieldVersion      = "version"
	fieldFiles        = "files"
	fieldSignature    = "signature"
	fieldURL          = "url"
	fieldSize         = "size"
	fieldReleaseNotes = "releaseNotes"
	fieldReleaseDate  = "releaseDate"
)

// maxManifestSize bounds how much of a manifest response is read.
const maxManifestSize = 1 << 20

// ReleaseInfo is a verified release manifest. It is immutable: accessors
// return copies.
type ReleaseInfo struct {
	version   string
	files     []ArtifactDescriptor
	signature []byte
	raw       []byte
	notes     string
	date      time.Time
}

// Version returns the release's semantic version string as published.
func (r *ReleaseInfo) Version() string { return r.version }

// Files returns the artifact descriptors.
func (r *ReleaseInfo) Files() []ArtifactDescriptor {
	return append([]ArtifactDescriptor(nil), r.files...)
}

// Signature returns the detached manifest signature.
func (r *ReleaseInfo) Signature() []byte { return bytes.Clone(r.signature) }

// Raw returns the manifest bytes the release was verified from.
func (r *ReleaseInfo) Raw() []byte { return bytes.Clone(r.raw) }

// Notes returns the markdown release notes, if any.
func (r *ReleaseInfo) Notes() string { return r.notes }

// Date returns the release date, or the zero time when absent.
func (r *ReleaseInfo) Date() time.Time { return r.date }

// Reverify checks the retained manifest bytes against key again and
// confirms they still describe the same release.
func (r *ReleaseInfo) Reverify(key ed25519.PublicKey) error {
	again, err := VerifyManifest(r.raw, key)
	if err != nil {
		return err
	}
	if again.version != r.version {
		return apperrors.New(apperrors.CodeSignatureInvalid, "retained manifest no longer matches release", nil)
	}
	return nil
}

// VerifyManifest authenticates raw against key and returns the release it
// describes. The signature is checked before any field other than
// "signature" is inspected, so a bad signature is always reported as
// CodeSignatureInvalid.
func VerifyManifest(raw []byte, key ed25519.PublicKey) (*ReleaseInfo, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeManifestMalformed, "decode manifest", err)
	}

	sig, err := verifySignature(obj, key)
	if err != nil {
		return nil, err
	}

	release, err := parseRelease(obj)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeManifestMalformed, "parse manifest", err)
	}
	release.signature = sig
	release.raw = bytes.Clone(raw)
	return release, nil
}

// CanonicalPayload returns the bytes covered by the manifest signature: the
// object without its "signature" member, keys sorted, no insignificant
// whitespace, no HTML escaping, numbers as written.
func CanonicalPayload(obj map[string]any) ([]byte, error) {
	unsigned := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == fieldSignature {
			continue
		}
		unsigned[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(unsigned); err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SignManifest signs raw (a manifest with or without an existing signature)
// and returns the manifest with a fresh "signature" member, indented for
// publishing.
func SignManifest(raw []byte, key ed25519.PrivateKey) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	payload, err := CanonicalPayload(obj)
	if err != nil {
		return nil, err
	}
	obj[fieldSignature] = base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode signed manifest: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(raw) > maxManifestSize {
		return nil, fmt.Errorf("manifest is %d bytes, limit is %d", len(raw), maxManifestSize)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after manifest object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest is not a JSON object")
	}
	return obj, nil
}

func verifySignature(obj map[string]any, key ed25519.PublicKey) ([]byte, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid,
			fmt.Sprintf("public key has %d bytes, want %d", len(key), ed25519.PublicKeySize), nil)
	}
	encoded, ok := obj[fieldSignature].(string)
	if !ok || strings.TrimSpace(encoded) == "" {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest has no signature", nil)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "decode signature", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid,
			fmt.Sprintf("signature has %d bytes, want %d", len(sig), ed25519.SignatureSize), nil)
	}
	payload, err := CanonicalPayload(obj)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "canonicalize manifest", err)
	}
	if !ed25519.Verify(key, payload, sig) {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "signature does not match manifest", nil)
	}
	return sig, nil
}

func parseRelease(obj map[string]any) (*ReleaseInfo, error) {
	version, ok := obj[fieldVersion].(string)
	if !ok || strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("field %q must be a non-empty string", fieldVersion)
	}

	rawFiles, ok := obj[fieldFiles].([]any)
	if !ok {
		return nil, fmt.Errorf("field %q must be an array", fieldFiles)
	}
	if len(rawFiles) == 0 {
		return nil, fmt.Errorf("field %q is empty", fieldFiles)
	}

	files := make([]ArtifactDescriptor, 0, len(rawFiles))
	for i, rf := range rawFiles {
		desc, err := parseArtifact(rf)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", fieldFiles, i, err)
		}
		files = append(files, desc)
	}

	release := &ReleaseInfo{
		version: strings.TrimSpace(version),
		files:   files,
	}

	if v, present := obj[fieldReleaseNotes]; present {
		notes, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", fieldReleaseNotes)
		}
		release.notes = notes
	}
	if v, present := obj[fieldReleaseDate]; present {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", fieldReleaseDate)
		}
		date, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldReleaseDate, err)
		}
		release.date = date
	}

	return release, nil
}

func parseArtifact(v any) (ArtifactDescriptor, error) {
	entry, ok := v.(map[string]any)
	if !ok {
		return ArtifactDescriptor{}, fmt.Errorf("entry must be an object")
	}

	name, ok := entry[fieldURL].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return ArtifactDescriptor{}, fmt.Errorf("field %q must be a non-empty string", fieldURL)
	}
	switch path.Base(strings.TrimSpace(name)) {
	case ".", "/", "..":
		return ArtifactDescriptor{}, fmt.Errorf("field %q does not name a file", fieldURL)
	}

	rawDigest, present := entry[DigestAlgorithm]
	if !present {
		return ArtifactDescriptor{}, fmt.Errorf("entry %q has no %s digest", name, DigestAlgorithm)
	}
	digestStr, ok := rawDigest.(string)
	if !ok {
		return ArtifactDescriptor{}, fmt.Errorf("entry %q: %s must be a string", name, DigestAlgorithm)
	}
	digest, ok := NormalizeDigest(digestStr)
	if !ok {
		return ArtifactDescriptor{}, fmt.Errorf("entry %q: %s is not a %d-char hex digest", name, DigestAlgorithm, digestHexLen)
	}

	desc := ArtifactDescriptor{Name: strings.TrimSpace(name), SHA256: digest}
	if rawSize, present := entry[fieldSize]; present {
		num, ok := rawSize.(json.Number)
		if !ok {
			return ArtifactDescriptor{}, fmt.Errorf("entry %q: %s must be a number", name, fieldSize)
		}
		size, err := num.Int64()
		if err != nil || size < 0 {
			return ArtifactDescriptor{}, fmt.Errorf("entry %q: %s must be a non-negative integer", name, fieldSize)
		}
		desc.Size = size
	}
	return desc, nil
}

// FileName returns the base name used when the artifact is stored locally.
func (d ArtifactDescriptor) FileName() string {
	return path.Base(d.Name)
}
