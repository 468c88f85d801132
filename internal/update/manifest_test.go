package update

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	apperrors "hatch/internal/errors"
)

// testKeys returns a deterministic keypair; seed selects which one.
func testKeys(seed byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return priv.Public().(ed25519.PublicKey), priv
}

func manifestObject(version string, files ...map[string]any) map[string]any {
	list := make([]any, 0, len(files))
	for _, f := range files {
		list = append(list, f)
	}
	return map[string]any{
		"version": version,
		"files":   list,
	}
}

func fileEntry(name, digest string) map[string]any {
	return map[string]any{"url": name, "sha256": digest}
}

func signObject(t *testing.T, priv ed25519.PrivateKey, obj map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	signed, err := SignManifest(raw, priv)
	if err != nil {
		t.Fatalf("SignManifest: %v", err)
	}
	return signed
}

func TestVerifyManifestValid(t *testing.T) {
	pub, priv := testKeys(1)
	digest := digestOf([]byte("payload"))
	obj := manifestObject("2.1.0", fileEntry("Hatch-2.1.0-arm64.dmg", strings.ToUpper(digest)))
	obj["releaseNotes"] = "## Fixes\n- faster sync"
	obj["releaseDate"] = "2026-09-30T12:00:00Z"
	raw := signObject(t, priv, obj)

	release, err := VerifyManifest(raw, pub)
	if err != nil {
		t.Fatalf("VerifyManifest() = %v", err)
	}
	if release.Version() != "2.1.0" {
		t.Errorf("Version() = %q", release.Version())
	}
	files := release.Files()
	if len(files) != 1 || files[0].Name != "Hatch-2.1.0-arm64.dmg" || files[0].SHA256 != digest {
		t.Errorf("Files() = %+v", files)
	}
	if release.Notes() == "" || release.Date().IsZero() {
		t.Errorf("expected notes and date, got %q %v", release.Notes(), release.Date())
	}
	if len(release.Signature()) != ed25519.SignatureSize {
		t.Errorf("Signature() has %d bytes", len(release.Signature()))
	}
	if !bytes.Equal(release.Raw(), raw) {
		t.Error("Raw() should return the verified bytes")
	}
	if err := release.Reverify(pub); err != nil {
		t.Errorf("Reverify() = %v", err)
	}
}

func TestVerifyManifestIgnoresFormatting(t *testing.T) {
	pub, priv := testKeys(1)
	signed := signObject(t, priv, manifestObject("2.0.0", fileEntry("a.AppImage", digestOf([]byte("a")))))

	// Re-encode compactly with different key order; the signature covers
	// the canonical form, not the bytes.
	var obj map[string]any
	if err := json.Unmarshal(signed, &obj); err != nil {
		t.Fatal(err)
	}
	compact, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyManifest(compact, pub); err != nil {
		t.Fatalf("VerifyManifest(compact) = %v", err)
	}
}

func TestVerifyManifestWrongKey(t *testing.T) {
	_, priv := testKeys(1)
	otherPub, _ := testKeys(2)
	raw := signObject(t, priv, manifestObject("2.0.0", fileEntry("a.dmg", digestOf([]byte("a")))))

	_, err := VerifyManifest(raw, otherPub)
	if !apperrors.IsCode(err, apperrors.CodeSignatureInvalid) {
		t.Fatalf("VerifyManifest() with wrong key = %v, want signature invalid", err)
	}
}

func TestVerifyManifestTampered(t *testing.T) {
	pub, priv := testKeys(1)
	raw := signObject(t, priv, manifestObject("2.0.0", fileEntry("a.dmg", digestOf([]byte("a")))))

	tampered := bytes.Replace(raw, []byte(`"2.0.0"`), []byte(`"9.0.0"`), 1)
	if bytes.Equal(tampered, raw) {
		t.Fatal("tamper did not change manifest")
	}
	if _, err := VerifyManifest(tampered, pub); !apperrors.IsCode(err, apperrors.CodeSignatureInvalid) {
		t.Fatalf("VerifyManifest(tampered) = %v, want signature invalid", err)
	}
}

func TestVerifyManifestBadSignatureBeatsBadShape(t *testing.T) {
	pub, _ := testKeys(1)
	bogus := base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))

	tests := []struct {
		name string
		raw  string
	}{
		{"missing signature", `{"version":"2.0.0","files":[]}`},
		{"empty signature", `{"signature":"","version":"2.0.0"}`},
		{"signature not base64", `{"signature":"***","version":"2.0.0"}`},
		{"signature wrong length", `{"signature":"AAAA","files":"nope"}`},
		{"zero signature on broken fields", `{"signature":"` + bogus + `","files":42}`},
		{"signature is a number", `{"signature":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyManifest([]byte(tt.raw), pub)
			if !apperrors.IsCode(err, apperrors.CodeSignatureInvalid) {
				t.Fatalf("VerifyManifest() = %v, want signature invalid", err)
			}
		})
	}
}

func TestVerifyManifestMalformed(t *testing.T) {
	pub, priv := testKeys(1)
	good := digestOf([]byte("a"))

	notJSON := []string{``, `not json`, `[1,2,3]`, `"string"`, `{"a":1} {"b":2}`}
	for _, raw := range notJSON {
		if _, err := VerifyManifest([]byte(raw), pub); !apperrors.IsCode(err, apperrors.CodeManifestMalformed) {
			t.Errorf("VerifyManifest(%q) = %v, want malformed", raw, err)
		}
	}

	// Correctly signed but structurally invalid manifests.
	tests := []struct {
		name string
		obj  map[string]any
	}{
		{"no version", map[string]any{"files": []any{fileEntry("a.dmg", good)}}},
		{"numeric version", map[string]any{"version": 2, "files": []any{fileEntry("a.dmg", good)}}},
		{"no files", map[string]any{"version": "2.0.0"}},
		{"empty files", manifestObject("2.0.0")},
		{"file without url", manifestObject("2.0.0", map[string]any{"sha256": good})},
		{"file without digest", manifestObject("2.0.0", map[string]any{"url": "a.dmg"})},
		{"sha512 only", manifestObject("2.0.0", map[string]any{"url": "a.dmg", "sha512": strings.Repeat("ab", 64)})},
		{"short digest", manifestObject("2.0.0", fileEntry("a.dmg", "abc123"))},
		{"url names a directory", manifestObject("2.0.0", fileEntry("releases/..", good))},
		{"negative size", manifestObject("2.0.0", map[string]any{"url": "a.dmg", "sha256": good, "size": -1})},
		{"bad release date", func() map[string]any {
			o := manifestObject("2.0.0", fileEntry("a.dmg", good))
			o["releaseDate"] = "yesterday"
			return o
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := signObject(t, priv, tt.obj)
			_, err := VerifyManifest(raw, pub)
			if !apperrors.IsCode(err, apperrors.CodeManifestMalformed) {
				t.Fatalf("VerifyManifest() = %v, want malformed", err)
			}
		})
	}
}

func TestCanonicalPayload(t *testing.T) {
	obj := map[string]any{
		"version":   "1.0.0",
		"signature": "ignored",
		"files":     []any{map[string]any{"url": "a<b>.dmg", "sha256": "x"}},
		"size":      json.Number("1024"),
	}
	got, err := CanonicalPayload(obj)
	if err != nil {
		t.Fatalf("CanonicalPayload() = %v", err)
	}
	want := `{"files":[{"sha256":"x","url":"a<b>.dmg"}],"size":1024,"version":"1.0.0"}`
	if string(got) != want {
		t.Fatalf("CanonicalPayload() = %s\nwant %s", got, want)
	}
	if _, ok := obj["signature"]; !ok {
		t.Error("CanonicalPayload() must not mutate its input")
	}
}

func TestSignManifestReplacesSignature(t *testing.T) {
	pub, priv := testKeys(3)
	raw := []byte(`{"signature":"stale","version":"2.0.0","files":[{"url":"a.dmg","sha256":"` + digestOf([]byte("a")) + `"}]}`)

	signed, err := SignManifest(raw, priv)
	if err != nil {
		t.Fatalf("SignManifest() = %v", err)
	}
	if bytes.Contains(signed, []byte("stale")) {
		t.Error("old signature should be replaced")
	}
	if _, err := VerifyManifest(signed, pub); err != nil {
		t.Fatalf("VerifyManifest(signed) = %v", err)
	}

	if _, err := SignManifest(raw, priv[:10]); err == nil {
		t.Error("SignManifest() should reject a short key")
	}
}

func TestReverifyDetectsKeyChange(t *testing.T) {
	pub, priv := testKeys(1)
	other, _ := testKeys(9)
	release, err := VerifyManifest(signObject(t, priv, manifestObject("2.0.0", fileEntry("a.dmg", digestOf([]byte("a"))))), pub)
	if err != nil {
		t.Fatal(err)
	}
	if err := release.Reverify(other); !apperrors.IsCode(err, apperrors.CodeSignatureInvalid) {
		t.Fatalf("Reverify(other) = %v, want signature invalid", err)
	}
}

func TestReleaseInfoFilesIsCopy(t *testing.T) {
	pub, priv := testKeys(1)
	release, err := VerifyManifest(signObject(t, priv, manifestObject("2.0.0", fileEntry("a.dmg", digestOf([]byte("a"))))), pub)
	if err != nil {
		t.Fatal(err)
	}
	files := release.Files()
	files[0].SHA256 = "tampered"
	if release.Files()[0].SHA256 == "tampered" {
		t.Fatal("Files() must not expose internal state")
	}
}

func TestArtifactFileName(t *testing.T) {
	d := ArtifactDescriptor{Name: "stable/2.0.0/Hatch-2.0.0.AppImage"}
	if got := d.FileName(); got != "Hatch-2.0.0.AppImage" {
		t.Errorf("FileName() = %q", got)
	}
}
