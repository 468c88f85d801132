package update

import (
	"fmt"
	"runtime"
	"strings"

	apperrors "hatch/internal/errors"
)

// Platform identifies the OS and architecture an artifact must target.
type Platform struct {
	OS   string
	Arch string
}

// CurrentPlatform returns the platform of the running binary.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ArtifactExtension returns the file extension of installable artifacts for
// p, or "" when the platform has no installer.
func (p Platform) ArtifactExtension() string {
	switch p.OS {
	case "darwin":
		return ".dmg"
	case "linux":
		return ".AppImage"
	default:
		return ""
	}
}

// SelectArtifact picks the descriptor p should download. Candidates are
// filtered by extension; when more than one remains, a name carrying p's
// architecture wins, then a universal build.
func SelectArtifact(files []ArtifactDescriptor, p Platform) (ArtifactDescriptor, error) {
	ext := strings.ToLower(p.ArtifactExtension())
	if ext == "" {
		return ArtifactDescriptor{}, apperrors.New(apperrors.CodeInstallFailed,
			fmt.Sprintf("no installer for platform %s", p), nil)
	}

	var candidates []ArtifactDescriptor
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f.FileName()), ext) {
			candidates = append(candidates, f)
		}
	}
	switch len(candidates) {
	case 0:
		return ArtifactDescriptor{}, apperrors.New(apperrors.CodeManifestMalformed,
			fmt.Sprintf("manifest lists no %s artifact for %s", ext, p), nil)
	case 1:
		return candidates[0], nil
	}

	patterns := archPatterns(p.Arch)
	for _, c := range candidates {
		name := strings.ToLower(c.FileName())
		for _, pattern := range patterns {
			if containsToken(name, pattern) {
				return c, nil
			}
		}
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.FileName()), "universal") {
			return c, nil
		}
	}
	return ArtifactDescriptor{}, apperrors.New(apperrors.CodeManifestMalformed,
		fmt.Sprintf("manifest lists %d %s artifacts and none matches %s", len(candidates), ext, p.Arch), nil)
}

// archPatterns returns the spellings release files use for arch.
func archPatterns(arch string) []string {
	patterns := []string{arch}
	switch arch {
	case "amd64":
		patterns = append(patterns, "x86_64", "x64")
	case "arm64":
		patterns = append(patterns, "aarch64")
	case "386":
		patterns = append(patterns, "i386", "i686")
	}
	return patterns
}

// containsToken reports whether token appears in name delimited by
// separators, so "arm64" does not match inside "xarm64y".
func containsToken(name, token string) bool {
	for i := 0; i+len(token) <= len(name); i++ {
		if name[i:i+len(token)] != token {
			continue
		}
		before := i == 0 || isSeparator(name[i-1])
		after := i+len(token) == len(name) || isSeparator(name[i+len(token)])
		if before && after {
			return true
		}
	}
	return false
}

func isSeparator(b byte) bool {
	return b == '-' || b == '_' || b == '.'
}
