// Package buildinfo carries values fixed when the binary is built: the
// release version injected via ldflags and whether this is a production
// build. Production builds are produced with `-tags production`.
package buildinfo

// Version information - injected at build time via ldflags
var (
	Version   = "dev"
	Build     = "unknown"
	BuildTime = ""
)

// IsDevVersion reports whether Version is a placeholder rather than a
// released semantic version.
func IsDevVersion() bool {
	return Version == "" || Version == "dev" || Version == "development"
}
