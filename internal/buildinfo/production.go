//go:build production

package buildinfo

// Production is true for release builds. Test-only overrides are compiled
// out and user-facing error messages are reduced to fixed sentences.
const Production = true
