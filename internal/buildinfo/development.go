//go:build !production

package buildinfo

// Production is false for development and test builds.
const Production = false
