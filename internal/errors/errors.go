package errors

import "errors"

// Code identifies a structured error kind surfaced by the update core.
type Code string

const (
	// Generic codes
	CodeUnknown  Code = "unknown"
	CodeInternal Code = "internal"

	// Manifest retrieval and integrity
	CodeManifestFetchFailed Code = "manifest_fetch_failed"
	CodeManifestMalformed   Code = "manifest_malformed"
	CodeSignatureInvalid    Code = "signature_invalid"

	// Artifact retrieval and integrity
	CodeArtifactDownloadFailed Code = "artifact_download_failed"
	CodeHashMismatch           Code = "hash_mismatch"

	// Version policy
	CodeNoDowngrade        Code = "no_downgrade"
	CodeVersionUnparseable Code = "version_unparseable"

	// Install family
	CodeInstallFailed     Code = "install_failed"
	CodeMountFailed       Code = "mount_failed"
	CodeInstallPermission Code = "install_permission"
	CodeRelaunchFailed    Code = "relaunch_failed"
)

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsInstallFailure reports whether code belongs to the install family.
func IsInstallFailure(code Code) bool {
	switch code {
	case CodeInstallFailed, CodeMountFailed, CodeInstallPermission, CodeRelaunchFailed:
		return true
	}
	return false
}

// IsSecurityRelevant reports whether a failure of this kind must never be
// retried automatically against the same manifest or artifact.
func IsSecurityRelevant(code Code) bool {
	return code == CodeSignatureInvalid || code == CodeHashMismatch
}

// IsTransient reports whether a failure of this kind is safe to retry on the
// next scheduled check.
func IsTransient(code Code) bool {
	return code == CodeManifestFetchFailed || code == CodeArtifactDownloadFailed
}
