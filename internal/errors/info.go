package errors

import (
	"regexp"
	"strings"
)

// Info is the user-facing description of a failure. It is what the Failed
// phase carries across the controller boundary.
type Info struct {
	Kind    Code
	Message string
}

// String returns the message, or the kind when the message is empty.
func (i Info) String() string {
	if i.Message != "" {
		return i.Message
	}
	return string(i.Kind)
}

var kindMessages = map[Code]string{
	CodeManifestFetchFailed:    "Could not reach the update server.",
	CodeManifestMalformed:      "The update manifest is malformed.",
	CodeSignatureInvalid:       "The update manifest signature is invalid.",
	CodeArtifactDownloadFailed: "The update could not be downloaded.",
	CodeHashMismatch:           "The downloaded update failed its integrity check.",
	CodeNoDowngrade:            "The offered update is not newer than the running version.",
	CodeVersionUnparseable:     "The update version could not be read.",
	CodeInstallFailed:          "The update could not be installed.",
	CodeMountFailed:            "The update disk image could not be opened.",
	CodeInstallPermission:      "The application is not writable; the update cannot be applied.",
	CodeRelaunchFailed:         "The updated application could not be restarted.",
	CodeInternal:               "The updater hit an internal error.",
}

// Describe converts err into an Info. Production builds get the fixed,
// kind-specific sentence only; other builds also get the sanitized cause.
func Describe(err error, production bool) Info {
	if err == nil {
		return Info{}
	}
	code := CodeOf(err)
	if code == CodeUnknown {
		code = CodeInternal
	}
	msg := kindMessages[code]
	if !production {
		if detail := Sanitize(err.Error()); detail != "" {
			msg = msg + " (" + detail + ")"
		}
	}
	return Info{Kind: code, Message: msg}
}

// Paths are only recognized at the start of a token, so URLs such as
// https://host/path keep their path component.
var (
	quotedPathPattern = regexp.MustCompile(`"(?:[A-Za-z]:\\|~?/)[^"]*"`)
	pathPattern       = regexp.MustCompile(`(^|[\s(=\[])(?:[A-Za-z]:\\[^\s:"']*|~?/[^\s:"']+)`)
	goroutinePattern  = regexp.MustCompile(`(?s)\n?goroutine \d+ \[.*`)
)

// Sanitize strips local file-system paths and stack traces from msg.
func Sanitize(msg string) string {
	msg = goroutinePattern.ReplaceAllString(msg, "")
	msg = quotedPathPattern.ReplaceAllString(msg, "<path>")
	msg = pathPattern.ReplaceAllString(msg, "${1}<path>")
	return strings.TrimSpace(msg)
}
