// Package update decides whether, and what, the application may update to.
//
// The package is built around a small set of pure checks and one state
// machine that sequences them:
//   - VerifyManifest authenticates a release manifest with the embedded
//     Ed25519 key and parses it into an immutable ReleaseInfo
//   - VerifyArtifact streams a downloaded file through SHA-256 and compares
//     it with the manifest's digest
//   - Gate refuses anything that is not strictly newer than the running
//     version
//   - Controller drives an Engine (the transport) and an install.Installer
//     through Idle, Checking, Available, Downloading, Downloaded, Verifying,
//     Ready, Mounting, Mounted and Failed
//
// Nothing outside the controller changes its state. Callers issue commands
// (CheckNow, DownloadUpdate, RestartToUpdate) that return the resulting
// State immediately, and observe progress through Subscribe.
//
// Example usage:
//
//	engine, err := update.NewHTTPEngine(manifestURL, buildinfo.Version)
//	if err != nil {
//	    // handle error
//	}
//	ctl, err := update.NewController(engine, installer, key, buildinfo.Version)
//	if err != nil {
//	    // handle error
//	}
//	defer ctl.Close()
//	ctl.Subscribe(func(s update.State) { fmt.Println(s) })
//	ctl.Start(ctx)
package update
