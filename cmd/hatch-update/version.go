package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"hatch/internal/buildinfo"
)

// printVersion prints the version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "hatch-update version %s", buildinfo.Version)

	if buildinfo.Build != "unknown" && buildinfo.Build != "" {
		fmt.Fprintf(w, " (build: %s)", buildinfo.Build)
	}

	if buildinfo.BuildTime != "" {
		fmt.Fprintf(w, " [%s]", buildinfo.BuildTime)
	}

	if buildinfo.Production {
		fmt.Fprint(w, " production")
	}

	fmt.Fprintln(w)

	fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	if buildinfo.IsDevVersion() {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && len(setting.Value) > 7 {
					fmt.Fprintf(w, "Commit: %s\n", setting.Value[:7])
					break
				}
			}
		}
	}
}
