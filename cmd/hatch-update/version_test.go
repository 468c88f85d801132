package main

import (
	"bytes"
	"strings"
	"testing"

	"hatch/internal/buildinfo"
)

func TestPrintVersion(t *testing.T) {
	tests := []struct {
		name          string
		version       string
		build         string
		buildTime     string
		expectContain []string
	}{
		{
			name:          "dev build",
			version:       "dev",
			build:         "unknown",
			expectContain: []string{"hatch-update version dev", "Go version:", "OS/Arch:"},
		},
		{
			name:          "release build with commit",
			version:       "2.1.0",
			build:         "abc1234",
			buildTime:     "2026-10-01_12:00:00",
			expectContain: []string{"hatch-update version 2.1.0", "(build: abc1234)", "[2026-10-01_12:00:00]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldBuild, oldTime := buildinfo.Version, buildinfo.Build, buildinfo.BuildTime
			defer func() {
				buildinfo.Version, buildinfo.Build, buildinfo.BuildTime = oldVersion, oldBuild, oldTime
			}()
			buildinfo.Version, buildinfo.Build, buildinfo.BuildTime = tt.version, tt.build, tt.buildTime

			var buf bytes.Buffer
			printVersion(&buf)
			for _, expected := range tt.expectContain {
				if !strings.Contains(buf.String(), expected) {
					t.Errorf("Expected output to contain %q, but got:\n%s", expected, buf.String())
				}
			}
		})
	}
}
