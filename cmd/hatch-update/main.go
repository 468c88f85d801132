package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hatch/internal/buildinfo"
	"hatch/internal/config"
	"hatch/internal/debug"
	"hatch/internal/ui"
)

const defaultCheckTimeout = 10 * time.Minute

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Printf("Error initializing config: %v\n", err)
		os.Exit(1)
	}

	versionFlag := flag.Bool("version", false, "Print version information and exit")
	checkFlag := flag.Bool("check", false, "Check once without the UI and print the outcome (exit 1 on failure)")
	downloadFlag := flag.Bool("download", false, "With --check, also download and verify an offered update")
	debugFlag := flag.Bool("debug", config.GetBool(config.KeyDebug), "Write a debug log to the state directory")
	autoDownloadFlag := flag.Bool("auto-download", config.GetBool(config.KeyAutoDownload), "Download offered updates without asking")
	devSourceFlag := flag.Bool("dev-source", config.GetBool(config.KeyUseDevSource), "Use the development manifest URL (ignored in production builds)")
	intervalFlag := flag.Duration("interval", config.AutoCheckInterval(), "Automatic check interval (0 disables)")
	asVersionFlag := flag.String("as-version", "", "Pretend to be this version (development builds only)")
	notesFlag := flag.String("notes-style", "dark", "Release notes markdown style (dark, light, plain)")
	historyFlag := flag.Int("history", 0, "Print the last N journal entries and quarantined artifacts, then exit")
	clearQuarantineFlag := flag.Bool("clear-quarantine", false, "Forget quarantined artifacts, then exit")
	timeoutFlag := flag.Duration("timeout", defaultCheckTimeout, "Give up on --check after this long")
	flag.Parse()

	if *versionFlag {
		printVersion(os.Stdout)
		os.Exit(0)
	}

	visited := map[string]struct{}{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = struct{}{}
	})
	if err := config.ApplyOverrides(flagOverrides(visited, flagValues{
		debug:        *debugFlag,
		autoDownload: *autoDownloadFlag,
		devSource:    *devSourceFlag,
		interval:     *intervalFlag,
	})); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := runtimeOptions{
		headless:        *checkFlag,
		download:        *downloadFlag,
		asVersion:       strings.TrimSpace(*asVersionFlag),
		notesStyle:      *notesFlag,
		history:         *historyFlag,
		clearQuarantine: *clearQuarantineFlag,
		timeout:         *timeoutFlag,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type runtimeOptions struct {
	headless        bool
	download        bool
	asVersion       string
	notesStyle      string
	history         int
	clearQuarantine bool
	timeout         time.Duration
}

type flagValues struct {
	debug        bool
	autoDownload bool
	devSource    bool
	interval     time.Duration
}

// flagOverrides returns config overrides for the flags set on the command
// line, so unset flags do not mask file or environment values.
func flagOverrides(visited map[string]struct{}, v flagValues) map[string]any {
	overrides := map[string]any{}
	if _, ok := visited["debug"]; ok {
		overrides[config.KeyDebug] = v.debug
	}
	if _, ok := visited["auto-download"]; ok {
		overrides[config.KeyAutoDownload] = v.autoDownload
	}
	if _, ok := visited["dev-source"]; ok {
		overrides[config.KeyUseDevSource] = v.devSource
	}
	if _, ok := visited["interval"]; ok {
		overrides[config.KeyAutoCheckInterval] = v.interval
	}
	return overrides
}

// currentVersion returns the version the updater compares offers against.
// Development builds have no release version, so they report 0.0.0 unless
// told otherwise.
func currentVersion(asVersion string) string {
	if asVersion != "" && !buildinfo.Production {
		return asVersion
	}
	if buildinfo.IsDevVersion() {
		return "0.0.0"
	}
	return buildinfo.Version
}

func run(ctx context.Context, opts runtimeOptions, stdout, stderr io.Writer) int {
	stateDir, err := config.StateDir()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	debug.SetStateDir(stateDir)
	if err := debug.Init(config.GetBool(config.KeyDebug)); err != nil {
		fmt.Fprintf(stderr, "Warning: debug log disabled: %v\n", err)
	}
	defer debug.Close()

	if opts.history > 0 || opts.clearQuarantine {
		if err := runJournalCommand(ctx, stateDir, opts, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	u, err := newUpdater(ctx, updaterOptions{
		stateDir:       stateDir,
		currentVersion: currentVersion(opts.asVersion),
		headless:       opts.headless,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer u.Close()

	if opts.headless {
		checkCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		return runHeadless(checkCtx, u.controller, headlessOptions{download: opts.download}, stdout)
	}

	if err := runInteractive(ctx, u, opts); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return u.exitCode()
}

func runInteractive(ctx context.Context, u *updater, opts runtimeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewModel(u.controller, ui.Config{
		CurrentVersion: u.currentVersion,
		ManifestURL:    u.manifestURL,
		NotesStyle:     opts.notesStyle,
	})
	defer model.Close()

	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	u.onExit(prog.Quit)

	u.start(ctx)
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}
