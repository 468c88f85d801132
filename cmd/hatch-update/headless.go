package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/muesli/termenv"

	"hatch/internal/journal"
	"hatch/internal/update"
)

type headlessController interface {
	Start(ctx context.Context)
	CheckNow() update.State
	DownloadUpdate() update.State
	Subscribe(fn func(update.State)) (unsubscribe func())
}

type headlessOptions struct {
	download bool
}

// runHeadless performs one manual check, optionally followed by a download,
// and prints the phase it settles in. It returns the process exit code.
func runHeadless(ctx context.Context, ctl headlessController, opts headlessOptions, w io.Writer) int {
	out := termenv.NewOutput(w)

	states := make(chan update.State, 16)
	done := make(chan struct{})
	unsubscribe := ctl.Subscribe(func(s update.State) {
		select {
		case states <- s:
		case <-done:
		}
	})
	defer func() {
		close(done)
		unsubscribe()
	}()

	ctl.Start(ctx)
	if first := ctl.CheckNow(); first.Phase != update.PhaseChecking {
		return report(out, w, first)
	}

	// The subscription replays the state from before the check; wait for
	// Checking before treating a phase as the outcome.
	started := false
	downloading := false

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, out.String("timed out waiting for the update check").Foreground(out.Color("1")))
			return 1
		case s := <-states:
			if !started {
				started = s.Phase == update.PhaseChecking
				continue
			}
			switch s.Phase {
			case update.PhaseChecking, update.PhaseDownloaded, update.PhaseVerifying:
				continue
			case update.PhaseDownloading:
				downloading = true
				continue
			case update.PhaseAvailable:
				if opts.download && !downloading {
					if ctl.DownloadUpdate().Phase == update.PhaseDownloading {
						downloading = true
						continue
					}
				}
			}
			return report(out, w, s)
		}
	}
}

func report(out *termenv.Output, w io.Writer, s update.State) int {
	label := out.String(s.Phase.String()).Bold()
	switch s.Phase {
	case update.PhaseFailed:
		label = label.Foreground(out.Color("1"))
		msg := "unknown error"
		if s.Err != nil {
			msg = s.Err.String()
		}
		fmt.Fprintf(w, "%s: %s\n", label, msg)
		if s.Err != nil {
			fmt.Fprintf(w, "kind: %s\n", s.Err.Kind)
		}
		return 1
	case update.PhaseIdle:
		fmt.Fprintf(w, "%s: no update available\n", label)
	case update.PhaseAvailable:
		fmt.Fprintf(w, "%s: %s\n", label.Foreground(out.Color("3")), s.Version())
	case update.PhaseReady:
		fmt.Fprintf(w, "%s: %s verified at %s\n", label.Foreground(out.Color("2")), s.Version(), s.ArtifactPath)
	default:
		fmt.Fprintf(w, "%s\n", label)
	}
	return 0
}

func runJournalCommand(ctx context.Context, stateDir string, opts runtimeOptions, w io.Writer) error {
	store, err := journal.Open(ctx, filepath.Join(stateDir, journal.FileName))
	if err != nil {
		return err
	}
	defer store.Close()

	out := termenv.NewOutput(w)
	if opts.clearQuarantine {
		n, err := store.ClearQuarantine(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "cleared %d quarantined artifact(s)\n", n)
	}
	if opts.history <= 0 {
		return nil
	}

	history, err := store.History(ctx, opts.history)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out.String("history").Bold())
	for _, h := range history {
		line := fmt.Sprintf("  %s  %-11s %s", h.At.Local().Format(time.DateTime), h.Phase, h.Version)
		if h.Detail != "" {
			line += "  " + h.Detail
		}
		fmt.Fprintln(w, line)
	}

	quarantined, err := store.Quarantined(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out.String("quarantine").Bold())
	if len(quarantined) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for _, q := range quarantined {
		fmt.Fprintf(w, "  %s  %s  %s  %s\n", q.Name, q.Digest, q.Version, q.Reason)
	}
	return nil
}
