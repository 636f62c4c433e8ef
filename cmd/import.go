// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/importjob"
	"auditctl/cli/internal/terminal"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	importInterval    time.Duration
	importMaxFailures int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Run and inspect backend import jobs",
}

// importPersonsCmd starts the persons CSV import and follows it to the end.
var importPersonsCmd = &cobra.Command{
	Use:   "persons",
	Short: "Load persons from the server-side CSV and watch progress",
	Long: `The persons command asks the backend to load persons from its CSV file, then
checks the job status at a fixed interval until it completes or fails.

If an import is already running, the command attaches to it and shows its
progress. Press Ctrl-C to stop watching; the job itself keeps running on the
server and can be checked later with 'auditctl import status'.`,
	RunE: runImportPersons,
}

var importStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of the persons import",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectApp()
		if err != nil {
			return err
		}
		if err := a.requireLogin(); err != nil {
			return err
		}
		st, err := a.admin.PersonsImportStatus(cmd.Context())
		if err != nil {
			return a.fail("checking the import status", err)
		}

		state := st.Status
		if state == "" {
			state = "idle"
		}
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Status:   ") + pterm.NewStyle(pterm.Bold).Sprint(state))
		if st.Total > 0 {
			pterm.Printf("%s %d/%d (%d%%)\n", pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Progress:"), st.Progress, st.Total, importjob.Percent(st.Progress, st.Total))
		}
		if st.Message != "" {
			pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Message:  ") + st.Message)
		}
		return nil
	},
}

func init() {
	importPersonsCmd.Flags().DurationVar(&importInterval, "interval", importjob.DefaultInterval, "Delay between status checks")
	importPersonsCmd.Flags().IntVar(&importMaxFailures, "max-failures", importjob.DefaultMaxFailures, "Consecutive failed checks before giving up")
	importCmd.AddCommand(importPersonsCmd, importStatusCmd)
	rootCmd.AddCommand(importCmd)
}

func runImportPersons(cmd *cobra.Command, args []string) error {
	a, err := connectApp()
	if err != nil {
		return err
	}
	if err := a.requireLogin(); err != nil {
		return err
	}

	interval := a.cfg.Import.PollInterval.Std()
	if cmd.Flags().Changed("interval") {
		interval = importInterval
	}
	maxFailures := a.cfg.Import.MaxFailures
	if cmd.Flags().Changed("max-failures") {
		maxFailures = importMaxFailures
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := newImportView(os.Stdout, terminal.IsInteractive(os.Stdout))
	if err := watchImport(ctx, a.admin, view,
		importjob.WithInterval(interval),
		importjob.WithMaxFailures(maxFailures),
		importjob.WithLogger(a.log),
	); err != nil {
		return err
	}
	return a.reportImport(view)
}

// watchImport runs one import poller until it finishes or ctx ends, then
// shuts the view down.
func watchImport(ctx context.Context, api importjob.API, view *importView, opts ...importjob.Option) error {
	p := importjob.New(api, view.handlers(), opts...)
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case <-p.Done():
	case <-ctx.Done():
		p.Stop()
	}
	view.close()
	return nil
}

// reportImport prints the final line for the run and maps it to the exit status.
func (a *app) reportImport(v *importView) error {
	o, finished := v.result()
	if !finished {
		pterm.Warning.WithWriter(v.out).Println("Stopped watching the import. It may still be running on the server.")
		pterm.Fprintln(v.out, "  Check it with 'auditctl import status'.")
		return reported{errors.New("import watch stopped")}
	}

	switch o.State {
	case importjob.Completed:
		pterm.Success.WithWriter(v.out).Println(o.Message)
		return nil
	case importjob.Skipped:
		msg := o.Message
		if msg == "" {
			msg = "The backend skipped the import"
		}
		pterm.Warning.WithWriter(v.out).Println(msg)
		return nil
	default:
		if apperrors.Is(o.Err, apperrors.SessionExpired) || apperrors.Is(o.Err, apperrors.PermissionDenied) {
			return a.fail("running the persons import", o.Err)
		}
		pterm.Error.WithWriter(v.out).Println(o.Message)
		return reported{fmt.Errorf("import failed: %s", o.Message)}
	}
}

// importView renders poller events. Interactive terminals get a live area
// with a progress bar; anything else gets one plain line per change.
type importView struct {
	out  io.Writer
	live bool

	mu       sync.Mutex
	area     *pterm.AreaPrinter
	last     importjob.JobStatus
	lastPct  int
	frame    int
	outcome  importjob.Outcome
	finished bool

	stopTicker chan struct{}
	tickerWG   sync.WaitGroup
}

func newImportView(out io.Writer, live bool) *importView {
	return &importView{out: out, live: live, lastPct: -1, stopTicker: make(chan struct{})}
}

func (v *importView) handlers() importjob.Handlers {
	return importjob.Handlers{
		OnState:    v.onState,
		OnProgress: v.onProgress,
		OnDone:     v.onDone,
	}
}

func (v *importView) onState(s importjob.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch s {
	case importjob.Starting:
		if !v.live {
			pterm.Fprintln(v.out, "Starting persons import...")
		}
	case importjob.AlreadyRunning:
		v.last.Attached = true
		pterm.Info.WithWriter(v.out).Println("An import is already running; following its progress.")
	case importjob.Polling:
		if v.live {
			v.startAreaLocked()
		} else {
			pterm.Fprintln(v.out, "Import running; checking status...")
		}
	}
}

func (v *importView) onProgress(s importjob.JobStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = s
	if v.live {
		v.renderLocked()
		return
	}
	if pct := s.Percent(); pct != v.lastPct {
		v.lastPct = pct
		pterm.Fprintln(v.out, progressLine("-", s))
	}
}

func (v *importView) onDone(o importjob.Outcome) {
	v.mu.Lock()
	v.outcome = o
	v.finished = true
	v.mu.Unlock()
}

func (v *importView) result() (importjob.Outcome, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outcome, v.finished
}

func (v *importView) startAreaLocked() {
	if v.area != nil {
		return
	}
	cursor.Hide()
	area, err := pterm.DefaultArea.WithRemoveWhenDone(true).Start()
	if err != nil {
		cursor.Show()
		v.live = false
		return
	}
	v.area = area
	v.renderLocked()

	v.tickerWG.Add(1)
	go func() {
		defer v.tickerWG.Done()
		t := time.NewTicker(120 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				v.mu.Lock()
				v.frame++
				v.renderLocked()
				v.mu.Unlock()
			case <-v.stopTicker:
				return
			}
		}
	}()
}

func (v *importView) renderLocked() {
	if v.area == nil {
		return
	}
	v.area.Update(progressLine(spinnerFrames[v.frame%len(spinnerFrames)], v.last))
}

// close stops the animation and restores the cursor. It must be called once
// the poller can no longer emit events.
func (v *importView) close() {
	close(v.stopTicker)
	v.tickerWG.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.area != nil {
		_ = v.area.Stop()
		v.area = nil
		cursor.Show()
	}
}
