// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"auditctl/cli/internal/importjob"
)

// Braille spinner frames similar to docker CLI.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// startInlineSpinner animates frames followed by text on a single line of w
// until the returned function is called. Stopping clears the line.
func startInlineSpinner(w io.Writer, text string, interval time.Duration) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			line := fmt.Sprintf("%s %s", spinnerFrames[i%len(spinnerFrames)], text)
			select {
			case <-stop:
				fmt.Fprintf(w, "\r%*s\r", len(line), "")
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s", line)
				i++
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}

// progressBar renders a fixed-width bar for percent in [0,100].
func progressBar(percent, width int) string {
	filled := width * min(max(percent, 0), 100) / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// progressLine is the single-line rendering of an import snapshot.
func progressLine(frame string, s importjob.JobStatus) string {
	label := "Importing persons"
	if s.Attached {
		label = "Import already running"
	}
	if s.Total <= 0 {
		line := fmt.Sprintf("%s %s", frame, label)
		if s.Message != "" {
			line += "  " + s.Message
		}
		return line
	}
	return fmt.Sprintf("%s %s [%s] %3d%% (%d/%d)", frame, label, progressBar(s.Percent(), 30), s.Percent(), s.Progress, s.Total)
}
