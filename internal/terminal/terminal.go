// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package terminal provides utilities for terminal operations such as TTY
// detection, hidden input and clearing text.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultWidth = 80

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the width of stdout, or 80 when it is not a terminal.
func Width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

// ReadSecret prints prompt to w and reads one line from in without echo
// when in is a terminal. Piped input is read as a plain line.
func ReadSecret(w io.Writer, in *os.File, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	if IsInteractive(in) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// linesFor is how many rows textLength characters occupy at the given width.
func linesFor(textLength, width int) int {
	if width <= 0 {
		width = defaultWidth
	}
	n := (textLength + width - 1) / width
	return max(n, 1)
}

// ClearPreviousLines clears text that was previously printed to stdout,
// including the empty line the cursor sits on after Enter.
func ClearPreviousLines(textLength int) {
	toClear := linesFor(textLength, Width()) + 1
	for i := 0; i < toClear; i++ {
		fmt.Print("\r\x1b[2K")
		if i < toClear-1 {
			fmt.Print("\x1b[1A")
		}
	}
}
