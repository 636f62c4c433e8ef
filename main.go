// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for the auditctl CLI.
package main

import (
	"auditctl/cli/cmd"
)

func main() {
	cmd.Execute()
}
