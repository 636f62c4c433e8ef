// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// whoamiCmd shows the account behind the current token.
var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Aliases: []string{"me"},
	Short:   "Show current authenticated account",
	Long: `The whoami command validates the current token with the backend and shows
the account it belongs to. When the backend is unreachable it falls back to
the account recorded at the last successful login.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectApp()
		if err != nil {
			return err
		}
		if err := a.requireLogin(); err != nil {
			return err
		}

		id, err := a.auth.WhoAmI(cmd.Context())
		if err != nil {
			return a.fail("checking the current account", err)
		}

		pterm.Printf("👤 Current user: %s\n", id.User.Display())
		if id.User.Role != "" {
			pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Role: ") + id.User.Role)
		}
		if id.Cached {
			pterm.Warning.Println("Backend unreachable; showing the account from the last login.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
