// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"os"

	"auditctl/cli/internal/config"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// logoutCmd removes the stored token and auth state.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved token and auth state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectApp()
		if err != nil {
			return err
		}
		if err := a.auth.Logout(); err != nil {
			return a.fail("clearing credentials", err)
		}
		pterm.Println("✅ The saved token and auth state have been removed")
		if os.Getenv(config.EnvToken) != "" {
			pterm.Warning.Printf("%s is still set in your environment\n", config.EnvToken)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
