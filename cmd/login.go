// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"os"
	"time"

	"auditctl/cli/internal/terminal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var loginToken string

// loginCmd verifies an API token against the backend and stores it.
var loginCmd = &cobra.Command{
	Use:     "login",
	Aliases: []string{"auth"},
	Short:   "Store an API token for the admin backend",
	Long: `The login command takes an API token, from --token or an interactive prompt,
checks it against the backend and stores it in the OS keychain.

A token the backend rejects is not stored, and any previous login is cleared.
The AUDITCTL_TOKEN environment variable, when set, is used instead of the
stored token by every other command.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectApp()
		if err != nil {
			return err
		}
		// Login reports rejections itself.
		a.notifier.Register(nil)

		token := loginToken
		if token == "" {
			prompt := "🔑 Paste your API token: "
			token, err = terminal.ReadSecret(os.Stdout, os.Stdin, prompt)
			if err != nil {
				return err
			}
			if terminal.IsInteractive(os.Stdin) {
				terminal.ClearPreviousLines(len(prompt))
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout.Std()+5*time.Second)
		defer cancel()

		stopSpinner := func() {}
		if terminal.IsInteractive(os.Stdout) {
			stopSpinner = startInlineSpinner(os.Stdout, "Verifying token", 120*time.Millisecond)
		}
		u, err := a.auth.Login(ctx, token)
		stopSpinner()
		if err != nil {
			return a.fail("verifying the token", err)
		}

		pterm.Success.Printf("Logged in as %s\n", u.Display())
		if u.Role != "" {
			pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Role: ") + u.Role)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "API token (prompted for when omitted)")
	rootCmd.AddCommand(loginCmd)
}
