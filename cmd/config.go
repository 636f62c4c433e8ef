// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"encoding/json"
	"os"
	"strings"

	"auditctl/cli/internal/config"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change CLI settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		p, err := config.Path()
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(a.cfg, "", "  ")
		if err != nil {
			return err
		}
		pterm.Println(pterm.NewStyle(pterm.FgGray).Sprint("# " + p))
		pterm.Println(string(b))
		for _, env := range []string{config.EnvBaseURL, config.EnvLogLevel, config.EnvToken} {
			if os.Getenv(env) != "" {
				pterm.Info.Printf("%s is set and overrides the file\n", env)
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting in the config file",
	Long:  "Settable keys: " + strings.Join(config.Keys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.Path()
		if err != nil {
			return err
		}
		c, err := config.ReadFile(p)
		if err != nil {
			return err
		}
		if err := c.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveTo(p, c); err != nil {
			return err
		}
		pterm.Success.Printf("%s updated\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
