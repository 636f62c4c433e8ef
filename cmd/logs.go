// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"auditctl/cli/internal/backend"
	apperrors "auditctl/cli/internal/errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const dayLayout = "2006-01-02"

var (
	logsPage     int
	logsPageSize int
	logsUser     string
	logsAction   string
	logsFrom     string
	logsTo       string
)

// logsCmd lists audit log entries page by page.
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Browse the audit log",
	Long: `The logs command lists audit log entries as a table, newest first as
returned by the backend. Use --user, --action, --from and --to to narrow the
listing and --page to move through it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilterFromFlags()
		if err != nil {
			return err
		}
		a, err := connectApp()
		if err != nil {
			return err
		}
		if err := a.requireLogin(); err != nil {
			return err
		}

		page, err := a.admin.ListAuditLogs(cmd.Context(), filter)
		if err != nil {
			return a.fail("listing audit logs", err)
		}
		if len(page.Items) == 0 {
			pterm.Info.Println("No audit log entries match.")
			return nil
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(auditTable(page.Items)).Render(); err != nil {
			return err
		}
		pterm.Println(pterm.NewStyle(pterm.FgGray).Sprintf("Page %d of %d · %d entries", page.Page, page.TotalPages(), page.Total))
		return nil
	},
}

var logsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show audit log counts per action and per user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connectApp()
		if err != nil {
			return err
		}
		if err := a.requireLogin(); err != nil {
			return err
		}

		s, err := a.admin.AuditSummary(cmd.Context())
		if err != nil {
			return a.fail("loading the audit summary", err)
		}
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Total entries: ") + pterm.NewStyle(pterm.Bold).Sprint(s.Total))
		for _, section := range []struct {
			title  string
			counts map[string]int
		}{{"Action", s.ByAction}, {"User", s.ByUser}} {
			if len(section.counts) == 0 {
				continue
			}
			pterm.Println()
			if err := pterm.DefaultTable.WithHasHeader().WithData(countTable(section.title, section.counts)).Render(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	f := logsCmd.Flags()
	f.IntVar(&logsPage, "page", 1, "Page number")
	f.IntVar(&logsPageSize, "page-size", 20, "Entries per page")
	f.StringVar(&logsUser, "user", "", "Only entries by this user")
	f.StringVar(&logsAction, "action", "", "Only entries with this action")
	f.StringVar(&logsFrom, "from", "", "Only entries on or after this day (YYYY-MM-DD)")
	f.StringVar(&logsTo, "to", "", "Only entries on or before this day (YYYY-MM-DD)")
	logsCmd.AddCommand(logsSummaryCmd)
	rootCmd.AddCommand(logsCmd)
}

func auditFilterFromFlags() (backend.AuditFilter, error) {
	f := backend.AuditFilter{Page: logsPage, PageSize: logsPageSize, User: logsUser, Action: logsAction}
	if f.Page < 1 || f.PageSize < 1 {
		return f, apperrors.New(apperrors.ConfigInvalid, "--page and --page-size must be at least 1")
	}
	var err error
	if f.From, err = parseDay("from", logsFrom); err != nil {
		return f, err
	}
	if f.To, err = parseDay("to", logsTo); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, apperrors.New(apperrors.ConfigInvalid, "--to must not be before --from")
	}
	return f, nil
}

func parseDay(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.ConfigInvalid, fmt.Sprintf("--%s must look like 2025-01-31", flag), err)
	}
	return t, nil
}

func auditTable(items []backend.AuditLog) pterm.TableData {
	data := pterm.TableData{{"Time", "User", "Action", "Resource", "Detail"}}
	for _, it := range items {
		ts := ""
		if !it.Timestamp.IsZero() {
			ts = it.Timestamp.Local().Format("2006-01-02 15:04:05")
		}
		data = append(data, []string{ts, it.User, it.Action, it.Resource, truncate(it.Detail, 60)})
	}
	return data
}

// countTable sorts by count, highest first, then by key.
func countTable(title string, counts map[string]int) pterm.TableData {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	data := pterm.TableData{{title, "Count"}}
	for _, k := range keys {
		data = append(data, []string{k, strconv.Itoa(counts[k])})
	}
	return data
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
