// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httperrors turns backend failures into user-friendly terminal output.
package httperrors

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/logging"

	"github.com/pterm/pterm"
)

// Advice is what the user is told about a failure.
type Advice struct {
	Title string
	Hints []string
	// Details is the masked technical error, shown at debug level.
	Details string
}

// Describe explains err in the context of action (e.g. "listing audit logs").
func Describe(err error, action, host string) Advice {
	if host == "" {
		host = "the backend"
	}
	a := Advice{Details: shorten(logging.Mask(err.Error()))}

	switch apperrors.KindOf(err) {
	case apperrors.SessionExpired:
		a.Title = "🔑 " + apperrors.MessageOf(err)
		a.Hints = []string{"Run 'auditctl login' to sign in again."}
	case apperrors.PermissionDenied:
		a.Title = "⛔ " + apperrors.MessageOf(err)
		a.Hints = []string{"Ask an administrator to grant your account the required role."}
	case apperrors.NotLoggedIn:
		a.Title = "🔒 You're not logged in yet!"
		a.Hints = []string{"Run 'auditctl login' to get started."}
	case apperrors.ConfigInvalid:
		a.Title = "⚙️  " + apperrors.MessageOf(err)
		a.Hints = []string{"Check 'auditctl config show' and fix the value with 'auditctl config set'."}
	case apperrors.MalformedResponse:
		a.Title = "⚠️  Unexpected response from " + host + " while " + action
		a.Hints = []string{"The backend may be a different version than this CLI expects."}
	case apperrors.ServerError:
		a.Title = "⚠️  Server error while " + action + ": " + apperrors.MessageOf(err)
		a.Hints = []string{"This is not a problem with your setup.", "Please try again in a few minutes."}
	default:
		describeNetwork(&a, err, action, host)
	}
	return a
}

func describeNetwork(a *Advice, err error, action, host string) {
	switch {
	case isTimeoutError(err):
		a.Title = "⏱️  Connection timeout while " + action
		a.Hints = []string{"Slow internet connection", "Server is under heavy load", "Network firewall is blocking the connection"}
	case isDNSError(err):
		a.Title = "🌐 Cannot resolve " + host + " while " + action
		a.Hints = []string{"Your internet connection is working", "The base URL is spelled correctly", "DNS settings are correct"}
	case isConnectionRefusedError(err):
		a.Title = "🚫 Connection refused by " + host + " while " + action
		a.Hints = []string{"The service is temporarily down", "Wrong server address or port"}
	case isSSLError(err):
		a.Title = "🔒 Secure connection to " + host + " failed while " + action
		a.Hints = []string{"Check your system date and time", "Verify network proxy settings"}
	default:
		a.Title = "❌ Cannot connect to " + host + " while " + action
		a.Hints = []string{"Your internet connection", "Whether " + host + " is accessible from your network"}
	}
}

// Present prints the advice for err and returns err unchanged.
func Present(err error, action, baseURL string) error {
	if err == nil {
		return nil
	}
	a := Describe(err, action, ExtractHostFromURL(baseURL))
	pterm.Error.Println(a.Title)
	for _, h := range a.Hints {
		pterm.Println("  • " + h)
	}
	if a.Details != "" {
		pterm.Debug.Printf("Technical details: %s\n", a.Details)
	}
	return err
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded")
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isConnectionRefusedError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func isSSLError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "tls") ||
		strings.Contains(s, "x509") ||
		strings.Contains(s, "certificate") ||
		strings.Contains(s, "handshake")
}

func shorten(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// ExtractHostFromURL extracts the hostname from a URL for error messages.
func ExtractHostFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
