package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a CLI message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// MessageOptions configures FormatMessage
type MessageOptions struct {
	Level   Level
	Context string
	Problem string
	Hints   []string
	NoColor bool
}

// FormatMessage renders a headed message with follow-up hints:
//
//	✗ SERVER FAILED: language server exited before shutdown
//
//	   → Check server.command in lspharness.yaml
//	   → Re-run with --verbose to see the protocol traffic
func FormatMessage(opts MessageOptions) string {
	var b strings.Builder

	var header *color.Color
	symbol := "✗"
	switch opts.Level {
	case LevelWarning:
		header = color.New(color.FgYellow, color.Bold)
		symbol = "!"
	case LevelInfo:
		header = color.New(color.FgCyan, color.Bold)
		symbol = "i"
	default:
		header = color.New(color.FgRed, color.Bold)
	}
	if opts.NoColor {
		header.DisableColor()
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Hints) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, hint := range opts.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// ConfigError formats a configuration failure
func ConfigError(err error, noColor bool) string {
	return FormatMessage(MessageOptions{
		Context: "configuration error",
		Problem: err.Error(),
		Hints: []string{
			"Create lspharness.yaml with at least server.command",
			"Or set LSPHARNESS_SERVER_COMMAND",
		},
		NoColor: noColor,
	})
}

// ServerError formats a failure talking to the language server
func ServerError(err error, noColor bool) string {
	return FormatMessage(MessageOptions{
		Context: "server failed",
		Problem: err.Error(),
		Hints: []string{
			"Check server.command and server.args",
			"Set client.print_stderr: true to see the server's own output",
			"Re-run with --verbose to see the protocol traffic",
		},
		NoColor: noColor,
	})
}

// WriteSuccess writes a green check line
func WriteSuccess(w io.Writer, message string, noColor bool) {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	fmt.Fprintln(w, green.Sprintf("✓ %s", message))
}

// SeverityColor maps an LSP diagnostic severity name to a color
func SeverityColor(severity string) *color.Color {
	switch strings.ToLower(severity) {
	case "error":
		return color.New(color.FgRed)
	case "warning":
		return color.New(color.FgYellow)
	case "information", "hint":
		return color.New(color.FgCyan)
	default:
		return nil
	}
}
