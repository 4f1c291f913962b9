package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stdout is where command results go; diagnostics stay on stderr.
var stdout io.Writer = os.Stdout

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// stateColor picks a color for a provider state or job status.
func stateColor(s string) string {
	switch s {
	case "available", "succeeded":
		return colorGreen
	case "degraded", "pending", "uploading", "training":
		return colorYellow
	case "unavailable", "failed", "cancelled":
		return colorRed
	default:
		return colorReset
	}
}

// newTable returns a tabwriter for aligned columns on stdout. Callers must Flush.
func newTable(headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	return tw
}

// truncate shortens s to at most n runes for one-line display.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
