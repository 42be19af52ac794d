// Copyright (C) 2025 Ecliptic Labs (engineering@ecliptic.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the Ecliptic CLI.
package ux

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// Ecliptic color palette - night-sky indigos with solar gold accents
var (
	// Primary palette (brightest to darkest)
	ColorGoldBright   = lipgloss.Color("#F5C96B") // Solar gold - highlights, success
	ColorGoldPrimary  = lipgloss.Color("#E0AE4A") // Primary gold - main brand color
	ColorIndigoLight  = lipgloss.Color("#8F8FD9") // Light indigo - interactive elements
	ColorIndigoMedium = lipgloss.Color("#6A6AC2") // Medium indigo - secondary elements
	ColorIndigoDeep   = lipgloss.Color("#4B4B9E") // Deep indigo - borders, accents
	ColorIndigoNight  = lipgloss.Color("#34346E") // Night indigo - subtle accents

	// Dark palette (backgrounds, muted elements)
	ColorDusk     = lipgloss.Color("#2A2A52") // Dusk - darker backgrounds
	ColorMidnight = lipgloss.Color("#1C1C38") // Midnight - deep backgrounds
	ColorSlate    = lipgloss.Color("#4A4A68") // Slate - muted text, borders

	// Semantic colors
	ColorSuccess = lipgloss.Color("#F5C96B") // Gold for success
	ColorWarning = lipgloss.Color("#F4A03F") // Amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#4A4A68") // Slate for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Box styles
	Box        lipgloss.Style
	InfoBox    lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGoldBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorIndigoLight),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorGoldBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigoDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigoLight).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconStar    Icon = "✶"
	IconOrbit   Icon = "◌"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if Plain() {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return Styles.Highlight.Render(string(i))
	}
}

// plainMode disables styling and animation; set when stdout is not a
// terminal or when the user forces machine-readable output.
var plainMode atomic.Bool

// SetPlain switches all ux output to unstyled, animation-free mode.
func SetPlain(plain bool) {
	plainMode.Store(plain)
}

// Plain reports whether plain mode is active.
func Plain() bool {
	return plainMode.Load()
}

// Success prints a success line with icon.
func Success(msg string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", IconSuccess.Render(), msg)
}

// Warning prints a warning line with icon.
func Warning(msg string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", IconWarning.Render(), msg)
}

// Error prints an error line with icon.
func Error(msg string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", IconError.Render(), msg)
}

// Info prints an informational line with icon.
func Info(msg string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", IconArrow.Render(), msg)
}

// Title prints a styled title line.
func Title(msg string) {
	if Plain() {
		fmt.Fprintln(os.Stdout, msg)
		return
	}
	fmt.Fprintln(os.Stdout, Styles.Title.Render(msg))
}

// KeyValue prints an aligned key/value row for stats output.
func KeyValue(key string, value any) {
	if Plain() {
		fmt.Fprintf(os.Stdout, "%s=%v\n", key, value)
		return
	}
	fmt.Fprintf(os.Stdout, "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-28s", key)), value)
}
