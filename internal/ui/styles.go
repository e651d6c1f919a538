package ui

import (
	"fmt"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorGood   = 114 // green
	colorWarn   = 179 // amber
	colorBad    = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorBad, s) }

// RenderLoanStatus colors a loan status by outcome.
func RenderLoanStatus(s model.LoanStatus) string {
	switch s {
	case model.LoanApproved, model.LoanActive, model.LoanCompleted:
		return paint(colorGood, string(s))
	case model.LoanRejected, model.LoanDefaulted:
		return paint(colorBad, string(s))
	default:
		return paint(colorWarn, string(s))
	}
}

// RenderKYCStatus colors a KYC status by outcome.
func RenderKYCStatus(s model.KYCStatus) string {
	switch s {
	case model.KYCApproved:
		return paint(colorGood, string(s))
	case model.KYCRejected:
		return paint(colorBad, string(s))
	default:
		return paint(colorWarn, string(s))
	}
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
