package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

func TestFormatFrame(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(true) })

	at := time.Date(2026, 3, 1, 12, 30, 45, 0, time.Local)
	tests := []struct {
		name    string
		channel string
		payload events.Payload
		want    string
	}{
		{
			"status with reason", "user:U1",
			events.LoanStatusChanged{LoanID: "L1", Status: model.LoanRejected, RejectionReason: "no collateral"},
			`12:30:45 user:U1 loan:status L1 rejected reason="no collateral"`,
		},
		{
			"new loan", "loans",
			events.LoanNew{LoanID: "L2", UserID: "U2", Amount: 1500},
			"12:30:45 loans loan:new L2 by U2 amount=1500.00",
		},
		{
			"admin notification", "user:A1",
			events.AdminNotification{Type: events.NotifySystemAlert, Message: "Loan L3 defaulted"},
			"12:30:45 user:A1 admin:notification " + string(events.NotifySystemAlert) + " Loan L3 defaulted",
		},
		{
			"pong has no summary", "",
			events.Pong{},
			"12:30:45 pong",
		},
		{
			"kyc", "user:U1",
			events.KYCStatusChanged{UserID: "U1", Status: model.KYCApproved},
			"12:30:45 user:U1 kyc:status U1 approved",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := events.NewFrame(tt.channel, tt.payload, at)
			if err != nil {
				t.Fatal(err)
			}
			if got := FormatFrame(f); got != tt.want {
				t.Errorf("FormatFrame =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}
}

func TestFormatFrame_UnknownEventShowsRawData(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(true) })

	f := events.Frame{Event: "loan:mystery", Data: []byte(`{"x":1}`), EmittedAt: time.Now()}
	if got := FormatFrame(f); !strings.HasSuffix(got, `loan:mystery {"x":1}`) {
		t.Errorf("FormatFrame = %q", got)
	}
}

func TestRenderLoanStatus_Color(t *testing.T) {
	SetColor(true)
	got := RenderLoanStatus(model.LoanDefaulted)
	if !strings.Contains(got, "\x1b[38;5;203m") || !strings.Contains(got, "defaulted") {
		t.Errorf("RenderLoanStatus = %q", got)
	}
	SetColor(false)
	defer SetColor(true)
	if got := RenderLoanStatus(model.LoanDefaulted); got != "defaulted" {
		t.Errorf("no-color RenderLoanStatus = %q", got)
	}
}

func TestColorFor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "")
	if ColorFor(&bytes.Buffer{}) {
		t.Error("buffer treated as terminal")
	}

	t.Setenv("CLICOLOR_FORCE", "1")
	if !ColorFor(&bytes.Buffer{}) {
		t.Error("CLICOLOR_FORCE ignored")
	}

	t.Setenv("NO_COLOR", "1")
	if ColorFor(&bytes.Buffer{}) {
		t.Error("NO_COLOR ignored")
	}
}
