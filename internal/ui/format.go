package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/events"
)

// FormatFrame renders one event frame as a single line for watch and tail:
//
//	15:04:05 user:U1 loan:status L1 approved
func FormatFrame(f events.Frame) string {
	at := f.EmittedAt
	if at.IsZero() {
		at = time.Now()
	}

	var b strings.Builder
	b.WriteString(RenderMuted(at.Local().Format(time.TimeOnly)))
	b.WriteByte(' ')
	if f.Channel != "" {
		b.WriteString(RenderMuted(f.Channel))
		b.WriteByte(' ')
	}
	b.WriteString(RenderAccent(f.Event))

	p, err := events.Decode(f.Event, f.Data)
	if err != nil {
		if len(f.Data) > 0 {
			b.WriteByte(' ')
			b.Write(f.Data)
		}
		return b.String()
	}
	if s := Summary(p); s != "" {
		b.WriteByte(' ')
		b.WriteString(s)
	}
	return b.String()
}

// Summary describes a payload in a few words.
func Summary(p events.Payload) string {
	switch v := p.(type) {
	case events.ConnectionConfirmed:
		return fmt.Sprintf("as %s (%s) conn=%s", v.UserID, v.Role, v.ConnectionID)
	case events.Subscribed:
		return v.Channel
	case events.Unsubscribed:
		return v.Channel
	case events.Pong:
		return ""
	case events.Error:
		return RenderError(v.Code) + " " + v.Message
	case events.LoanRequestSubmitted:
		return v.LoanID + " " + v.Message
	case events.LoanNew:
		return fmt.Sprintf("%s by %s amount=%s", v.LoanID, v.UserID, money(v.Amount))
	case events.LoanStatusChanged:
		s := v.LoanID + " " + RenderLoanStatus(v.Status)
		if v.RejectionReason != "" {
			s += " reason=" + strconv.Quote(v.RejectionReason)
		}
		return s
	case events.LoanFunded:
		return fmt.Sprintf("%s nft=%s tx=%s", v.LoanID, v.NFTID, v.TxHash)
	case events.KYCStatusChanged:
		s := v.UserID + " " + RenderKYCStatus(v.Status)
		if v.RejectionReason != "" {
			s += " reason=" + strconv.Quote(v.RejectionReason)
		}
		return s
	case events.AdminNotification:
		return RenderWarn(string(v.Type)) + " " + v.Message
	case events.MarketplaceUpdate:
		s := string(v.Type) + " " + v.LoanID
		if v.Amount != 0 {
			s += " amount=" + money(v.Amount)
		}
		return s
	default:
		return ""
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
