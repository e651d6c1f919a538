package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownEvent is returned by Decode for names outside the catalogue.
var ErrUnknownEvent = errors.New("unknown event")

// Frame is the JSON envelope carried by every WebSocket text message in
// both directions.
type Frame struct {
	Event     string          `json:"event"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	EmittedAt time.Time       `json:"emittedAt,omitzero"`
}

// NewFrame wraps a payload in a frame addressed to channel.
func NewFrame(channel string, p Payload, at time.Time) (Frame, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Frame{}, fmt.Errorf("marshaling %s payload: %w", p.EventName(), err)
	}
	return Frame{Event: p.EventName(), Channel: channel, Data: data, EmittedAt: at}, nil
}

// Encode marshals a payload straight to frame bytes.
func Encode(channel string, p Payload, at time.Time) ([]byte, error) {
	f, err := NewFrame(channel, p, at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// ParseFrame unmarshals one inbound message. The "subscribe:<channel>" and
// "unsubscribe:<channel>" shorthands are folded into the event and channel
// fields.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parsing frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, errors.New("parsing frame: missing event")
	}
	for _, ev := range []string{EventSubscribe, EventUnsubscribe} {
		if ch, ok := strings.CutPrefix(f.Event, ev+":"); ok {
			f.Event = ev
			if f.Channel == "" {
				f.Channel = ch
			}
		}
	}
	return f, nil
}

// Decode turns a frame body into its typed payload. It is the only place
// event names are mapped to types; adding an event means adding a case here.
func Decode(name string, raw json.RawMessage) (Payload, error) {
	switch name {
	case EventConnectionConfirmed:
		return decodeAs[ConnectionConfirmed](name, raw)
	case EventSubscribed:
		return decodeAs[Subscribed](name, raw)
	case EventUnsubscribed:
		return decodeAs[Unsubscribed](name, raw)
	case EventPong:
		return decodeAs[Pong](name, raw)
	case EventError:
		return decodeAs[Error](name, raw)
	case EventLoanRequestSubmitted:
		return decodeAs[LoanRequestSubmitted](name, raw)
	case EventLoanNew:
		return decodeAs[LoanNew](name, raw)
	case EventLoanStatus:
		return decodeAs[LoanStatusChanged](name, raw)
	case EventLoanFunded:
		return decodeAs[LoanFunded](name, raw)
	case EventKYCStatus:
		return decodeAs[KYCStatusChanged](name, raw)
	case EventAdminNotification:
		return decodeAs[AdminNotification](name, raw)
	case EventMarketplaceUpdate:
		return decodeAs[MarketplaceUpdate](name, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodeAs[T Payload](name string, raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return v, nil
}
