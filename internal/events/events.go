package events

import (
	"context"
	"strings"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Client to server control events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
)

// Server to client events.
const (
	EventConnectionConfirmed = "connection:confirmed"
	EventSubscribed          = "subscribed"
	EventUnsubscribed        = "unsubscribed"
	EventPong                = "pong"
	EventError               = "error"

	EventLoanRequestSubmitted = "loan:request:submitted"
	EventLoanNew              = "loan:new"
	EventLoanStatus           = "loan:status"
	EventLoanFunded           = "loan:funded"
	EventKYCStatus            = "kyc:status"
	EventAdminNotification    = "admin:notification"
	EventMarketplaceUpdate    = "marketplace:update"
)

// AllEvents lists every server to client event name that Decode accepts.
var AllEvents = []string{
	EventConnectionConfirmed,
	EventSubscribed,
	EventUnsubscribed,
	EventPong,
	EventError,
	EventLoanRequestSubmitted,
	EventLoanNew,
	EventLoanStatus,
	EventLoanFunded,
	EventKYCStatus,
	EventAdminNotification,
	EventMarketplaceUpdate,
}

// SubjectPrefix is the NATS subject namespace for mirrored events.
const SubjectPrefix = "lendbus."

// Subject maps an event name to its NATS subject, e.g.
// "loan:status" -> "lendbus.loan.status".
func Subject(event string) string {
	return SubjectPrefix + strings.ReplaceAll(event, ":", ".")
}

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	EventName() string
	isPayload()
}

// Notification and marketplace update kinds.
type (
	NotificationType string
	UpdateType       string
)

const (
	NotifyLoanRequest   NotificationType = "loan_request"
	NotifyKYCSubmission NotificationType = "kyc_submission"
	NotifySystemAlert   NotificationType = "system_alert"

	UpdateNewListing        UpdateType = "new_listing"
	UpdateOwnershipTransfer UpdateType = "ownership_transfer"
	UpdateRepayment         UpdateType = "repayment"
)

type ConnectionConfirmed struct {
	ConnectionID string     `json:"connectionId"`
	UserID       string     `json:"userId"`
	Role         model.Role `json:"role"`
	Timestamp    time.Time  `json:"timestamp"`
}

type Subscribed struct {
	Channel string `json:"channel"`
}

type Unsubscribed struct {
	Channel string `json:"channel"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

// Error reports a rejected client request (bad frame, forbidden channel).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LoanRequestSubmitted struct {
	LoanID    string           `json:"loanId"`
	Status    model.LoanStatus `json:"status"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

type LoanNew struct {
	LoanID     string    `json:"loanId"`
	UserID     string    `json:"userId"`
	Amount     float64   `json:"amount"`
	Purpose    string    `json:"purpose"`
	Collateral string    `json:"collateral"`
	Timestamp  time.Time `json:"timestamp"`
}

type LoanStatusChanged struct {
	LoanID          string           `json:"loanId"`
	UserID          string           `json:"userId"`
	Status          model.LoanStatus `json:"status"`
	Amount          float64          `json:"amount,omitempty"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

type LoanFunded struct {
	LoanID    string    `json:"loanId"`
	UserID    string    `json:"userId"`
	TxHash    string    `json:"txHash"`
	NFTID     string    `json:"nftId"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

type KYCStatusChanged struct {
	UserID          string          `json:"userId"`
	Status          model.KYCStatus `json:"status"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

type AdminNotification struct {
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type MarketplaceUpdate struct {
	Type      UpdateType `json:"type"`
	LoanID    string     `json:"loanId"`
	NFTID     string     `json:"nftId,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (ConnectionConfirmed) EventName() string  { return EventConnectionConfirmed }
func (Subscribed) EventName() string           { return EventSubscribed }
func (Unsubscribed) EventName() string         { return EventUnsubscribed }
func (Pong) EventName() string                 { return EventPong }
func (Error) EventName() string                { return EventError }
func (LoanRequestSubmitted) EventName() string { return EventLoanRequestSubmitted }
func (LoanNew) EventName() string              { return EventLoanNew }
func (LoanStatusChanged) EventName() string    { return EventLoanStatus }
func (LoanFunded) EventName() string           { return EventLoanFunded }
func (KYCStatusChanged) EventName() string     { return EventKYCStatus }
func (AdminNotification) EventName() string    { return EventAdminNotification }
func (MarketplaceUpdate) EventName() string    { return EventMarketplaceUpdate }

func (ConnectionConfirmed) isPayload()  {}
func (Subscribed) isPayload()           {}
func (Unsubscribed) isPayload()         {}
func (Pong) isPayload()                 {}
func (Error) isPayload()                {}
func (LoanRequestSubmitted) isPayload() {}
func (LoanNew) isPayload()              {}
func (LoanStatusChanged) isPayload()    {}
func (LoanFunded) isPayload()           {}
func (KYCStatusChanged) isPayload()     {}
func (AdminNotification) isPayload()    {}
func (MarketplaceUpdate) isPayload()    {}

// Publisher is the interface for mirroring events out of process.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
