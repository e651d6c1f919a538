package model

import "time"

// KYCStatus is the verification state of a user.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// IsValid checks whether the status is a known value.
func (s KYCStatus) IsValid() bool {
	switch s {
	case KYCPending, KYCApproved, KYCRejected:
		return true
	}
	return false
}

// KYCRecord is the per-user verification record.
type KYCRecord struct {
	UserID          string     `json:"user_id"`
	Status          KYCStatus  `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}
