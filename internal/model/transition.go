package model

// loanTransitions is the complete table of legal loan status changes.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanPending:  {LoanApproved, LoanRejected},
	LoanApproved: {LoanActive},
	LoanActive:   {LoanCompleted, LoanDefaulted},
}

// CanTransition reports whether from -> to is a legal loan transition.
func CanTransition(from, to LoanStatus) bool {
	for _, next := range loanTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatus validates from -> to against the transition table and returns
// the target status, or an *IllegalTransition.
func NextStatus(from, to LoanStatus) (LoanStatus, error) {
	if !CanTransition(from, to) {
		return from, &IllegalTransition{Entity: "loan", From: string(from), To: string(to)}
	}
	return to, nil
}

var kycTransitions = map[KYCStatus][]KYCStatus{
	KYCPending: {KYCApproved, KYCRejected},
}

// CanTransitionKYC reports whether from -> to is a legal KYC transition.
func CanTransitionKYC(from, to KYCStatus) bool {
	for _, next := range kycTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
