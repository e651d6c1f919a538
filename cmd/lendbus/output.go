package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/registry"
	"github.com/alfredjeanlab/lendbus/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printLoan(loan *model.Loan) {
	if jsonOutput {
		printJSON(loan)
		return
	}
	fmt.Printf("ID:          %s\n", loan.ID)
	fmt.Printf("Borrower:    %s\n", loan.UserID)
	fmt.Printf("Status:      %s\n", ui.RenderLoanStatus(loan.Status))
	fmt.Printf("Amount:      %.2f\n", loan.Amount)
	fmt.Printf("Rate:        %.2f%% over %d months\n", loan.InterestRate, loan.TermMonths)
	fmt.Printf("Repaid:      %.2f\n", loan.TotalRepaid)
	fmt.Printf("Remaining:   %.2f\n", loan.RemainingBalance)
	if loan.Purpose != "" {
		fmt.Printf("Purpose:     %s\n", loan.Purpose)
	}
	if loan.Collateral != "" {
		fmt.Printf("Collateral:  %s\n", loan.Collateral)
	}
	if loan.RejectionReason != "" {
		fmt.Printf("Rejected:    %s\n", loan.RejectionReason)
	}
	if loan.ApprovedBy != "" {
		fmt.Printf("Approved By: %s\n", loan.ApprovedBy)
	}
	if loan.Token != nil {
		fmt.Printf("NFT:         %s\n", loan.Token.NFTID)
		fmt.Printf("Tx:          %s\n", loan.Token.TxHash)
	}
	if loan.TokenizationError != "" {
		fmt.Printf("Tokenize:    %s\n", ui.RenderError(loan.TokenizationError))
	}
	fmt.Printf("Created At:  %s\n", loan.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated At:  %s\n", loan.UpdatedAt.Local().Format(time.DateTime))
}

func printLoanList(loans []*model.Loan) {
	if jsonOutput {
		printJSON(loans)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBORROWER\tSTATUS\tAMOUNT\tREMAINING\tPURPOSE")
	for _, l := range loans {
		purpose := l.Purpose
		if len(purpose) > 40 {
			purpose = purpose[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			l.ID, l.UserID, l.Status, l.Amount, l.RemainingBalance, purpose)
	}
	w.Flush()
	fmt.Printf("\n%d loans\n", len(loans))
}

func printKYC(rec *model.KYCRecord) {
	if jsonOutput {
		printJSON(rec)
		return
	}
	fmt.Printf("User:        %s\n", rec.UserID)
	fmt.Printf("Status:      %s\n", ui.RenderKYCStatus(rec.Status))
	fmt.Printf("Submitted:   %s\n", rec.SubmittedAt.Local().Format(time.DateTime))
	if rec.ReviewedBy != "" {
		fmt.Printf("Reviewed By: %s\n", rec.ReviewedBy)
	}
	if rec.ReviewedAt != nil {
		fmt.Printf("Reviewed At: %s\n", rec.ReviewedAt.Local().Format(time.DateTime))
	}
	if rec.RejectionReason != "" {
		fmt.Printf("Rejected:    %s\n", rec.RejectionReason)
	}
}

func printConnections(conns []registry.Entry) {
	if jsonOutput {
		printJSON(conns)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tROLE\tIDLE\tCHANNELS")
	for _, c := range conns {
		idle := (time.Duration(c.IdleSecs * float64(time.Second))).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", c.ID, c.UserID, c.Role, idle, c.Channels)
	}
	w.Flush()
	fmt.Printf("\n%d connections\n", len(conns))
}
