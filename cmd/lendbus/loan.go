package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/client"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

var loanCmd = &cobra.Command{
	Use:     "loan",
	Short:   "Submit and manage loans",
	GroupID: "loans",
}

var loanSubmitCmd = &cobra.Command{
	Use:   "submit <amount>",
	Short: "Submit a loan request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}
		rate, _ := cmd.Flags().GetFloat64("rate")
		term, _ := cmd.Flags().GetInt("term")
		purpose, _ := cmd.Flags().GetString("purpose")
		collateral, _ := cmd.Flags().GetString("collateral")

		loan, err := loansClient.SubmitLoan(context.Background(), &client.SubmitLoanRequest{
			Amount:       amount,
			InterestRate: rate,
			TermMonths:   term,
			Purpose:      purpose,
			Collateral:   collateral,
		})
		if err != nil {
			return err
		}
		printLoan(loan)
		return nil
	},
}

var loanShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loan, err := loansClient.GetLoan(context.Background(), args[0])
		if err != nil {
			return err
		}
		printLoan(loan)
		return nil
	},
}

var loanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loans (admins see all, borrowers their own)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")

		loans, err := loansClient.ListLoans(context.Background(), &client.ListLoansRequest{
			UserID: user,
			Status: status,
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		printLoanList(loans)
		return nil
	},
}

// transitionCmd builds a subcommand that moves a loan to status.
func transitionCmd(use string, status model.LoanStatus, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := ""
			if status == model.LoanRejected {
				reason, _ = cmd.Flags().GetString("reason")
				if strings.TrimSpace(reason) == "" {
					return fmt.Errorf("--reason is required to reject a loan")
				}
			}
			loan, err := loansClient.TransitionLoan(context.Background(), args[0], status, reason)
			if err != nil {
				return err
			}
			printLoan(loan)
			return nil
		},
	}
	if status == model.LoanRejected {
		cmd.Flags().String("reason", "", "rejection reason shown to the borrower")
	}
	return cmd
}

var loanRepayCmd = &cobra.Command{
	Use:   "repay <id> <amount>",
	Short: "Record a repayment against an active loan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		loan, err := loansClient.Repay(context.Background(), args[0], amount)
		if err != nil {
			return err
		}
		printLoan(loan)
		return nil
	},
}

var loanTokenizeCmd = &cobra.Command{
	Use:   "tokenize <id>",
	Short: "Retry tokenization of an approved loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loan, err := loansClient.RetryTokenization(context.Background(), args[0])
		if err != nil {
			return err
		}
		printLoan(loan)
		return nil
	},
}

func init() {
	loanSubmitCmd.Flags().Float64("rate", 10, "interest rate in percent over the full term")
	loanSubmitCmd.Flags().Int("term", 12, "term in months")
	loanSubmitCmd.Flags().String("purpose", "", "what the loan is for")
	loanSubmitCmd.Flags().String("collateral", "", "collateral description")

	loanListCmd.Flags().String("user", "", "only loans of this borrower (admin)")
	loanListCmd.Flags().StringSlice("status", nil, "filter by status (repeatable or comma separated)")
	loanListCmd.Flags().Int("limit", 0, "maximum number of loans")

	loanCmd.AddCommand(
		loanSubmitCmd,
		loanShowCmd,
		loanListCmd,
		transitionCmd("approve", model.LoanApproved, "Approve a pending loan"),
		transitionCmd("reject", model.LoanRejected, "Reject a pending loan"),
		transitionCmd("default", model.LoanDefaulted, "Mark an active loan as defaulted"),
		loanRepayCmd,
		loanTokenizeCmd,
	)
}
