package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

var kycCmd = &cobra.Command{
	Use:     "kyc",
	Short:   "Submit and review KYC",
	GroupID: "loans",
}

var kycSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit KYC for the current user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := loansClient.SubmitKYC(context.Background())
		if err != nil {
			return err
		}
		printKYC(rec)
		return nil
	},
}

var kycShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's KYC record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := loansClient.GetKYC(context.Background(), args[0])
		if err != nil {
			return err
		}
		printKYC(rec)
		return nil
	},
}

var kycReviewCmd = &cobra.Command{
	Use:   "review <user-id> <approved|rejected>",
	Short: "Approve or reject a pending KYC submission (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.KYCStatus(args[1])
		if status != model.KYCApproved && status != model.KYCRejected {
			return fmt.Errorf("invalid decision %q (must be approved or rejected)", args[1])
		}
		reason, _ := cmd.Flags().GetString("reason")
		if status == model.KYCRejected && reason == "" {
			return fmt.Errorf("--reason is required to reject")
		}
		rec, err := loansClient.ReviewKYC(context.Background(), args[0], status, reason)
		if err != nil {
			return err
		}
		printKYC(rec)
		return nil
	},
}

func init() {
	kycReviewCmd.Flags().String("reason", "", "rejection reason")
	kycCmd.AddCommand(kycSubmitCmd, kycShowCmd, kycReviewCmd)
}
