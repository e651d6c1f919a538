package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/auth"
	"github.com/alfredjeanlab/lendbus/internal/model"
)

var tokenCmd = &cobra.Command{
	Use:     "token <user-id>",
	Short:   "Issue a signed access token (needs LENDBUS_JWT_SECRET)",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		issuer, _ := cmd.Flags().GetString("issuer")

		secret := os.Getenv("LENDBUS_JWT_SECRET")
		if secret == "" {
			return errors.New("LENDBUS_JWT_SECRET is required")
		}
		if issuer == "" {
			issuer = os.Getenv("LENDBUS_JWT_ISSUER")
		}
		r := model.Role(role)
		if !r.IsValid() {
			return fmt.Errorf("invalid role %q (must be user or admin)", role)
		}

		var opts []auth.Option
		if issuer != "" {
			opts = append(opts, auth.WithIssuer(issuer))
		}
		a, err := auth.New(secret, opts...)
		if err != nil {
			return err
		}
		tok, err := a.Issue(model.Identity{UserID: args[0], Role: r}, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", string(model.RoleUser), "role claim (user or admin)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().String("issuer", "", "issuer claim (default: $LENDBUS_JWT_ISSUER)")
}
