package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Short:   "List live WebSocket connections (admin)",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conns, err := loansClient.Connections(context.Background())
		if err != nil {
			return err
		}
		printConnections(conns)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check server health",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := loansClient.Health(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}
