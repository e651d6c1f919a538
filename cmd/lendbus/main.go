package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/client"
	"github.com/alfredjeanlab/lendbus/internal/config"
	"github.com/alfredjeanlab/lendbus/internal/ui"
)

var (
	profileName string
	serverURL   string
	token       string
	natsURL     string
	jsonOutput  bool
	noColor     bool

	// profile is the resolved client profile, with flags applied.
	profile config.Profile

	loansClient client.LoansClient
)

func defaultURL() string {
	return os.Getenv("LENDBUS_URL")
}

// resolveProfile loads the selected profile and lets flags and
// environment override it.
func resolveProfile() error {
	path, err := config.DefaultProfilePath()
	if err != nil {
		return err
	}
	f, err := config.LoadProfiles(path)
	if err != nil {
		return err
	}
	p, err := f.Select(profileName)
	if err != nil {
		return err
	}

	if serverURL != "" {
		p.URL = serverURL
	}
	if p.URL == "" {
		p.URL = "http://localhost:8080"
	}
	if token != "" {
		p.Token = token
	} else if env := os.Getenv("LENDBUS_TOKEN"); env != "" {
		p.Token = env
	}
	if natsURL != "" {
		p.NATSURL = natsURL
	}
	profile = p
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "lendbus <command>",
	Short:         "Real-time event bus for the lending platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(!noColor && ui.ColorFor(os.Stdout))
		if err := resolveProfile(); err != nil {
			return err
		}
		loansClient = client.NewHTTPClient(profile.URL, profile.Token)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if loansClient != nil {
			loansClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "client profile name (default: active profile)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL(), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default: $LENDBUS_TOKEN or profile)")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS URL for tail")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "loans", Title: "Loans:"},
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(loanCmd)
	rootCmd.AddCommand(kycCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
