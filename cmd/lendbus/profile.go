package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/config"
)

func loadProfilesFile() (string, config.ProfilesFile, error) {
	path, err := config.DefaultProfilePath()
	if err != nil {
		return "", config.ProfilesFile{}, err
	}
	f, err := config.LoadProfiles(path)
	return path, f, err
}

func maskToken(tok string) string {
	if len(tok) > 8 {
		return tok[:8] + "..."
	}
	return tok
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	Short:   "Manage named client profiles",
	GroupID: "system",
	// All profile subcommands are local file operations.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a named profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]
		tok, _ := cmd.Flags().GetString("token")
		nats, _ := cmd.Flags().GetString("nats")
		attempts, _ := cmd.Flags().GetInt("max-attempts")

		path, f, err := loadProfilesFile()
		if err != nil {
			return err
		}
		p := f.Profiles[name]
		p.URL = url
		if tok != "" {
			p.Token = tok
		}
		if nats != "" {
			p.NATSURL = nats
		}
		if attempts > 0 {
			p.MaxAttempts = attempts
		}
		f.Profiles[name] = p
		if f.Active == "" {
			f.Active = name
		}
		if err := config.SaveProfiles(path, f); err != nil {
			return err
		}
		fmt.Printf("profile %q saved (%s)\n", name, url)
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		path, f, err := loadProfilesFile()
		if err != nil {
			return err
		}
		if _, ok := f.Profiles[name]; !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		delete(f.Profiles, name)
		if f.Active == name {
			f.Active = ""
		}
		if err := config.SaveProfiles(path, f); err != nil {
			return err
		}
		fmt.Printf("profile %q removed\n", name)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, f, err := loadProfilesFile()
		if err != nil {
			return err
		}
		if len(f.Profiles) == 0 {
			fmt.Println("no profiles configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tTOKEN\tNATS")
		for _, name := range f.Names() {
			p := f.Profiles[name]
			marker := "  "
			if name == f.Active {
				marker = "* "
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", marker, name, p.URL, maskToken(p.Token), p.NATSURL)
		}
		return w.Flush()
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		path, f, err := loadProfilesFile()
		if err != nil {
			return err
		}
		if _, ok := f.Profiles[name]; !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		f.Active = name
		if err := config.SaveProfiles(path, f); err != nil {
			return err
		}
		fmt.Printf("active profile set to %q\n", name)
		return nil
	},
}

func init() {
	profileAddCmd.Flags().String("token", "", "bearer token")
	profileAddCmd.Flags().String("nats", "", "NATS URL for tail")
	profileAddCmd.Flags().Int("max-attempts", 0, "reconnect attempts before giving up (default 5)")

	profileCmd.AddCommand(profileAddCmd, profileRemoveCmd, profileListCmd, profileUseCmd)
}
