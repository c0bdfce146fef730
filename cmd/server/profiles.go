package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/session-keeper/internal/profiledir"
	"github.com/shehryarbajwa/session-keeper/internal/store"
)

var purge bool

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect stored profile sessions",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		profiles, err := st.ListAll(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROFILE\tLAST UPDATED")
		for _, p := range profiles {
			fmt.Fprintf(tw, "%s\t%s\n", p.ProfileID, p.LastUpdated.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		id := args[0]
		if !st.Delete(cmd.Context(), id) {
			return fmt.Errorf("failed to delete profile %s", id)
		}

		if purge {
			dirs, err := profiledir.NewManager(cfg.ProfilesDir)
			if err != nil {
				return err
			}
			if err := dirs.Remove(id); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Profile %s deleted\n", id)
		return nil
	},
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Session database tools",
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the database connection and print the sessions schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := st.Status(cmd.Context())
		if err != nil {
			return err
		}
		columns, err := st.Schema(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "driver: %s\npath: %s\nprofiles: %d\nserver time: %s\n\n",
			status.Driver, status.Path, status.Profiles, status.ServerTime.Format(time.RFC3339))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tCOLUMN\tTYPE\tNOT NULL\tPK")
		for _, c := range columns {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\n", c.Position, c.Name, c.Type, c.NotNull, c.PrimaryKey)
		}
		return tw.Flush()
	},
}
