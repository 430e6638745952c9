package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rhythm/model"
	"rhythm/storage"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.store.List(cmd.Context())
		if err != nil {
			return err
		}
		current, _ := a.store.LoadCurrentSessionID(cmd.Context())

		if sessionsLimit > 0 && len(sessions) > sessionsLimit {
			sessions = sessions[:sessionsLimit]
		}
		fmt.Fprint(cmd.OutOrStdout(), renderSessionList(sessions, current))
		return nil
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message text across all saved conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		matches, err := storage.NewSearchIndex(a.store).SearchAllSessions(cmd.Context(), query)
		if err != nil {
			return err
		}

		if sessionsLimit > 0 && len(matches) > sessionsLimit {
			matches = matches[:sessionsLimit]
		}
		fmt.Fprint(cmd.OutOrStdout(), renderMatches(matches, query))
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Deleted "+args[0]))
		return nil
	},
}

func init() {
	sessionsCmd.PersistentFlags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of rows to show (0 for all)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsSearchCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

const (
	nameCol     = 34
	countCol    = 6
	updatedCol  = 18
	previewCols = 70
)

func renderSessionList(sessions []storage.SessionMetadata, current string) string {
	if len(sessions) == 0 {
		return dimStyle.Render("No saved conversations yet. Start one with `rhythm chat`.") + "\n"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("  " + pad("NAME", nameCol) + pad("MSGS", countCol) + pad("UPDATED", updatedCol) + "ID"))
	b.WriteString("\n")

	for _, s := range sessions {
		marker := "  "
		if s.ID == current {
			marker = "* "
		}
		b.WriteString(marker)
		b.WriteString(titleStyle.Render(pad(truncate(s.Name, nameCol-1), nameCol)))
		b.WriteString(pad(fmt.Sprint(s.MessageCount), countCol))
		b.WriteString(pad(s.UpdatedAt.Local().Format("Jan 2 15:04"), updatedCol))
		b.WriteString(dimStyle.Render(s.ID))
		b.WriteString("\n")
	}
	return b.String()
}

func renderMatches(matches []storage.SessionMessageMatch, query string) string {
	if len(matches) == 0 {
		return dimStyle.Render(fmt.Sprintf("No messages match %q.", query)) + "\n"
	}

	var b strings.Builder
	for _, m := range matches {
		when := "-"
		if !m.Timestamp.IsZero() {
			when = m.Timestamp.Local().Format(time.DateTime)
		}
		role := assistantStyle.Render(m.Role)
		if m.Role == model.RoleUser {
			role = userStyle.Render(m.Role)
		}

		fmt.Fprintf(&b, "%s  %s  %s\n", titleStyle.Render(truncate(m.SessionName, nameCol)), dimStyle.Render(when), dimStyle.Render(m.SessionID))
		fmt.Fprintf(&b, "  %s: %s\n", role, truncate(m.Preview, previewCols))
	}
	return b.String()
}
