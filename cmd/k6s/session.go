package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/types"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(),
		newSessionShowCmd(),
		newSessionContextCmd(),
		newSessionDeleteCmd(),
	)
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var limit int
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := st.ListSessions(cmd.Context(), state.ListSessionsParams{
				Limit: limit,
				State: types.SessionState(stateFilter),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, session := range sessions {
				fmt.Fprintf(out, "%s %s  %-9s  %s  %s\n",
					stateDot(string(session.State)), session.ID[:8], session.State,
					session.StartedAt.Format("2006-01-02 15:04"),
					truncate(session.Objective, 50))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	cmd.Flags().StringVar(&stateFilter, "state", "", "filter by state (created|active|paused|completed|failed)")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|prefix|latest>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			session, err := st.FindSession(ctx, args[0])
			if err != nil {
				return err
			}
			agents, err := st.ListAgents(ctx, session.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", bold(session.Objective))
			fmt.Fprintf(out, "ID:       %s\n", session.ID)
			fmt.Fprintf(out, "State:    %s\n", session.State)
			fmt.Fprintf(out, "Started:  %s\n", session.StartedAt.Format("2006-01-02 15:04:05"))
			if session.EndedAt != nil {
				fmt.Fprintf(out, "Ended:    %s\n", session.EndedAt.Format("2006-01-02 15:04:05"))
			}
			if session.ParentSessionID != "" {
				fmt.Fprintf(out, "Parent:   %s\n", session.ParentSessionID)
			}
			if session.ContextSummary != "" {
				fmt.Fprintf(out, "Summary:  %s\n", session.ContextSummary)
			}
			if len(agents) > 0 {
				fmt.Fprintln(out, "Agents:")
				for _, agent := range agents {
					fmt.Fprintf(out, "  - %s (%s): %s\n", agent.Name, agent.Role, agent.State)
				}
			}
			return nil
		},
	}
}

func newSessionContextCmd() *cobra.Command {
	var key string
	var format string

	cmd := &cobra.Command{
		Use:   "context <id|prefix|latest>",
		Short: "Show a session's saved context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			session, err := st.FindSession(ctx, args[0])
			if err != nil {
				return err
			}

			var entries []*types.ContextEntry
			if key != "" {
				entry, err := st.LoadContext(ctx, session.ID, key)
				if err != nil {
					return err
				}
				entries = []*types.ContextEntry{entry}
			} else {
				entries, err = st.LoadAllContext(ctx, session.ID, "")
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				payload := make(map[string]any, len(entries))
				for _, entry := range entries {
					payload[entry.Key] = entry.Value
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}

			for _, entry := range entries {
				fmt.Fprintf(out, "%s (%s)\n", bold(entry.Key), entry.UpdatedAt.Format("2006-01-02 15:04"))
				fmt.Fprintf(out, "  %v\n", entry.Value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "show a single key")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id|prefix>",
		Short: "Delete a session and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			session, err := st.FindSession(ctx, args[0])
			if err != nil {
				return err
			}
			if !force {
				return fmt.Errorf("refusing to delete session %s without --force", session.ID[:8])
			}

			if err := st.DeleteSession(ctx, session.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted session %s\n", green("✓"), session.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete without confirmation")
	return cmd
}
