package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s"
	"github.com/khoregos/k6s/state"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage governed team sessions",
	}
	cmd.AddCommand(
		newTeamStartCmd(),
		newTeamStopCmd(),
		newTeamResumeCmd(),
		newTeamStatusCmd(),
		newTeamHistoryCmd(),
	)
	return cmd
}

func newTeamStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [objective]",
		Short: "Start a governed session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			if k6s.IsRunning(root) {
				return fmt.Errorf("%w: run %s first", k6s.ErrAlreadyRunning, bold("k6s team stop"))
			}

			cfg, err := loadProjectConfig(root)
			if err != nil {
				return err
			}

			objective := "Governed coding session"
			if len(args) > 0 {
				objective = args[0]
			}

			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			session, err := st.CreateSession(ctx, objective, state.CreateSessionParams{
				ConfigSnapshot: cfg.Snapshot(),
			})
			if err != nil {
				return err
			}
			if err := st.MarkSessionActive(ctx, session.ID); err != nil {
				return err
			}

			if err := k6s.InjectGovernance(root, session.ID); err != nil {
				return err
			}
			if err := k6s.RegisterToolServer(root); err != nil {
				return err
			}
			if err := k6s.RegisterHooks(root); err != nil {
				return err
			}
			if err := k6s.WriteMarker(root, k6s.NewMarker(session.ID, root)); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s session started\n", green("✓"))
			fmt.Fprintf(out, "  ID:        %s\n", session.ID)
			fmt.Fprintf(out, "  Objective: %s\n", objective)
			return nil
		},
	}
}

func newTeamStopCmd() *cobra.Command {
	var summary string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}

			marker, err := k6s.ReadMarker(root)
			if err != nil {
				return k6s.ErrNoActiveSession
			}

			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			if err := st.MarkSessionCompleted(ctx, marker.SessionID, summary); err != nil {
				return err
			}
			if err := k6s.RemoveGovernance(root); err != nil {
				return err
			}
			if err := k6s.UnregisterHooks(root); err != nil {
				return err
			}
			if err := k6s.RemoveMarker(root); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s session %s stopped\n", green("✓"), marker.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&summary, "summary", "", "session summary stored for resume")
	return cmd
}

func newTeamResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [objective]",
		Short: "Start a new session carrying over the previous one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			if k6s.IsRunning(root) {
				return fmt.Errorf("%w: run %s first", k6s.ErrAlreadyRunning, bold("k6s team stop"))
			}

			cfg, err := loadProjectConfig(root)
			if err != nil {
				return err
			}

			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			previous, err := st.GetLatestSession(ctx)
			if err != nil {
				return fmt.Errorf("nothing to resume: %w", err)
			}

			resumeContext, err := st.GenerateResumeContext(ctx, previous.ID)
			if err != nil {
				return err
			}

			objective := previous.Objective
			if len(args) > 0 {
				objective = args[0]
			}

			session, err := st.CreateSession(ctx, objective, state.CreateSessionParams{
				ConfigSnapshot:  cfg.Snapshot(),
				ParentSessionID: previous.ID,
			})
			if err != nil {
				return err
			}
			if _, err := st.SaveContext(ctx, session.ID, "resume_context", resumeContext, ""); err != nil {
				return err
			}
			if err := st.MarkSessionActive(ctx, session.ID); err != nil {
				return err
			}

			if err := k6s.InjectGovernance(root, session.ID); err != nil {
				return err
			}
			if err := k6s.RegisterToolServer(root); err != nil {
				return err
			}
			if err := k6s.RegisterHooks(root); err != nil {
				return err
			}
			if err := k6s.WriteMarker(root, k6s.NewMarker(session.ID, root)); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s session resumed\n", green("✓"))
			fmt.Fprintf(out, "  ID:     %s\n", session.ID)
			fmt.Fprintf(out, "  Parent: %s\n", previous.ID)
			return nil
		},
	}
}

func newTeamStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session and its agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			marker, err := k6s.ReadMarker(root)
			if err != nil {
				fmt.Fprintf(out, "%s no active session\n", yellow("●"))
				return nil
			}

			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			session, err := st.GetSession(ctx, marker.SessionID)
			if err != nil {
				return err
			}
			agents, err := st.ListAgents(ctx, session.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s %s\n", green("●"), bold(session.Objective))
			fmt.Fprintf(out, "  ID:      %s\n", session.ID)
			fmt.Fprintf(out, "  State:   %s\n", session.State)
			fmt.Fprintf(out, "  Started: %s\n", session.StartedAt.Format("2006-01-02 15:04"))
			if len(agents) > 0 {
				fmt.Fprintf(out, "  Agents:\n")
				for _, agent := range agents {
					spec := ""
					if agent.Specialization != "" {
						spec = fmt.Sprintf(" (%s)", agent.Specialization)
					}
					fmt.Fprintf(out, "    - %s%s: %s\n", agent.Name, spec, agent.State)
				}
			}
			return nil
		},
	}
}

func newTeamHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
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

			sessions, err := st.ListSessions(cmd.Context(), state.ListSessionsParams{Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions yet")
				return nil
			}
			for _, session := range sessions {
				marker := stateDot(string(session.State))
				fmt.Fprintf(out, "%s %s  %-9s  %s\n",
					marker, session.ID[:8], session.State, truncate(session.Objective, 60))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of sessions to show")
	return cmd
}

func stateDot(sessionState string) string {
	switch sessionState {
	case "active", "created":
		return green("●")
	case "failed":
		return red("●")
	default:
		return yellow("●")
	}
}

func truncate(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-3]) + "..."
}
