package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/types"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(
		newAuditShowCmd(),
		newAuditTailCmd(),
		newAuditExportCmd(),
	)
	return cmd
}

// parseSince parses durations like "30m", "1h", "2d" into a cutoff.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q", s)
		}
		return time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}
	return time.Now().UTC().Add(-d), nil
}

func newAuditShowCmd() *cobra.Command {
	var sessionRef, agentName, eventType, since string
	var limit int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent audit events",
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

			sessionID := sessionRef
			if sessionID == "" {
				sessionID, err = resolveSessionID(ctx, root, st)
				if err != nil {
					return err
				}
			} else {
				session, err := st.FindSession(ctx, sessionRef)
				if err != nil {
					return err
				}
				sessionID = session.ID
			}

			params := audit.QueryParams{Limit: limit}
			if eventType != "" {
				params.EventType = types.ParseEventType(eventType)
			}
			if agentName != "" {
				agent, err := st.GetAgentByName(ctx, sessionID, agentName)
				if err != nil {
					return err
				}
				params.AgentID = agent.ID
			}
			if params.Since, err = parseSince(since); err != nil {
				return err
			}

			logger := audit.NewLogger(db, sessionID, nil, nil)
			events, err := logger.GetEvents(ctx, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, event := range events {
				printEvent(out, event)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionRef, "session", "", "session ID or prefix (default: current)")
	cmd.Flags().StringVar(&agentName, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than e.g. 30m, 1h, 2d")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of events to show")
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the audit trail live",
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

			sessionID, err := resolveSessionID(ctx, root, st)
			if err != nil {
				return err
			}
			logger := audit.NewLogger(db, sessionID, nil, nil)

			out := cmd.OutOrStdout()
			var lastSequence int64

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				events, err := logger.GetEvents(ctx, audit.QueryParams{Limit: 200})
				if err != nil {
					return err
				}
				// Newest-first from the query; print ascending.
				for i := len(events) - 1; i >= 0; i-- {
					event := events[i]
					if event.Sequence <= lastSequence {
						continue
					}
					printEvent(out, event)
					lastSequence = event.Sequence
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var sessionRef, format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's audit trail",
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

			sessionID := sessionRef
			if sessionID == "" {
				sessionID, err = resolveSessionID(ctx, root, st)
				if err != nil {
					return err
				}
			} else {
				session, err := st.FindSession(ctx, sessionRef)
				if err != nil {
					return err
				}
				sessionID = session.ID
			}

			logger := audit.NewLogger(db, sessionID, nil, nil)
			newestFirst, err := logger.GetEvents(ctx, audit.QueryParams{Limit: 1 << 20})
			if err != nil {
				return err
			}
			events := make([]*types.AuditEvent, len(newestFirst))
			for i, event := range newestFirst {
				events[len(events)-1-i] = event
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "json":
				return audit.ExportJSON(w, events)
			case "csv":
				return audit.ExportCSV(w, events)
			default:
				return fmt.Errorf("unknown format %q, want json or csv", format)
			}
		},
	}

	cmd.Flags().StringVar(&sessionRef, "session", "", "session ID or prefix (default: current)")
	cmd.Flags().StringVar(&format, "format", "json", "export format (json|csv)")
	cmd.Flags().StringVar(&output, "output", "", "write to file instead of stdout")
	return cmd
}

func printEvent(w io.Writer, event *types.AuditEvent) {
	agent := event.AgentID
	if agent == "" {
		agent = "-"
	} else if len(agent) > 8 {
		agent = agent[:8]
	}
	fmt.Fprintf(w, "%s  %6d  %-18s  %-8s  %s\n",
		event.Timestamp.Format("15:04:05"), event.Sequence,
		event.Type, agent, event.Action)
}
