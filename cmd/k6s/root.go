// Command k6s is the Khoregos governance CLI: it initializes projects,
// runs team sessions, serves tools to agent hosts, and inspects the
// audit trail.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/khoregos/k6s"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/store"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "k6s",
		Short:         "Governance for multi-agent AI coding sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newVersionCmd(),
		newTeamCmd(),
		newSessionCmd(),
		newAuditCmd(),
		newMCPCmd(),
		newHookCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the k6s version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "k6s", k6s.Version)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show governance status for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !initialized(root) {
				fmt.Fprintf(out, "%s not initialized, run %s first\n", yellow("●"), bold("k6s init"))
				return nil
			}

			marker, err := k6s.ReadMarker(root)
			if err != nil {
				fmt.Fprintf(out, "%s governance idle\n", yellow("●"))
				return nil
			}
			fmt.Fprintf(out, "%s governance running\n", green("●"))
			fmt.Fprintf(out, "  Session:  %s\n", marker.SessionID)
			fmt.Fprintf(out, "  Instance: %s\n", marker.InstanceID)
			fmt.Fprintf(out, "  Since:    %s\n", marker.StartedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

// projectRoot is the directory k6s governs: the working directory.
func projectRoot() (string, error) {
	return os.Getwd()
}

func initialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, k6s.ConfigFileName))
	return err == nil
}

// loadProjectConfig reads k6s.yaml, falling back to defaults when the
// project was never initialized.
func loadProjectConfig(root string) (*k6s.Config, error) {
	path := filepath.Join(root, k6s.ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return k6s.DefaultConfig(filepath.Base(root)), nil
	}
	return k6s.LoadConfig(path)
}

// openProject opens the project store and state manager. The caller
// closes the returned store.
func openProject(root string) (*store.DB, *state.Manager, error) {
	db, err := store.Open(filepath.Join(root, k6s.StateDirName, k6s.DatabaseFileName))
	if err != nil {
		return nil, nil, err
	}
	return db, state.NewManager(db, root), nil
}

// resolveSessionID picks the governed session: the K6S_SESSION_ID
// environment variable, then the daemon marker, then the newest active
// session.
func resolveSessionID(ctx context.Context, root string, st *state.Manager) (string, error) {
	if id := strings.TrimSpace(os.Getenv("K6S_SESSION_ID")); id != "" {
		return id, nil
	}
	if marker, err := k6s.ReadMarker(root); err == nil {
		return marker.SessionID, nil
	}
	session, err := st.GetActiveSession(ctx)
	if err != nil {
		return "", k6s.ErrNoActiveSession
	}
	return session.ID, nil
}
