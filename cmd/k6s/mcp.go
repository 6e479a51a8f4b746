package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s"
	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/boundary"
	"github.com/khoregos/k6s/lock"
	"github.com/khoregos/k6s/toolserver"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Tool server for agent hosts",
	}
	cmd.AddCommand(newMCPServeCmd())
	return cmd
}

func newMCPServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve governance tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
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

			sessionID, err := resolveSessionID(ctx, root, st)
			if err != nil {
				return err
			}

			// Diagnostics go to stderr; stdout carries the protocol.
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			auditLog := audit.NewLogger(db, sessionID, nil, &audit.Config{
				OnError: func(err error) { logger.Error("audit flush", "err", err) },
			})
			if err := auditLog.Start(ctx); err != nil {
				return err
			}
			defer auditLog.Stop(ctx)

			srv := toolserver.NewServer(
				sessionID,
				st,
				auditLog,
				lock.NewManager(db, sessionID),
				boundary.NewEnforcer(db, sessionID, root, cfg.Boundaries),
				cfg.Boundaries,
				&toolserver.Config{
					ServerVersion: k6s.Version,
					OnError:       func(err error) { logger.Warn("tool call", "err", err) },
				},
			)
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
