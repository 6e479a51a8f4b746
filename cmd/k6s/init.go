package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s"
	"github.com/khoregos/k6s/store"
)

// stateGitignore keeps the database and daemon state out of version
// control.
const stateGitignore = "# Ignore database and daemon state\n*.db\n*.db-*\ndaemon.*\n"

func newInitCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize governance for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			stateDir := filepath.Join(root, k6s.StateDirName)
			if err := os.MkdirAll(stateDir, 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(stateDir, ".gitignore"),
				[]byte(stateGitignore), 0o644); err != nil {
				return err
			}

			configPath := filepath.Join(root, k6s.ConfigFileName)
			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(out, "%s %s already exists, keeping it\n", yellow("●"), k6s.ConfigFileName)
			} else {
				if name == "" {
					name = filepath.Base(root)
				}
				if err := k6s.DefaultConfig(name).Save(configPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s wrote %s\n", green("✓"), k6s.ConfigFileName)
			}

			// Create the store up front so the schema is ready.
			db, err := store.Open(filepath.Join(stateDir, k6s.DatabaseFileName))
			if err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s initialized %s\n", green("✓"), k6s.StateDirName)
			fmt.Fprintf(out, "\nNext: %s\n", bold(`k6s team start "your objective"`))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name for the config (default: directory name)")
	return cmd
}
