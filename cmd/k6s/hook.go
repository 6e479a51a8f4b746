package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khoregos/k6s"
	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/types"
)

// maxHookDetailBytes bounds what one hook payload can add to the log.
const maxHookDetailBytes = 2000

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Agent host lifecycle hooks (invoked by the host, not by hand)",
		Hidden: true,
	}
	cmd.AddCommand(
		newHookEventCmd("post-tool-use", handlePostToolUse),
		newHookEventCmd("subagent-start", handleSubagentStart),
		newHookEventCmd("subagent-stop", handleSubagentStop),
		newHookEventCmd("session-stop", handleSessionStop),
	)
	return cmd
}

type hookHandler func(cmd *cobra.Command, env *hookEnv, payload map[string]any) error

// hookEnv is the per-invocation context handed to hook handlers.
type hookEnv struct {
	root      string
	sessionID string
	state     *state.Manager
	logger    *audit.Logger
}

// newHookEventCmd builds one hook subcommand. Hooks read a JSON payload
// from stdin and silently no-op when no session is active, so the host
// never fails because governance is idle.
func newHookEventCmd(name string, handler hookHandler) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Handle the %s host event", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}

			marker, err := k6s.ReadMarker(root)
			if err != nil {
				return nil
			}

			var payload map[string]any
			data, err := io.ReadAll(cmd.InOrStdin())
			if err == nil && len(data) > 0 {
				_ = json.Unmarshal(data, &payload)
			}

			db, st, err := openProject(root)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			logger := audit.NewLogger(db, marker.SessionID, nil, nil)
			if err := logger.Start(ctx); err != nil {
				return err
			}
			defer logger.Stop(ctx)

			return handler(cmd, &hookEnv{
				root:      root,
				sessionID: marker.SessionID,
				state:     st,
				logger:    logger,
			}, payload)
		},
	}
}

func handlePostToolUse(cmd *cobra.Command, env *hookEnv, payload map[string]any) error {
	toolName, _ := payload["tool_name"].(string)
	if toolName == "" {
		return nil
	}
	toolInput, _ := payload["tool_input"].(map[string]any)

	action := fmt.Sprintf("tool_use: %s", strings.ToLower(toolName))
	var files []string
	switch strings.ToLower(toolName) {
	case "bash":
		if command, ok := toolInput["command"].(string); ok {
			action = fmt.Sprintf("tool_use: bash: %s", truncate(command, 120))
		}
	default:
		for _, key := range []string{"file_path", "path", "filename"} {
			if path, ok := toolInput[key].(string); ok && path != "" {
				files = append(files, path)
				action = fmt.Sprintf("tool_use: %s: %s", strings.ToLower(toolName), path)
				break
			}
		}
	}

	details := map[string]any{"tool_name": toolName}
	if encoded, err := json.Marshal(toolInput); err == nil && len(toolInput) > 0 {
		if len(encoded) > maxHookDetailBytes {
			encoded = encoded[:maxHookDetailBytes]
		}
		details["tool_input"] = string(encoded)
	}

	_, err := env.logger.Log(cmd.Context(), audit.LogParams{
		Type:          types.EventToolUse,
		Action:        action,
		Details:       details,
		FilesAffected: files,
	})
	return err
}

func handleSubagentStart(cmd *cobra.Command, env *hookEnv, payload map[string]any) error {
	name := agentNameFromPayload(payload)
	_, err := env.logger.Log(cmd.Context(), audit.LogParams{
		Type:    types.EventAgentSpawn,
		Action:  fmt.Sprintf("Subagent started: %s", name),
		Details: map[string]any{"agent": name},
	})
	return err
}

func handleSubagentStop(cmd *cobra.Command, env *hookEnv, payload map[string]any) error {
	name := agentNameFromPayload(payload)
	_, err := env.logger.Log(cmd.Context(), audit.LogParams{
		Type:    types.EventAgentComplete,
		Action:  fmt.Sprintf("Subagent finished: %s", name),
		Details: map[string]any{"agent": name},
	})
	return err
}

func handleSessionStop(cmd *cobra.Command, env *hookEnv, payload map[string]any) error {
	ctx := cmd.Context()

	if _, err := env.logger.Log(ctx, audit.LogParams{
		Type:   types.EventSessionComplete,
		Action: "claude code session ended",
	}); err != nil {
		return err
	}

	if err := env.state.MarkSessionCompleted(ctx, env.sessionID, ""); err != nil {
		return err
	}
	return k6s.RemoveMarker(env.root)
}

func agentNameFromPayload(payload map[string]any) string {
	for _, key := range []string{"agent_name", "agent_type", "name"} {
		if name, ok := payload[key].(string); ok && name != "" {
			return name
		}
	}
	return "unknown"
}
