package k6s

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Agent host integration files, relative to the project root.
const (
	hostDirName      = ".claude"
	hostMemoryFile   = "CLAUDE.md"
	hostSettingsFile = "settings.json"
)

// Governance section delimiters inside the host memory file.
const (
	governanceHeading   = "## Khoregos Governance"
	governanceEndMarker = "<!-- K6S_GOVERNANCE_END -->"
)

// hookNames are the host lifecycle hooks routed back into the CLI.
var hookNames = []string{"PostToolUse", "SubagentStart", "SubagentStop", "Stop"}

// governanceSection renders the instruction block injected into the
// host memory file.
func governanceSection(sessionID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (Auto-generated, do not edit)\n\n", governanceHeading)
	fmt.Fprintf(&b, "Session: %s\n\n", sessionID)
	b.WriteString("You are working under Khoregos governance. You MUST:\n\n")
	b.WriteString("1. Log significant actions with the k6s_log tool.\n")
	b.WriteString("2. Acquire a lock with k6s_acquire_lock before editing a file, and release it after.\n")
	b.WriteString("3. Check paths with k6s_check_path before touching files outside your usual area.\n")
	b.WriteString("4. Save important findings and decisions with k6s_save_context.\n")
	b.WriteString("5. Report task progress with k6s_task_update.\n\n")
	b.WriteString(governanceEndMarker + "\n")
	return b.String()
}

// InjectGovernance writes the governance section into the host memory
// file, replacing any previous section.
func InjectGovernance(projectRoot, sessionID string) error {
	dir := filepath.Join(projectRoot, hostDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, hostMemoryFile)

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	content := stripGovernance(string(existing))
	if content != "" && !strings.HasSuffix(content, "\n\n") {
		content = strings.TrimRight(content, "\n") + "\n\n"
	}
	content += governanceSection(sessionID)

	return os.WriteFile(path, []byte(content), 0o644)
}

// RemoveGovernance strips the governance section from the host memory
// file. A missing file is not an error.
func RemoveGovernance(projectRoot string) error {
	path := filepath.Join(projectRoot, hostDirName, hostMemoryFile)

	existing, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	content := stripGovernance(string(existing))
	return os.WriteFile(path, []byte(content), 0o644)
}

// stripGovernance removes everything between the governance heading and
// the end marker, inclusive.
func stripGovernance(content string) string {
	start := strings.Index(content, governanceHeading)
	if start < 0 {
		return content
	}
	rest := content[start:]
	end := strings.Index(rest, governanceEndMarker)
	if end < 0 {
		// Unterminated section: drop to the end of the file.
		return strings.TrimRight(content[:start], "\n")
	}
	after := rest[end+len(governanceEndMarker):]
	return strings.TrimRight(content[:start], "\n") + strings.TrimLeft(after, "\n")
}

// readSettings loads the host settings file as a generic map.
func readSettings(projectRoot string) (map[string]any, string, error) {
	dir := filepath.Join(projectRoot, hostDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, hostSettingsFile)

	settings := map[string]any{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, "", fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}
	return settings, path, nil
}

func writeSettings(path string, settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// RegisterToolServer adds the khoregos tool server to the host settings.
func RegisterToolServer(projectRoot string) error {
	settings, path, err := readSettings(projectRoot)
	if err != nil {
		return err
	}

	servers, _ := settings["mcpServers"].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}
	servers["khoregos"] = map[string]any{
		"command": "k6s",
		"args":    []any{"mcp", "serve"},
	}
	settings["mcpServers"] = servers

	return writeSettings(path, settings)
}

// UnregisterToolServer removes the khoregos tool server entry.
func UnregisterToolServer(projectRoot string) error {
	settings, path, err := readSettings(projectRoot)
	if err != nil {
		return err
	}

	if servers, ok := settings["mcpServers"].(map[string]any); ok {
		delete(servers, "khoregos")
	}
	return writeSettings(path, settings)
}

// RegisterHooks routes the host lifecycle hooks through the k6s CLI.
func RegisterHooks(projectRoot string) error {
	settings, path, err := readSettings(projectRoot)
	if err != nil {
		return err
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	for _, name := range hookNames {
		hooks[name] = []any{
			map[string]any{
				"matcher": "",
				"hooks": []any{
					map[string]any{
						"type":    "command",
						"command": fmt.Sprintf("k6s hook %s", hookCommandName(name)),
						"timeout": 10,
					},
				},
			},
		}
	}
	settings["hooks"] = hooks

	return writeSettings(path, settings)
}

// UnregisterHooks removes the hook routing.
func UnregisterHooks(projectRoot string) error {
	settings, path, err := readSettings(projectRoot)
	if err != nil {
		return err
	}

	if hooks, ok := settings["hooks"].(map[string]any); ok {
		for _, name := range hookNames {
			delete(hooks, name)
		}
	}
	return writeSettings(path, settings)
}

// hookCommandName maps a host hook name to its CLI subcommand.
func hookCommandName(hook string) string {
	switch hook {
	case "PostToolUse":
		return "post-tool-use"
	case "SubagentStart":
		return "subagent-start"
	case "SubagentStop":
		return "subagent-stop"
	case "Stop":
		return "session-stop"
	default:
		return strings.ToLower(hook)
	}
}
