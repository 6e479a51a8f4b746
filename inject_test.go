package k6s

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readHostMemory(t *testing.T, root string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, hostDirName, hostMemoryFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

func TestInjectGovernance(t *testing.T) {
	root := t.TempDir()

	if err := InjectGovernance(root, "session-1"); err != nil {
		t.Fatalf("InjectGovernance() error = %v", err)
	}

	content := readHostMemory(t, root)
	if !strings.Contains(content, governanceHeading) {
		t.Error("Missing governance heading")
	}
	if !strings.Contains(content, "session-1") {
		t.Error("Missing session ID")
	}
	if !strings.Contains(content, governanceEndMarker) {
		t.Error("Missing end marker")
	}
	if !strings.Contains(content, "k6s_acquire_lock") {
		t.Error("Missing tool instructions")
	}
}

func TestInjectGovernancePreservesExistingContent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, hostDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	existing := "# Project Notes\n\nKeep these.\n"
	if err := os.WriteFile(filepath.Join(dir, hostMemoryFile), []byte(existing), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := InjectGovernance(root, "session-1"); err != nil {
		t.Fatalf("InjectGovernance() error = %v", err)
	}

	content := readHostMemory(t, root)
	if !strings.Contains(content, "# Project Notes") {
		t.Error("Existing content lost")
	}

	// Re-injecting replaces the section instead of stacking it.
	if err := InjectGovernance(root, "session-2"); err != nil {
		t.Fatalf("second InjectGovernance() error = %v", err)
	}
	content = readHostMemory(t, root)
	if strings.Count(content, governanceHeading) != 1 {
		t.Errorf("Got %d governance sections, want 1", strings.Count(content, governanceHeading))
	}
	if strings.Contains(content, "session-1") {
		t.Error("Old session ID survived re-injection")
	}
	if !strings.Contains(content, "session-2") {
		t.Error("New session ID missing")
	}
}

func TestRemoveGovernance(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, hostDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hostMemoryFile),
		[]byte("# Notes\n\nHand-written.\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := InjectGovernance(root, "session-1"); err != nil {
		t.Fatalf("InjectGovernance() error = %v", err)
	}
	if err := RemoveGovernance(root); err != nil {
		t.Fatalf("RemoveGovernance() error = %v", err)
	}

	content := readHostMemory(t, root)
	if strings.Contains(content, governanceHeading) {
		t.Error("Governance section survived removal")
	}
	if !strings.Contains(content, "Hand-written.") {
		t.Error("Hand-written content lost")
	}

	// Missing file is fine.
	if err := RemoveGovernance(t.TempDir()); err != nil {
		t.Errorf("RemoveGovernance(empty) error = %v", err)
	}
}

func readSettingsFile(t *testing.T, root string) map[string]any {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, hostDirName, hostSettingsFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return settings
}

func TestRegisterToolServer(t *testing.T) {
	root := t.TempDir()

	if err := RegisterToolServer(root); err != nil {
		t.Fatalf("RegisterToolServer() error = %v", err)
	}

	settings := readSettingsFile(t, root)
	servers := settings["mcpServers"].(map[string]any)
	entry := servers["khoregos"].(map[string]any)
	if entry["command"] != "k6s" {
		t.Errorf("command = %v, want k6s", entry["command"])
	}

	if err := UnregisterToolServer(root); err != nil {
		t.Fatalf("UnregisterToolServer() error = %v", err)
	}
	settings = readSettingsFile(t, root)
	servers = settings["mcpServers"].(map[string]any)
	if _, ok := servers["khoregos"]; ok {
		t.Error("Expected khoregos entry removed")
	}
}

func TestRegisterHooksPreservesOtherSettings(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, hostDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, hostSettingsFile),
		[]byte(`{"theme": "dark"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := RegisterHooks(root); err != nil {
		t.Fatalf("RegisterHooks() error = %v", err)
	}

	settings := readSettingsFile(t, root)
	if settings["theme"] != "dark" {
		t.Error("Unrelated settings lost")
	}
	hooks := settings["hooks"].(map[string]any)
	for _, name := range hookNames {
		if _, ok := hooks[name]; !ok {
			t.Errorf("Missing hook %s", name)
		}
	}

	entry := hooks["PostToolUse"].([]any)[0].(map[string]any)
	inner := entry["hooks"].([]any)[0].(map[string]any)
	if inner["command"] != "k6s hook post-tool-use" {
		t.Errorf("command = %v", inner["command"])
	}

	if err := UnregisterHooks(root); err != nil {
		t.Fatalf("UnregisterHooks() error = %v", err)
	}
	settings = readSettingsFile(t, root)
	hooks = settings["hooks"].(map[string]any)
	if len(hooks) != 0 {
		t.Errorf("hooks = %v, want empty", hooks)
	}
}
