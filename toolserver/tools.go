package toolserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/types"
)

// toolDefinitions lists the tools exposed to agents, with JSON schemas
// for their arguments.
func toolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "k6s_log",
			"description": "Record an audit event for the current session.",
			"inputSchema": objectSchema(map[string]any{
				"agent_name": stringProp("Agent name logging the event"),
				"action":     stringProp("Human-readable description of what happened"),
				"event_type": stringProp("Event type, defaults to log"),
				"details":    map[string]any{"type": "object", "description": "Structured event details"},
				"files": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Paths affected by the action",
				},
			}, "agent_name", "action"),
		},
		{
			"name":        "k6s_save_context",
			"description": "Save a context value under a key, replacing any previous value.",
			"inputSchema": objectSchema(map[string]any{
				"key":        stringProp("Context key"),
				"value":      map[string]any{"description": "Value to store, any JSON type"},
				"agent_name": stringProp("Agent name saving the value"),
			}, "key", "value"),
		},
		{
			"name":        "k6s_load_context",
			"description": "Load a previously saved context value by key.",
			"inputSchema": objectSchema(map[string]any{
				"key": stringProp("Context key"),
			}, "key"),
		},
		{
			"name":        "k6s_acquire_lock",
			"description": "Acquire an exclusive lock on a file before editing it.",
			"inputSchema": objectSchema(map[string]any{
				"path":             stringProp("Project-relative file path"),
				"agent_name":       stringProp("Agent name requesting the lock"),
				"duration_seconds": map[string]any{"type": "number", "description": "Lease length, default 300"},
			}, "path", "agent_name"),
		},
		{
			"name":        "k6s_release_lock",
			"description": "Release a lock held on a file.",
			"inputSchema": objectSchema(map[string]any{
				"path":       stringProp("Project-relative file path"),
				"agent_name": stringProp("Agent name releasing the lock"),
			}, "path", "agent_name"),
		},
		{
			"name":        "k6s_get_boundaries",
			"description": "Get the path boundary rules for an agent.",
			"inputSchema": objectSchema(map[string]any{
				"agent_name": stringProp("Agent name"),
			}, "agent_name"),
		},
		{
			"name":        "k6s_check_path",
			"description": "Check whether an agent is allowed to touch a path.",
			"inputSchema": objectSchema(map[string]any{
				"agent_name": stringProp("Agent name"),
				"path":       stringProp("Path to check"),
			}, "agent_name", "path"),
		},
		{
			"name":        "k6s_task_update",
			"description": "Report task progress for the session timeline.",
			"inputSchema": objectSchema(map[string]any{
				"task_id":  stringProp("Task identifier"),
				"status":   stringProp("Current task status"),
				"progress": map[string]any{"type": "number", "description": "Completion fraction 0..1"},
			}, "task_id", "status"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// agentNameArg reads the agent_name argument. The bare "agent" key is
// accepted as an alias for older callers.
func agentNameArg(args map[string]any) string {
	if name, ok := args["agent_name"].(string); ok && name != "" {
		return name
	}
	name, _ := args["agent"].(string)
	return name
}

// callTool dispatches one tool invocation by name. Bare names without
// the k6s_ prefix are accepted too.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch strings.TrimPrefix(name, "k6s_") {
	case "log":
		return s.toolLog(ctx, args)
	case "save_context":
		return s.toolSaveContext(ctx, args)
	case "load_context":
		return s.toolLoadContext(ctx, args)
	case "acquire_lock":
		return s.toolAcquireLock(ctx, args)
	case "release_lock":
		return s.toolReleaseLock(ctx, args)
	case "get_boundaries":
		return s.toolGetBoundaries(args)
	case "check_path":
		return s.toolCheckPath(args)
	case "task_update":
		return s.toolTaskUpdate(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// resolveAgent maps an agent name to its ID, registering the agent on
// first contact.
func (s *Server) resolveAgent(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	agent, err := s.state.GetAgentByName(ctx, s.sessionID, name)
	if err == nil {
		return agent.ID, nil
	}
	if !errors.Is(err, state.ErrAgentNotFound) {
		return "", err
	}
	agent, err = s.state.RegisterAgent(ctx, s.sessionID, name, state.RegisterAgentParams{})
	if err != nil {
		return "", err
	}
	return agent.ID, nil
}

func (s *Server) toolLog(ctx context.Context, args map[string]any) (map[string]any, error) {
	agentName := agentNameArg(args)
	action, _ := args["action"].(string)
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	agentID, err := s.resolveAgent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	eventType := types.EventLog
	if raw, ok := args["event_type"].(string); ok && raw != "" {
		eventType = types.ParseEventType(raw)
	}
	details, _ := args["details"].(map[string]any)

	event, err := s.logger.Log(ctx, audit.LogParams{
		AgentID:       agentID,
		Type:          eventType,
		Action:        action,
		Details:       details,
		FilesAffected: stringSlice(args["files"]),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":   "logged",
		"event_id": event.ID,
		"sequence": event.Sequence,
	}, nil
}

func (s *Server) toolSaveContext(ctx context.Context, args map[string]any) (map[string]any, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	agentName := agentNameArg(args)
	agentID, err := s.resolveAgent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	entry, err := s.state.SaveContext(ctx, s.sessionID, key, args["value"], agentID)
	if err != nil {
		return nil, err
	}

	if _, err := s.logger.Log(ctx, audit.LogParams{
		AgentID: agentID,
		Type:    types.EventContextSaved,
		Action:  fmt.Sprintf("Saved context: %s", key),
		Details: map[string]any{"key": key},
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"status":     "saved",
		"key":        key,
		"updated_at": types.FormatTime(entry.UpdatedAt),
	}, nil
}

func (s *Server) toolLoadContext(ctx context.Context, args map[string]any) (map[string]any, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	entry, err := s.state.LoadContext(ctx, s.sessionID, key)
	if errors.Is(err, state.ErrContextNotFound) {
		return map[string]any{"status": "not_found", "key": key}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":     "found",
		"key":        key,
		"value":      entry.Value,
		"updated_at": types.FormatTime(entry.UpdatedAt),
	}, nil
}

func (s *Server) toolAcquireLock(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	agentName := agentNameArg(args)
	if path == "" || agentName == "" {
		return nil, fmt.Errorf("path and agent_name are required")
	}

	agentID, err := s.resolveAgent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	var duration time.Duration
	if secs, ok := args["duration_seconds"].(float64); ok && secs > 0 {
		duration = time.Duration(secs * float64(time.Second))
	}

	result, err := s.locks.Acquire(ctx, path, agentID, duration)
	if err != nil {
		return nil, err
	}

	if result.Success {
		if _, err := s.logger.Log(ctx, audit.LogParams{
			AgentID:       agentID,
			Type:          types.EventLockAcquired,
			Action:        fmt.Sprintf("Lock acquired: %s", path),
			FilesAffected: []string{path},
		}); err != nil {
			return nil, err
		}
	}
	return result.ToMap(), nil
}

func (s *Server) toolReleaseLock(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	agentName := agentNameArg(args)
	if path == "" || agentName == "" {
		return nil, fmt.Errorf("path and agent_name are required")
	}

	agentID, err := s.resolveAgent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	result, err := s.locks.Release(ctx, path, agentID)
	if err != nil {
		return nil, err
	}

	if result.Success {
		if _, err := s.logger.Log(ctx, audit.LogParams{
			AgentID:       agentID,
			Type:          types.EventLockReleased,
			Action:        fmt.Sprintf("Lock released: %s", path),
			FilesAffected: []string{path},
		}); err != nil {
			return nil, err
		}
	}
	return result.ToMap(), nil
}

func (s *Server) toolGetBoundaries(args map[string]any) (map[string]any, error) {
	agentName := agentNameArg(args)
	if agentName == "" {
		return nil, fmt.Errorf("agent_name is required")
	}
	return s.enforcer.Summary(agentName), nil
}

func (s *Server) toolCheckPath(args map[string]any) (map[string]any, error) {
	agentName := agentNameArg(args)
	path, _ := args["path"].(string)
	if agentName == "" || path == "" {
		return nil, fmt.Errorf("agent_name and path are required")
	}

	result := s.enforcer.CheckPath(agentName, path)
	out := map[string]any{
		"path":    path,
		"agent":   agentName,
		"allowed": result.Allowed,
	}
	if result.Reason != "" {
		out["reason"] = result.Reason
	}
	return out, nil
}

func (s *Server) toolTaskUpdate(ctx context.Context, args map[string]any) (map[string]any, error) {
	taskID, _ := args["task_id"].(string)
	status, _ := args["status"].(string)
	if taskID == "" || status == "" {
		return nil, fmt.Errorf("task_id and status are required")
	}

	details := map[string]any{"task_id": taskID, "status": status}
	if progress, ok := args["progress"].(float64); ok {
		details["progress"] = progress
	}

	if _, err := s.logger.Log(ctx, audit.LogParams{
		Type:    types.EventTaskUpdate,
		Action:  fmt.Sprintf("Task %s: %s", taskID, status),
		Details: details,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"status": "updated", "task_id": taskID}, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
