package toolserver

import (
	"context"
	"fmt"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/types"
)

// Resource URIs served to agents.
const (
	ResourceSessionCurrent = "k6s://session/current"
	ResourceAuditRecent    = "k6s://audit/recent"
	ResourceBoundariesAll  = "k6s://boundaries/all"
)

// recentEventLimit caps the audit/recent resource.
const recentEventLimit = 50

func resourceDefinitions() []map[string]any {
	return []map[string]any{
		{
			"uri":         ResourceSessionCurrent,
			"name":        "Current session",
			"description": "The active governance session and its agents.",
			"mimeType":    "application/json",
		},
		{
			"uri":         ResourceAuditRecent,
			"name":        "Recent audit events",
			"description": "The most recent audit events, newest first.",
			"mimeType":    "application/json",
		},
		{
			"uri":         ResourceBoundariesAll,
			"name":        "Boundary rules",
			"description": "All configured agent path boundaries.",
			"mimeType":    "application/json",
		},
	}
}

func (s *Server) readResource(ctx context.Context, uri string) (any, error) {
	switch uri {
	case ResourceSessionCurrent:
		session, err := s.state.GetSession(ctx, s.sessionID)
		if err != nil {
			return nil, err
		}
		agents, err := s.state.ListAgents(ctx, s.sessionID)
		if err != nil {
			return nil, err
		}
		agentList := make([]map[string]any, len(agents))
		for i, agent := range agents {
			agentList[i] = map[string]any{
				"id":             agent.ID,
				"name":           agent.Name,
				"role":           string(agent.Role),
				"specialization": agent.Specialization,
				"state":          string(agent.State),
			}
		}
		return map[string]any{
			"id":         session.ID,
			"objective":  session.Objective,
			"state":      string(session.State),
			"started_at": types.FormatTime(session.StartedAt),
			"agents":     agentList,
		}, nil

	case ResourceAuditRecent:
		events, err := s.logger.GetEvents(ctx, audit.QueryParams{Limit: recentEventLimit})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(events))
		for i, event := range events {
			out[i] = map[string]any{
				"sequence":   event.Sequence,
				"timestamp":  types.FormatTime(event.Timestamp),
				"agent_id":   event.AgentID,
				"event_type": string(event.Type),
				"action":     event.Action,
			}
		}
		return out, nil

	case ResourceBoundariesAll:
		return s.boundaries, nil

	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
}
