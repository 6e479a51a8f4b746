package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/khoregos/k6s/types"
)

// csvHeader is the column order for CSV exports.
var csvHeader = []string{
	"timestamp", "sequence", "session_id", "agent_id",
	"event_type", "action", "files_affected",
}

// ExportJSON writes events as a JSON array, oldest first.
func ExportJSON(w io.Writer, events []*types.AuditEvent) error {
	out := make([]map[string]any, len(events))
	for i, event := range events {
		out[i] = map[string]any{
			"id":             event.ID,
			"sequence":       event.Sequence,
			"session_id":     event.SessionID,
			"agent_id":       event.AgentID,
			"timestamp":      types.FormatTime(event.Timestamp),
			"event_type":     string(event.Type),
			"action":         event.Action,
			"details":        event.Details,
			"files_affected": event.FilesAffected,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ExportCSV writes events as CSV with a fixed header. Affected files
// are joined with ";" in a single column.
func ExportCSV(w io.Writer, events []*types.AuditEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, event := range events {
		record := []string{
			types.FormatTime(event.Timestamp),
			strconv.FormatInt(event.Sequence, 10),
			event.SessionID,
			event.AgentID,
			string(event.Type),
			event.Action,
			strings.Join(event.FilesAffected, ";"),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
