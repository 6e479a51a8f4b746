package k6s

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/khoregos/k6s/types"
)

// MarkerFileName is the daemon liveness marker inside the state
// directory. Its presence means a runtime owns the project.
const MarkerFileName = "daemon.state"

// Marker records which runtime instance is governing a project.
type Marker struct {
	SessionID   string    `json:"session_id"`
	InstanceID  string    `json:"instance_id"`
	StartedAt   time.Time `json:"started_at"`
	ProjectRoot string    `json:"project_root"`
}

// NewMarker creates a marker for a session with a fresh instance ID.
func NewMarker(sessionID, projectRoot string) *Marker {
	return &Marker{
		SessionID:   sessionID,
		InstanceID:  uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		ProjectRoot: projectRoot,
	}
}

func markerPath(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName, MarkerFileName)
}

// WriteMarker persists the marker, creating the state directory.
func WriteMarker(projectRoot string, m *Marker) error {
	dir := filepath.Join(projectRoot, StateDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(map[string]any{
		"session_id":   m.SessionID,
		"instance_id":  m.InstanceID,
		"started_at":   types.FormatTime(m.StartedAt),
		"project_root": m.ProjectRoot,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(markerPath(projectRoot), data, 0o600)
}

// ReadMarker loads the marker, or ErrMarkerNotFound.
func ReadMarker(projectRoot string) (*Marker, error) {
	data, err := os.ReadFile(markerPath(projectRoot))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMarkerNotFound
	}
	if err != nil {
		return nil, err
	}

	var raw struct {
		SessionID   string `json:"session_id"`
		InstanceID  string `json:"instance_id"`
		StartedAt   string `json:"started_at"`
		ProjectRoot string `json:"project_root"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	m := &Marker{
		SessionID:   raw.SessionID,
		InstanceID:  raw.InstanceID,
		ProjectRoot: raw.ProjectRoot,
	}
	if t, err := types.ParseTime(raw.StartedAt); err == nil {
		m.StartedAt = t
	}
	return m, nil
}

// RemoveMarker deletes the marker. Missing markers are not an error.
func RemoveMarker(projectRoot string) error {
	err := os.Remove(markerPath(projectRoot))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// IsRunning reports whether a marker exists for the project.
func IsRunning(projectRoot string) bool {
	_, err := os.Stat(markerPath(projectRoot))
	return err == nil
}
