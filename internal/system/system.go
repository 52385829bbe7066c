// Package system performs the node's process-level restarts. A restart is
// a process exit with a distinct code; the service manager relaunches the
// daemon and the boot path reads the update marker.
package system

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Exit codes seen by the service manager.
const (
	ExitOK             = 0
	ExitFatal          = 1
	ExitFirmwareUpdate = 3
)

// DefaultMarkerPath is where the update marker is written.
const DefaultMarkerPath = "/var/lib/sentry-node/update-mode"

// Marker is the content of the update marker file.
type Marker struct {
	Mode      string    `json:"mode"`
	Requested time.Time `json:"requested"`
}

// FileRestarter persists the firmware update marker before the restart.
type FileRestarter struct {
	Path string
	Now  func() time.Time
}

// NewFileRestarter returns a restarter writing its marker to path.
func NewFileRestarter(path string) *FileRestarter {
	if path == "" {
		path = DefaultMarkerPath
	}
	return &FileRestarter{Path: path, Now: time.Now}
}

// EnterUpdateMode writes the marker atomically. The caller exits with
// ExitFirmwareUpdate afterwards.
func (r *FileRestarter) EnterUpdateMode() error {
	data, err := json.Marshal(Marker{Mode: "firmware_update", Requested: r.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	tmp := r.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := os.Rename(tmp, r.Path); err != nil {
		return fmt.Errorf("commit marker: %w", err)
	}
	return nil
}

// ReadMarker returns the pending marker, if any.
func ReadMarker(path string) (Marker, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("read marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("decode marker: %w", err)
	}
	return m, true, nil
}

// ClearMarker removes the marker. A missing marker is not an error.
func ClearMarker(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}
