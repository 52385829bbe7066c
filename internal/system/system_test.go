package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterUpdateModeWritesMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "update-mode")
	r := NewFileRestarter(path)
	at := time.Date(2024, 1, 20, 14, 5, 30, 0, time.UTC)
	r.Now = func() time.Time { return at }

	require.NoError(t, r.EnterUpdateMode())

	m, ok, err := ReadMarker(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "firmware_update", m.Mode)
	assert.True(t, at.Equal(m.Requested))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestReadMarkerMissing(t *testing.T) {
	_, ok, err := ReadMarker(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadMarkerCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-mode")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, _, err := ReadMarker(path)
	assert.Error(t, err)
}

func TestClearMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-mode")
	require.NoError(t, NewFileRestarter(path).EnterUpdateMode())
	require.NoError(t, ClearMarker(path))
	require.NoError(t, ClearMarker(path), "clearing twice is fine")

	_, ok, err := ReadMarker(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultMarkerPath, NewFileRestarter("").Path)
}
