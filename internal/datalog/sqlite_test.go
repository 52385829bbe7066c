package datalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "log", "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, raw(byte(i))))
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got := readAll(t, s)
	require.Len(t, got, 4)
	for i, rec := range got {
		assert.Equal(t, byte(i), rec[0])
	}

	require.NoError(t, s.Rewind(ctx))
	assert.Len(t, readAll(t, s), 4)
}

func TestSQLiteReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, raw(7)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got := readAll(t, s)
	require.Len(t, got, 1)
	assert.Equal(t, byte(7), got[0][0])
	assert.Equal(t, path, s.Path())
}

func TestSQLiteNextEndOfLog(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.Next(ctx)
	require.NoError(t, err, "empty log is not an error")
	assert.False(t, ok)

	require.NoError(t, s.Append(ctx, raw(1)))
	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Next(ctx)
	require.NoError(t, err, "end of log is not an error")
	assert.False(t, ok)
}

func TestSQLiteNextReportsQueryFailure(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, ok, err := s.Next(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
