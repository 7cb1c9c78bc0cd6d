package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfshare/internal/testutil"
)

type item struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	Count int64  `json:"count"`
}

// createTestStore opens a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func mustGet(t *testing.T, s *Store, collection, id string) item {
	t.Helper()
	d, err := s.Get(context.Background(), collection, id)
	require.NoError(t, err)
	var it item
	require.NoError(t, d.Decode(&it))
	return it
}

func countChanges(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM changes").Scan(&n))
	return n
}
