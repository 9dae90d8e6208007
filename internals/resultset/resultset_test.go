package resultset

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := New(t.TempDir(), time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestSaveLoad(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := newStore(t, now)

	id, err := s.Save("SELECT date, revenue FROM visits LIMIT 50000",
		[]string{"date", "revenue"},
		map[string]string{"date": "Date", "revenue": "Float64"},
		[][]any{{"2024-01-01", 10.5}, {"2024-01-02", nil}},
	)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^query_[0-9a-f]{10}_1700000000$`), id)

	set, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, set.ID)
	assert.Equal(t, []string{"date", "revenue"}, set.Columns)
	assert.Equal(t, "Float64", set.Types["revenue"])
	require.Len(t, set.Rows, 2)
	assert.Equal(t, "2024-01-01", set.Rows[0][0])
	assert.Equal(t, 10.5, set.Rows[0][1])
	assert.Nil(t, set.Rows[1][1])
}

func TestSameQueryDifferentSecondGetsNewID(t *testing.T) {
	s := newStore(t, time.Unix(1700000000, 0))
	a, err := s.Save("SELECT 1", []string{"x"}, nil, nil)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Unix(1700000005, 0) }
	b, err := s.Save("SELECT 1", []string{"x"}, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a[:len("query_")+10], b[:len("query_")+10])
}

func TestLoadErrors(t *testing.T) {
	s := newStore(t, time.Now())

	_, err := s.Load("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = s.Load("query_0123456789_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweep(t *testing.T) {
	now := time.Now()
	s := newStore(t, now)

	old, err := s.Save("SELECT old", []string{"x"}, nil, [][]any{{1}})
	require.NoError(t, err)
	fresh, err := s.Save("SELECT fresh", []string{"x"}, nil, [][]any{{1}})
	require.NoError(t, err)

	stale := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.path(old), stale, stale))

	// Unrelated files are left alone.
	other := filepath.Join(s.dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(other, stale, stale))

	n, err := s.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Load(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(fresh)
	assert.NoError(t, err)
	assert.FileExists(t, other)
}
