// Package resultset keeps the full rows of recent warehouse queries on disk so
// code execution can load them by handle after the model has only seen a
// preview.
package resultset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jadenj13/analyst/internals/codec"
)

const fileSuffix = ".cbor.zst"

var (
	ErrNotFound  = errors.New("result set not found")
	ErrInvalidID = errors.New("invalid result set id")
)

var idPattern = regexp.MustCompile(`^query_[0-9a-f]{10}_[0-9]+$`)

type Set struct {
	ID        string            `cbor:"id"`
	SQL       string            `cbor:"sql"`
	Columns   []string          `cbor:"columns"`
	Types     map[string]string `cbor:"types"`
	Rows      [][]any           `cbor:"rows"`
	CreatedAt time.Time         `cbor:"created_at"`
}

type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time
	log *slog.Logger
}

func New(dir string, ttl time.Duration, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	return &Store{dir: dir, ttl: ttl, now: time.Now, log: log}, nil
}

// Save writes the rows and returns their handle,
// query_<blake3 of sql, 10 hex>_<unix seconds>.
func (s *Store) Save(sql string, columns []string, types map[string]string, rows [][]any) (string, error) {
	now := s.now()
	id := fmt.Sprintf("query_%s_%d", codec.Digest([]byte(sql), 10), now.Unix())

	data, err := codec.Pack(Set{
		ID:        id,
		SQL:       sql,
		Columns:   columns,
		Types:     types,
		Rows:      rows,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode result set: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create result file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return "", fmt.Errorf("publish result file: %w", err)
	}
	return id, nil
}

func (s *Store) Load(id string) (*Set, error) {
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}

	var set Set
	if err := codec.Unpack(data, &set); err != nil {
		return nil, fmt.Errorf("decode result set %s: %w", id, err)
	}
	return &set, nil
}

// Sweep removes result files older than the TTL and returns how many it
// deleted.
func (s *Store) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list result dir: %w", err)
	}

	cutoff := now.Add(-s.ttl)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("remove expired result set", "file", e.Name(), "err", err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(s.now())
			if err != nil {
				s.log.Error("result set sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("removed expired result sets", "count", n)
			}
		}
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}
