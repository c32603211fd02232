package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

// JSONLStore keeps one JSON record per line in a single append-only file. A missing file is an
// empty store.
type JSONLStore struct {
	Path   string
	Logger *slog.Logger

	mu sync.Mutex
}

var _ Store = (*JSONLStore)(nil)

func NewJSONLStore(path string, logger *slog.Logger) *JSONLStore {
	return &JSONLStore{Path: path, Logger: logger}
}

func (s *JSONLStore) Backend() string  { return BackendJSONL }
func (s *JSONLStore) Location() string { return s.Path }
func (s *JSONLStore) Close() error     { return nil }

func (s *JSONLStore) Append(ctx context.Context, tsServer int64, events []json.RawMessage) (int, error) {
	stamped, err := stampAll(tsServer, events)
	if err != nil {
		return 0, fmt.Errorf("JSONLStore.Append: %w", err)
	}
	return s.AppendRecords(ctx, stamped)
}

func (s *JSONLStore) AppendRecords(ctx context.Context, records []json.RawMessage) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	for i, rec := range records {
		var compact bytes.Buffer
		if err := json.Compact(&compact, rec); err != nil {
			return 0, fmt.Errorf("JSONLStore.AppendRecords: record %d: %w", i, err)
		}
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return 0, fmt.Errorf("JSONLStore.AppendRecords: mkdir: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("JSONLStore.AppendRecords: open: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("JSONLStore.AppendRecords: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("JSONLStore.AppendRecords: close: %w", err)
	}
	return len(records), nil
}

// Scan decodes every line in file order, skipping lines that are not valid records.
func (s *JSONLStore) Scan(ctx context.Context, fn func(digest.EventRecord) error) error {
	skipped := 0
	err := s.eachLine(ctx, func(line []byte) error {
		rec, err := DecodeRecord(line)
		if err != nil {
			skipped++
			return nil
		}
		return fn(rec)
	})
	if skipped > 0 {
		discardIfNil(s.Logger).Debug("skipped malformed event lines", "path", s.Path, "count", skipped)
	}
	return err
}

// ScanRaw yields each well-formed line as stored.
func (s *JSONLStore) ScanRaw(ctx context.Context, fn func(json.RawMessage) error) error {
	return s.eachLine(ctx, func(line []byte) error {
		if !json.Valid(line) {
			return nil
		}
		return fn(json.RawMessage(bytes.Clone(line)))
	})
}

func (s *JSONLStore) Tail(ctx context.Context, n int) ([]json.RawMessage, error) {
	n = clampTail(n)
	if n == 0 {
		return []json.RawMessage{}, nil
	}
	var ring []json.RawMessage
	next := 0
	err := s.ScanRaw(ctx, func(rec json.RawMessage) error {
		if len(ring) < n {
			ring = append(ring, rec)
			return nil
		}
		ring[next] = rec
		next = (next + 1) % n
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(ring))
	out = append(out, ring[next:]...)
	return append(out, ring[:next]...), nil
}

// Count returns the number of non-blank lines, malformed ones included.
func (s *JSONLStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.eachLine(ctx, func([]byte) error {
		n++
		return nil
	})
	return n, err
}

func (s *JSONLStore) eachLine(ctx context.Context, fn func(line []byte) error) error {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("JSONLStore: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if err := fn(trimmed); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("JSONLStore: read: %w", readErr)
		}
	}
}
