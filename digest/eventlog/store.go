package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"

	// MaxTail caps how many records a single Tail call returns.
	MaxTail = 1000
)

// Store is an append-only event log that the digest can scan.
type Store interface {
	digest.EventSource

	// Append stamps each event with tsServer and stores the batch. A batch containing a non-object
	// event is rejected with ErrBadEvent before anything is written.
	Append(ctx context.Context, tsServer int64, events []json.RawMessage) (int, error)

	// AppendRecords stores already stamped records as-is.
	AppendRecords(ctx context.Context, records []json.RawMessage) (int, error)

	// Tail returns the last n stored records, oldest first. n is capped at MaxTail.
	Tail(ctx context.Context, n int) ([]json.RawMessage, error)
	Count(ctx context.Context) (int, error)

	Backend() string
	Location() string
	Close() error
}

type StorageConfig struct {
	Backend   string `yaml:"backend"`
	JSONLPath string `yaml:"events_jsonl"`
	DBPath    string `yaml:"events_db"`
}

// Open returns the configured backend; an empty Backend means jsonl.
func Open(cfg StorageConfig, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendJSONL:
		if cfg.JSONLPath == "" {
			return nil, fmt.Errorf("eventlog.Open: events_jsonl path is empty")
		}
		return NewJSONLStore(cfg.JSONLPath, logger), nil
	case BackendSQLite:
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("eventlog.Open: events_db path is empty")
		}
		return NewSQLiteStore(cfg.DBPath, logger)
	default:
		return nil, fmt.Errorf("eventlog.Open: unknown backend %q", cfg.Backend)
	}
}

func stampAll(tsServer int64, events []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(events))
	for i, ev := range events {
		stamped, err := Stamp(tsServer, ev)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, stamped)
	}
	return out, nil
}

func clampTail(n int) int {
	if n <= 0 {
		return 0
	}
	return min(n, MaxTail)
}

func discardIfNil(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
