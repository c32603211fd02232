package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
)

const (
	Audience = "ingest"
	Subject  = "wa-bridge"

	DefaultMaxBatch = 500
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("bridge not allowed")
	ErrBatchTooLarge = errors.New("batch too large")
	ErrBadBatch      = errors.New("bad batch")
)

// Appender is the part of the event store ingestion writes to.
type Appender interface {
	Append(ctx context.Context, tsServer int64, events []json.RawMessage) (int, error)
}

// Batch is the bridge's POST body.
type Batch struct {
	BridgeID string            `json:"bridge_id"`
	Events   []json.RawMessage `json:"events"`
}

type Result struct {
	OK     bool `json:"ok"`
	Stored int  `json:"stored"`
}

// Ingestor verifies and stores bridge batches.
type Ingestor struct {
	Store  Appender
	Secret string

	// Allowlist of bridge ids; empty accepts any bridge.
	Allowlist []string
	MaxBatch  int

	Logger *slog.Logger
	Now    func() time.Time
}

// Ingest checks the bearer token, the bridge id and the batch size, then appends every event
// with the server timestamp.
func (in Ingestor) Ingest(ctx context.Context, authorization string, batch Batch) (Result, error) {
	if err := in.verify(authorization); err != nil {
		return Result{}, err
	}

	bridgeID := strings.TrimSpace(batch.BridgeID)
	if !in.allowed(bridgeID) {
		return Result{}, fmt.Errorf("%w: %q", ErrForbidden, bridgeID)
	}

	maxBatch := in.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if len(batch.Events) > maxBatch {
		return Result{}, fmt.Errorf("%w: %d events, max %d", ErrBatchTooLarge, len(batch.Events), maxBatch)
	}

	if in.Store == nil {
		return Result{}, errors.New("Ingest: store is nil")
	}
	stored, err := in.Store.Append(ctx, in.now().UnixMilli(), batch.Events)
	if err != nil {
		if errors.Is(err, eventlog.ErrBadEvent) {
			return Result{}, fmt.Errorf("%w: %v", ErrBadBatch, err)
		}
		return Result{}, fmt.Errorf("Ingest: append: %w", err)
	}

	if bridgeID == "" {
		bridgeID = "(unknown)"
	}
	in.logger().Info("stored events", "count", stored, "bridge", bridgeID)
	return Result{OK: true, Stored: stored}, nil
}

// ParseBatch decodes a request body. events must be a list when present.
func ParseBatch(body []byte) (Batch, error) {
	var raw struct {
		BridgeID json.RawMessage `json:"bridge_id"`
		Events   json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrBadBatch, err)
	}

	var b Batch
	if len(raw.BridgeID) > 0 && string(raw.BridgeID) != "null" {
		if err := json.Unmarshal(raw.BridgeID, &b.BridgeID); err != nil {
			return Batch{}, fmt.Errorf("%w: bridge_id must be a string", ErrBadBatch)
		}
	}
	if len(raw.Events) > 0 && string(raw.Events) != "null" {
		if err := json.Unmarshal(raw.Events, &b.Events); err != nil {
			return Batch{}, fmt.Errorf("%w: events must be a list", ErrBadBatch)
		}
	}
	return b, nil
}

func (in Ingestor) verify(authorization string) error {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing bearer", ErrUnauthorized)
	}

	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return []byte(in.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithSubject(Subject),
	)
	if err != nil {
		return fmt.Errorf("%w: invalid token: %v", ErrUnauthorized, err)
	}
	return nil
}

func (in Ingestor) allowed(bridgeID string) bool {
	restricted := false
	for _, id := range in.Allowlist {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		restricted = true
		if id == bridgeID {
			return true
		}
	}
	return !restricted
}

func (in Ingestor) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func (in Ingestor) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger.With("component", "ingest")
	}
	return slog.New(slog.DiscardHandler)
}
