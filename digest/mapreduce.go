package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/theimaginaryfoundation/wa-digest/digest/fileutils"
)

const (
	mapMaxOutputTokens    = 1200
	reduceMaxOutputTokens = 1500
)

// ErrExtractionUnavailable is returned by an ExtractorFactory when no extraction backend can be built
// (for example, no API key configured).
var ErrExtractionUnavailable = errors.New("extraction backend unavailable")

// ExtractionRequest is one structured-output call.
type ExtractionRequest struct {
	// Name identifies the call in logs and names the output schema.
	Name   string
	System string
	User   string

	// Output is a zero value of the expected response type. Backends that support structured
	// output derive a JSON schema from it; nil asks for any JSON object.
	Output any

	MaxOutputTokens int
}

// ExtractionClient performs one completion and returns the raw JSON text.
type ExtractionClient interface {
	Complete(ctx context.Context, req ExtractionRequest) (string, error)
}

// ExtractorFactory builds a client for a single LLM digest request. It returns an error wrapping
// ErrExtractionUnavailable when the backend is not configured.
type ExtractorFactory func() (ExtractionClient, error)

// MapReduceOutput is the result of one Summarize call.
type MapReduceOutput struct {
	PerChat []ExtractionResult
	Merged  MergedDigest
}

// Summarizer runs the per-conversation map calls and the single reduce call.
type Summarizer struct {
	Client ExtractionClient
	Logger *slog.Logger

	// Concurrency bounds in-flight map calls. Values <= 1 run sequentially.
	Concurrency int
}

// Summarize never fails because of the model: map failures become empty shells and a reduce
// failure becomes an empty merged digest. Only a cancelled ctx is reported.
func (s Summarizer) Summarize(ctx context.Context, buckets []ConversationBucket, bulletsLimit int) (MapReduceOutput, error) {
	if s.Client == nil {
		return MapReduceOutput{}, fmt.Errorf("Summarize: client is nil")
	}

	perChat := make([]ExtractionResult, len(buckets))
	s.forEachBucket(ctx, buckets, func(ctx context.Context, i int) {
		perChat[i] = s.mapConversation(ctx, buckets[i])
	})
	if err := ctx.Err(); err != nil {
		return MapReduceOutput{}, fmt.Errorf("Summarize: map: %w", err)
	}

	merged := s.reduce(ctx, perChat, bulletsLimit)
	if err := ctx.Err(); err != nil {
		return MapReduceOutput{}, fmt.Errorf("Summarize: reduce: %w", err)
	}
	return MapReduceOutput{PerChat: perChat, Merged: merged}, nil
}

func (s Summarizer) forEachBucket(ctx context.Context, buckets []ConversationBucket, fn func(ctx context.Context, i int)) {
	concurrency := s.Concurrency
	if concurrency <= 1 || len(buckets) <= 1 {
		for i := range buckets {
			if ctx.Err() != nil {
				return
			}
			fn(ctx, i)
		}
		return
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := range buckets {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			fn(ctx, i)
		}()
	}
	wg.Wait()
}

func (s Summarizer) mapConversation(ctx context.Context, b ConversationBucket) ExtractionResult {
	lines := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		lines = append(lines, m.Sender+": "+fileutils.SanitizeNewlines(m.Text))
	}

	out, err := s.Client.Complete(ctx, ExtractionRequest{
		Name:            "chat_extraction",
		System:          mapSystemPrompt,
		User:            buildMapPrompt(lines),
		Output:          ExtractionResult{},
		MaxOutputTokens: mapMaxOutputTokens,
	})
	if err != nil {
		s.logger().Warn("map step failed", "chat", b.Title, "messages", len(b.Messages), "err", err)
		return emptyExtraction(b.Title)
	}

	var res ExtractionResult
	if err := fileutils.DecodeModelJSON(out, &res); err != nil {
		s.logger().Warn("map step returned unusable JSON",
			"chat", b.Title,
			"truncated", fileutils.IsJSONTruncationError(err),
			"output", fileutils.Truncate(out, 200),
			"err", err,
		)
		return emptyExtraction(b.Title)
	}
	if strings.TrimSpace(res.ChatTitle) == "" {
		res.ChatTitle = b.Title
	}
	res.normalize()
	return res
}

func (s Summarizer) reduce(ctx context.Context, perChat []ExtractionResult, bulletsLimit int) MergedDigest {
	payload, err := json.Marshal(perChat)
	if err != nil {
		s.logger().Warn("reduce step failed", "err", fmt.Errorf("marshal per-chat results: %w", err))
		return emptyMerged()
	}

	out, err := s.Client.Complete(ctx, ExtractionRequest{
		Name:            "merged_digest",
		System:          reduceSystemPrompt,
		User:            buildReducePrompt(strconv.Itoa(bulletsLimit), string(payload)),
		Output:          MergedDigest{},
		MaxOutputTokens: reduceMaxOutputTokens,
	})
	if err != nil {
		s.logger().Warn("reduce step failed", "chats", len(perChat), "err", err)
		return emptyMerged()
	}

	var merged MergedDigest
	if err := fileutils.DecodeModelJSON(out, &merged); err != nil {
		s.logger().Warn("reduce step returned unusable JSON",
			"truncated", fileutils.IsJSONTruncationError(err),
			"output", fileutils.Truncate(out, 200),
			"err", err,
		)
		return emptyMerged()
	}
	merged.normalize()
	return merged
}

func (s Summarizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}
