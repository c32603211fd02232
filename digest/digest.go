package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PlainOptions tunes Aggregate.
type PlainOptions struct {
	// PerConversationLimit keeps the most recent N messages of each conversation; 0 keeps all.
	PerConversationLimit int
}

// DefaultPlainOptions mirrors the defaults of the HTTP and CLI surfaces.
func DefaultPlainOptions() PlainOptions {
	return PlainOptions{PerConversationLimit: 5}
}

// LLMOptions tunes SummarizeMapReduce.
type LLMOptions struct {
	MaxConversations     int
	PerConversationLimit int
	BulletsLimit         int
	Concurrency          int
}

func DefaultLLMOptions() LLMOptions {
	return LLMOptions{
		MaxConversations:     8,
		PerConversationLimit: 120,
		BulletsLimit:         6,
		Concurrency:          1,
	}
}

// Digester exposes the two digest entry points over an event source.
type Digester struct {
	Source EventSource

	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger

	// NewExtractor is called once per SummarizeMapReduce call. Nil means the LLM path is unavailable.
	NewExtractor ExtractorFactory

	Filter ChatFilter
}

// Aggregate builds the plain digest: last messages per conversation, most active first.
func (d Digester) Aggregate(ctx context.Context, rangeDesc string, opts PlainOptions) (DigestResult, error) {
	window, err := ResolveWindow(rangeDesc, d.now())
	if err != nil {
		return DigestResult{}, err
	}

	agg, err := AggregatePlain(ctx, window, d.Source, opts.PerConversationLimit, d.Filter)
	if err != nil {
		return DigestResult{}, fmt.Errorf("Aggregate: %w", err)
	}

	total := agg.TotalMessages
	buckets := agg.Buckets
	if buckets == nil {
		buckets = []ConversationBucket{}
	}
	d.logger().Info("plain digest built",
		"range", RangeLabel(rangeDesc),
		"chats", len(buckets),
		"messages", total,
	)
	return DigestResult{
		Range:         RangeLabel(rangeDesc),
		Window:        window,
		SummaryText:   RenderPlain(buckets, rangeDesc),
		PerChat:       buckets,
		TotalMessages: &total,
	}, nil
}

// SummarizeMapReduce builds the LLM digest. When the extraction backend cannot be constructed the
// result is marked Unavailable rather than returned as an error.
func (d Digester) SummarizeMapReduce(ctx context.Context, rangeDesc string, opts LLMOptions) (DigestResult, error) {
	window, err := ResolveWindow(rangeDesc, d.now())
	if err != nil {
		return DigestResult{}, err
	}
	label := RangeLabel(rangeDesc)

	client, err := d.extractor()
	if err != nil {
		d.logger().Warn("llm digest unavailable", "range", label, "err", err)
		return DigestResult{
			Range:       label,
			Window:      window,
			Unavailable: true,
			Reason:      err.Error(),
		}, nil
	}

	buckets, err := AggregateForExtraction(ctx, window, d.Source, opts.MaxConversations, opts.PerConversationLimit, d.Filter)
	if err != nil {
		return DigestResult{}, fmt.Errorf("SummarizeMapReduce: %w", err)
	}

	s := Summarizer{Client: client, Logger: d.logger(), Concurrency: opts.Concurrency}
	out, err := s.Summarize(ctx, buckets, opts.BulletsLimit)
	if err != nil {
		return DigestResult{}, fmt.Errorf("SummarizeMapReduce: %w", err)
	}

	d.logger().Info("llm digest built",
		"range", label,
		"chats", len(buckets),
		"bullets_limit", opts.BulletsLimit,
	)
	return DigestResult{
		Range:       label,
		Window:      window,
		SummaryText: RenderMerged(out.Merged, rangeDesc, opts.BulletsLimit),
		LLM:         &LLMData{PerChat: out.PerChat, Merged: out.Merged},
	}, nil
}

func (d Digester) extractor() (ExtractionClient, error) {
	if d.NewExtractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtractionUnavailable)
	}
	client, err := d.NewExtractor()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: extractor factory returned nil", ErrExtractionUnavailable)
	}
	return client, nil
}

func (d Digester) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Digester) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With("component", "summary")
	}
	return slog.New(slog.DiscardHandler)
}
