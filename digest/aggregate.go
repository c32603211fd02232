package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// EventSource streams stored events in write order. Implementations skip malformed records
// instead of failing the scan, and each call starts a fresh pass over the store.
type EventSource interface {
	Scan(ctx context.Context, fn func(EventRecord) error) error
}

// ChatFilter restricts which conversations take part in a digest. Patterns are globs matched
// against both the conversation id and its title. The zero value accepts every conversation.
type ChatFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewChatFilter compiles include/exclude glob patterns. Empty include means "all".
func NewChatFilter(include, exclude []string) (ChatFilter, error) {
	var f ChatFilter
	for _, p := range include {
		g, err := compilePattern(p)
		if err != nil {
			return ChatFilter{}, err
		}
		if g != nil {
			f.include = append(f.include, g)
		}
	}
	for _, p := range exclude {
		g, err := compilePattern(p)
		if err != nil {
			return ChatFilter{}, err
		}
		if g != nil {
			f.exclude = append(f.exclude, g)
		}
	}
	return f, nil
}

func compilePattern(p string) (glob.Glob, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil, nil
	}
	g, err := glob.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("NewChatFilter: compile %q: %w", p, err)
	}
	return g, nil
}

// Allows reports whether the conversation passes the filter.
func (f ChatFilter) Allows(id, title string) bool {
	for _, g := range f.exclude {
		if g.Match(id) || (title != "" && g.Match(title)) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(id) || (title != "" && g.Match(title)) {
			return true
		}
	}
	return false
}

// PlainAggregate is the output of AggregatePlain.
type PlainAggregate struct {
	Buckets []ConversationBucket

	// TotalMessages counts every qualifying message in the window, before per-chat capping.
	TotalMessages int
}

// AggregatePlain groups the window's messages per conversation, oldest first, keeping the
// last perConversationLimit messages of each (0 keeps all). Buckets are ranked by message
// count, most active first; equal counts keep first-seen order.
func AggregatePlain(ctx context.Context, window TimeWindow, source EventSource, perConversationLimit int, filter ChatFilter) (PlainAggregate, error) {
	buckets, total, err := collectBuckets(ctx, window, source, filter)
	if err != nil {
		return PlainAggregate{}, err
	}

	for i := range buckets {
		msgs := buckets[i].Messages
		sort.SliceStable(msgs, func(a, b int) bool {
			return msgs[a].TimestampMs < msgs[b].TimestampMs
		})
		if perConversationLimit > 0 && len(msgs) > perConversationLimit {
			msgs = msgs[len(msgs)-perConversationLimit:]
		}
		buckets[i].Messages = msgs
	}
	rankByActivity(buckets)

	return PlainAggregate{Buckets: buckets, TotalMessages: total}, nil
}

// AggregateForExtraction selects the maxConversations most active conversations (0 = all) and
// keeps the perConversationLimit newest messages of each (0 = all), newest first.
func AggregateForExtraction(ctx context.Context, window TimeWindow, source EventSource, maxConversations, perConversationLimit int, filter ChatFilter) ([]ConversationBucket, error) {
	buckets, _, err := collectBuckets(ctx, window, source, filter)
	if err != nil {
		return nil, err
	}

	rankByActivity(buckets)
	if maxConversations > 0 && len(buckets) > maxConversations {
		buckets = buckets[:maxConversations]
	}

	for i := range buckets {
		msgs := buckets[i].Messages
		sort.SliceStable(msgs, func(a, b int) bool {
			return msgs[a].TimestampMs > msgs[b].TimestampMs
		})
		if perConversationLimit > 0 && len(msgs) > perConversationLimit {
			msgs = msgs[:perConversationLimit]
		}
		buckets[i].Messages = msgs
	}
	return buckets, nil
}

// collectBuckets performs the single scan shared by both aggregations. Buckets come back in
// first-seen order with messages in scan order; total counts only the buckets the filter keeps.
func collectBuckets(ctx context.Context, window TimeWindow, source EventSource, filter ChatFilter) ([]ConversationBucket, int, error) {
	if source == nil {
		return nil, 0, fmt.Errorf("aggregate: event source is nil")
	}

	var (
		order []string
		byID  = make(map[string]*ConversationBucket)
		total int
	)

	err := source.Scan(ctx, func(rec EventRecord) error {
		if rec.Type != "message" || !window.Contains(rec.ServerTimestampMs) {
			return nil
		}
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			return nil
		}

		b, ok := byID[rec.ConversationID]
		if !ok {
			b = &ConversationBucket{ConversationID: rec.ConversationID, Title: rec.ConversationID}
			byID[rec.ConversationID] = b
			order = append(order, rec.ConversationID)
		}
		if title := strings.TrimSpace(rec.ConversationTitle); title != "" {
			b.Title = title
		}

		ts := rec.MessageTimestampMs
		if ts == 0 {
			ts = rec.ServerTimestampMs
		}
		sender := strings.TrimSpace(rec.SenderLabel)
		if sender == "" {
			sender = "unknown"
		}
		b.Messages = append(b.Messages, Message{TimestampMs: ts, Sender: sender, Text: text})
		total++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("aggregate: scan events: %w", err)
	}

	// The filter sees each conversation once, with its final title, so a rename inside the
	// window cannot split a conversation.
	buckets := make([]ConversationBucket, 0, len(order))
	for _, id := range order {
		b := byID[id]
		if !filter.Allows(b.ConversationID, b.Title) {
			total -= len(b.Messages)
			continue
		}
		buckets = append(buckets, *b)
	}
	return buckets, total, nil
}

func rankByActivity(buckets []ConversationBucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return len(buckets[i].Messages) > len(buckets[j].Messages)
	})
}
