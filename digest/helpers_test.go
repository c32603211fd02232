package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type sliceSource struct {
	records []EventRecord
	err     error
}

func (s sliceSource) Scan(ctx context.Context, fn func(EventRecord) error) error {
	for _, rec := range s.records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return s.err
}

func msg(ts int64, chat, title, sender, text string) EventRecord {
	return EventRecord{
		ServerTimestampMs:  ts,
		Type:               "message",
		ConversationID:     chat,
		ConversationTitle:  title,
		MessageTimestampMs: ts,
		SenderLabel:        sender,
		Text:               text,
	}
}

// scriptedClient answers a map call with the first mapErr/mapOut entry whose key appears in the
// user prompt, and the reduce call with reduceOut/reduceErr.
type scriptedClient struct {
	mu sync.Mutex

	mapOut    map[string]string
	mapErr    map[string]error
	reduceOut string
	reduceErr error

	requests []ExtractionRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req ExtractionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if req.Name == "merged_digest" {
		return c.reduceOut, c.reduceErr
	}
	for key, err := range c.mapErr {
		if strings.Contains(req.User, key) {
			return "", err
		}
	}
	for key, out := range c.mapOut {
		if strings.Contains(req.User, key) {
			return out, nil
		}
	}
	return "", fmt.Errorf("no scripted answer")
}

func (c *scriptedClient) calls(name string) []ExtractionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ExtractionRequest
	for _, r := range c.requests {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}
