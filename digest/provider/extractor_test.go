package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

func responseBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id":         "resp_1",
		"object":     "response",
		"created_at": 0,
		"status":     "completed",
		"model":      "gpt-4o-mini",
		"output": []any{
			map[string]any{
				"type":   "message",
				"id":     "msg_1",
				"status": "completed",
				"role":   "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": text, "annotations": []any{}},
				},
			},
		},
	})
	return string(b)
}

func TestNewOpenAIExtractor_MissingKeyIsUnavailable(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIExtractor(OpenAIConfig{APIKey: "  "})
	if !errors.Is(err, digest.ErrExtractionUnavailable) {
		t.Fatalf("err=%v, want ErrExtractionUnavailable", err)
	}

	client, err := Factory(OpenAIConfig{})()
	if client != nil || !errors.Is(err, digest.ErrExtractionUnavailable) {
		t.Fatalf("Factory()=%v,%v", client, err)
	}
}

func TestOpenAIExtractor_SendsSchemaRequest(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization=%q", auth)
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, responseBody(`{"chat_title":"Family"}`))
	}))
	defer srv.Close()

	ex, err := NewOpenAIExtractor(OpenAIConfig{APIKey: "sk-test", Temperature: 0.2, BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewOpenAIExtractor: %v", err)
	}
	out, err := ex.Complete(context.Background(), digest.ExtractionRequest{
		Name:            "chat_extraction",
		System:          "system prompt",
		User:            "user prompt",
		Output:          digest.ExtractionResult{},
		MaxOutputTokens: 1200,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"chat_title":"Family"}` {
		t.Fatalf("out=%q", out)
	}

	if got["model"] != DefaultModel {
		t.Fatalf("model=%v", got["model"])
	}
	if got["instructions"] != "system prompt" {
		t.Fatalf("instructions=%v", got["instructions"])
	}
	if got["max_output_tokens"] != float64(1200) {
		t.Fatalf("max_output_tokens=%v", got["max_output_tokens"])
	}
	if got["temperature"] != 0.2 {
		t.Fatalf("temperature=%v", got["temperature"])
	}
	text, _ := got["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "chat_extraction" || format["strict"] != true {
		t.Fatalf("format=%v", format)
	}
	schema, _ := format["schema"].(map[string]any)
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"chat_title", "highlights", "decisions", "action_items", "dates", "questions"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema missing property %q: %v", key, props)
		}
	}
	input, _ := got["input"].([]any)
	if len(input) != 1 || !strings.Contains(mustJSON(t, input[0]), "user prompt") {
		t.Fatalf("input=%v", got["input"])
	}
}

func TestOpenAIExtractor_NoOutputTypeUsesJSONObjectMode(t *testing.T) {
	t.Parallel()

	var format map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text struct {
				Format map[string]any `json:"format"`
			} `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		format = body.Text.Format
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, responseBody(`{}`))
	}))
	defer srv.Close()

	ex, err := NewOpenAIExtractor(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewOpenAIExtractor: %v", err)
	}
	if _, err := ex.Complete(context.Background(), digest.ExtractionRequest{Name: "free", User: "u"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if format["type"] != "json_object" {
		t.Fatalf("format=%v, want json_object", format)
	}
}

func TestOpenAIExtractor_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, responseBody(`{"ok":true}`))
	}))
	defer srv.Close()

	ex, err := NewOpenAIExtractor(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Retry:   &RetryPolicy{ServerErrorWaits: []time.Duration{time.Millisecond}},
	})
	if err != nil {
		t.Fatalf("NewOpenAIExtractor: %v", err)
	}
	out, err := ex.Complete(context.Background(), digest.ExtractionRequest{Name: "retry", User: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"ok":true}` || calls.Load() != 2 {
		t.Fatalf("out=%q calls=%d", out, calls.Load())
	}
}

func TestOpenAIExtractor_RetryWaitHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	ex, err := NewOpenAIExtractor(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Retry:   &RetryPolicy{RateLimitWaits: []time.Duration{time.Hour}},
	})
	if err != nil {
		t.Fatalf("NewOpenAIExtractor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = ex.Complete(ctx, digest.ExtractionRequest{Name: "limited", User: "u"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("retry wait ignored the context")
	}
}

func TestSchemaFor_StrictObjects(t *testing.T) {
	t.Parallel()

	schema, err := SchemaFor(digest.MergedDigest{})
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v", schema["additionalProperties"])
	}
	req, _ := schema["required"].([]string)
	if len(req) != 5 || req[0] != "action_items" {
		t.Fatalf("required=%v", schema["required"])
	}
	props := schema["properties"].(map[string]interface{})
	items := props["action_items"].(map[string]interface{})["items"].(map[string]interface{})
	if items["additionalProperties"] != false {
		t.Fatalf("nested object not closed: %v", items)
	}

	again, err := SchemaFor(digest.MergedDigest{})
	if err != nil || reflect.ValueOf(again).Pointer() != reflect.ValueOf(schema).Pointer() {
		t.Fatalf("second SchemaFor call did not reuse the cached schema (err=%v)", err)
	}

	if _, err := SchemaFor(nil); err == nil {
		t.Fatalf("expected error for nil value")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
