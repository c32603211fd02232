package fileutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDecodeModelJSON(t *testing.T) {
	t.Parallel()

	type out struct {
		A int `json:"a"`
	}

	tests := []struct {
		name      string
		in        string
		want      int
		wantErr   bool
		truncated bool
	}{
		{name: "plain", in: `{"a":1}`, want: 1},
		{name: "whitespace", in: "  \n{\"a\":2}\n", want: 2},
		{name: "fenced", in: "```json\n{\"a\":3}\n```", want: 3},
		{name: "prose around", in: `Sure! Here it is: {"a":4} hope that helps`, want: 4},
		{name: "empty", in: "   ", wantErr: true, truncated: true},
		{name: "null", in: "null", wantErr: true},
		{name: "cut short", in: `{"a":`, wantErr: true, truncated: true},
		{name: "wrong shape", in: `{"a":"x"}`, wantErr: true},
		{name: "no object", in: "nothing here", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got out
			err := DecodeModelJSON(tt.in, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if IsJSONTruncationError(err) != tt.truncated {
					t.Fatalf("truncated=%v, want %v (err=%v)", IsJSONTruncationError(err), tt.truncated, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeModelJSON: %v", err)
			}
			if got.A != tt.want {
				t.Fatalf("a=%d, want %d", got.A, tt.want)
			}
		})
	}
}

func TestDecodeModelJSON_ArrayTarget(t *testing.T) {
	t.Parallel()

	var got []int
	if err := DecodeModelJSON("values: [1, 2, 3]", &got); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("got=%v", got)
	}
}

func TestWriteJSONFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := WriteJSONFileAtomic(path, map[string]int{"n": 1}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteJSONFileAtomic(path, map[string]int{"n": 2}, false); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	if got["n"] != 2 {
		t.Fatalf("got=%v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp_digest_") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSanitizeNewlinesAndTruncate(t *testing.T) {
	t.Parallel()

	if got := SanitizeNewlines("a\r\nb\rc\nd"); got != `a\nb\nc\nd` {
		t.Fatalf("SanitizeNewlines=%q", got)
	}
	if got := Truncate("  abcdef  ", 3); got != "abc…" {
		t.Fatalf("Truncate=%q", got)
	}
	// "שלום" is two bytes per letter; a cut at 3 bytes must back off to a whole letter.
	if got := Truncate("שלום עולם", 3); got != "ש…" || !utf8.ValidString(got) {
		t.Fatalf("Truncate hebrew=%q", got)
	}
	if got := Truncate("ok שלום", 4); got != "ok …" {
		t.Fatalf("Truncate mixed=%q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Fatalf("Truncate no limit=%q", got)
	}
}
