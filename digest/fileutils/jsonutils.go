package fileutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// DecodeModelJSON unmarshals JSON from a model response, with a small amount of robustness
// for cases where the model wraps the JSON in extra text or returns leading/trailing whitespace.
// A bare "null" is rejected so callers always get a populated value or an error.
func DecodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if s == "null" {
		return errors.New("model output is null")
	}

	// Fast path: valid JSON as-is.
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	} else if isTypeError(err) {
		return fmt.Errorf("model output has unexpected shape: %w", err)
	}

	// Fallback: attempt to extract the first top-level JSON object.
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	// If we see the start of an object but never see a closing brace, treat it as truncation.
	if start != -1 && end == -1 {
		return io.ErrUnexpectedEOF
	}
	if start == -1 || end <= start {
		// Only attempt arrays when the caller expects a slice/array.
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
			astart := strings.IndexByte(s, '[')
			aend := strings.LastIndexByte(s, ']')
			if astart != -1 && aend > astart {
				sub := s[astart : aend+1]
				if err := json.Unmarshal([]byte(sub), v); err != nil {
					return fmt.Errorf("failed to unmarshal extracted JSON array (len=%d): %w", len(sub), err)
				}
				return nil
			}
		}
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}

// IsJSONTruncationError reports whether err looks like the model output was cut short.
func IsJSONTruncationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unexpected end of json input") ||
		strings.Contains(s, "unexpected eof")
}

func isTypeError(err error) bool {
	var te *json.UnmarshalTypeError
	return errors.As(err, &te)
}
