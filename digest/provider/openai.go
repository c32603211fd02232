package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
)

// RetryPolicy lists the waits before each retry; its length bounds the number of retries.
type RetryPolicy struct {
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

// DefaultRetryPolicy waits long on 429s since rate limit windows are per minute.
var DefaultRetryPolicy = RetryPolicy{
	RateLimitWaits:   []time.Duration{65 * time.Second, 100 * time.Second},
	ServerErrorWaits: []time.Duration{5 * time.Second, 30 * time.Second},
}

// Call sends params, retrying rate limit and server errors. Waits abort when ctx is done.
func (p RetryPolicy) Call(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	rateLimited, serverErrors := 0, 0
	for attempt := 1; ; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var wait time.Duration
		switch {
		case isRateLimitError(err) && rateLimited < len(p.RateLimitWaits):
			wait = p.RateLimitWaits[rateLimited]
			rateLimited++
		case isServerError(err) && serverErrors < len(p.ServerErrorWaits):
			wait = p.ServerErrorWaits[serverErrors]
			serverErrors++
		default:
			if attempt > 1 {
				return nil, fmt.Errorf("failed after %d attempts due to OpenAI API issues: %w", attempt, err)
			}
			return nil, err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("RetryPolicy.Call: waiting to retry: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

var schemaCache sync.Map // reflect.Type -> map[string]interface{}

// SchemaFor reflects a strict-mode JSON schema from the type of v. Results are cached per type
// and callers must not mutate the returned map.
func SchemaFor(v any) (map[string]interface{}, error) {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return nil, errors.New("SchemaFor: nil value")
	}
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(map[string]interface{}), nil
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schemaObj, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("SchemaFor: %s: %w", typ, err)
	}
	ensureOpenAICompliance(schemaObj)
	schemaCache.Store(typ, schemaObj)
	return schemaObj, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureOpenAICompliance marks every object closed with all of its properties required.
func ensureOpenAICompliance(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				sort.Strings(requiredFields)
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(items)
	}

	if additionalProps, ok := schema[additionalPropertiesKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(additionalProps)
	}
}
