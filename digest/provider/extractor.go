package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

const DefaultModel = "gpt-4o-mini"

// OpenAIConfig configures NewOpenAIExtractor. Zero Temperature is sent as-is.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string

	// Retry overrides DefaultRetryPolicy when non-nil.
	Retry  *RetryPolicy
	Logger *slog.Logger
}

// OpenAIExtractor implements digest.ExtractionClient on top of the Responses API.
type OpenAIExtractor struct {
	client      *openai.Client
	model       string
	temperature float64
	retry       RetryPolicy
	logger      *slog.Logger
}

var _ digest.ExtractionClient = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor fails with digest.ErrExtractionUnavailable when no API key is configured.
func NewOpenAIExtractor(cfg OpenAIConfig) (*OpenAIExtractor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", digest.ErrExtractionUnavailable)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by RetryPolicy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	retry := DefaultRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &OpenAIExtractor{
		client:      &client,
		model:       model,
		temperature: cfg.Temperature,
		retry:       retry,
		logger:      logger.With("component", "openai"),
	}, nil
}

// Factory adapts cfg into a digest.ExtractorFactory.
func Factory(cfg OpenAIConfig) digest.ExtractorFactory {
	return func() (digest.ExtractionClient, error) {
		ex, err := NewOpenAIExtractor(cfg)
		if err != nil {
			return nil, err
		}
		return ex, nil
	}
}

func (e *OpenAIExtractor) Complete(ctx context.Context, req digest.ExtractionRequest) (string, error) {
	if e == nil || e.client == nil {
		return "", errors.New("OpenAIExtractor: client is nil")
	}

	format, err := responseFormat(req)
	if err != nil {
		return "", err
	}

	params := responses.ResponseNewParams{
		Model:        e.model,
		Instructions: openai.String(req.System),
		Temperature:  openai.Float(e.temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.User, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := e.retry.Call(ctx, e.client, params)
	if err != nil {
		return "", fmt.Errorf("OpenAIExtractor: %s: %w", req.Name, err)
	}
	out := resp.OutputText()
	e.logger.Debug("completion received",
		"call", req.Name,
		"model", e.model,
		"status", resp.Status,
		"output_tokens", resp.Usage.OutputTokens,
		"output_len", len(out),
	)
	return out, nil
}

func responseFormat(req digest.ExtractionRequest) (responses.ResponseFormatTextConfigUnionParam, error) {
	if req.Output == nil {
		return responses.ResponseFormatTextConfigUnionParam{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}, nil
	}

	schema, err := SchemaFor(req.Output)
	if err != nil {
		return responses.ResponseFormatTextConfigUnionParam{}, fmt.Errorf("OpenAIExtractor: %s: %w", req.Name, err)
	}
	name := req.Name
	if name == "" {
		name = "extraction"
	}
	return responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        name,
			Schema:      schema,
			Strict:      openai.Bool(true),
			Description: openai.String("WhatsApp digest " + strings.ReplaceAll(name, "_", " ") + " JSON"),
			Type:        "json_schema",
		},
	}, nil
}
