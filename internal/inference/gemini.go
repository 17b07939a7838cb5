package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"spendlog/internal/log"
)

const DefaultModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini client. BaseURL and HTTPClient are
// only set to point the client at a stand-in server.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini infers suggestions through the Gemini API using a JSON response
// schema.
type Gemini struct {
	client *genai.Client
	model  string
	logger *log.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *log.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrUnavailable
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentInference).With("model", model),
	}, nil
}

func (g *Gemini) Infer(ctx context.Context, req Request) (Suggestion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Suggestion{}, ErrEmptyPrompt
	}
	start := time.Now()
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(req),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Instruction()), config)
	if err != nil {
		g.logger.ErrorContext(ctx, "Gemini request failed", log.FieldOperation, log.OpInfer, log.FieldError, err)
		return Suggestion{}, fmt.Errorf("generate content: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return Suggestion{}, err
	}
	s, err := parseSuggestion(text)
	if err != nil {
		g.logger.WarnContext(ctx, "Unparseable model output", log.FieldOperation, log.OpInfer, log.FieldError, err)
		return Suggestion{}, err
	}
	g.logger.DebugContext(ctx, "Suggestion inferred",
		log.FieldOperation, log.OpInfer,
		log.FieldDuration, time.Since(start).Milliseconds(),
		log.FieldCurrency, s.Currency,
		log.FieldCategory, s.Category)
	return s, nil
}

func responseSchema(req Request) *genai.Schema {
	currency := &genai.Schema{Type: genai.TypeString, Description: "ISO 4217 currency code"}
	if len(req.Currencies) > 0 {
		currency.Enum = req.Currencies
	}
	category := &genai.Schema{Type: genai.TypeString, Description: "Expense category name"}
	if len(req.Categories) > 0 {
		category.Enum = req.Categories
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"amount":   {Type: genai.TypeNumber, Description: "Amount spent"},
			"currency": currency,
			"category": category,
		},
		Required: []string{"amount", "currency", "category"},
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty model response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("model response has no text")
	}
	return b.String(), nil
}

// parseSuggestion decodes the model output, tolerating a surrounding
// markdown code fence.
func parseSuggestion(text string) (Suggestion, error) {
	text = stripFence(text)
	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Suggestion{}, &SuggestionError{Message: msgIncomplete}
	}
	return s, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
