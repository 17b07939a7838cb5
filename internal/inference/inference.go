// Package inference turns a free-text note such as "pizza 12 euro" into an
// expense suggestion using a language model.
package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"spendlog/internal/core"
)

var (
	// ErrUnavailable is returned when no model is configured.
	ErrUnavailable = errors.New("inference unavailable")
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrInvalidSuggestion is matched by every SuggestionError.
	ErrInvalidSuggestion = errors.New("invalid suggestion")
)

// SuggestionError carries the user-facing reason a suggestion was rejected.
type SuggestionError struct {
	Message string
}

func (e *SuggestionError) Error() string { return e.Message }

func (e *SuggestionError) Is(target error) bool { return target == ErrInvalidSuggestion }

const msgIncomplete = "Dati della spesa incompleti o non validi restituiti dall'AI."

// Request describes one inference call. Currencies and Categories bound the
// answers the model may give.
type Request struct {
	Prompt       string
	Currencies   []string
	Categories   []string
	MainCurrency string
	Today        time.Time
}

// Suggestion is the model's reading of the prompt.
type Suggestion struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Category string  `json:"category"`
}

// Inferrer extracts a suggestion from a request.
type Inferrer interface {
	Infer(ctx context.Context, req Request) (Suggestion, error)
}

// Func adapts a plain function to Inferrer.
type Func func(ctx context.Context, req Request) (Suggestion, error)

func (f Func) Infer(ctx context.Context, req Request) (Suggestion, error) { return f(ctx, req) }

// Validate checks the suggestion against the request's vocabularies and
// returns it with the currency code normalised.
func (s Suggestion) Validate(req Request) (Suggestion, error) {
	currency := core.NormalizeCurrency(s.Currency)
	category := strings.TrimSpace(s.Category)
	if s.Amount <= 0 || currency == "" || category == "" {
		return Suggestion{}, &SuggestionError{Message: msgIncomplete}
	}
	if !slices.Contains(req.Currencies, currency) {
		return Suggestion{}, &SuggestionError{Message: fmt.Sprintf(
			"Valuta %q non valida per questo viaggio. Valute ammesse: %s.",
			currency, strings.Join(req.Currencies, ", "))}
	}
	if !slices.Contains(req.Categories, category) {
		return Suggestion{}, &SuggestionError{Message: fmt.Sprintf("Categoria %q non valida.", category)}
	}
	return Suggestion{Amount: s.Amount, Currency: currency, Category: category}, nil
}

// Instruction renders the text sent to the model.
func (req Request) Instruction() string {
	today := req.Today
	if today.IsZero() {
		today = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From the text %q, extract the expense amount, currency and category. ", strings.TrimSpace(req.Prompt))
	fmt.Fprintf(&b, "Today is %s. ", today.Format(time.DateOnly))
	fmt.Fprintf(&b, "The currency must be one of these: %s. ", strings.Join(req.Currencies, ", "))
	fmt.Fprintf(&b, "The category must be one of these: %s. ", strings.Join(req.Categories, ", "))
	fmt.Fprintf(&b, "If no currency is specified, assume %s. ", req.MainCurrency)
	b.WriteString("If the text implies a specific item (like 'pizza' or 'coffee'), use the most appropriate general category (like 'Cibo').")
	return b.String()
}
