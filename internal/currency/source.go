package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"
)

// RateSource produces fresh rate tables.
type RateSource interface {
	Fetch(ctx context.Context) (*RateTable, error)
}

// HTTPSource reads tables from an exchange-rate JSON endpoint such as
// https://open.er-api.com/v6/latest/EUR.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

type ratesResponse struct {
	Result     string             `json:"result"`
	Base       string             `json:"base_code"`
	Rates      map[string]float64 `json:"rates"`
	UpdateUnix int64              `json:"time_last_update_unix"`
	ErrorType  string             `json:"error-type"`
}

// NewHTTPSource returns a source with a 10s client timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSource) Fetch(ctx context.Context) (*RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s%s: %s", req.URL.Host, req.URL.Path, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read rates body: %w", err)
	}
	var payload ratesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	if payload.Result != "" && payload.Result != "success" {
		return nil, fmt.Errorf("rates provider error: %s", payload.ErrorType)
	}
	t := &RateTable{
		Base:  strings.ToUpper(payload.Base),
		Rates: make(map[string]float64, len(payload.Rates)),
	}
	for code, r := range payload.Rates {
		t.Rates[strings.ToUpper(code)] = r
	}
	if payload.UpdateUnix > 0 {
		t.UpdatedAt = time.Unix(payload.UpdateUnix, 0).UTC()
	}
	return t, nil
}

// StaticSource always returns a copy of Table, or Err when set.
type StaticSource struct {
	Table *RateTable
	Err   error
}

func (s StaticSource) Fetch(ctx context.Context) (*RateTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	cp := *s.Table
	cp.Rates = maps.Clone(s.Table.Rates)
	return &cp, nil
}
