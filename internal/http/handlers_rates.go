package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/currency"
	"spendlog/internal/session"
)

type ratesResponse struct {
	Base          string             `json:"base"`
	Rates         map[string]float64 `json:"rates"`
	LastRefreshed *time.Time         `json:"lastRefreshed"`
	Staleness     string             `json:"staleness"`
}

type convertResponse struct {
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Result    float64 `json:"result"`
	Formatted string  `json:"formatted"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(healthResponse{
		Status:   "ok",
		Mode:     s.sessions.Mode().String(),
		Sessions: s.sessions.Len(),
		Uptime:   s.now().Sub(s.started).Truncate(time.Second).String(),
	}).Write(w)
}

func (s *Server) ratesBody() ratesResponse {
	t := s.rates.Table()
	body := ratesResponse{Base: t.Base, Rates: t.Rates, Staleness: s.rates.StalenessText()}
	if at := s.rates.LastRefreshed(); !at.IsZero() {
		body.LastRefreshed = &at
	}
	return body
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.ratesBody()).Write(w)
}

// handleRefreshRates fetches a new table now. On failure the current table
// stays in use and 502 is returned.
func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()
	if _, err := s.rates.Refresh(ctx); err != nil {
		s.writeError(w, r, err, http.StatusBadGateway)
		return
	}
	NewResponse().JSON(s.ratesBody()).Write(w)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	amount, from, to, err := ParseConvertParams(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	result, err := s.rates.Convert(amount, from, to)
	if err != nil {
		s.writeError(w, r, err, http.StatusUnprocessableEntity)
		return
	}
	to = core.NormalizeCurrency(to)
	NewResponse().JSON(convertResponse{
		Amount:    amount,
		From:      core.NormalizeCurrency(from),
		To:        to,
		Result:    result,
		Formatted: currency.Format(result, to),
	}).Write(w)
}

func isNoSession(err error) bool {
	return errors.Is(err, session.ErrNoSession)
}
