// Package http exposes the ledger sessions as a JSON API.
//
// This file implements the helpers that read identities, JSON bodies and
// query parameters off incoming requests.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"spendlog/internal/window"
)

// HeaderUserID names the signed-in user. Authentication happens upstream.
const HeaderUserID = "X-User-ID"

const (
	maxBodyBytes      = 1 << 20
	defaultItemHeight = 72
	defaultOverscan   = 5
	maxUserIDLength   = 128
)

var errMissingUser = errors.New("missing " + HeaderUserID + " header")

// UserID extracts the caller's id from the request headers.
func UserID(r *http.Request) (string, error) {
	id := sanitizeInput(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", errMissingUser
	}
	if len(id) > maxUserIDLength || strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("invalid %s header", HeaderUserID)
	}
	return id, nil
}

// DecodeJSON reads a bounded JSON body into dst. Trailing data is rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// ParseWindowParams reads the virtual-list geometry from the query string.
// Missing values fall back to zero scroll, the default row height and the
// default overscan.
func ParseWindowParams(q url.Values, count int) (window.Params, error) {
	p := window.Params{Count: count, ItemHeight: defaultItemHeight, Overscan: defaultOverscan}
	var err error
	if p.ScrollTop, err = floatParam(q, "scrollTop", 0); err != nil {
		return p, err
	}
	if p.ContainerTop, err = floatParam(q, "containerTop", 0); err != nil {
		return p, err
	}
	if p.ViewportHeight, err = floatParam(q, "viewport", 0); err != nil {
		return p, err
	}
	if p.ItemHeight, err = floatParam(q, "itemHeight", defaultItemHeight); err != nil {
		return p, err
	}
	if v := strings.TrimSpace(q.Get("overscan")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid overscan %q", v)
		}
		p.Overscan = n
	}
	return p, nil
}

// ParseConvertParams reads amount, from and to for a conversion request.
func ParseConvertParams(q url.Values) (amount float64, from, to string, err error) {
	raw := strings.TrimSpace(q.Get("amount"))
	if raw == "" {
		return 0, "", "", errors.New("amount is required")
	}
	amount, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid amount %q", raw)
	}
	from = strings.TrimSpace(q.Get("from"))
	to = strings.TrimSpace(q.Get("to"))
	if from == "" || to == "" {
		return 0, "", "", errors.New("from and to are required")
	}
	return amount, from, to, nil
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return f, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
