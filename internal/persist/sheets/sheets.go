// Package sheets stores ledger documents in a Google Sheets spreadsheet, one
// row per user: A user id, B JSON document, C updated-at, D version.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/persist"
)

// maxCellChars is the Sheets limit on a single cell.
const maxCellChars = 50000

var ErrDocumentTooLarge = errors.New("ledger document exceeds sheet cell limit")

// Config selects the spreadsheet and how to authenticate.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string

	// OAuth user credentials, used when no service account is given.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
	now           func() time.Time

	// Put is read-then-write; serialize it within the process.
	mu sync.Mutex
}

// NewClient creates a Sheets-backed store authenticated with a service account.
func NewClient(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string, logger *log.Logger) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Ledgers"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        log.OrDiscard(logger).WithComponent(log.ComponentSheets),
		now:           time.Now,
	}
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	case strings.TrimSpace(cfg.OAuthTokenFile) != "":
		ts, err := oauthTokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		service, err := gsheet.NewService(ctx, goption.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("create sheets service: %w", err)
		}
		return service, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

type row struct {
	number  int // 1-based sheet row
	doc     string
	version int64
}

// findRow scans column A for userID.
func (c *Client) findRow(ctx context.Context, userID string) (*row, error) {
	rng := fmt.Sprintf("%s!A:D", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	for i, values := range resp.Values {
		cells := toStrings(values)
		if safeGet(cells, 0) != userID {
			continue
		}
		version, _ := strconv.ParseInt(safeGet(cells, 3), 10, 64)
		return &row{number: i + 1, doc: safeGet(cells, 1), version: version}, nil
	}
	return nil, nil
}

// Fetch implements persist.Fetcher
func (c *Client) Fetch(ctx context.Context, userID string) (*core.Ledger, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	r, err := c.findRow(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.doc == "" {
		return nil, persist.ErrNotFound
	}
	return persist.Decode([]byte(r.doc))
}

// Save implements persist.Saver
func (c *Client) Save(ctx context.Context, userID string, l *core.Ledger) error {
	_, err := c.Put(ctx, userID, l)
	return err
}

// Put rewrites the user's row, appending one if none exists, and returns the
// new version.
func (c *Client) Put(ctx context.Context, userID string, l *core.Ledger) (int64, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	data, err := persist.Encode(l)
	if err != nil {
		return 0, err
	}
	if len(data) > maxCellChars {
		return 0, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.findRow(ctx, userID)
	if err != nil {
		return 0, err
	}
	version := int64(1)
	if r != nil {
		version = r.version + 1
	}
	values := &gsheet.ValueRange{Values: [][]any{{
		userID,
		string(data),
		c.now().UTC().Format(time.RFC3339),
		strconv.FormatInt(version, 10),
	}}}

	if r != nil {
		rng := fmt.Sprintf("%s!A%d:D%d", c.sheetName, r.number, r.number)
		_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, values).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", rng, err)
		}
	} else {
		rng := fmt.Sprintf("%s!A:D", c.sheetName)
		_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, values).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return 0, fmt.Errorf("append %s: %w", rng, err)
		}
	}

	c.logger.DebugContext(ctx, "Ledger written to sheet",
		log.FieldUserID, userID,
		log.FieldVersion, version,
		"sheet", c.sheetName)
	return version, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
