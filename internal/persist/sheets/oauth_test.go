package sheets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testClientJSON = `{"installed":{"client_id":"cid.apps.googleusercontent.com","client_secret":"shh",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

func TestOAuthConfig(t *testing.T) {
	cfg, err := OAuthConfig([]byte(testClientJSON))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "cid.apps.googleusercontent.com" || len(cfg.Scopes) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := OAuthConfig([]byte(`{}`)); err == nil {
		t.Fatal("expected error for an empty client")
	}
}

func TestReadClientJSON(t *testing.T) {
	if got, err := ReadClientJSON(testClientJSON, "ignored"); err != nil || string(got) != testClientJSON {
		t.Fatalf("inline JSON should win, got %q (err=%v)", got, err)
	}
	if _, err := ReadClientJSON("", ""); err == nil {
		t.Fatal("expected error without a client")
	}
	if _, err := ReadClientJSON("", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).UTC()}
	if err := SaveToken(path, tok); err != nil {
		t.Fatal(err)
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.RefreshToken != "r" || !got.Expiry.Equal(tok.Expiry) {
		t.Fatalf("unexpected token %+v", got)
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := SaveToken(empty, &oauth2.Token{}); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToken(empty); err == nil {
		t.Fatal("expected error for a token file without tokens")
	}
}

func TestNewClientWithOAuthToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := SaveToken(path, &oauth2.Token{RefreshToken: "r"}); err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(context.Background(), Config{
		SpreadsheetID:   "sheet",
		OAuthClientJSON: testClientJSON,
		OAuthTokenFile:  path,
	}, nil)
	if err != nil || c == nil {
		t.Fatalf("expected client from OAuth credentials, got err=%v", err)
	}
}
