// Package google wraps the Calendar and Gmail APIs behind the assistant's
// collaborator interfaces.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
)

const (
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"
)

// Authorize runs the installed-app OAuth flow interactively and persists the
// token under dir. Subsequent Client calls reuse the stored token.
func Authorize(ctx context.Context, dir string) error {
	cfg, err := oauthConfig(dir)
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in your browser, then paste the authorization code:\n%v\n\n> ", authURL)

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := saveToken(filepath.Join(dir, tokenFile), tok); err != nil {
		return err
	}
	log.Printf("[google] token saved to %s", filepath.Join(dir, tokenFile))
	return nil
}

// tokenSource loads the persisted token and returns a refreshing source.
func tokenSource(ctx context.Context, dir string) (oauth2.TokenSource, error) {
	cfg, err := oauthConfig(dir)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(filepath.Join(dir, tokenFile))
	if err != nil {
		return nil, fmt.Errorf("no stored token (run the onboard command first): %w", err)
	}
	return cfg.TokenSource(ctx, tok), nil
}

func oauthConfig(dir string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("read OAuth credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(raw, calendar.CalendarScope, gmail.GmailModifyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("parse OAuth credentials: %w", err)
	}
	return cfg, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return nil
}
