package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ExchangeError reports a failed code-for-token exchange. It is not retried
// here; the scheduler's retry loop owns that decision.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// ProfileFetchError reports a failed userinfo fetch. Callers treat it as
// non-fatal: the profile only enriches the persisted token record.
type ProfileFetchError struct {
	StatusCode int
	Err        error
}

func (e *ProfileFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("profile fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("profile fetch failed: status %d", e.StatusCode)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }

// Profile is the account snippet attached to persisted tokens.
type Profile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Artifact carries the tokens derived from one captured authorization code.
// Fresh per completed flow; never reused across cycles.
type Artifact struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scope        string
	Profile      *Profile
}

// ExchangerConfig identifies the client and provider endpoints.
type ExchangerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserinfoURL  string
	Scopes       []string
}

// Exchanger converts authorization codes to tokens and fetches the account
// profile.
type Exchanger struct {
	oauthCfg    *oauth2.Config
	userinfoURL string
	client      *http.Client
}

// NewExchanger builds an Exchanger from provider configuration.
func NewExchanger(cfg ExchangerConfig) *Exchanger {
	return &Exchanger{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userinfoURL: cfg.UserinfoURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Exchange posts the captured code to the token endpoint. Non-2xx responses
// and transport errors surface as *ExchangeError.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*Artifact, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := e.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}
	scope, _ := tok.Extra("scope").(string)
	return &Artifact{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scope:        scope,
	}, nil
}

// FetchProfile GETs the userinfo endpoint with bearer auth and attaches the
// result to the artifact.
func (e *Exchanger) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userinfoURL, nil)
	if err != nil {
		return nil, &ProfileFetchError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &ProfileFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode}
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, &ProfileFetchError{Err: err}
	}
	return &profile, nil
}
