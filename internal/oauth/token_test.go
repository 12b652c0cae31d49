package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExchanger(tokenURL, userinfoURL string) *Exchanger {
	return NewExchanger(ExchangerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/oauth-callback",
		AuthURL:      "https://accounts.google.com/o/oauth2/auth",
		TokenURL:     tokenURL,
		UserinfoURL:  userinfoURL,
		Scopes:       []string{"email", "profile"},
	})
}

func TestExchangeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "4/abc123", r.PostForm.Get("code"))
		assert.Equal(t, "https://app.example.com/oauth-callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "ya29.token",
			"refresh_token": "1//refresh",
			"token_type": "Bearer",
			"expires_in": 3599,
			"scope": "email profile"
		}`))
	}))
	defer srv.Close()

	ex := newTestExchanger(srv.URL, "")
	artifact, err := ex.Exchange(context.Background(), "4/abc123")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", artifact.AccessToken)
	assert.Equal(t, "1//refresh", artifact.RefreshToken)
	assert.Equal(t, "Bearer", artifact.TokenType)
	assert.Equal(t, "email profile", artifact.Scope)
	assert.False(t, artifact.Expiry.IsZero())
}

func TestExchangeNon2xxIsExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	ex := newTestExchanger(srv.URL, "")
	_, err := ex.Exchange(context.Background(), "stale-code")
	require.Error(t, err)
	var exchangeErr *ExchangeError
	assert.True(t, errors.As(err, &exchangeErr))
}

func TestFetchProfileSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email": "user@example.com", "name": "Test User"}`))
	}))
	defer srv.Close()

	ex := newTestExchanger("", srv.URL)
	profile, err := ex.FetchProfile(context.Background(), "ya29.token")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)
	assert.Equal(t, "Test User", profile.Name)
}

func TestFetchProfileNon2xxIsProfileFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ex := newTestExchanger("", srv.URL)
	_, err := ex.FetchProfile(context.Background(), "expired")
	require.Error(t, err)
	var profileErr *ProfileFetchError
	require.True(t, errors.As(err, &profileErr))
	assert.Equal(t, http.StatusUnauthorized, profileErr.StatusCode)
}
