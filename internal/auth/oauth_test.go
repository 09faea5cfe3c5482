package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newProviderServer(t *testing.T, user map[string]any, emails []providerEmail) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "provider-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testProviderConfig(name, baseURL string, withEmails bool) ProviderConfig {
	cfg := ProviderConfig{
		Name:         name,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/" + name + "/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   baseURL + "/authorize",
			TokenURL:  baseURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: baseURL + "/user",
	}
	if withEmails {
		cfg.EmailsURL = baseURL + "/user/emails"
	}
	return cfg
}

func TestProvider_AuthCodeURLCarriesState(t *testing.T) {
	providers := NewOAuthProviders(GoogleProvider("id", "secret", "http://localhost:8080/"))
	p, ok := providers.Get(ProviderGoogle)
	require.True(t, ok)

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "http://localhost:8080/auth/google/callback", u.Query().Get("redirect_uri"))
}

func TestNewOAuthProviders_SkipsUnconfigured(t *testing.T) {
	providers := NewOAuthProviders(
		GoogleProvider("", "", "http://localhost"),
		GitHubProvider("gh-id", "gh-secret", "http://localhost"),
	)

	assert.Equal(t, 1, providers.Len())
	_, ok := providers.Get(ProviderGoogle)
	assert.False(t, ok)
	_, ok = providers.Get(ProviderGitHub)
	assert.True(t, ok)
}

func TestProvider_ExchangeGoogleProfile(t *testing.T) {
	srv := newProviderServer(t, map[string]any{"sub": "1234", "email": "Alice@X.com", "name": "Alice"}, nil)
	p := NewOAuthProviders(testProviderConfig(ProviderGoogle, srv.URL, false))
	provider, _ := p.Get(ProviderGoogle)

	profile, err := provider.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Profile{Provider: ProviderGoogle, ProviderUserID: "1234", Email: "alice@x.com", Name: "Alice"}, profile)
}

func TestProvider_ExchangeGitHubFallsBackToPrimaryEmail(t *testing.T) {
	srv := newProviderServer(t,
		map[string]any{"id": 42, "login": "octo", "email": nil},
		[]providerEmail{
			{Email: "old@x.com", Primary: false, Verified: true},
			{Email: "octo@x.com", Primary: true, Verified: true},
		},
	)
	p := NewOAuthProviders(testProviderConfig(ProviderGitHub, srv.URL, true))
	provider, _ := p.Get(ProviderGitHub)

	profile, err := provider.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "42", profile.ProviderUserID)
	assert.Equal(t, "octo@x.com", profile.Email)
	assert.Equal(t, "octo", profile.Name)
}

func TestProvider_ExchangeWithoutVerifiedEmail(t *testing.T) {
	srv := newProviderServer(t,
		map[string]any{"id": 42, "login": "octo"},
		[]providerEmail{{Email: "octo@x.com", Primary: true, Verified: false}},
	)
	p := NewOAuthProviders(testProviderConfig(ProviderGitHub, srv.URL, true))
	provider, _ := p.Get(ProviderGitHub)

	_, err := provider.Exchange(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrProfileIncomplete)
}

func TestProvider_ExchangeBadCode(t *testing.T) {
	srv := newProviderServer(t, map[string]any{"sub": "1"}, nil)
	p := NewOAuthProviders(testProviderConfig(ProviderGoogle, srv.URL, false))
	provider, _ := p.Get(ProviderGoogle)

	_, err := provider.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}
