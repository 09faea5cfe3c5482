package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// ErrProfileIncomplete is returned when a provider profile lacks a usable email.
var ErrProfileIncomplete = errors.New("provider profile has no verified email")

// ProviderConfig describes an external OAuth provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	Scopes       []string
	UserInfoURL  string
	// EmailsURL is queried when the profile endpoint omits the email (GitHub private emails).
	EmailsURL string
}

// GoogleProvider returns the Google provider configuration with its callback under baseURL.
func GoogleProvider(clientID, clientSecret, baseURL string) ProviderConfig {
	return ProviderConfig{
		Name:         ProviderGoogle,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/google/callback",
		Endpoint:     endpoints.Google,
		Scopes:       []string{"openid", "profile", "email"},
		UserInfoURL:  "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

// GitHubProvider returns the GitHub provider configuration with its callback under baseURL.
func GitHubProvider(clientID, clientSecret, baseURL string) ProviderConfig {
	return ProviderConfig{
		Name:         ProviderGitHub,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/github/callback",
		Endpoint:     endpoints.GitHub,
		Scopes:       []string{"read:user", "user:email"},
		UserInfoURL:  "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
	}
}

// Profile is the subset of a provider account used to find or create an identity.
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

// Provider performs the authorization code flow against one OAuth provider.
type Provider struct {
	config      ProviderConfig
	oauthConfig *oauth2.Config
}

func newProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		config: cfg,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       cfg.Scopes,
		},
	}
}

// Name returns the provider key used in routes.
func (p *Provider) Name() string {
	return p.config.Name
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a token and fetches the account profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	client := p.oauthConfig.Client(ctx, token)

	profile, err := p.fetchProfile(ctx, client)
	if err != nil {
		return nil, err
	}
	if profile.Email == "" && p.config.EmailsURL != "" {
		email, err := p.fetchPrimaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
		profile.Email = email
	}
	if profile.Email == "" {
		return nil, ErrProfileIncomplete
	}
	return profile, nil
}

type userInfo struct {
	// Google
	Sub string `json:"sub"`
	// GitHub
	ID    json.Number `json:"id"`
	Login string      `json:"login"`

	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *Provider) fetchProfile(ctx context.Context, client *http.Client) (*Profile, error) {
	var info userInfo
	if err := getJSON(ctx, client, p.config.UserInfoURL, &info); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	profile := &Profile{
		Provider: p.config.Name,
		Email:    strings.ToLower(strings.TrimSpace(info.Email)),
		Name:     info.Name,
	}
	switch {
	case info.Sub != "":
		profile.ProviderUserID = info.Sub
	case info.ID != "":
		profile.ProviderUserID = info.ID.String()
	}
	if profile.Name == "" {
		profile.Name = info.Login
	}
	if profile.ProviderUserID == "" {
		return nil, fmt.Errorf("fetch profile: missing account id")
	}
	return profile, nil
}

type providerEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (p *Provider) fetchPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []providerEmail
	if err := getJSON(ctx, client, p.config.EmailsURL, &emails); err != nil {
		return "", fmt.Errorf("fetch emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.ToLower(e.Email), nil
		}
	}
	return "", ErrProfileIncomplete
}

func getJSON(ctx context.Context, client *http.Client, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status " + strconv.Itoa(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// OAuthProviders is the set of providers with credentials configured.
type OAuthProviders struct {
	providers map[string]*Provider
}

// NewOAuthProviders registers every config that has a client id.
func NewOAuthProviders(configs ...ProviderConfig) *OAuthProviders {
	providers := make(map[string]*Provider, len(configs))
	for _, cfg := range configs {
		if cfg.ClientID == "" {
			continue
		}
		providers[cfg.Name] = newProvider(cfg)
	}
	return &OAuthProviders{providers: providers}
}

// Get returns the provider registered under name.
func (o *OAuthProviders) Get(name string) (*Provider, bool) {
	if o == nil {
		return nil, false
	}
	p, ok := o.providers[name]
	return p, ok
}

// Len returns how many providers are enabled.
func (o *OAuthProviders) Len() int {
	if o == nil {
		return 0
	}
	return len(o.providers)
}
