// Package oauth owns the provider-facing half of login: building the
// authorization URL and exchanging an authorization code for a verified
// profile. The identity core only ever sees the resulting Profile.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"devos/identity/internal/identity"
)

const (
	ProviderGoogle = "google"
	ProviderGithub = "github"

	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	defaultGithubAuthURL   = "https://github.com/login/oauth/authorize"
	defaultGithubTokenURL  = "https://github.com/login/oauth/access_token"
	defaultGithubUserURL   = "https://api.github.com/user"
	defaultGithubEmailsURL = "https://api.github.com/user/emails"
)

var ErrUnknownProvider = errors.New("oauth: unknown provider")

// Exchanger is the collaborator interface the HTTP layer depends on. Tests
// substitute a stub so no provider traffic is needed.
type Exchanger interface {
	AuthURL(provider, state string) (string, error)
	Exchange(ctx context.Context, provider, code string) (identity.Profile, error)
}

// ProviderConfig holds one provider's OAuth application credentials. The
// endpoint URLs are overridable for tests.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	EmailsURL   string
}

// Client implements Exchanger for google and github.
type Client struct {
	google ProviderConfig
	github ProviderConfig
	http   *http.Client
}

func NewClient(google, github ProviderConfig) *Client {
	if google.AuthURL == "" {
		google.AuthURL = defaultGoogleAuthURL
	}
	if google.TokenURL == "" {
		google.TokenURL = defaultGoogleTokenURL
	}
	if google.UserInfoURL == "" {
		google.UserInfoURL = defaultGoogleUserInfoURL
	}
	if github.AuthURL == "" {
		github.AuthURL = defaultGithubAuthURL
	}
	if github.TokenURL == "" {
		github.TokenURL = defaultGithubTokenURL
	}
	if github.UserInfoURL == "" {
		github.UserInfoURL = defaultGithubUserURL
	}
	if github.EmailsURL == "" {
		github.EmailsURL = defaultGithubEmailsURL
	}
	return &Client{
		google: google,
		github: github,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthURL builds the provider's authorization URL with the given state.
func (c *Client) AuthURL(provider, state string) (string, error) {
	switch provider {
	case ProviderGoogle:
		params := url.Values{
			"client_id":     {c.google.ClientID},
			"redirect_uri":  {c.google.RedirectURL},
			"response_type": {"code"},
			"scope":         {"openid profile email"},
			"state":         {state},
		}
		return c.google.AuthURL + "?" + params.Encode(), nil
	case ProviderGithub:
		params := url.Values{
			"client_id":    {c.github.ClientID},
			"redirect_uri": {c.github.RedirectURL},
			"scope":        {"read:user user:email"},
			"state":        {state},
		}
		return c.github.AuthURL + "?" + params.Encode(), nil
	default:
		return "", ErrUnknownProvider
	}
}

// Exchange trades the authorization code for the provider's view of the user.
func (c *Client) Exchange(ctx context.Context, provider, code string) (identity.Profile, error) {
	switch provider {
	case ProviderGoogle:
		return c.exchangeGoogle(ctx, code)
	case ProviderGithub:
		return c.exchangeGithub(ctx, code)
	default:
		return identity.Profile{}, ErrUnknownProvider
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (c *Client) exchangeGoogle(ctx context.Context, code string) (identity.Profile, error) {
	accessToken, err := c.exchangeCode(ctx, c.google, code, false)
	if err != nil {
		return identity.Profile{}, err
	}

	var info struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := c.getJSON(ctx, c.google.UserInfoURL, accessToken, &info); err != nil {
		return identity.Profile{}, err
	}
	if info.Sub == "" {
		return identity.Profile{}, errors.New("oauth: empty subject in google userinfo")
	}

	return identity.Profile{
		ID:          info.Sub,
		Email:       info.Email,
		Name:        info.Name,
		Provider:    ProviderGoogle,
		Avatar:      info.Picture,
		AccessToken: accessToken,
	}, nil
}

func (c *Client) exchangeGithub(ctx context.Context, code string) (identity.Profile, error) {
	accessToken, err := c.exchangeCode(ctx, c.github, code, true)
	if err != nil {
		return identity.Profile{}, err
	}

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, c.github.UserInfoURL, accessToken, &user); err != nil {
		return identity.Profile{}, err
	}

	email := user.Email
	if email == "" {
		email, err = c.primaryGithubEmail(ctx, accessToken)
		if err != nil {
			return identity.Profile{}, err
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return identity.Profile{
		ID:          strconv.FormatInt(user.ID, 10),
		Email:       email,
		Name:        name,
		Provider:    ProviderGithub,
		Avatar:      user.AvatarURL,
		AccessToken: accessToken,
	}, nil
}

// primaryGithubEmail fetches the account's email list; github omits the
// email from /user when it is marked private.
func (c *Client) primaryGithubEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := c.getJSON(ctx, c.github.EmailsURL, accessToken, &emails); err != nil {
		return "", err
	}
	for _, entry := range emails {
		if entry.Primary {
			return entry.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", errors.New("oauth: github account has no email")
}

func (c *Client) exchangeCode(ctx context.Context, cfg ProviderConfig, code string, acceptJSON bool) (string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"redirect_uri":  {cfg.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if acceptJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth: token exchange failed with status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", errors.New("oauth: empty access token in response")
	}
	return token.AccessToken, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth: %s returned status %d", endpoint, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

var _ Exchanger = (*Client)(nil)
