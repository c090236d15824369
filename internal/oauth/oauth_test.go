package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestAuthURLGoogle(t *testing.T) {
	client := NewClient(ProviderConfig{
		ClientID:    "google-id",
		RedirectURL: "http://localhost:3000/auth/google/callback",
	}, ProviderConfig{})

	raw, err := client.AuthURL(ProviderGoogle, "state-123")
	if err != nil {
		t.Fatalf("AuthURL failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthURL produced invalid URL: %v", err)
	}
	query := parsed.Query()
	if query.Get("client_id") != "google-id" {
		t.Fatalf("missing client_id, got %q", query.Get("client_id"))
	}
	if query.Get("state") != "state-123" {
		t.Fatalf("missing state, got %q", query.Get("state"))
	}
	if query.Get("response_type") != "code" {
		t.Fatalf("expected response_type=code, got %q", query.Get("response_type"))
	}
	if query.Get("scope") != "openid profile email" {
		t.Fatalf("unexpected scope %q", query.Get("scope"))
	}
}

func TestAuthURLGithub(t *testing.T) {
	client := NewClient(ProviderConfig{}, ProviderConfig{
		ClientID:    "github-id",
		RedirectURL: "http://localhost:3000/auth/github/callback",
	})

	raw, err := client.AuthURL(ProviderGithub, "state-456")
	if err != nil {
		t.Fatalf("AuthURL failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthURL produced invalid URL: %v", err)
	}
	query := parsed.Query()
	if query.Get("client_id") != "github-id" {
		t.Fatalf("missing client_id, got %q", query.Get("client_id"))
	}
	if query.Get("scope") != "read:user user:email" {
		t.Fatalf("unexpected scope %q", query.Get("scope"))
	}
	if query.Get("state") != "state-456" {
		t.Fatalf("missing state, got %q", query.Get("state"))
	}
}

func TestAuthURLUnknownProvider(t *testing.T) {
	client := NewClient(ProviderConfig{}, ProviderConfig{})
	if _, err := client.AuthURL("gitlab", "state"); err != ErrUnknownProvider {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestExchangeGoogle(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST to token endpoint, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if r.PostFormValue("code") != "auth-code" {
			t.Errorf("expected code=auth-code, got %q", r.PostFormValue("code"))
		}
		if r.PostFormValue("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.PostFormValue("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "provider-token", "token_type": "Bearer"})
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer provider-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"sub":     "google-sub-1",
			"email":   "jordan@devos.dev",
			"name":    "Jordan",
			"picture": "https://img.example/jordan.png",
		})
	}))
	defer userSrv.Close()

	client := NewClient(ProviderConfig{
		ClientID:     "google-id",
		ClientSecret: "google-secret",
		TokenURL:     tokenSrv.URL,
		UserInfoURL:  userSrv.URL,
	}, ProviderConfig{})

	profile, err := client.Exchange(context.Background(), ProviderGoogle, "auth-code")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if profile.ID != "google-sub-1" {
		t.Fatalf("unexpected profile id %q", profile.ID)
	}
	if profile.Email != "jordan@devos.dev" {
		t.Fatalf("unexpected email %q", profile.Email)
	}
	if profile.Provider != ProviderGoogle {
		t.Fatalf("unexpected provider %q", profile.Provider)
	}
	if profile.Avatar != "https://img.example/jordan.png" {
		t.Fatalf("unexpected avatar %q", profile.Avatar)
	}
	if profile.AccessToken != "provider-token" {
		t.Fatalf("provider token not carried on profile")
	}
}

func TestExchangeGithubPrivateEmail(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("github token exchange must accept json, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gh-token"})
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         int64(4242),
			"login":      "sam-dev",
			"name":       "",
			"email":      "",
			"avatar_url": "https://avatars.example/4242",
		})
	}))
	defer userSrv.Close()

	emailsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"email": "secondary@devos.dev", "primary": false},
			{"email": "sam@devos.dev", "primary": true},
		})
	}))
	defer emailsSrv.Close()

	client := NewClient(ProviderConfig{}, ProviderConfig{
		ClientID:     "github-id",
		ClientSecret: "github-secret",
		TokenURL:     tokenSrv.URL,
		UserInfoURL:  userSrv.URL,
		EmailsURL:    emailsSrv.URL,
	})

	profile, err := client.Exchange(context.Background(), ProviderGithub, "gh-code")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if profile.ID != "4242" {
		t.Fatalf("unexpected profile id %q", profile.ID)
	}
	if profile.Email != "sam@devos.dev" {
		t.Fatalf("expected primary email from /user/emails, got %q", profile.Email)
	}
	if profile.Name != "sam-dev" {
		t.Fatalf("expected login fallback for empty name, got %q", profile.Name)
	}
}

func TestExchangeFailedTokenEndpoint(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad code", http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	client := NewClient(ProviderConfig{TokenURL: tokenSrv.URL}, ProviderConfig{})
	if _, err := client.Exchange(context.Background(), ProviderGoogle, "bogus"); err == nil {
		t.Fatal("expected error for rejected code")
	}
}

func TestExchangeUnknownProvider(t *testing.T) {
	client := NewClient(ProviderConfig{}, ProviderConfig{})
	if _, err := client.Exchange(context.Background(), "bitbucket", "code"); err != ErrUnknownProvider {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
