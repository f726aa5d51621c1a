package kiroauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// refreshResult is the normalized output of either provider's refresh
// protocol, regardless of the wire-level field names each one uses.
type refreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type socialRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type socialRefreshResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// refreshSocial implements the "social" (Google/Github/BuilderId) refresh
// protocol from spec.md §4.3: POST {refreshToken} to the Kiro desktop auth
// endpoint, which returns a fresh accessToken/refreshToken/expiresAt.
func refreshSocial(ctx context.Context, client *http.Client, cred Credential) (refreshResult, error) {
	url := fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", cred.Region)

	body, err := json.Marshal(socialRefreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return refreshResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return refreshResult{}, err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return refreshResult{}, fmt.Errorf("kiroauth: social refresh request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return refreshResult{}, fmt.Errorf("kiroauth: social refresh read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return refreshResult{}, fmt.Errorf("kiroauth: social refresh status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed socialRefreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return refreshResult{}, fmt.Errorf("kiroauth: social refresh parse response: %w", err)
	}

	return refreshResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    parsed.ExpiresAt,
	}, nil
}

// refreshIdC implements the IdC (AWS SSO OIDC) refresh protocol from
// spec.md §4.3 using golang.org/x/oauth2's refresh-token token source —
// the endpoint is a standard OAuth2 token endpoint accepting
// grant_type=refresh_token with client_id/client_secret, which is exactly
// what oauth2.Config.TokenSource implements.
func refreshIdC(ctx context.Context, client *http.Client, cred Credential) (refreshResult, error) {
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: fmt.Sprintf("https://oidc.%s.amazonaws.com/token", cred.Region),
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return refreshResult{}, fmt.Errorf("kiroauth: IdC refresh: %w", err)
	}

	return refreshResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}
