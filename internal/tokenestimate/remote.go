package tokenestimate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// RemoteConfig configures optional delegation to an external token-counting
// service, per spec.md §6's `countTokensApiUrl`/`countTokensApiKey`/
// `countTokensAuthType` config keys.
type RemoteConfig struct {
	URL      string
	APIKey   string
	AuthType string // "bearer" (default) or "x-api-key"
}

// Enabled reports whether a remote counting service is configured.
func (c RemoteConfig) Enabled() bool {
	return c.URL != ""
}

// remoteClient calls an external Anthropic-compatible count_tokens endpoint.
type remoteClient struct {
	cfg  RemoteConfig
	http *http.Client
}

func newRemoteClient(cfg RemoteConfig, httpClient *http.Client) *remoteClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &remoteClient{cfg: cfg, http: httpClient}
}

func (c *remoteClient) Count(ctx context.Context, req anthropic.Request) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("tokenestimate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("tokenestimate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch c.cfg.AuthType {
	case "x-api-key":
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("tokenestimate: remote count request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokenestimate: remote count returned status %d", resp.StatusCode)
	}

	var out anthropic.CountTokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("tokenestimate: decode remote count response: %w", err)
	}
	return out.InputTokens, nil
}
