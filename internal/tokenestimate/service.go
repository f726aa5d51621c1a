package tokenestimate

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// Estimator serves /v1/messages/count_tokens. It prefers an external
// counting service when configured, falling back to the local BPE estimate
// on any remote failure so the endpoint never hard-fails on a dependency.
type Estimator struct {
	remote *remoteClient
	log    *logrus.Entry
}

// New constructs an Estimator. Pass a zero RemoteConfig to always use the
// local estimate.
func New(cfg RemoteConfig, httpClient *http.Client, log *logrus.Entry) *Estimator {
	e := &Estimator{log: log}
	if cfg.Enabled() {
		e.remote = newRemoteClient(cfg, httpClient)
	}
	return e
}

// Count returns the estimated input token count for req, per spec.md §6's
// `/v1/messages/count_tokens`.
func (e *Estimator) Count(ctx context.Context, req anthropic.Request) (anthropic.CountTokensResponse, error) {
	if e.remote != nil {
		if n, err := e.remote.Count(ctx, req); err == nil {
			return anthropic.CountTokensResponse{InputTokens: n}, nil
		} else if e.log != nil {
			e.log.WithError(err).Warn("tokenestimate: remote count failed, falling back to local estimate")
		}
	}

	n, err := EstimateRequest(req)
	if err != nil {
		return anthropic.CountTokensResponse{}, err
	}
	return anthropic.CountTokensResponse{InputTokens: n}, nil
}
