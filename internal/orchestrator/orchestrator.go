// Package orchestrator drives one inbound request end to end: pick an
// account, ensure its token is fresh, translate the request, dispatch it to
// the Kiro upstream, and stream or aggregate the response back, per
// spec.md §4.8.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/assembler"
	"github.com/sdxdlgz/kiroproxy/internal/config"
	"github.com/sdxdlgz/kiroproxy/internal/convert"
	"github.com/sdxdlgz/kiroproxy/internal/eventstream"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
	"github.com/sdxdlgz/kiroproxy/internal/kiroauth"
	"github.com/sdxdlgz/kiroproxy/internal/pool"
)

// defaultRetryBudget is the "bounded retry budget of 2" from spec.md §4.8:
// up to 2 additional attempts with a fresh Pool.pick after an account-fault
// response, so long as no bytes have reached the client yet.
const defaultRetryBudget = 2

// Orchestrator wires the Account Pool, Credential Store, Request Converter
// and Streaming Assembler/Aggregator into the single-request flow of
// spec.md §4.8.
type Orchestrator struct {
	Pool  *pool.Pool
	Store *kiroauth.Store
	Cfg   *config.Config

	httpClient *http.Client
	log        *logrus.Entry

	// upstreamURLOverride replaces the computed Kiro endpoint when set,
	// for pointing dispatch at a test server.
	upstreamURLOverride string
}

// New constructs an Orchestrator. httpClient, if nil, gets the connect/read
// timeouts of spec.md §5 (connect 10s; overall request/stream left open,
// per-read idle bounded by the caller's context).
func New(p *pool.Pool, store *kiroauth.Store, cfg *config.Config, httpClient *http.Client) *Orchestrator {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		}
	}
	return &Orchestrator{
		Pool:       p,
		Store:      store,
		Cfg:        cfg,
		httpClient: httpClient,
		log:        logrus.WithField("component", "orchestrator"),
	}
}

// upstreamURL builds the Kiro endpoint for the configured region.
func (o *Orchestrator) upstreamURL() string {
	if o.upstreamURLOverride != "" {
		return o.upstreamURLOverride
	}
	region := o.Cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)
}

// dispatchResult is what one dispatch attempt yields on HTTP success.
type dispatchResult struct {
	account string
	body    io.ReadCloser
}

// dispatch picks a fresh account, ensures its token, converts req, and POSTs
// it upstream. The returned *kerrors.AppError, if any, always occurs before
// any bytes of the upstream response have been read — it's always safe to
// retry a dispatch failure with a new pick.
func (o *Orchestrator) dispatch(ctx context.Context, req anthropic.Request) (*dispatchResult, *kerrors.AppError) {
	entry, err := o.Pool.Pick()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindNoHealthyAccount, "picking an account", err)
	}

	accessToken, err := o.Store.EnsureFresh(ctx, entry.Name)
	if err != nil {
		o.Pool.ReportFailure(entry.Name)
		return nil, kerrors.Wrap(kerrors.KindRefreshFailed, "refreshing account token", err)
	}

	cred, _ := o.Store.Get(entry.Name)
	result, err := convert.Convert(req, cred.ProfileArn)
	if err != nil {
		if appErr, ok := err.(*kerrors.AppError); ok {
			return nil, appErr
		}
		return nil, kerrors.Wrap(kerrors.KindInvalidRequest, "converting request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.upstreamURL(), bytes.NewReader(result.Body))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindUpstreamFault, "building upstream request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-amz-user-agent", "kiro/"+o.Cfg.KiroVersion)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		o.Pool.ReportFailure(entry.Name)
		return nil, kerrors.Wrap(kerrors.KindUpstreamFault, "dispatching to upstream", err)
	}

	if appErr := classifyStatus(resp.StatusCode); appErr != nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			// Lazy refresh: the cached access token was rejected, so renew it
			// for the next request that picks this account.
			if _, refreshErr := o.Store.ForceRefresh(ctx, entry.Name); refreshErr != nil {
				o.log.WithError(refreshErr).WithField("account", entry.Name).Warn("refresh after 401 failed")
			}
		}
		switch appErr.Effect() {
		case kerrors.PoolEffectFailure:
			o.Pool.ReportFailure(entry.Name)
		case kerrors.PoolEffectCooldown:
			o.Pool.ReportCooldown(entry.Name)
		}
		return nil, appErr
	}

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(body)
		if gzErr != nil {
			body.Close()
			o.Pool.ReportFailure(entry.Name)
			return nil, kerrors.Wrap(kerrors.KindUpstreamFault, "opening gzip upstream body", gzErr)
		}
		body = &gzipReadCloser{Reader: gz, underlying: resp.Body}
	}

	return &dispatchResult{account: entry.Name, body: body}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	_ = g.Reader.Close()
	return g.underlying.Close()
}

// classifyStatus maps an upstream HTTP status code to the account-fault
// AppError it represents, or nil for a successful (200) response. Per
// spec.md §4.8/§4.4: 401/403/429/5xx are account faults; any other non-200
// is treated as an upstream fault without a more specific classification.
func classifyStatus(status int) *kerrors.AppError {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return kerrors.New(kerrors.KindAuthRejected, fmt.Sprintf("upstream returned %d", status))
	case status == http.StatusTooManyRequests:
		return kerrors.New(kerrors.KindRateLimited, "upstream rate limited this account")
	case status >= 500:
		return kerrors.New(kerrors.KindUpstreamFault, fmt.Sprintf("upstream returned %d", status))
	case status == http.StatusBadRequest:
		return kerrors.New(kerrors.KindInvalidRequest, "upstream rejected the request body")
	default:
		return kerrors.New(kerrors.KindUpstreamFault, fmt.Sprintf("upstream returned unexpected status %d", status))
	}
}

// retryBudget returns the configured retry budget, letting a configured
// bootstrap-retries value raise the default (supplemented feature 6).
func (o *Orchestrator) retryBudget() int {
	if o.Cfg != nil {
		if n := o.Cfg.Streaming.BootstrapRetries; n > defaultRetryBudget {
			return n
		}
	}
	return defaultRetryBudget
}

// dispatchWithRetry repeatedly dispatches until it gets a usable upstream
// body, an account is exhausted, or the retry budget is spent. No bytes
// have been sent to the client during this phase, so every attempt here is
// safe to retry per spec.md §9 ("no retry after partial output").
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, req anthropic.Request) (*dispatchResult, *kerrors.AppError) {
	budget := o.retryBudget()
	var lastErr *kerrors.AppError
	for attempt := 0; attempt <= budget; attempt++ {
		result, appErr := o.dispatch(ctx, req)
		if appErr == nil {
			return result, nil
		}
		lastErr = appErr
		if !appErr.Retryable() {
			return nil, appErr
		}
		o.log.WithError(appErr).WithField("attempt", attempt).Warn("dispatch attempt failed, retrying")
	}
	return nil, lastErr
}

// readEvents drains result.body through the Event Stream Reader, parsing
// each Frame into an UpstreamEvent and handing it to consume. Returns the
// terminal AppError, if any (a non-nil error here always means a decode
// error or an upstream exception frame, and per kerrors.Retryable() is
// never retried).
func readEvents(ctx context.Context, body io.ReadCloser, consume func(assembler.UpstreamEvent) *kerrors.AppError) *kerrors.AppError {
	defer body.Close()
	reader := eventstream.NewReader(body)
	for {
		frame, err := reader.Next(ctx)
		if err != nil {
			return kerrors.Wrap(kerrors.KindDecodeError, "reading upstream event stream", err)
		}
		if frame == nil {
			return nil
		}
		ev := assembler.ParseEvent(frame)
		if appErr := consume(ev); appErr != nil {
			return appErr
		}
	}
}

// HandleAggregate runs the non-streaming path of spec.md §4.7: dispatch
// (with retry), drain every event into an Aggregator, and return the
// completed Response.
func (o *Orchestrator) HandleAggregate(ctx context.Context, req anthropic.Request) (anthropic.Response, *kerrors.AppError) {
	result, appErr := o.dispatchWithRetry(ctx, req)
	if appErr != nil {
		return anthropic.Response{}, appErr
	}

	messageID := "msg_" + uuid.NewString()
	agg := assembler.NewAggregator(messageID, req.Model)

	decodeErr := readEvents(ctx, result.body, func(ev assembler.UpstreamEvent) *kerrors.AppError {
		return agg.Consume(ev)
	})
	if decodeErr != nil {
		o.Pool.ReportFailure(result.account)
		return anthropic.Response{}, decodeErr
	}

	o.Pool.ReportSuccess(result.account)
	return agg.Finish(), nil
}

// HandleStream runs the streaming path of spec.md §4.6: dispatch (with
// retry), then write SSE events through w as they're produced. Once
// sseW.WriteEvent has been called for message_start, no further retry is
// attempted — any subsequent error is surfaced as a terminal "error" SSE
// event and the connection is closed, per spec.md §9.
func (o *Orchestrator) HandleStream(ctx context.Context, req anthropic.Request, sseW *anthropic.SSEWriter) *kerrors.AppError {
	result, appErr := o.dispatchWithRetry(ctx, req)
	if appErr != nil {
		_ = sseW.WriteEvent(anthropic.SSEEvent{Type: "error", Data: appErr.ErrorBody()})
		return appErr
	}

	messageID := "msg_" + uuid.NewString()
	asm := assembler.New(messageID, req.Model)

	if err := sseW.WriteEvent(asm.Start()); err != nil {
		result.body.Close()
		o.Pool.ReportFailure(result.account)
		return kerrors.Wrap(kerrors.KindClientDisconnected, "writing message_start", err)
	}

	keepAliveStop := o.startKeepAlive(sseW)
	defer keepAliveStop()

	decodeErr := readEvents(ctx, result.body, func(ev assembler.UpstreamEvent) *kerrors.AppError {
		events, appErr := asm.Step(ev)
		for _, e := range events {
			if werr := sseW.WriteEvent(e); werr != nil {
				return kerrors.Wrap(kerrors.KindClientDisconnected, "writing SSE event", werr)
			}
		}
		return appErr
	})

	if decodeErr != nil {
		o.Pool.ReportFailure(result.account)
		if decodeErr.Kind != kerrors.KindClientDisconnected {
			_ = sseW.WriteEvent(anthropic.SSEEvent{Type: "error", Data: decodeErr.ErrorBody()})
		}
		return decodeErr
	}

	finalEvents, _ := asm.Finish()
	for _, e := range finalEvents {
		if err := sseW.WriteEvent(e); err != nil {
			o.Pool.ReportFailure(result.account)
			return kerrors.Wrap(kerrors.KindClientDisconnected, "writing terminal SSE events", err)
		}
	}
	_ = sseW.WriteDone()

	o.Pool.ReportSuccess(result.account)
	return nil
}

// startKeepAlive emits ": keep-alive" comment lines through sseW at the
// configured interval until the returned stop function is called, per
// supplemented feature 6. Writes share sseW's mutex with the main event
// loop, so this is safe to run concurrently. KeepAliveSeconds <= 0 disables
// it entirely.
func (o *Orchestrator) startKeepAlive(sseW *anthropic.SSEWriter) func() {
	seconds := 0
	if o.Cfg != nil {
		seconds = o.Cfg.Streaming.KeepAliveSeconds
	}
	if seconds <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(seconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sseW.WriteComment("keep-alive"); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// EstimateRequestJSON is a convenience used by admin diagnostics to echo
// back the exact bytes that would be sent upstream for a given request,
// without actually dispatching it.
func EstimateRequestJSON(req anthropic.Request) ([]byte, error) {
	return json.Marshal(req)
}
