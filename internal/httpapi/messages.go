package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
	"github.com/sdxdlgz/kiroproxy/internal/tokenestimate"
	"github.com/sdxdlgz/kiroproxy/internal/util"
)

// logRedactedBody writes body to the debug log with sensitive fields
// redacted, skipping the marshal/redact work entirely unless debug logging
// is actually enabled.
func logRedactedBody(label string, body []byte) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	log.WithField("component", "httpapi").Debugf("%s: %s", label, util.RedactSensitiveJSON(body))
}

// handleModels serves the static model list advertised by GET /v1/models.
func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": []gin.H{
			{"id": anthropic.ModelOpus, "type": "model"},
			{"id": anthropic.ModelSonnet, "type": "model"},
			{"id": anthropic.ModelHaiku, "type": "model"},
		},
	})
}

// handleMessages implements POST /v1/messages, dispatching to the streaming
// or aggregate orchestrator path based on the request's "stream" field, per
// spec.md §6.
func (s *Server) handleMessages(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, kerrors.New(kerrors.KindInvalidRequest, "reading request body").ErrorBody())
		return
	}
	body = util.NormalizeClaudeToolResults(body)
	logRedactedBody("request body", body)

	var req anthropic.Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, kerrors.New(kerrors.KindInvalidRequest, "invalid JSON body").ErrorBody())
		return
	}

	if req.Stream {
		s.handleMessagesStream(c, req)
		return
	}
	s.handleMessagesAggregate(c, req)
}

func (s *Server) handleMessagesAggregate(c *gin.Context, req anthropic.Request) {
	resp, appErr := s.orch.HandleAggregate(c.Request.Context(), req)
	if appErr != nil {
		c.JSON(appErr.HTTPStatus(), appErr.ErrorBody())
		return
	}
	if raw, err := json.Marshal(resp); err == nil {
		logRedactedBody("response body", raw)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMessagesStream(c *gin.Context, req anthropic.Request) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, kerrors.New(kerrors.KindUpstreamFault, "streaming not supported").ErrorBody())
		return
	}
	c.Status(http.StatusOK)
	flusher.Flush()

	w := bufio.NewWriter(c.Writer)
	sseW := anthropic.NewSSEWriter(w)

	// HandleStream owns emitting the terminal "error" SSE event on any
	// failure path (pre-dispatch or mid-stream); it's already on the wire
	// by the time this returns.
	_ = s.orch.HandleStream(c.Request.Context(), req, sseW)
}

// handleCountTokens implements POST /v1/messages/count_tokens.
func (s *Server) handleCountTokens(c *gin.Context) {
	var req anthropic.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, kerrors.New(kerrors.KindInvalidRequest, "invalid JSON body").ErrorBody())
		return
	}

	if s.est == nil {
		n, err := tokenestimate.EstimateRequest(req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, kerrors.Wrap(kerrors.KindInvalidRequest, "counting tokens", err).ErrorBody())
			return
		}
		c.JSON(http.StatusOK, anthropic.CountTokensResponse{InputTokens: n})
		return
	}

	resp, err := s.est.Count(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, kerrors.Wrap(kerrors.KindInvalidRequest, "counting tokens", err).ErrorBody())
		return
	}
	c.JSON(http.StatusOK, resp)
}
