package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/protocol/adapter"
	"github.com/thinkgate-dev/thinkgate/internal/record"
	"github.com/thinkgate-dev/thinkgate/internal/server/middleware"
)

// Per-request override headers. Both are validated exactly like their config
// API counterparts.
const (
	headerUpstreamBaseURL = "X-Upstream-Base-URL"
	headerAPIFormat       = "X-API-Format"
)

// routeTarget is the upstream resolution for one request: the matched
// profile snapshot with any header overrides applied.
type routeTarget struct {
	profile *config.Profile
	format  protocol.Format
	baseURL string
	apiKey  string
}

// handleChatCompletions relays one canonical chat completion request to its
// resolved upstream, stripping thinking from the way back.
func (s *Server) handleChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "failed to read request body")
		return
	}

	var req protocol.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Model == "" {
		respondError(c, protocol.ErrTypeBadRequest, "model is required")
		return
	}
	c.Set(middleware.CtxModel, req.Model)
	c.Set(middleware.CtxStreamed, req.Stream)

	target, ok := s.resolveTarget(c, req.Model)
	if !ok {
		return
	}

	params := config.EnvDefaults().Merge(target.profile.LLMParams).Merge(req.LLMParams)
	if err := params.Validate(); err != nil {
		respondError(c, protocol.ErrTypeBadRequest, err.Error())
		return
	}

	body = protocol.PruneUndefined(body)
	if body, err = params.ApplyToBody(body); err != nil {
		respondError(c, protocol.ErrTypeInternal, "failed to apply sampling parameters")
		return
	}

	up, err := adapter.Build(target.format, adapter.BuildInput{
		Canonical: &req,
		RawBody:   body,
		Params:    params,
		Reasoning: target.profile.Reasoning,
		BaseURL:   target.baseURL,
		APIKey:    target.apiKey,
		Stream:    req.Stream,
	})
	if err != nil {
		respondError(c, protocol.ErrTypeBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.RequestTimeout)
	defer cancel()

	resp, err := s.callUpstream(ctx, http.MethodPost, up)
	if err != nil {
		if c.Request.Context().Err() != nil {
			// Client hung up before the upstream answered. Nothing to write.
			c.Set(middleware.CtxStatus, record.StatusCanceled)
			return
		}
		errType := classifyUpstreamError(err)
		logrus.WithError(err).WithFields(logrus.Fields{
			"model":    req.Model,
			"upstream": target.baseURL,
		}).Warn("upstream request failed")
		respondError(c, errType, "upstream request failed: "+err.Error())
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.relayUpstreamError(c, resp)
		return
	}

	if req.Stream {
		s.relayStream(c, resp, target, req.Model)
		return
	}
	s.relayJSON(c, resp, target, req.Model)
}

// resolveTarget matches the model against the profile store and applies the
// override headers. On failure it writes the error response itself.
func (s *Server) resolveTarget(c *gin.Context, model string) (routeTarget, bool) {
	profile, err := s.store.Resolve(model)
	if err != nil {
		respondError(c, protocol.ErrTypeNoProfileMatch,
			fmt.Sprintf("no profile matches model %q and no default profile is set", model))
		return routeTarget{}, false
	}

	target := routeTarget{
		profile: profile,
		format:  profile.Upstream.APIFormat,
		baseURL: profile.Upstream.BaseURL,
		apiKey:  profile.Upstream.APIKey,
	}

	if override := c.GetHeader(headerUpstreamBaseURL); override != "" {
		if err := config.ValidateBaseURL(override); err != nil {
			respondError(c, protocol.ErrTypeBadRequest, fmt.Sprintf("invalid %s: %v", headerUpstreamBaseURL, err))
			return routeTarget{}, false
		}
		target.baseURL = override
	}
	if override := c.GetHeader(headerAPIFormat); override != "" {
		format, err := protocol.ParseFormat(override)
		if err != nil {
			respondError(c, protocol.ErrTypeBadRequest, fmt.Sprintf("invalid %s: %v", headerAPIFormat, err))
			return routeTarget{}, false
		}
		target.format = format
	}

	c.Set(middleware.CtxProfileID, profile.ID)
	c.Set(middleware.CtxProfileName, profile.Name)
	c.Set(middleware.CtxAPIFormat, string(target.format))
	return target, true
}

// relayUpstreamError surfaces a non-2xx upstream response verbatim: same
// status, same body, no retry.
func (s *Server) relayUpstreamError(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	c.Set(middleware.CtxStatus, record.StatusError)
	c.Set(middleware.CtxErrorType, protocol.ErrTypeUpstreamError)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
