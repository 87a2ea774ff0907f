package server

import (
	"context"
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

// handleModels proxies the model list from the default profile's upstream,
// reshaped into the OpenAI list envelope. The override headers work here the
// same way they do on chat completions.
func (s *Server) handleModels(c *gin.Context) {
	profile, ok := s.store.DefaultProfile()
	if !ok {
		profiles := s.store.Profiles()
		if len(profiles) == 0 {
			respondError(c, protocol.ErrTypeNoProfileMatch, "no profiles configured")
			return
		}
		profile = profiles[0]
	}

	format := profile.Upstream.APIFormat
	baseURL := profile.Upstream.BaseURL
	apiKey := profile.Upstream.APIKey
	if override := c.GetHeader(headerUpstreamBaseURL); override != "" {
		if err := config.ValidateBaseURL(override); err != nil {
			respondError(c, protocol.ErrTypeBadRequest, "invalid "+headerUpstreamBaseURL+": "+err.Error())
			return
		}
		baseURL = override
	}
	if override := c.GetHeader(headerAPIFormat); override != "" {
		parsed, err := protocol.ParseFormat(override)
		if err != nil {
			respondError(c, protocol.ErrTypeBadRequest, "invalid "+headerAPIFormat+": "+err.Error())
			return
		}
		format = parsed
	}

	c.Set(middleware.CtxProfileID, profile.ID)
	c.Set(middleware.CtxProfileName, profile.Name)
	c.Set(middleware.CtxAPIFormat, string(format))

	up, err := adapter.BuildModels(format, baseURL, apiKey)
	if err != nil {
		respondError(c, protocol.ErrTypeBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.RequestTimeout)
	defer cancel()

	resp, err := s.callUpstream(ctx, http.MethodGet, up)
	if err != nil {
		if c.Request.Context().Err() != nil {
			c.Set(middleware.CtxStatus, record.StatusCanceled)
			return
		}
		errType := classifyUpstreamError(err)
		logrus.WithError(err).WithField("upstream", baseURL).Warn("model list request failed")
		respondError(c, errType, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		respondError(c, classifyUpstreamError(err), "failed to read upstream response")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.relayUpstreamErrorBody(c, resp, body)
		return
	}

	c.JSON(http.StatusOK, protocol.NewModelList(adapter.ExtractModelIDs(body)))
}

// relayUpstreamErrorBody mirrors relayUpstreamError for callers that already
// consumed the body.
func (s *Server) relayUpstreamErrorBody(c *gin.Context, resp *http.Response, body []byte) {
	c.Set(middleware.CtxStatus, record.StatusError)
	c.Set(middleware.CtxErrorType, protocol.ErrTypeUpstreamError)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// handleHealth reports liveness and the default upstream.
func (s *Server) handleHealth(c *gin.Context) {
	upstream := ""
	if profile, ok := s.store.DefaultProfile(); ok {
		upstream = profile.Upstream.BaseURL
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "upstream": upstream})
}
