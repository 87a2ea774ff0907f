package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/record"
	"github.com/thinkgate-dev/thinkgate/internal/server/middleware"
)

// httpStatusFor maps canonical error kinds onto HTTP status codes.
func httpStatusFor(errType string) int {
	switch errType {
	case protocol.ErrTypeBadRequest:
		return http.StatusBadRequest
	case protocol.ErrTypeUnauthorized:
		return http.StatusUnauthorized
	case protocol.ErrTypeNoProfileMatch:
		return http.StatusNotFound
	case protocol.ErrTypeConfigInvalid:
		return http.StatusUnprocessableEntity
	case protocol.ErrTypeUpstreamTimeout, protocol.ErrTypeUpstreamConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the OpenAI error envelope and marks the request failed
// for the recorder. Only usable before any body has been written; streaming
// paths deliver errors as a final data frame instead.
func respondError(c *gin.Context, errType, message string) {
	c.Set(middleware.CtxStatus, record.StatusError)
	c.Set(middleware.CtxErrorType, errType)
	c.JSON(httpStatusFor(errType), protocol.NewErrorResponse(errType, message))
}

// classifyUpstreamError separates upstream timeouts from connection
// failures. Both surface as 502; the type tells a caller which knob to turn.
func classifyUpstreamError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.ErrTypeUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.ErrTypeUpstreamTimeout
	}
	return protocol.ErrTypeUpstreamConnection
}
