package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/record"
)

// handleListRequests serves recent request records, newest first.
func (s *Server) handleListRequests(c *gin.Context) {
	if s.records == nil {
		respondError(c, protocol.ErrTypeBadRequest, "request records are disabled")
		return
	}

	q := record.Query{
		Profile: c.Query("profile"),
		Model:   c.Query("model"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(c, protocol.ErrTypeBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	records, total, err := s.records.List(q)
	if err != nil {
		respondError(c, protocol.ErrTypeInternal, "failed to list request records")
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": records, "total": total})
}

// handleRequestSummary aggregates request outcomes per profile, optionally
// bounded by a ?since=<RFC3339> timestamp.
func (s *Server) handleRequestSummary(c *gin.Context) {
	if s.records == nil {
		respondError(c, protocol.ErrTypeBadRequest, "request records are disabled")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, protocol.ErrTypeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	summaries, err := s.records.Summary(since)
	if err != nil {
		respondError(c, protocol.ErrTypeInternal, "failed to aggregate request records")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": summaries})
}
