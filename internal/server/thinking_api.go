package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/thinking"
)

const (
	// keepAliveInterval paces comment frames that hold idle connections open
	// through proxies.
	keepAliveInterval = 15 * time.Second
	// subscriberIdleTimeout detaches subscribers that have not received a
	// fragment for this long; SSE clients reconnect on their own.
	subscriberIdleTimeout = 30 * time.Second
)

// handleThinkingStream serves the diagnostic SSE feed of stripped thinking
// fragments.
func (s *Server) handleThinkingStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, protocol.ErrTypeInternal, "streaming unsupported by connection")
		return
	}

	sub := s.bus.Subscribe(0)
	defer sub.Close()
	s.metrics.SubscriberChange(c.Request.Context(), 1)
	defer s.metrics.SubscriberChange(context.Background(), -1)
	logrus.WithField("subscriber", sub.ID()).Debug("thinking subscriber attached")

	sseHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	idle := time.NewTimer(subscriberIdleTimeout)
	defer idle.Stop()

	writeFragment := func(f thinking.Fragment) bool {
		data, err := json.Marshal(f)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-idle.C:
			logrus.WithField("subscriber", sub.ID()).Debug("thinking subscriber idle, detaching")
			return

		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case f := <-sub.C():
			if dropped := sub.Dropped(); dropped > 0 {
				marker := thinking.Fragment{
					Type:      thinking.EventDrop,
					Count:     dropped,
					Timestamp: time.Now().UTC(),
				}
				if !writeFragment(marker) {
					return
				}
			}
			if !writeFragment(f) {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(subscriberIdleTimeout)
		}
	}
}
