package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/obs"
	"github.com/thinkgate-dev/thinkgate/internal/record"
)

// Context keys handlers fill in for the recorder.
const (
	CtxProfileID     = "profile_id"
	CtxProfileName   = "profile_name"
	CtxModel         = "model"
	CtxAPIFormat     = "api_format"
	CtxStreamed      = "streamed"
	CtxStatus        = "status"
	CtxErrorType     = "error_type"
	CtxContentBytes  = "content_bytes"
	CtxThinkingBytes = "thinking_bytes"
)

// Recorder persists one RequestRecord per proxied request and feeds the
// proxy meters. Handlers report routing facts through the gin context keys
// above; everything else comes off the request itself.
type Recorder struct {
	store   *record.Store
	metrics *obs.ProxyMetrics
}

// NewRecorder builds a recorder. Either argument may be nil, which disables
// that half.
func NewRecorder(store *record.Store, metrics *obs.ProxyMetrics) *Recorder {
	return &Recorder{store: store, metrics: metrics}
}

// Middleware returns the gin handler that records proxied requests.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !shouldRecord(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.GetString(CtxStatus)
		if status == "" {
			status = record.StatusSuccess
			if c.Writer.Status() >= http.StatusBadRequest {
				status = record.StatusError
			}
		}

		rec := &record.RequestRecord{
			ProfileID:     c.GetString(CtxProfileID),
			ProfileName:   c.GetString(CtxProfileName),
			Model:         c.GetString(CtxModel),
			APIFormat:     c.GetString(CtxAPIFormat),
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			ClientIP:      c.ClientIP(),
			Streamed:      c.GetBool(CtxStreamed),
			Status:        status,
			ErrorType:     c.GetString(CtxErrorType),
			HTTPStatus:    c.Writer.Status(),
			LatencyMs:     int(latency.Milliseconds()),
			ContentBytes:  c.GetInt(CtxContentBytes),
			ThinkingBytes: c.GetInt(CtxThinkingBytes),
		}

		if r.store != nil {
			if err := r.store.Record(rec); err != nil {
				logrus.WithError(err).Warn("failed to persist request record")
			}
		}
		r.metrics.RecordRequest(c.Request.Context(), obs.RequestMeasurement{
			Profile:       rec.ProfileID,
			APIFormat:     rec.APIFormat,
			Model:         rec.Model,
			Status:        rec.Status,
			ErrorType:     rec.ErrorType,
			Streamed:      rec.Streamed,
			LatencyMs:     rec.LatencyMs,
			ThinkingBytes: rec.ThinkingBytes,
		})

		logrus.WithFields(logrus.Fields{
			"model":    rec.Model,
			"profile":  rec.ProfileName,
			"format":   rec.APIFormat,
			"status":   rec.Status,
			"duration": latency.Round(time.Millisecond).String(),
		}).Debug("request completed")
	}
}

// shouldRecord limits recording to proxied traffic: chat completions and the
// model list. Config and diagnostic endpoints stay out of the database.
func shouldRecord(method, path string) bool {
	if method == http.MethodPost && strings.HasSuffix(path, "/chat/completions") {
		return true
	}
	return method == http.MethodGet && path == "/v1/models"
}
