package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DefaultCaptureFilter keeps only failing requests.
const DefaultCaptureFilter = "StatusCode >= 400"

// captureBodyLimit caps how much response body is buffered per request so
// long SSE relays do not pin memory.
const captureBodyLimit = 64 * 1024

// captureKeepFiles is how many rotated capture files are retained.
const captureKeepFiles = 5

// FilterContext is the expression environment one capture decision sees.
type FilterContext struct {
	StatusCode int    `expr:"StatusCode"`
	Method     string `expr:"Method"`
	Path       string `expr:"Path"`
	Query      string `expr:"Query"`
}

// Capture writes request/response snapshots of selected requests to a
// JSON-lines file. Selection is a compiled expr program over FilterContext;
// the middleware starts disabled and costs one atomic check until enabled.
type Capture struct {
	logPath string
	maxSize int64

	mu      sync.RWMutex
	file    *os.File
	enabled bool
	program *vm.Program
}

// NewCapture builds a disabled capture targeting logPath. maxSizeMB bounds
// the file size before rotation.
func NewCapture(logPath string, maxSizeMB int) *Capture {
	cp := &Capture{
		logPath: logPath,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
	}

	program, err := expr.Compile(DefaultCaptureFilter, expr.Env(FilterContext{}))
	if err != nil {
		logrus.WithError(err).Error("failed to compile default capture filter")
	} else {
		cp.program = program
	}
	return cp
}

// SetFilter recompiles the selection expression. An empty expression restores
// the default.
func (cp *Capture) SetFilter(expression string) error {
	if expression == "" {
		expression = DefaultCaptureFilter
	}
	program, err := expr.Compile(expression, expr.Env(FilterContext{}))
	if err != nil {
		return fmt.Errorf("failed to compile capture filter: %w", err)
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.program = program
	return nil
}

// Enable opens the capture file and starts recording.
func (cp *Capture) Enable() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cp.logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}
	if err := cp.openFile(); err != nil {
		return err
	}
	cp.enabled = true
	return nil
}

// Disable stops recording and closes the capture file.
func (cp *Capture) Disable() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.enabled = false
	if cp.file != nil {
		_ = cp.file.Close()
		cp.file = nil
	}
}

// IsEnabled reports whether snapshots are being recorded.
func (cp *Capture) IsEnabled() bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.enabled
}

// Middleware returns the gin handler wrapping selected requests.
func (cp *Capture) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cp.IsEnabled() || skipCapture(c.Request.URL.Path) {
			c.Next()
			return
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		start := time.Now()
		c.Next()

		cp.writeEntry(captureEntry{
			Timestamp:    start,
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			Query:        c.Request.URL.RawQuery,
			StatusCode:   c.Writer.Status(),
			Duration:     time.Since(start),
			ClientIP:     c.ClientIP(),
			RequestBody:  requestBody,
			ResponseBody: w.body.Bytes(),
		})
	}
}

// skipCapture excludes endpoints whose bodies are either uninteresting or
// unbounded.
func skipCapture(path string) bool {
	return path == "/health" || path == "/v1/thinking/stream"
}

type captureEntry struct {
	Timestamp    time.Time
	Method       string
	Path         string
	Query        string
	StatusCode   int
	Duration     time.Duration
	ClientIP     string
	RequestBody  []byte
	ResponseBody []byte
}

func (cp *Capture) writeEntry(entry captureEntry) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.enabled || cp.file == nil {
		return
	}

	if cp.program != nil {
		out, err := expr.Run(cp.program, FilterContext{
			StatusCode: entry.StatusCode,
			Method:     entry.Method,
			Path:       entry.Path,
			Query:      entry.Query,
		})
		if err != nil {
			logrus.WithError(err).Error("failed to evaluate capture filter")
			return
		}
		if keep, ok := out.(bool); ok && !keep {
			return
		}
	}

	line := map[string]interface{}{
		"timestamp":   entry.Timestamp.Format(time.RFC3339Nano),
		"method":      entry.Method,
		"path":        entry.Path,
		"status_code": entry.StatusCode,
		"duration_ms": entry.Duration.Milliseconds(),
		"client_ip":   entry.ClientIP,
	}
	if entry.Query != "" {
		line["query"] = entry.Query
	}
	if len(entry.RequestBody) > 0 {
		line["request_body"] = jsonOrString(entry.RequestBody)
	}
	if len(entry.ResponseBody) > 0 {
		line["response_body"] = jsonOrString(entry.ResponseBody)
	}

	data, err := json.Marshal(line)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal capture entry")
		return
	}

	if stat, err := cp.file.Stat(); err == nil && cp.maxSize > 0 && stat.Size() >= cp.maxSize {
		if err := cp.rotate(); err != nil {
			logrus.WithError(err).Error("failed to rotate capture file")
		}
		if err := cp.openFile(); err != nil {
			logrus.WithError(err).Error("failed to reopen capture file")
			return
		}
	}

	if _, err := cp.file.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Error("failed to write capture entry")
	}
}

func jsonOrString(body []byte) interface{} {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func (cp *Capture) openFile() error {
	if cp.file != nil {
		_ = cp.file.Close()
	}
	file, err := os.OpenFile(cp.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	cp.file = file
	return nil
}

// rotate renames the current file with a timestamp suffix and prunes old
// rotations beyond captureKeepFiles.
func (cp *Capture) rotate() error {
	if cp.file != nil {
		_ = cp.file.Close()
		cp.file = nil
	}
	rotated := fmt.Sprintf("%s.%s", cp.logPath, time.Now().Format("20060102-150405"))
	if err := os.Rename(cp.logPath, rotated); err != nil {
		return err
	}

	matches, err := filepath.Glob(cp.logPath + ".*")
	if err != nil || len(matches) <= captureKeepFiles {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-captureKeepFiles] {
		_ = os.Remove(old)
	}
	return nil
}

// responseBodyWriter tees response writes into a capped buffer while passing
// them through to the client.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	if w.body.Len() < captureBodyLimit {
		n := captureBodyLimit - w.body.Len()
		if n > len(b) {
			n = len(b)
		}
		w.body.Write(b[:n])
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}
