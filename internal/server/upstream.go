package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/thinkgate-dev/thinkgate/internal/protocol/adapter"
)

// newUpstreamClient builds the shared client for upstream calls. No client
// timeout: the per-request context carries the deadline so long streams are
// bounded without being cut short.
func newUpstreamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// callUpstream sends one dialect request. Errors are transport-level only;
// non-2xx responses return normally so the caller can relay them verbatim.
func (s *Server) callUpstream(ctx context.Context, method string, up *adapter.Upstream) (*http.Response, error) {
	var body io.Reader
	if len(up.Body) > 0 {
		body = bytes.NewReader(up.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, up.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range up.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return s.client.Do(req)
}
