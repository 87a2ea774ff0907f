package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/record"
)

func newRecordStore(t *testing.T) *record.Store {
	t.Helper()
	store, err := record.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRequestsRecorded(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK,
		`{"id":"1","object":"chat.completion","model":"deepseek-r1","choices":[{"index":0,"message":{"role":"assistant","content":"<think>hm</think>fine"},"finish_reason":"stop"}]}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	records := newRecordStore(t)
	srv := New(store, WithRecordStore(records))
	engine := srv.GetRouter()

	w := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"deepseek-r1","messages":[{"role":"user","content":"hi"}]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(engine, http.MethodGet, "/v1/requests", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.Bytes()
	require.Equal(t, int64(1), gjson.GetBytes(body, "total").Int())
	row := gjson.GetBytes(body, "requests.0")
	assert.Equal(t, "deepseek-r1", row.Get("model").String())
	assert.Equal(t, "openai", row.Get("api_format").String())
	assert.Equal(t, record.StatusSuccess, row.Get("status").String())
	assert.Equal(t, http.StatusOK, int(row.Get("status_code").Int()))
	assert.False(t, row.Get("streamed").Bool())
	assert.NotEmpty(t, row.Get("uuid").String())
	assert.NotEmpty(t, row.Get("profile_id").String())
	assert.Equal(t, int64(4), row.Get("content_bytes").Int())
	assert.Equal(t, int64(2), row.Get("thinking_bytes").Int())
}

func TestRequestsRecordUpstreamFailure(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusInternalServerError,
		`{"error":{"message":"boom","type":"server_error"}}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	records := newRecordStore(t)
	srv := New(store, WithRecordStore(records))
	engine := srv.GetRouter()

	w := doRequest(engine, http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[]}`), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = doRequest(engine, http.MethodGet, "/v1/requests", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	row := gjson.GetBytes(w.Body.Bytes(), "requests.0")
	assert.Equal(t, record.StatusError, row.Get("status").String())
	assert.Equal(t, protocol.ErrTypeUpstreamError, row.Get("error_type").String())
	assert.Equal(t, http.StatusInternalServerError, int(row.Get("status_code").Int()))
}

func TestRequestsFilterAndLimit(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK,
		`{"id":"1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	records := newRecordStore(t)
	srv := New(store, WithRecordStore(records))
	engine := srv.GetRouter()

	for _, model := range []string{"gpt-4o", "gpt-4o", "deepseek-r1"} {
		w := doRequest(engine, http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"`+model+`","messages":[]}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("filter by model", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests?model=gpt-4o", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(2), gjson.GetBytes(w.Body.Bytes(), "total").Int())
	})

	t.Run("limit caps the page not the total", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests?limit=1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.Bytes()
		assert.Len(t, gjson.GetBytes(body, "requests").Array(), 1)
		assert.Equal(t, int64(3), gjson.GetBytes(body, "total").Int())
	})

	t.Run("bad limit", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests?limit=zero", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequestsDisabledWithoutStore(t *testing.T) {
	store := newTestStore(t, "https://api.example.com/v1", protocol.FormatOpenAI)
	srv := New(store)

	w := doRequest(srv.GetRouter(), http.MethodGet, "/v1/requests", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, protocol.ErrTypeBadRequest, errType(t, w))

	w = doRequest(srv.GetRouter(), http.MethodGet, "/v1/requests/summary", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestSummary(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK,
		`{"id":"1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	records := newRecordStore(t)
	srv := New(store, WithRecordStore(records))
	engine := srv.GetRouter()

	for i := 0; i < 3; i++ {
		w := doRequest(engine, http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"gpt-4o","messages":[]}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("aggregates per profile", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests/summary", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		rows := gjson.GetBytes(w.Body.Bytes(), "profiles").Array()
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Get("request_count").Int())
		assert.Equal(t, int64(0), rows[0].Get("error_count").Int())
		assert.NotEmpty(t, rows[0].Get("profile_id").String())
	})

	t.Run("since bounds the window", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests/summary?since=2100-01-01T00:00:00Z", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, gjson.GetBytes(w.Body.Bytes(), "profiles").Array())
	})

	t.Run("bad since", func(t *testing.T) {
		w := doRequest(engine, http.MethodGet, "/v1/requests/summary?since=yesterday", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
