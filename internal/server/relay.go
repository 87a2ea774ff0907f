package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/protocol/adapter"
	"github.com/thinkgate-dev/thinkgate/internal/protocol/stream"
	"github.com/thinkgate-dev/thinkgate/internal/record"
	"github.com/thinkgate-dev/thinkgate/internal/server/middleware"
	"github.com/thinkgate-dev/thinkgate/internal/thinking"
)

// sseHeaders prepares the response for an event stream.
func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
}

// relayStream pumps upstream events to the client as canonical SSE. The
// decoder runs on its own goroutine so upstream reads and client writes make
// progress independently; the filter sits between them on the delta content.
//
// Once the 2xx upstream response is in hand the stream is committed: any
// later failure is delivered as a final error data frame, never as a status
// change.
func (s *Server) relayStream(c *gin.Context, resp *http.Response, target routeTarget, model string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		resp.Body.Close()
		respondError(c, protocol.ErrTypeInternal, "streaming unsupported by connection")
		return
	}
	sseHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	dec := stream.NewDecoder(target.format, resp, model)
	defer dec.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan protocol.StreamEvent, 8)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		for dec.Next() {
			select {
			case events <- dec.Event():
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return dec.Err()
	})

	filter := thinking.NewFilter()
	strip := target.profile.Reasoning.FilterThinkingTags

	var (
		contentBytes  int
		thinkingBytes int
		published     bool
		doneSeen      bool
		gone          bool
		streamErr     error
	)

	defer func() {
		c.Set(middleware.CtxContentBytes, contentBytes)
		c.Set(middleware.CtxThinkingBytes, thinkingBytes)
		if published {
			s.bus.PublishDone(model)
		}
	}()

	publish := func(text string) {
		if text == "" {
			return
		}
		s.bus.Publish(model, text)
		published = true
		thinkingBytes += len(text)
	}

	writeFrame := func(chunk []byte) bool {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", chunk); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	writeDone := func() bool {
		if _, err := io.WriteString(c.Writer, "data: [DONE]\n\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// emitTrailing releases any partial-tag holdback the filter still owns.
	emitTrailing := func() bool {
		clean, thought := filter.Flush()
		publish(thought)
		if clean == "" {
			return true
		}
		contentBytes += len(clean)
		return writeFrame(trailingChunk(model, clean))
	}

loop:
	for ev := range events {
		select {
		case <-c.Request.Context().Done():
			gone = true
			break loop
		default:
		}

		switch ev.Kind {
		case protocol.EventError:
			streamErr = ev.Err
			break loop

		case protocol.EventDone:
			doneSeen = true
			if strip && !emitTrailing() {
				gone = true
				break loop
			}
			if !writeDone() {
				gone = true
			}
			break loop

		case protocol.EventDelta:
			publish(ev.ReasoningContent)
			if ev.Chunk == nil {
				continue
			}
			chunk := ev.Chunk
			if strip && ev.Content != "" {
				clean, thought := filter.Feed(ev.Content)
				publish(thought)
				if clean != ev.Content {
					if chunk = rewriteContent(chunk, clean); chunk == nil {
						continue
					}
				}
				contentBytes += len(clean)
			} else {
				contentBytes += len(ev.Content)
			}
			if strip && ev.FinishReason != "" {
				// The closing chunk ends the content stream; release the
				// holdback ahead of it.
				if !emitTrailing() {
					gone = true
					break loop
				}
			}
			if !writeFrame(chunk) {
				gone = true
				break loop
			}
		}
	}

	cancel()
	readErr := g.Wait()

	switch {
	case gone || c.Request.Context().Err() != nil:
		// Client hung up. Cancel upstream, record, stay quiet.
		c.Set(middleware.CtxStatus, record.StatusCanceled)

	case streamErr != nil || (readErr != nil && !errors.Is(readErr, context.Canceled)):
		errType := protocol.ErrTypeUpstreamError
		if streamErr == nil {
			streamErr = readErr
			errType = classifyUpstreamError(readErr)
		}
		logrus.WithError(streamErr).WithField("model", model).Warn("upstream stream failed")
		c.Set(middleware.CtxStatus, record.StatusError)
		c.Set(middleware.CtxErrorType, errType)
		if strip {
			emitTrailing()
		}
		if payload, err := json.Marshal(protocol.NewErrorResponse(errType, streamErr.Error())); err == nil {
			if writeFrame(payload) {
				writeDone()
			}
		}

	case !doneSeen:
		// Upstream closed without a terminator; end the stream ourselves.
		if strip {
			emitTrailing()
		}
		writeDone()
	}
}

// rewriteContent replaces the delta content of a canonical chunk. A chunk
// whose content was stripped entirely and that carries nothing else is
// dropped.
func rewriteContent(chunk []byte, clean string) []byte {
	if clean == "" && !chunkCarriesMore(chunk) {
		return nil
	}
	out, err := sjson.SetBytes(chunk, "choices.0.delta.content", clean)
	if err != nil {
		return chunk
	}
	return out
}

// chunkCarriesMore reports whether a frame matters beyond its delta content:
// another delta field, a finish reason, or usage.
func chunkCarriesMore(chunk []byte) bool {
	for key := range gjson.GetBytes(chunk, "choices.0.delta").Map() {
		if key != "content" {
			return true
		}
	}
	if fr := gjson.GetBytes(chunk, "choices.0.finish_reason"); fr.Exists() && fr.Type != gjson.Null {
		return true
	}
	return gjson.GetBytes(chunk, "usage").Exists()
}

// trailingChunk wraps filter holdback released at end of stream into one
// canonical frame.
func trailingChunk(model, content string) []byte {
	now := time.Now().Unix()
	doc := map[string]interface{}{
		"id":      fmt.Sprintf("chatcmpl-%d", now),
		"object":  "chat.completion.chunk",
		"created": now,
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         map[string]interface{}{"content": content},
			"finish_reason": nil,
		}},
	}
	b, _ := json.Marshal(doc)
	return b
}

// relayJSON buffers the whole upstream response and applies the same
// transformations over the single content string.
func (s *Server) relayJSON(c *gin.Context, resp *http.Response, target routeTarget, model string) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.Request.Context().Err() != nil {
			c.Set(middleware.CtxStatus, record.StatusCanceled)
			return
		}
		respondError(c, classifyUpstreamError(err), "failed to read upstream response: "+err.Error())
		return
	}

	canonical, nativeThought, err := adapter.TransformResponse(target.format, body, model)
	if err != nil {
		logrus.WithError(err).WithField("model", model).Error("failed to transform upstream response")
		respondError(c, protocol.ErrTypeInternal, "failed to transform upstream response")
		return
	}

	var thinkingBytes int
	if nativeThought != "" {
		s.bus.Publish(model, nativeThought)
		thinkingBytes += len(nativeThought)
	}

	content := gjson.GetBytes(canonical, "choices.0.message.content").String()
	if target.profile.Reasoning.FilterThinkingTags {
		clean, thought := thinking.Strip(content)
		if thought != "" {
			s.bus.Publish(model, thought)
			thinkingBytes += len(thought)
			if canonical, err = sjson.SetBytes(canonical, "choices.0.message.content", clean); err != nil {
				respondError(c, protocol.ErrTypeInternal, "failed to rewrite response content")
				return
			}
			content = clean
		}
	}
	if thinkingBytes > 0 {
		s.bus.PublishDone(model)
	}

	c.Set(middleware.CtxContentBytes, len(content))
	c.Set(middleware.CtxThinkingBytes, thinkingBytes)
	c.Data(http.StatusOK, "application/json", canonical)
}
