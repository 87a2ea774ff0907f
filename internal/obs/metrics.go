package obs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestMeasurement describes one finished proxy request.
type RequestMeasurement struct {
	Profile       string
	APIFormat     string
	Model         string
	Status        string
	ErrorType     string
	Streamed      bool
	LatencyMs     int
	ThinkingBytes int
}

// ProxyMetrics holds the proxy's OpenTelemetry instruments. A nil receiver
// is valid everywhere so disabled metrics cost a nil check and nothing else.
type ProxyMetrics struct {
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	thinkingBytes  metric.Int64Counter
	busSubscribers metric.Int64UpDownCounter
}

// NewProxyMetrics registers the proxy instruments on the given meter.
func NewProxyMetrics(meter metric.Meter) (*ProxyMetrics, error) {
	pm := &ProxyMetrics{}

	var err error
	pm.requests, err = meter.Int64Counter(
		"proxy.requests",
		metric.WithDescription("Number of proxied chat requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	pm.duration, err = meter.Float64Histogram(
		"proxy.request.duration",
		metric.WithDescription("Proxied request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pm.thinkingBytes, err = meter.Int64Counter(
		"proxy.thinking.bytes",
		metric.WithDescription("Bytes of thinking text stripped from responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	pm.busSubscribers, err = meter.Int64UpDownCounter(
		"proxy.bus.subscribers",
		metric.WithDescription("Currently connected thinking stream subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordRequest records the measurements for one finished request.
func (pm *ProxyMetrics) RecordRequest(ctx context.Context, rm RequestMeasurement) {
	if pm == nil {
		return
	}

	attrs := []attribute.KeyValue{
		AttrProfile.String(rm.Profile),
		AttrAPIFormat.String(rm.APIFormat),
		AttrModel.String(rm.Model),
		AttrStatus.String(rm.Status),
		AttrStreamed.Bool(rm.Streamed),
	}
	if rm.ErrorType != "" {
		attrs = append(attrs, AttrErrorType.String(rm.ErrorType))
	}
	opt := metric.WithAttributes(attrs...)

	pm.requests.Add(ctx, 1, opt)
	if rm.LatencyMs > 0 {
		pm.duration.Record(ctx, float64(rm.LatencyMs), opt)
	}
	if rm.ThinkingBytes > 0 {
		pm.thinkingBytes.Add(ctx, int64(rm.ThinkingBytes), opt)
	}
}

// SubscriberChange moves the thinking bus subscriber gauge by delta.
func (pm *ProxyMetrics) SubscriberChange(ctx context.Context, delta int) {
	if pm == nil {
		return
	}
	pm.busSubscribers.Add(ctx, int64(delta))
}
