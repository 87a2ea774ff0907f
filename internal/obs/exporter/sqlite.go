package exporter

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/thinkgate-dev/thinkgate/internal/record"
)

// SQLiteExporter persists cumulative metric values into the record store,
// one row per metric name and attribute set.
type SQLiteExporter struct {
	store *record.Store
}

// NewSQLiteExporter creates a SQLiteExporter backed by the given store.
func NewSQLiteExporter(store *record.Store) *SQLiteExporter {
	return &SQLiteExporter{store: store}
}

// Temporality returns the Temporality to use for an instrument kind.
func (e *SQLiteExporter) Temporality(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// Aggregation returns the Aggregation to use for an instrument kind.
func (e *SQLiteExporter) Aggregation(kind metric.InstrumentKind) metric.Aggregation {
	return metric.DefaultAggregationSelector(kind)
}

// Export writes the current cumulative values to SQLite.
func (e *SQLiteExporter) Export(ctx context.Context, res *metricdata.ResourceMetrics) error {
	var points []record.MetricPoint
	for _, scope := range res.ScopeMetrics {
		for _, m := range scope.Metrics {
			points = append(points, flatten(m)...)
		}
	}
	return e.store.SaveMetricPoints(points)
}

// ForceFlush is a no-op; Export writes synchronously.
func (e *SQLiteExporter) ForceFlush(context.Context) error { return nil }

// Shutdown is a no-op; the store is owned by the server.
func (e *SQLiteExporter) Shutdown(context.Context) error { return nil }

func flatten(m metricdata.Metrics) []record.MetricPoint {
	var points []record.MetricPoint
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			points = append(points, record.MetricPoint{
				Name:  m.Name,
				Attrs: encodeAttrs(dp.Attributes),
				Value: float64(dp.Value),
			})
		}
	case metricdata.Sum[float64]:
		for _, dp := range data.DataPoints {
			points = append(points, record.MetricPoint{
				Name:  m.Name,
				Attrs: encodeAttrs(dp.Attributes),
				Value: dp.Value,
			})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			points = append(points, record.MetricPoint{
				Name:  m.Name,
				Attrs: encodeAttrs(dp.Attributes),
				Value: dp.Sum,
				Count: int64(dp.Count),
			})
		}
	case metricdata.Histogram[int64]:
		for _, dp := range data.DataPoints {
			points = append(points, record.MetricPoint{
				Name:  m.Name,
				Attrs: encodeAttrs(dp.Attributes),
				Value: float64(dp.Sum),
				Count: int64(dp.Count),
			})
		}
	}
	return points
}

// encodeAttrs renders an attribute set as stable JSON; map marshaling sorts
// keys, so equal sets always produce the same string.
func encodeAttrs(set attribute.Set) string {
	attrs := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(b)
}
