// Package exporter provides the metric exporters behind the periodic
// reader.
package exporter

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MultiExporter fans one export out to several exporters. A failing exporter
// is logged and skipped so the others still run.
type MultiExporter struct {
	exporters []metric.Exporter
	mu        sync.Mutex
}

// NewMultiExporter creates a MultiExporter over the provided exporters.
func NewMultiExporter(exporters ...metric.Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

// Temporality returns the Temporality to use for an instrument kind.
func (m *MultiExporter) Temporality(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// Aggregation returns the Aggregation to use for an instrument kind.
func (m *MultiExporter) Aggregation(kind metric.InstrumentKind) metric.Aggregation {
	return metric.DefaultAggregationSelector(kind)
}

// Export forwards the resource metrics to every registered exporter.
func (m *MultiExporter) Export(ctx context.Context, res *metricdata.ResourceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, e := range m.exporters {
		if err := e.Export(ctx, res); err != nil {
			logrus.WithError(err).Warn("metric exporter failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ForceFlush flushes every exporter.
func (m *MultiExporter) ForceFlush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.exporters {
		_ = e.ForceFlush(ctx)
	}
	return nil
}

// Shutdown shuts down every exporter.
func (m *MultiExporter) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.exporters {
		_ = e.Shutdown(ctx)
	}
	return nil
}
