package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/thinkgate-dev/thinkgate/internal/obs/exporter"
	"github.com/thinkgate-dev/thinkgate/internal/record"
)

// MeterConfig controls the metrics export pipeline.
type MeterConfig struct {
	Enabled        bool
	ExportInterval time.Duration
	ExportTimeout  time.Duration
	SQLiteEnabled  bool
	StdoutEnabled  bool
}

// DefaultMeterConfig returns the settings used by the server unless
// overridden.
func DefaultMeterConfig() *MeterConfig {
	return &MeterConfig{
		Enabled:        true,
		ExportInterval: 10 * time.Second,
		ExportTimeout:  30 * time.Second,
		SQLiteEnabled:  true,
	}
}

// Meter owns the meter provider and the proxy instruments. The zero value is
// a disabled pipeline.
type Meter struct {
	provider *sdkmetric.MeterProvider
	metrics  *ProxyMetrics
}

// NewMeter builds the export pipeline and registers it as the global meter
// provider.
func NewMeter(ctx context.Context, cfg *MeterConfig, store *record.Store) (*Meter, error) {
	if cfg == nil || !cfg.Enabled {
		return &Meter{}, nil
	}

	var exporters []sdkmetric.Exporter
	if cfg.SQLiteEnabled && store != nil {
		exporters = append(exporters, exporter.NewSQLiteExporter(store))
	}
	if cfg.StdoutEnabled {
		stdout, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporters = append(exporters, stdout)
	}
	if len(exporters) == 0 {
		return &Meter{}, nil
	}

	reader := sdkmetric.NewPeriodicReader(
		exporter.NewMultiExporter(exporters...),
		sdkmetric.WithInterval(cfg.ExportInterval),
		sdkmetric.WithTimeout(cfg.ExportTimeout),
	)
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	metrics, err := NewProxyMetrics(provider.Meter("thinkgate"))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create proxy metrics: %w", err)
	}

	return &Meter{provider: provider, metrics: metrics}, nil
}

// Metrics returns the proxy instruments; nil when the pipeline is disabled.
func (m *Meter) Metrics() *ProxyMetrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// Shutdown flushes pending exports and stops the pipeline.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
