package main

import (
	"context"
	"log/slog"
	"sort"
	"time"

	goGate "github.com/MrEthical07/goGate"
	otelexport "github.com/MrEthical07/goGate/metrics/export/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/MrEthical07/goGate"

// meterReader collects the engine counters through an OTel meter provider.
type meterReader struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
	exporter *otelexport.OTelExporter
}

func newMeterReader(engine *goGate.Engine) (*meterReader, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := otelexport.NewOTelExporter(provider.Meter(meterName), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &meterReader{reader: reader, provider: provider, exporter: exp}, nil
}

// collect returns every non-zero int64 data point keyed by instrument name.
func (m *meterReader) collect(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			var v int64
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					v += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					v += dp.Value
				}
			}
			if v != 0 {
				out[md.Name] = v
			}
		}
	}
	return out, nil
}

func (m *meterReader) Close() error {
	_ = m.exporter.Close()
	return m.provider.Shutdown(context.Background())
}

// logMetrics writes the collected counters to logger every interval.
func logMetrics(ctx context.Context, m *meterReader, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 || m == nil {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			values, err := m.collect(ctx)
			if err != nil {
				logger.Warn("metrics collection failed", "error", err)
				continue
			}
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)
			attrs := make([]any, 0, 2*len(names))
			for _, name := range names {
				attrs = append(attrs, name, values[name])
			}
			logger.Info("metrics", attrs...)
		}
	}
}
