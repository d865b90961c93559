package storage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mentora-platform/mentora/internal/telemetry"
)

// RegisterMetrics publishes pool and redelivery queue gauges. A failed
// queue count skips that observation.
func (db *DB) RegisterMetrics(redeliveryMaxAttempts int) error {
	meter := telemetry.Meter("mentora/storage")

	poolGauge, err := meter.Int64ObservableGauge("mentora.db.pool.connections",
		metric.WithDescription("Connections held by the Postgres pool, by state"))
	if err != nil {
		return err
	}
	queueGauge, err := meter.Int64ObservableGauge("mentora.redelivery.depth",
		metric.WithDescription("Failed sends waiting for redelivery"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(poolGauge, int64(stat.AcquiredConns()), metric.WithAttributes(stateAttr("acquired")))
		o.ObserveInt64(poolGauge, int64(stat.IdleConns()), metric.WithAttributes(stateAttr("idle")))
		o.ObserveInt64(poolGauge, int64(stat.TotalConns()), metric.WithAttributes(stateAttr("total")))
		if n, err := db.PendingRedeliveries(ctx, redeliveryMaxAttempts); err == nil {
			o.ObserveInt64(queueGauge, n)
		}
		return nil
	}, poolGauge, queueGauge)
	return err
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String("state", state)
}
