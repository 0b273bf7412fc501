package main

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "codeflow"

// Metrics holds the control loop instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// Ticks counts completed control loop ticks.
	Ticks metric.Int64Counter

	// DeviceErrors counts failed volume device calls. Attribute "op" is
	// "get" or "set".
	DeviceErrors metric.Int64Counter

	// Transitions counts session state changes by "state" and "reason".
	Transitions metric.Int64Counter

	Speed  metric.Float64Gauge
	Volume metric.Int64Gauge

	// TickDuration is the wall time of one tick including the device call.
	TickDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var (
		out  Metrics
		err  error
		errs []error
	)

	out.Ticks, err = m.Int64Counter("codeflow.ticks",
		metric.WithDescription("Control loop ticks."),
	)
	errs = append(errs, err)

	out.DeviceErrors, err = m.Int64Counter("codeflow.device.errors",
		metric.WithDescription("Failed volume device calls."),
	)
	errs = append(errs, err)

	out.Transitions, err = m.Int64Counter("codeflow.session.transitions",
		metric.WithDescription("Session state transitions."),
	)
	errs = append(errs, err)

	out.Speed, err = m.Float64Gauge("codeflow.speed",
		metric.WithDescription("Smoothed typing speed in edits per second."),
	)
	errs = append(errs, err)

	out.Volume, err = m.Int64Gauge("codeflow.volume",
		metric.WithDescription("Last output volume written to the device."),
		metric.WithUnit("%"),
	)
	errs = append(errs, err)

	out.TickDuration, err = m.Float64Histogram("codeflow.tick.duration",
		metric.WithDescription("Duration of one control loop tick."),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &out, nil
}

// noopMetrics returns instruments that record nothing.
func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) recordTick(ctx context.Context, speed float64, volume int, took time.Duration) {
	m.Ticks.Add(ctx, 1)
	m.Speed.Record(ctx, speed)
	m.Volume.Record(ctx, int64(volume))
	m.TickDuration.Record(ctx, took.Seconds())
}

func (m *Metrics) recordDeviceError(ctx context.Context, op string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) recordTransition(ctx context.Context, state SessionState, reason transitionReason) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state.String()),
		attribute.String("reason", string(reason)),
	))
}

// initMetricsProvider registers a meter provider backed by the Prometheus
// exporter as the global provider. The returned function flushes and
// shuts it down.
func initMetricsProvider(version string) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(appName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}
