package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	directionToChat   = "to_chat"
	directionToServer = "to_server"
)

// Telemetry emits bridge events as OTel log records and keeps the bridge's
// counters.
type Telemetry struct {
	logger     otellog.Logger
	relayed    metric.Int64Counter
	dropped    metric.Int64Counter
	restarts   metric.Int64Counter
	crashes    metric.Int64Counter
	reconnects metric.Int64Counter
	shutdown   []func(context.Context) error
}

// NewTelemetry builds OTLP-exporting providers when OTel is enabled, and
// exporter-less providers otherwise.
func NewTelemetry(ctx context.Context, cfg OTelConfig, roster *Roster) (*Telemetry, error) {
	if !cfg.Enabled {
		lp := sdklog.NewLoggerProvider()
		mp := sdkmetric.NewMeterProvider()
		t, err := newTelemetry(lp, mp, cfg.ServiceName, roster)
		if err != nil {
			return nil, err
		}
		t.shutdown = append(t.shutdown, lp.Shutdown, mp.Shutdown)
		return t, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.Interval))),
	)

	logExporter, err := otlploggrpc.New(ctx, otlploggrpc.WithInsecure())
	if err != nil {
		meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)

	t, err := newTelemetry(loggerProvider, meterProvider, cfg.ServiceName, roster)
	if err != nil {
		return nil, err
	}
	t.shutdown = append(t.shutdown, loggerProvider.Shutdown, meterProvider.Shutdown)
	return t, nil
}

func newTelemetry(lp otellog.LoggerProvider, mp metric.MeterProvider, name string, roster *Roster) (*Telemetry, error) {
	meter := mp.Meter(name)
	t := &Telemetry{logger: lp.Logger(name)}

	var err error
	if t.relayed, err = meter.Int64Counter("mcbridge.messages.relayed",
		metric.WithDescription("Messages delivered across the bridge")); err != nil {
		return nil, err
	}
	if t.dropped, err = meter.Int64Counter("mcbridge.messages.dropped",
		metric.WithDescription("Messages dropped instead of delivered")); err != nil {
		return nil, err
	}
	if t.restarts, err = meter.Int64Counter("mcbridge.process.restarts"); err != nil {
		return nil, err
	}
	if t.crashes, err = meter.Int64Counter("mcbridge.process.crashes"); err != nil {
		return nil, err
	}
	if t.reconnects, err = meter.Int64Counter("mcbridge.gateway.reconnects"); err != nil {
		return nil, err
	}
	if roster != nil {
		_, err = meter.Int64ObservableGauge("mcbridge.players.online",
			metric.WithDescription("Players currently online"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(roster.Snapshot().Len()))
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Event records a bridge event as a structured log record.
func (t *Telemetry) Event(eventType string, attrs ...otellog.KeyValue) {
	var r otellog.Record
	r.SetTimestamp(time.Now())
	r.SetSeverity(otellog.SeverityInfo)
	r.SetBody(otellog.StringValue(eventType))
	r.AddAttributes(attrs...)
	t.logger.Emit(context.Background(), r)
}

// OnServerEvent records the interesting console events; unrecognized lines
// and command echoes stay on the terminal only.
func (t *Telemetry) OnServerEvent(event ServerEvent) {
	switch event.Kind {
	case EventPlayerJoined, EventPlayerLeft:
		t.Event(string(event.Kind), otellog.String("player", event.Player))
	case EventChatMessage:
		t.Event(string(event.Kind), otellog.String("player", event.Player), otellog.String("message", event.Text))
	case EventServerReady:
		t.Event(string(event.Kind), otellog.Float64("elapsed_seconds", event.Elapsed.Seconds()))
	}
}

func (t *Telemetry) Relayed(ctx context.Context, direction string) {
	t.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (t *Telemetry) Dropped(ctx context.Context, direction, reason string) {
	t.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("reason", reason),
	))
}

func (t *Telemetry) Crashed(ctx context.Context, exit ExitInfo) {
	t.crashes.Add(ctx, 1)
	t.Event("crash", otellog.Int("exit_code", exit.Code), otellog.String("uptime", exit.Uptime.String()))
}

func (t *Telemetry) Restarted(ctx context.Context) {
	t.restarts.Add(ctx, 1)
}

func (t *Telemetry) Reconnected(ctx context.Context) {
	t.reconnects.Add(ctx, 1)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
