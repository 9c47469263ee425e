package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeGateway records what the router sends and lets tests inject gateway
// events.
type fakeGateway struct {
	mu            sync.Mutex
	sent          []string
	presences     []string
	topics        []string
	opens         int
	openErrs      []error // consumed one per Open call
	sendErr       error
	connectOnOpen bool
	events        chan GatewayEvent
	members       map[string]string
	channels      map[string]string
	roles         map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events:        make(chan GatewayEvent, 64),
		members:       map[string]string{},
		channels:      map[string]string{},
		roles:         map[string]string{},
		connectOnOpen: true,
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Open(ctx context.Context) error {
	g.mu.Lock()
	g.opens++
	var err error
	if len(g.openErrs) > 0 {
		err, g.openErrs = g.openErrs[0], g.openErrs[1:]
	}
	connect := g.connectOnOpen
	g.mu.Unlock()

	if err == nil && connect {
		g.events <- GatewayEvent{Kind: GatewayConnected}
	}
	return err
}

func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) Events() <-chan GatewayEvent { return g.events }

func (g *fakeGateway) Send(ctx context.Context, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, text)
	return nil
}

func (g *fakeGateway) UpdatePresence(ctx context.Context, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.presences = append(g.presences, text)
	return nil
}

func (g *fakeGateway) SetTopic(ctx context.Context, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topics = append(g.topics, text)
	return nil
}

func (g *fakeGateway) MemberName(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.members[id]
	return name, ok
}

func (g *fakeGateway) ChannelName(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.channels[id]
	return name, ok
}

func (g *fakeGateway) RoleName(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.roles[id]
	return name, ok
}

func (g *fakeGateway) Sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

func (g *fakeGateway) Presences() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.presences...)
}

func (g *fakeGateway) Topics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.topics...)
}

func (g *fakeGateway) Opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

// fakeConsole stands in for the supervisor's command sink.
type fakeConsole struct {
	mu       sync.Mutex
	state    ProcessState
	commands []string
}

func (c *fakeConsole) SendCommand(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Running() {
		return &WriteError{Command: text, Err: ErrNotRunning}
	}
	c.commands = append(c.commands, text)
	return nil
}

func (c *fakeConsole) State() ProcessState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConsole) setPhase(phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ProcessState{Phase: phase}
}

func (c *fakeConsole) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// testTelemetry returns telemetry backed by a manual metric reader.
func testTelemetry(t *testing.T, roster *Roster) (*Telemetry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	tel, err := newTelemetry(sdklog.NewLoggerProvider(), sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), "test", roster)
	require.NoError(t, err)
	return tel, reader
}

// counterValue sums an Int64 counter's data points matching all attrs.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs map[string]string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
		point:
			for _, dp := range points {
				for k, v := range attrs {
					got, ok := dp.Attributes.Value(attribute.Key(k))
					if !ok || got.AsString() != v {
						continue point
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

var errBoom = errors.New("boom")

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
