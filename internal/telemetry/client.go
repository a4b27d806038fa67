package telemetry

import (
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
)

// Client is the interface for telemetry clients.
type Client interface {
	// Track sends an event asynchronously. It never blocks on the network.
	Track(event string, properties map[string]any)
	// Close flushes pending events.
	Close() error
}

// Properties is a type alias for event properties.
type Properties = map[string]any

// enqueuer is the subset of the PostHog client we use; tests swap it out.
type enqueuer interface {
	io.Closer
	Enqueue(msg posthog.Message) error
}

// PostHogClient sends events through the PostHog SDK's batching queue.
type PostHogClient struct {
	client     enqueuer
	distinctID string
	// base is merged into every event; per-event properties win.
	base   posthog.Properties
	mu     sync.RWMutex
	closed bool
}

// ClientConfig holds configuration for the telemetry client.
type ClientConfig struct {
	APIKey string
	// DistinctID identifies this deployment; events never carry raw owner ids.
	DistinctID string
	Version    string
	// Endpoint is an optional self-hosted PostHog endpoint.
	Endpoint string
}

// New returns a PostHog client, or a NoopClient when no API key is configured.
func New(cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return NewNoopClient(), nil
	}

	phConfig := posthog.Config{
		BatchSize: 20,
		Interval:  5 * time.Second,
		Logger:    quietPostHogLogger{},
	}
	if cfg.Endpoint != "" {
		phConfig.Endpoint = cfg.Endpoint
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, phConfig)
	if err != nil {
		return nil, err
	}
	return newPostHogClientWithEnqueuer(client, cfg.DistinctID, cfg.Version), nil
}

func newPostHogClientWithEnqueuer(enq enqueuer, distinctID, version string) *PostHogClient {
	if distinctID == "" {
		distinctID = "advisor"
	}
	base := posthog.NewProperties().
		Set("os", runtime.GOOS).
		Set("version", version).
		Set("$process_person_profile", false)
	return &PostHogClient{client: enq, distinctID: distinctID, base: base}
}

// Track enqueues an event. No-op after Close.
func (c *PostHogClient) Track(event string, properties map[string]any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	props := posthog.NewProperties()
	for k, v := range c.base {
		props.Set(k, v)
	}
	for k, v := range properties {
		props.Set(k, v)
	}
	if err := c.client.Enqueue(posthog.Capture{
		DistinctId: c.distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		slog.Debug("telemetry event dropped", "event", event, "error", err)
	}
}

// Close flushes the queue.
func (c *PostHogClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// NoopClient is a telemetry client that does nothing.
type NoopClient struct{}

// Track is a no-op.
func (c *NoopClient) Track(string, map[string]any) {}

// Close is a no-op.
func (c *NoopClient) Close() error { return nil }

// NewNoopClient returns a client that does nothing.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// quietPostHogLogger keeps transport warnings out of the service logs.
type quietPostHogLogger struct{}

func (quietPostHogLogger) Debugf(string, ...interface{}) {}
func (quietPostHogLogger) Logf(string, ...interface{})   {}
func (quietPostHogLogger) Warnf(string, ...interface{})  {}
func (quietPostHogLogger) Errorf(string, ...interface{}) {}
