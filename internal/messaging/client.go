package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MetaTopic is the well-known channel carrying the device
// self-description, published once per successful connection.
const MetaTopic = "meta"

// ErrNotConnected reports a publish attempted without a live bus
// connection. Publishes are best-effort; callers usually log this at
// debug and move on.
var ErrNotConnected = errors.New("messaging: not connected")

// State is the bus connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageHandler is called for each inbound message on a subscribed
// topic. Handlers run on the transport's dispatch goroutine and must
// not block.
type MessageHandler func(topic string, payload []byte)

// Backoff controls connect retry timing.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the number of backed-off attempts before the
	// client reports a degraded status (default: 10).
	MaxRetries int

	// PollInterval is the fixed probe interval once degraded
	// (default: 60s).
	PollInterval time.Duration
}

// DefaultBackoff returns the standard schedule: 2s, 4s, 8s, 16s, 32s,
// 60s (capped), degraded after 10 attempts, then 60-second polling.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
	}
}

// Config configures a Client.
type Config struct {
	// Endpoint is the initial bus address, host[:port]. Port defaults
	// to 1883.
	Endpoint string

	// ClientID is the MQTT client identifier.
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// Describe returns the self-description document published to the
	// meta topic on every (re-)connect. Optional.
	Describe func() any

	// Backoff controls retry timing. Zero-value fields get defaults.
	Backoff Backoff

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger

	// Metrics receives connection and publish counters. Optional.
	Metrics *Metrics
}

// Status is a point-in-time snapshot of the connection, suitable for
// JSON serialization in health endpoints.
type Status struct {
	Endpoint    string    `json:"endpoint"`
	State       string    `json:"state"`
	Degraded    bool      `json:"degraded"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Client supervises the bus connection.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	dial    dialFunc

	state    atomic.Int32
	degraded atomic.Bool

	mu          sync.Mutex
	endpoint    string
	conn        broker
	handlers    map[string]MessageHandler
	lastErr     error
	lastAttempt time.Time
}

// New creates a Client. The meta topic gets an inert handler that only
// logs inbound messages; it exists to demonstrate the round trip, not
// to act on it. Call [Client.Run] to start the supervisor.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defaults := DefaultBackoff()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = defaults.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.Multiplier <= 0 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}
	if cfg.Backoff.MaxRetries <= 0 {
		cfg.Backoff.MaxRetries = defaults.MaxRetries
	}
	if cfg.Backoff.PollInterval <= 0 {
		cfg.Backoff.PollInterval = defaults.PollInterval
	}

	c := &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		dial:     pahoDial,
		endpoint: cfg.Endpoint,
		handlers: make(map[string]MessageHandler),
	}
	c.handlers[MetaTopic] = func(topic string, payload []byte) {
		c.logger.Info("meta message received",
			"topic", topic,
			"payload_size", len(payload),
		)
	}
	return c
}

// Handle registers a handler for an inbound topic. Must be called
// before [Client.Run]; the subscription is (re-)established on every
// connection.
func (c *Client) Handle(topic string, h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
}

// Endpoint returns the current target endpoint.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Reconfigure updates the target endpoint for future connection
// attempts. It deliberately does not drop an established connection:
// the new address takes effect on the next reconnect.
func (c *Client) Reconfigure(endpoint string) {
	c.mu.Lock()
	old := c.endpoint
	c.endpoint = endpoint
	c.mu.Unlock()
	if old != endpoint {
		c.logger.Info("bus endpoint reconfigured",
			"old", old,
			"new", endpoint,
			"note", "takes effect on next reconnect",
		)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Degraded reports whether the client has exhausted its startup retry
// budget and fallen back to slow polling.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

// StatusSnapshot returns the current connection status.
func (c *Client) StatusSnapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Endpoint:    c.endpoint,
		State:       c.State().String(),
		Degraded:    c.degraded.Load(),
		LastAttempt: c.lastAttempt,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Publish sends payload to topic, best-effort. Without a live
// connection the message is dropped, counted, and reported as
// [ErrNotConnected].
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || c.State() != Connected {
		c.metrics.droppedInc()
		c.logger.Debug("publish dropped, not connected", "topic", topic)
		return ErrNotConnected
	}

	if err := conn.Publish(ctx, topic, payload); err != nil {
		c.metrics.droppedInc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.metrics.publishedInc()
	return nil
}

// Run is the connection supervisor. It blocks until ctx is cancelled,
// dialing the current endpoint with backoff, announcing on connect,
// and going back around when the transport drops.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(Disconnected)

	for {
		conn := c.connect(ctx)
		if conn == nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := conn.Close(closeCtx); err != nil {
				c.logger.Debug("bus disconnect failed", "error", err)
			}
			cancel()
			c.clearConn()
			return ctx.Err()
		case <-conn.Done():
			c.clearConn()
			c.setState(Disconnected)
			c.logger.Warn("bus connection dropped", "endpoint", conn.Endpoint())
		}
	}
}

// connect dials until it succeeds or ctx is cancelled (returning nil).
// Phase 1 backs off exponentially for the configured retry budget;
// after that the client is marked degraded and probes at the fixed
// poll interval.
func (c *Client) connect(ctx context.Context) broker {
	cfg := c.cfg.Backoff
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		endpoint := c.Endpoint()
		c.setState(Connecting)
		c.metrics.attemptsInc()

		conn, err := c.dial(ctx, dialParams{
			endpoint: endpoint,
			clientID: c.cfg.ClientID,
			username: c.cfg.Username,
			password: c.cfg.Password,
			logger:   c.logger,
		})
		c.recordAttempt(err)

		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.setState(Connected)
			c.degraded.Store(false)
			c.logger.Info("connected to bus",
				"endpoint", endpoint,
				"attempt", attempt,
			)
			c.announce(ctx, conn)
			return conn
		}

		c.setState(Disconnected)
		c.metrics.failuresInc()

		wait := delay
		switch {
		case c.degraded.Load():
			wait = cfg.PollInterval
			c.logger.Debug("bus still unreachable",
				"endpoint", endpoint,
				"error", err,
			)
		case attempt >= cfg.MaxRetries:
			c.degraded.Store(true)
			wait = cfg.PollInterval
			c.logger.Warn("bus unreachable, entering degraded polling",
				"endpoint", endpoint,
				"attempts", attempt,
				"poll_interval", cfg.PollInterval.String(),
				"error", err,
			)
		default:
			c.logger.Debug("bus connect failed, retrying",
				"endpoint", endpoint,
				"attempt", attempt,
				"next_delay", delay.String(),
				"error", err,
			)
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// announce performs the once-per-connection side effects: publish the
// self-description to the meta topic, then establish all registered
// subscriptions. Failures are logged, not escalated; the connection
// itself is up.
func (c *Client) announce(ctx context.Context, conn broker) {
	if c.cfg.Describe != nil {
		payload, err := json.Marshal(c.cfg.Describe())
		if err != nil {
			c.logger.Error("marshal self-description", "error", err)
		} else if err := conn.Publish(ctx, MetaTopic, payload); err != nil {
			c.logger.Warn("meta publish failed", "error", err)
		} else {
			c.metrics.publishedInc()
			c.logger.Debug("self-description published", "topic", MetaTopic)
		}
	}

	c.mu.Lock()
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for topic, h := range c.handlers {
		handlers[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range handlers {
		handler := h
		wrapped := func(topic string, payload []byte) {
			c.metrics.inboundInc()
			handler(topic, payload)
		}
		if err := conn.Subscribe(ctx, topic, wrapped); err != nil {
			c.logger.Warn("subscribe failed", "topic", topic, "error", err)
		} else {
			c.logger.Debug("subscribed", "topic", topic)
		}
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.stateSet(s)
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) recordAttempt(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.lastAttempt = time.Now()
	c.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
