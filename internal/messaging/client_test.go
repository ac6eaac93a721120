package messaging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBroker struct {
	endpoint string
	done     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	publishes map[string]int
	handlers  map[string]MessageHandler
}

func newFakeBroker(endpoint string) *fakeBroker {
	return &fakeBroker{
		endpoint:  endpoint,
		done:      make(chan struct{}),
		publishes: make(map[string]int),
		handlers:  make(map[string]MessageHandler),
	}
}

func (b *fakeBroker) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishes[topic]++
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, topic string, h MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Close(_ context.Context) error {
	b.drop()
	return nil
}

func (b *fakeBroker) Done() <-chan struct{} { return b.done }
func (b *fakeBroker) Endpoint() string     { return b.endpoint }

func (b *fakeBroker) drop() {
	b.once.Do(func() { close(b.done) })
}

func (b *fakeBroker) publishCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes[topic]
}

func (b *fakeBroker) handler(topic string) MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// fakeDialer fails the first `failures` attempts, then hands out fake
// brokers, recording the endpoint of every attempt.
type fakeDialer struct {
	failures int

	mu        sync.Mutex
	endpoints []string
	brokers   []*fakeBroker
}

func (d *fakeDialer) dial(_ context.Context, p dialParams) (broker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, p.endpoint)
	if len(d.endpoints) <= d.failures {
		return nil, errors.New("connection refused")
	}
	b := newFakeBroker(p.endpoint)
	d.brokers = append(d.brokers, b)
	return b, nil
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) broker(i int) *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.brokers) {
		return nil
	}
	return d.brokers[i]
}

func (d *fakeDialer) endpointAt(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.endpoints) {
		return ""
	}
	return d.endpoints[i]
}

func fastBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   3,
		PollInterval: time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(t *testing.T, d *fakeDialer, w io.Writer) (*Client, context.CancelFunc) {
	t.Helper()
	if w == nil {
		w = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := New(Config{
		Endpoint: "10.0.0.10",
		ClientID: "airnode-test",
		Backoff:  fastBackoff(),
		Logger:   logger,
		Describe: func() any {
			return map[string]string{"node": "test"}
		},
	})
	c.dial = d.dial

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})
	return c, cancel
}

func TestFailedAttemptStaysDisconnected(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}
	c, _ := newTestClient(t, d, nil)

	waitFor(t, "two attempts", func() bool { return d.attempts() >= 2 })
	if s := c.State(); s == Connected {
		t.Errorf("state = %v after failed attempts, want not connected", s)
	}

	status := c.StatusSnapshot()
	if status.LastError == "" {
		t.Error("StatusSnapshot().LastError empty after failed attempt")
	}
}

func TestConnectAnnouncesOncePerConnection(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	waitFor(t, "connected", func() bool { return c.State() == Connected })

	b := d.broker(0)
	waitFor(t, "meta announce", func() bool { return b.publishCount(MetaTopic) == 1 })
	waitFor(t, "meta subscription", func() bool { return b.handler(MetaTopic) != nil })

	// Further publishes must not repeat the announce.
	if err := c.Publish(context.Background(), "temperature", []byte("{}")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if got := b.publishCount(MetaTopic); got != 1 {
		t.Errorf("meta publishes = %d, want exactly 1 per connection", got)
	}
	if got := b.subscribeCount(); got != 1 {
		t.Errorf("subscriptions = %d, want 1", got)
	}
	if got := b.publishCount("temperature"); got != 1 {
		t.Errorf("temperature publishes = %d, want 1", got)
	}

	// Drop the transport: the supervisor reconnects and announces
	// exactly once on the new connection.
	b.drop()
	waitFor(t, "reconnect", func() bool { return d.broker(1) != nil && c.State() == Connected })

	b2 := d.broker(1)
	waitFor(t, "second announce", func() bool { return b2.publishCount(MetaTopic) == 1 })
	if got := b.publishCount(MetaTopic); got != 1 {
		t.Errorf("old connection meta publishes = %d, want 1", got)
	}
}

func TestMetaHandlerLogsInbound(t *testing.T) {
	var buf syncBuffer
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, &buf)

	waitFor(t, "connected", func() bool { return c.State() == Connected })
	b := d.broker(0)
	waitFor(t, "meta subscription", func() bool { return b.handler(MetaTopic) != nil })

	b.handler(MetaTopic)(MetaTopic, []byte(`{"node":"other"}`))

	waitFor(t, "meta log line", func() bool {
		return strings.Contains(buf.String(), "meta message received")
	})
}

func TestDegradedAfterRetryBudget(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}
	c, _ := newTestClient(t, d, nil)

	waitFor(t, "degraded status", func() bool { return c.Degraded() })
	if c.State() == Connected {
		t.Error("degraded client reports Connected")
	}

	status := c.StatusSnapshot()
	if !status.Degraded {
		t.Error("StatusSnapshot().Degraded = false, want true")
	}
}

func TestReconfigureTakesEffectOnNextAttempt(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, nil)

	waitFor(t, "connected", func() bool { return c.State() == Connected })
	if got := d.endpointAt(0); got != "10.0.0.10" {
		t.Fatalf("first dial endpoint = %q, want 10.0.0.10", got)
	}

	c.Reconfigure("10.0.0.20")

	// No forced disconnect: still on the old connection.
	time.Sleep(10 * time.Millisecond)
	if got := d.attempts(); got != 1 {
		t.Fatalf("attempts after Reconfigure = %d, want 1 (no forced reconnect)", got)
	}
	if c.State() != Connected {
		t.Fatal("Reconfigure dropped the connection")
	}

	// The next attempt, after a transport drop, targets the new address.
	d.broker(0).drop()
	waitFor(t, "redial", func() bool { return d.attempts() >= 2 })
	if got := d.endpointAt(1); got != "10.0.0.20" {
		t.Errorf("redial endpoint = %q, want 10.0.0.20", got)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	c := New(Config{Endpoint: "10.0.0.10", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	err := c.Publish(context.Background(), "temperature", []byte("{}"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish without connection = %v, want ErrNotConnected", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing log output.
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
