package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// defaultPort is appended to endpoints that carry no port.
const defaultPort = "1883"

// broker is one live bus connection. The production implementation is
// pahoConn; tests substitute a fake through the client's dial seam.
type broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h MessageHandler) error
	Close(ctx context.Context) error
	// Done is closed when the transport drops.
	Done() <-chan struct{}
	// Endpoint is the address this connection was dialed with.
	Endpoint() string
}

type dialParams struct {
	endpoint string
	clientID string
	username string
	password string
	logger   *slog.Logger
}

type dialFunc func(ctx context.Context, p dialParams) (broker, error)

// pahoConn wraps a connected paho MQTT v5 client.
type pahoConn struct {
	client   *paho.Client
	router   *paho.StandardRouter
	endpoint string
	done     chan struct{}
	once     sync.Once
}

// pahoDial establishes a TCP connection and completes the MQTT
// handshake. The endpoint may omit the port; 1883 is assumed.
func pahoDial(ctx context.Context, p dialParams) (broker, error) {
	addr := p.endpoint
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, defaultPort)
	}

	d := net.Dialer{Timeout: 10 * time.Second}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	pc := &pahoConn{
		router:   paho.NewStandardRouter(),
		endpoint: p.endpoint,
		done:     make(chan struct{}),
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     netConn,
		ClientID: p.clientID,
		Router:   pc.router,
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.logger.Debug("server disconnect", "reason_code", d.ReasonCode)
			pc.markDone()
		},
		OnClientError: func(err error) {
			p.logger.Debug("transport error", "error", err)
			pc.markDone()
		},
	})

	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   p.clientID,
		CleanStart: true,
	}
	if p.username != "" {
		cp.Username = p.username
		cp.UsernameFlag = true
	}
	if p.password != "" {
		cp.Password = []byte(p.password)
		cp.PasswordFlag = true
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ca, err := client.Connect(connectCtx, cp)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("mqtt connect %s: %w", addr, err)
	}
	if ca.ReasonCode != 0 {
		netConn.Close()
		return nil, fmt.Errorf("mqtt connect %s: rejected with reason code %d", addr, ca.ReasonCode)
	}

	pc.client = client
	return pc, nil
}

func (c *pahoConn) markDone() {
	c.once.Do(func() { close(c.done) })
}

func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Payload: payload,
	})
	return err
}

func (c *pahoConn) Subscribe(ctx context.Context, topic string, h MessageHandler) error {
	c.router.RegisterHandler(topic, func(p *paho.Publish) {
		h(p.Topic, p.Payload)
	})
	_, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: 0},
		},
	})
	return err
}

func (c *pahoConn) Close(_ context.Context) error {
	defer c.markDone()
	return c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (c *pahoConn) Done() <-chan struct{} {
	return c.done
}

func (c *pahoConn) Endpoint() string {
	return c.endpoint
}
