package esl

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/smallbiznis/voxbill/internal/config"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the switch connector.
var Module = fx.Module("esl.connector",
	fx.Provide(NewConnector),
)

// State reflects the connector lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	// StateOffline is terminal: max consecutive failures reached, an
	// operator restart is required.
	StateOffline
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOffline:
		return "offline"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// subscribedEvents is the fixed event-class set required by the call
// registry and the rating pipeline.
var subscribedEvents = []string{
	"CHANNEL_CREATE",
	"CHANNEL_ANSWER",
	"CHANNEL_BRIDGE",
	"CHANNEL_STATE",
	"CHANNEL_CALLSTATE",
	"CHANNEL_HANGUP",
	"CHANNEL_HANGUP_COMPLETE",
	"CHANNEL_DESTROY",
}

// Handler consumes events one at a time, in arrival order.
type Handler func(Event)

// dialFunc lets tests stand in for the network.
type dialFunc func(addr, password string, timeout time.Duration) (*Client, error)

type ConnectorParams struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Connector owns one event-socket connection, its subscription, and the
// reconnect policy. A connection failure is never fatal to the host process.
type Connector struct {
	cfg     config.SwitchConfig
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	dial    dialFunc

	mu      sync.Mutex
	state   State
	client  *Client
	handler Handler
	stopped bool
	done    chan struct{}
}

func NewConnector(p ConnectorParams) *Connector {
	return &Connector{
		cfg:     p.Config.Switch,
		log:     p.Log.Named("esl.connector"),
		metrics: p.Metrics,
		dial:    Connect,
		done:    make(chan struct{}),
	}
}

// OnEvent registers the single consumer. Must be called before Start.
func (c *Connector) OnEvent(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the connect/read loop. It returns immediately.
func (c *Connector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop is idempotent. It suppresses pending reconnects and closes any live
// connection, but never aborts in-flight rating work downstream.
func (c *Connector) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state = StateStopped
	client := c.client
	close(c.done)
	c.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

// Delay returns the reconnect delay before the attempt-th consecutive retry:
// min(base × multiplier^(attempt−1), max).
func (c *Connector) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.cfg.ReconnectBaseDelay) * math.Pow(c.cfg.ReconnectMultiplier, float64(attempt-1))
	if max := float64(c.cfg.ReconnectMaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func (c *Connector) run(ctx context.Context) {
	addr := net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	attempt := 0

	for {
		if c.isStopped() {
			return
		}

		c.setState(StateConnecting)
		client, err := c.dial(addr, c.cfg.Password, 10*time.Second)
		if err == nil {
			err = client.Subscribe(subscribedEvents...)
			if err != nil {
				_ = client.Close()
			}
		}
		if err != nil {
			attempt++
			if c.metrics != nil {
				c.metrics.SwitchReconnects.Inc()
			}
			if attempt >= c.cfg.ReconnectMaxAttempts {
				c.setState(StateOffline)
				if c.metrics != nil {
					c.metrics.SwitchOffline.Inc()
				}
				c.log.Error("switch connection offline, operator restart required",
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
				return
			}
			delay := c.Delay(attempt)
			c.log.Warn("switch connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}

		// Connected: the retry counter resets.
		attempt = 0
		c.adopt(client)
		if c.isStopped() {
			_ = client.Close()
			return
		}
		c.setState(StateConnected)
		c.log.Info("switch connected", zap.String("addr", addr))

		c.readLoop(client)
		_ = client.Close()

		if c.isStopped() || ctx.Err() != nil {
			return
		}
		c.log.Warn("switch connection lost, reconnecting")
	}
}

func (c *Connector) readLoop(client *Client) {
	for {
		event, err := client.ReadEvent()
		if err != nil {
			return
		}
		if c.metrics != nil {
			c.metrics.SwitchEvents.Inc()
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(event)
		}
	}
}

func (c *Connector) adopt(client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.state = s
}

func (c *Connector) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
