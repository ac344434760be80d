package esl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSwitchConfig() config.SwitchConfig {
	return config.SwitchConfig{
		Host:                 "127.0.0.1",
		Port:                 "8021",
		Password:             "secret",
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    time.Minute,
		ReconnectMultiplier:  2.0,
		ReconnectMaxAttempts: 3,
	}
}

func newTestConnector(cfg config.SwitchConfig) *Connector {
	return &Connector{
		cfg:  cfg,
		log:  zap.NewNop(),
		dial: Connect,
		done: make(chan struct{}),
	}
}

func TestDelayGrowsGeometricallyAndCaps(t *testing.T) {
	c := newTestConnector(testSwitchConfig())

	assert.Equal(t, 2*time.Second, c.Delay(1))
	assert.Equal(t, 4*time.Second, c.Delay(2))
	assert.Equal(t, 8*time.Second, c.Delay(3))
	assert.Equal(t, 32*time.Second, c.Delay(5))
	// base * 2^5 = 128s, capped at the configured max.
	assert.Equal(t, time.Minute, c.Delay(6))
	assert.Equal(t, time.Minute, c.Delay(20))
}

func TestDelayClampsNonPositiveAttempt(t *testing.T) {
	c := newTestConnector(testSwitchConfig())
	assert.Equal(t, c.Delay(1), c.Delay(0))
}

func TestConnectorGoesOfflineAfterMaxAttempts(t *testing.T) {
	cfg := testSwitchConfig()
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = time.Millisecond

	c := newTestConnector(cfg)
	dials := 0
	c.dial = func(addr, password string, timeout time.Duration) (*Client, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.run(ctx)

	require.Equal(t, cfg.ReconnectMaxAttempts, dials)
	assert.Equal(t, StateOffline, c.State())
}

func TestStopSuppressesReconnect(t *testing.T) {
	cfg := testSwitchConfig()
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	cfg.ReconnectMaxAttempts = 10

	c := newTestConnector(cfg)
	c.dial = func(addr, password string, timeout time.Duration) (*Client, error) {
		return nil, errors.New("connection refused")
	}

	done := make(chan struct{})
	go func() {
		c.run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after Stop")
	}
	assert.Equal(t, StateStopped, c.State())
}
