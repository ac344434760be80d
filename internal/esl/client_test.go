package esl

import (
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEventFrame(t *testing.T, conn net.Conn, headers map[string]string) {
	t.Helper()
	body := ""
	for key, value := range headers {
		body += fmt.Sprintf("%s: %s\n", key, url.QueryEscape(value))
	}
	frame := fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", len(body), body)
	_, err := conn.Write([]byte(frame))
	require.NoError(t, err)
}

func TestReadEventDecodesEscapedHeaders(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	go writeEventFrame(t, server, map[string]string{
		HeaderEventName:    "CHANNEL_CREATE",
		HeaderUniqueID:     "abc-123",
		HeaderCalleeNumber: "+919812345678",
	})

	event, err := c.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "CHANNEL_CREATE", event.Name)
	assert.Equal(t, "abc-123", event.UniqueID)
	// The "+" survives URL unescaping.
	assert.Equal(t, "+919812345678", event.CalleeNumber)
}

func TestSubscribeBuffersInterleavedEvents(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe("CHANNEL_CREATE", "CHANNEL_HANGUP")
	}()

	// Read the command off the wire, then deliver an event before the reply.
	buf := make([]byte, 256)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "event plain CHANNEL_CREATE CHANNEL_HANGUP\n\n", string(buf[:n]))

	writeEventFrame(t, server, map[string]string{
		HeaderEventName: "CHANNEL_CREATE",
		HeaderUniqueID:  "early-bird",
	})
	_, err = server.Write([]byte("Content-Type: command/reply\nReply-Text: +OK event listener enabled\n\n"))
	require.NoError(t, err)

	require.NoError(t, <-done)

	// The event that raced the reply is not lost.
	event, err := c.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "early-bird", event.UniqueID)
}

func TestAPIReturnsResponseBody(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	done := make(chan struct{})
	var got string
	var apiErr error
	go func() {
		defer close(done)
		got, apiErr = c.API("show channels count")
	}()

	buf := make([]byte, 256)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "api show channels count\n\n", string(buf[:n]))

	const body = "3 total.\n"
	_, err = server.Write([]byte(fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)))
	require.NoError(t, err)

	<-done
	require.NoError(t, apiErr)
	assert.Equal(t, body, got)
}

func TestAPICommandFailure(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.API("originate bogus")
		done <- err
	}()

	buf := make([]byte, 256)
	_, err := server.Read(buf)
	require.NoError(t, err)

	const body = "-ERR USER_NOT_REGISTERED\n"
	_, err = server.Write([]byte(fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(body), body)))
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, ErrCommandFailed)
}

func TestDisconnectNoticeSurfacesError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	go func() {
		_, _ = server.Write([]byte("Content-Type: text/disconnect-notice\n\n"))
	}()

	_, err := c.ReadEvent()
	assert.ErrorIs(t, err, ErrDisconnected)
}
