package esl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	contentTypeAuthRequest  = "auth/request"
	contentTypeCommandReply = "command/reply"
	contentTypeAPIResponse  = "api/response"
	contentTypeEventPlain   = "text/event-plain"
	contentTypeDisconnect   = "text/disconnect-notice"
)

var (
	// ErrAuthFailed is returned when the switch rejects the password.
	ErrAuthFailed = errors.New("esl: authentication failed")
	// ErrDisconnected is returned when the switch sends a disconnect notice.
	ErrDisconnected = errors.New("esl: server disconnect")
	// ErrCommandFailed is returned on a -ERR command reply.
	ErrCommandFailed = errors.New("esl: command failed")
)

// frame is one protocol unit: a header block plus optional body.
type frame struct {
	headers map[string]string
	body    string
}

func (f frame) contentType() string { return f.headers["Content-Type"] }

// Client speaks the switch's event-socket protocol over one connection.
// Not safe for concurrent readers; the Connector is the only caller.
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	mu     sync.Mutex // guards writes
	closed bool

	// events decoded from frames that arrive while waiting for a command
	// reply; drained by ReadEvent before touching the socket again.
	pending []Event
}

// Connect dials the switch and completes the password handshake.
func Connect(addr, password string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	c := &Client{conn: conn, r: bufio.NewReader(conn)}
	if err := c.authenticate(password); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established connection without the dial or handshake.
// Used by tests that drive the wire side directly.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *Client) authenticate(password string) error {
	f, err := c.readFrame()
	if err != nil {
		return err
	}
	if f.contentType() != contentTypeAuthRequest {
		return fmt.Errorf("esl: unexpected greeting %q", f.contentType())
	}

	reply, err := c.command(fmt.Sprintf("auth %s", password))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply.headers["Reply-Text"], "+OK") {
		return ErrAuthFailed
	}
	return nil
}

// Subscribe registers interest in the named event classes.
func (c *Client) Subscribe(events ...string) error {
	reply, err := c.command("event plain " + strings.Join(events, " "))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply.headers["Reply-Text"], "+OK") {
		return fmt.Errorf("%w: %s", ErrCommandFailed, reply.headers["Reply-Text"])
	}
	return nil
}

// API runs a blocking api command and returns its text response. Used for
// active-channel counts, call authorization, channel-variable access and
// forced hangup.
func (c *Client) API(command string) (string, error) {
	if err := c.send("api " + command); err != nil {
		return "", err
	}
	for {
		f, err := c.readFrame()
		if err != nil {
			return "", err
		}
		switch f.contentType() {
		case contentTypeAPIResponse:
			if strings.HasPrefix(f.body, "-ERR") {
				return "", fmt.Errorf("%w: %s", ErrCommandFailed, strings.TrimSpace(f.body))
			}
			return f.body, nil
		case contentTypeEventPlain:
			c.pending = append(c.pending, decodeEvent(f))
		case contentTypeDisconnect:
			return "", ErrDisconnected
		}
	}
}

// ReadEvent blocks until the next event frame arrives.
func (c *Client) ReadEvent() (Event, error) {
	if len(c.pending) > 0 {
		e := c.pending[0]
		c.pending = c.pending[1:]
		return e, nil
	}
	for {
		f, err := c.readFrame()
		if err != nil {
			return Event{}, err
		}
		switch f.contentType() {
		case contentTypeEventPlain:
			return decodeEvent(f), nil
		case contentTypeDisconnect:
			return Event{}, ErrDisconnected
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) command(cmd string) (frame, error) {
	if err := c.send(cmd); err != nil {
		return frame{}, err
	}
	for {
		f, err := c.readFrame()
		if err != nil {
			return frame{}, err
		}
		switch f.contentType() {
		case contentTypeCommandReply:
			return f, nil
		case contentTypeEventPlain:
			c.pending = append(c.pending, decodeEvent(f))
		case contentTypeDisconnect:
			return frame{}, ErrDisconnected
		}
	}
}

func (c *Client) send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_, err := io.WriteString(c.conn, cmd+"\n\n")
	return err
}

// readFrame reads one header block and, when Content-Length is present,
// its body.
func (c *Client) readFrame() (frame, error) {
	headers := make(map[string]string)
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	f := frame{headers: headers}
	if raw := headers["Content-Length"]; raw != "" {
		length, err := strconv.Atoi(raw)
		if err != nil {
			return frame{}, fmt.Errorf("esl: bad content length %q", raw)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(c.r, body); err != nil {
			return frame{}, err
		}
		f.body = string(body)
	}
	return f, nil
}

// decodeEvent parses a text/event-plain body: URL-encoded header lines,
// optionally followed by a blank line and an event body.
func decodeEvent(f frame) Event {
	headers := make(map[string]string)
	rest := f.body
	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		// PathUnescape keeps a literal "+" intact; numbers arrive in E.164.
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}
		headers[strings.TrimSpace(key)] = value
	}
	return ParseEvent(headers, rest)
}
