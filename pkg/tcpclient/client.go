package tcpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrTimeout          = errors.New("operation timed out")
	ErrResponseTooLarge = errors.New("response exceeds size limit")
)

const defaultMaxResponseSize = 64 << 20

// TCPClient keeps a small pool of connections to a model worker. Each
// exchange holds one connection for the whole request/response round trip.
type TCPClient struct {
	address         string
	timeout         time.Duration
	maxRetries      int
	maxResponseSize uint32
	slots           chan struct{}
	idle            chan net.Conn
	tlsConfig       *tls.Config
	logger          *zap.Logger
	closed          bool
	mu              sync.Mutex
}

type TCPClientOption func(*TCPClient)

func WithTLS(config *tls.Config) TCPClientOption {
	return func(c *TCPClient) {
		c.tlsConfig = config
	}
}

func WithLogger(logger *zap.Logger) TCPClientOption {
	return func(c *TCPClient) {
		c.logger = logger
	}
}

func WithMaxRetries(n int) TCPClientOption {
	return func(c *TCPClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func WithMaxResponseSize(n uint32) TCPClientOption {
	return func(c *TCPClient) {
		c.maxResponseSize = n
	}
}

// NewTCPClient creates the pool. Connections are dialed on first use.
func NewTCPClient(address string, timeout time.Duration, poolSize int, opts ...TCPClientOption) (*TCPClient, error) {
	if address == "" {
		return nil, fmt.Errorf("tcp address is empty")
	}
	if poolSize <= 0 {
		poolSize = 1
	}

	client := &TCPClient{
		address:         address,
		timeout:         timeout,
		maxRetries:      3,
		maxResponseSize: defaultMaxResponseSize,
		slots:           make(chan struct{}, poolSize),
		idle:            make(chan net.Conn, poolSize),
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

func (c *TCPClient) Address() string {
	return c.address
}

func (c *TCPClient) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	if c.tlsConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}
		return tlsDialer.DialContext(ctx, "tcp", c.address)
	}
	return dialer.DialContext(ctx, "tcp", c.address)
}

func (c *TCPClient) getConnection(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnectionClosed
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, ErrTimeout
	}

	select {
	case conn := <-c.idle:
		return conn, nil
	default:
	}

	conn, err := c.dial(ctx)
	if err != nil {
		<-c.slots
		return nil, fmt.Errorf("failed to dial %s: %w", c.address, err)
	}

	return conn, nil
}

// releaseConnection returns a healthy connection to the pool and closes a
// broken one.
func (c *TCPClient) releaseConnection(conn net.Conn, broken bool) {
	defer func() { <-c.slots }()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if broken || closed {
		conn.Close()
		return
	}

	conn.SetDeadline(time.Time{})
	select {
	case c.idle <- conn:
	default:
		conn.Close()
	}
}

// Exchange sends one newline terminated request and reads one size prefixed
// response on the same connection. Transport failures are retried on a
// fresh connection.
func (c *TCPClient) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	var err error
	for i := 0; i < c.maxRetries; i++ {
		var response []byte
		if response, err = c.exchange(ctx, request); err == nil {
			return response, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrResponseTooLarge) || errors.Is(err, ErrConnectionClosed) {
			break
		}
		c.logger.Warn("Failed to exchange data, retrying", zap.Error(err), zap.Int("attempt", i+1))
	}
	return nil, fmt.Errorf("failed to exchange data after retries: %w", err)
}

func (c *TCPClient) exchange(ctx context.Context, request []byte) ([]byte, error) {
	conn, err := c.getConnection(ctx)
	if err != nil {
		return nil, err
	}

	broken := true
	defer func() { c.releaseConnection(conn, broken) }()

	c.applyDeadline(ctx, conn)

	if err := writeLine(conn, request); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("failed to receive response size: %w", err)
	}

	size := binary.BigEndian.Uint32(header)
	if size > c.maxResponseSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}

	broken = false
	return body, nil
}

func (c *TCPClient) applyDeadline(ctx context.Context, conn net.Conn) {
	deadline, ok := ctx.Deadline()
	if c.timeout > 0 {
		if byTimeout := time.Now().Add(c.timeout); !ok || byTimeout.Before(deadline) {
			deadline, ok = byTimeout, true
		}
	}
	if ok {
		conn.SetDeadline(deadline)
	}
}

func writeLine(conn net.Conn, data []byte) error {
	writer := bufio.NewWriter(conn)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for {
		select {
		case conn := <-c.idle:
			if err := conn.Close(); err != nil {
				c.logger.Error("Failed to close connection", zap.Error(err))
			}
		default:
			return nil
		}
	}
}

// HealthCheck sends PING and expects a PONG line back.
func (c *TCPClient) HealthCheck(ctx context.Context) error {
	conn, err := c.getConnection(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	broken := true
	defer func() { c.releaseConnection(conn, broken) }()

	c.applyDeadline(ctx, conn)
	if err := writeLine(conn, []byte("PING")); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if strings.TrimSpace(response) != "PONG" {
		return fmt.Errorf("unexpected health check response: %s", response)
	}

	broken = false
	return nil
}
