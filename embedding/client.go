package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhubert/memory-mcp/logger"
)

const (
	DefaultTimeout            = 30 * time.Second
	DefaultExpectedDimensions = 384

	// MinTextLength is the shortest input, in bytes, worth embedding.
	MinTextLength = 3

	checkText       = "connection test"
	maxCheckTimeout = 10 * time.Second
)

// DialFunc opens the connection for one request.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client fetches embeddings from the service at one address. Each request
// uses a fresh connection.
type Client struct {
	addr        string
	sender      uuid.UUID
	timeout     time.Duration
	expectedDim int
	model       string
	limits      Limits
	dial        DialFunc
	tracer      trace.Tracer
	log         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds connect plus the full round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExpectedDimensions sets the vector length every response must have.
func WithExpectedDimensions(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.expectedDim = n
		}
	}
}

// WithModel sets the model GenerateEmbedding requests. Empty means the
// service default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithLimits overrides the frame limits applied to responses.
func WithLimits(l Limits) ClientOption {
	return func(c *Client) {
		c.limits = l
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// NewClient creates a client for the service at addr (host:port).
func NewClient(addr string, opts ...ClientOption) *Client {
	var d net.Dialer
	c := &Client{
		addr:        addr,
		sender:      uuid.New(),
		timeout:     DefaultTimeout,
		expectedDim: DefaultExpectedDimensions,
		limits:      DefaultLimits(),
		dial:        d.DialContext,
		tracer:      otel.Tracer("github.com/zhubert/memory-mcp/embedding"),
		log:         logger.WithComponent("embedding"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the service address.
func (c *Client) Addr() string {
	return c.addr
}

// SenderID returns the UUID stamped on every frame this client sends.
func (c *Client) SenderID() uuid.UUID {
	return c.sender
}

// EmbedText embeds text with the service's default model.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, "", c.timeout)
}

// EmbedTextWithModel embeds text with the named model.
func (c *Client) EmbedTextWithModel(ctx context.Context, text, model string) ([]float32, error) {
	return c.embed(ctx, text, model, c.timeout)
}

// GenerateEmbedding embeds text with the configured model.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, c.model, c.timeout)
}

// Check runs one full round trip with trivial input to confirm the service
// is reachable and answering with vectors of the expected size.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.embed(ctx, checkText, "", min(c.timeout, maxCheckTimeout))
	return err
}

// ValidateText rejects input that is empty, whitespace only, or shorter
// than MinTextLength bytes.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) < MinTextLength {
		return fmt.Errorf("%w (%d bytes, minimum %d)", ErrTextTooShort, len(text), MinTextLength)
	}
	return nil
}

func (c *Client) embed(ctx context.Context, text, model string, timeout time.Duration) (vec []float32, err error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "embedding.embed", trace.WithAttributes(
		attribute.String("server.address", c.addr),
		attribute.Int("embedding.text_bytes", len(text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	vec, err = c.roundTrip(ctx, text, model, timeout)
	if err != nil {
		c.log.Warn("embedding request failed", "addr", c.addr, "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	if len(vec) != c.expectedDim {
		return nil, &DimensionError{Got: len(vec), Want: c.expectedDim}
	}
	c.log.Debug("embedding received", "addr", c.addr, "dims", len(vec), "elapsed", time.Since(start))
	return vec, nil
}

func (c *Client) roundTrip(parent context.Context, text, model string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, c.classify(ctx, timeout, fmt.Errorf("dial %s: %w", c.addr, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}
	// Closing the socket is the only way to abandon a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := Request{Text: text}
	if model != "" {
		req.Model = &model
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	frame := Frame{
		Header: Header{
			Type:      MessageTypeData,
			Sender:    c.sender,
			MessageID: uuid.New(),
		},
		Payload: payload,
	}
	if err := WriteFrame(conn, frame); err != nil {
		return nil, c.classify(ctx, timeout, err)
	}

	resp, err := ReadFrame(conn, c.limits)
	if err != nil {
		return nil, c.classify(ctx, timeout, err)
	}

	decoded, err := DecodeResponse(resp.Payload)
	if err != nil {
		return nil, err
	}
	return decoded.Vector, nil
}

// classify turns deadline expiry into ErrTimeout and leaves other errors alone.
func (c *Client) classify(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
