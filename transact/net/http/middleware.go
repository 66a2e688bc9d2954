package http

import (
	"strconv"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestInfo holds access-log data for one request.
type RequestInfo struct {
	Method        string
	URI           string
	Referer       string
	RemoteAddress string
	Status        int
	Date          time.Time
	Duration      time.Duration
	UserAgent     string
	RequestID     string
	Protocol      string
	Size          int
}

// NewRequestInfo captures the request side of c.
func NewRequestInfo(c *fiber.Ctx) *RequestInfo {
	referer := "-"
	if r := c.Get(fiber.HeaderReferer); r != "" {
		referer = r
	}

	return &RequestInfo{
		RequestID:     c.Get(constant.HeaderRequestID),
		Method:        c.Method(),
		URI:           c.OriginalURL(),
		Referer:       referer,
		UserAgent:     c.Get(constant.HeaderUserAgent),
		RemoteAddress: c.IP(),
		Protocol:      c.Protocol(),
		Date:          time.Now().UTC(),
	}
}

// Finish records the response status, size and elapsed time.
func (r *RequestInfo) Finish(c *fiber.Ctx) {
	r.Duration = time.Now().UTC().Sub(r.Date)
	r.Status = c.Response().StatusCode()
	r.Size = len(c.Response().Body())
}

// CLFString renders the entry in Common Log Format.
// Ref: https://httpd.apache.org/docs/trunk/logs.html#common
func (r *RequestInfo) CLFString() string {
	return strings.Join([]string{
		r.RemoteAddress,
		"-",
		"-",
		r.Protocol,
		r.Date.Format("[02/Jan/2006:15:04:05 -0700]"),
		`"` + r.Method + " " + r.URI + `"`,
		strconv.Itoa(r.Status),
		strconv.Itoa(r.Size),
		r.Referer,
		r.UserAgent,
	}, " ")
}

// WithHTTPLogging logs one access line per request. Health probes are not
// logged. A request id is generated when the caller sends none and echoed
// back in the response.
func WithHTTPLogging(logger log.Logger) fiber.Handler {
	logger = log.OrNop(logger)

	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		requestID := c.Get(constant.HeaderRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
			c.Request().Header.Set(constant.HeaderRequestID, requestID)
		}

		c.Set(constant.HeaderRequestID, requestID)

		info := NewRequestInfo(c)

		err := c.Next()

		info.Finish(c)

		logger.Log(c.UserContext(), log.LevelInfo, info.CLFString(),
			log.String("request_id", requestID),
			log.Int("status", info.Status),
			log.Duration("duration", info.Duration),
		)

		return err
	}
}

// WithTelemetry starts a server span per request, continuing any W3C trace
// context the caller sent. A nil provider uses the global one.
func WithTelemetry(tp trace.TracerProvider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provider := tp
		if provider == nil {
			provider = otel.GetTracerProvider()
		}

		carrier := propagation.HeaderCarrier{}
		c.Request().Header.VisitAll(func(key, value []byte) {
			carrier.Set(string(key), string(value))
		})

		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)

		ctx, span := provider.Tracer(constant.TelemetrySDKName+"/http").Start(ctx,
			c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(attribute.Int("http.response.status_code", c.Response().StatusCode()))

		return err
	}
}
