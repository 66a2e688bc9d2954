package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/internal/nilcheck"
	"github.com/LerianStudio/lib-transact/transact/log"
	libOpentelemetry "github.com/LerianStudio/lib-transact/transact/opentelemetry"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxIDLength          = 256
	defaultHealthTimeout = 2 * time.Second
)

// ErrNilStore is returned by NewHandler without a store.
var ErrNilStore = errors.New("http handler requires a transaction store")

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransactionResponse is the body of a successful lookup.
type TransactionResponse struct {
	ID         string                 `json:"id"`
	Status     string                 `json:"status"`
	Attributes transaction.Attributes `json:"attributes"`
}

// Handler serves read-only views of stored transactions.
type Handler struct {
	store         transaction.Store
	checks        []DependencyCheck
	logger        log.Logger
	healthTimeout time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger log.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = log.OrNop(logger)
	}
}

// WithDependency adds a named dependency to the health report.
func WithDependency(name string, pinger Pinger) HandlerOption {
	return func(h *Handler) {
		if !nilcheck.Interface(pinger) {
			h.checks = append(h.checks, DependencyCheck{Name: name, Ping: pinger.Ping})
		}
	}
}

// WithHealthTimeout bounds each health probe.
func WithHealthTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		if timeout > 0 {
			h.healthTimeout = timeout
		}
	}
}

// NewHandler builds a Handler over store. When store implements Pinger it is
// reported in /health as "store".
func NewHandler(store transaction.Store, opts ...HandlerOption) (*Handler, error) {
	if nilcheck.Interface(store) {
		return nil, ErrNilStore
	}

	h := &Handler{
		store:         store,
		logger:        log.NewNop(),
		healthTimeout: defaultHealthTimeout,
	}

	if pinger, ok := store.(Pinger); ok {
		h.checks = append(h.checks, DependencyCheck{Name: "store", Ping: pinger.Ping})
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h, nil
}

// GetTransaction answers GET /v1/transactions/:id. It never creates a record.
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" || len(id) > maxIDLength {
		return RespondError(c, fiber.StatusBadRequest, TitleInvalidRequest,
			fmt.Sprintf("transaction id must be 1 to %d characters", maxIDLength))
	}

	ctx, span := libOpentelemetry.Tracer("http").Start(c.UserContext(), "http.get_transaction",
		trace.WithAttributes(attribute.String(constant.AttrTransactionID, id)))
	defer span.End()

	data, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			return RenderError(c, transaction.ErrNotFound)
		}

		libOpentelemetry.HandleSpanError(&span, "failed to read transaction", err)
		h.logger.Log(ctx, log.LevelError, "transaction lookup failed",
			log.TransactionID(id), log.Err(err))

		return RespondError(c, fiber.StatusServiceUnavailable, "store_unavailable", "transaction store unavailable")
	}

	attrs, err := transaction.DecodeAttributes(data)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "stored transaction is malformed", err)
		h.logger.Log(ctx, log.LevelWarn, "stored transaction is malformed",
			log.TransactionID(id), log.Int("bytes", len(data)))

		return RenderError(c, err)
	}

	status := attrs.Status().String()
	span.SetAttributes(attribute.String(constant.AttrTransactionStatus, status))

	return Respond(c, fiber.StatusOK, TransactionResponse{
		ID:         id,
		Status:     status,
		Attributes: attrs,
	})
}

// Health answers GET /health from the registered dependency checks.
func (h *Handler) Health(c *fiber.Ctx) error {
	return HealthWithDependencies(h.healthTimeout, h.checks...)(c)
}

// RegisterRoutes mounts the handler on router.
func RegisterRoutes(router fiber.Router, h *Handler) {
	router.Get("/health", h.Health)
	router.Get("/v1/transactions/:id", h.GetTransaction)
}

// NewApp returns a Fiber app with the telemetry and access-log middleware and
// the handler routes mounted.
func NewApp(h *Handler, tp trace.TracerProvider) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          FiberErrorHandler(h.logger),
	})

	app.Use(WithTelemetry(tp))
	app.Use(WithHTTPLogging(h.logger))

	RegisterRoutes(app, h)

	return app
}

// FiberErrorHandler renders errors that escape handlers and logs the ones
// that are not client errors.
func FiberErrorHandler(logger log.Logger) fiber.ErrorHandler {
	logger = log.OrNop(logger)

	return func(c *fiber.Ctx, err error) error {
		ctx := c.UserContext()

		span := trace.SpanFromContext(ctx)
		libOpentelemetry.HandleSpanError(&span, "handler error", err)

		var fe *fiber.Error
		if !errors.As(err, &fe) {
			logger.Log(ctx, log.LevelError, "handler error",
				log.String("method", c.Method()),
				log.String("path", c.Path()),
				log.Err(err),
			)
		}

		return RenderError(c, err)
	}
}
