package transact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-transact/transact/constants"
	"github.com/LerianStudio/lib-transact/transact/log"
	libMongo "github.com/LerianStudio/lib-transact/transact/mongo"
	libNATS "github.com/LerianStudio/lib-transact/transact/nats"
	libHTTP "github.com/LerianStudio/lib-transact/transact/net/http"
	"github.com/LerianStudio/lib-transact/transact/opentelemetry/metrics"
	libRabbitMQ "github.com/LerianStudio/lib-transact/transact/rabbitmq"
	libRedis "github.com/LerianStudio/lib-transact/transact/redis"
	libSQLite "github.com/LerianStudio/lib-transact/transact/sqlite"
	"github.com/LerianStudio/lib-transact/transact/transaction"
	libZap "github.com/LerianStudio/lib-transact/transact/zap"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultShutdownTimeout = 30 * time.Second

// ErrNilRuntime is returned when a Runtime method is called on a nil receiver.
var ErrNilRuntime = errors.New("transact runtime is nil")

// Option customizes Setup.
type Option func(*setupOptions)

type setupOptions struct {
	logger            log.Logger
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	defaultAttributes transaction.Attributes
	shutdownTimeout   time.Duration
}

// WithLogger replaces the zap logger Setup would build.
func WithLogger(logger log.Logger) Option {
	return func(o *setupOptions) {
		o.logger = logger
	}
}

// WithTracerProvider sets the provider for client and HTTP spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *setupOptions) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the provider for transaction metrics. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *setupOptions) {
		o.meterProvider = mp
	}
}

// WithDefaultAttributes merges attrs into every newly created record.
func WithDefaultAttributes(attrs transaction.Attributes) Option {
	return func(o *setupOptions) {
		o.defaultAttributes = attrs
	}
}

// WithShutdownTimeout bounds the HTTP server drain in Serve.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *setupOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type dependency struct {
	name   string
	pinger libHTTP.Pinger
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Runtime owns the backends built by Setup.
type Runtime struct {
	// Config is also registered with transaction.SetDefaultConfig.
	Config transaction.Config
	Logger log.Logger

	env             EnvConfig
	shutdownTimeout time.Duration
	deps            []dependency
	closers         []closer
	natsConn        *nats.Conn

	closeOnce sync.Once
	closeErr  error
}

// Setup builds the logger, store and notifier described by cfg and registers
// the resulting transaction.Config as the process default. Anything opened
// before a failure is closed again.
func Setup(ctx context.Context, cfg EnvConfig, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := setupOptions{shutdownTimeout: defaultShutdownTimeout}

	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	env := libZap.Environment(strings.ToLower(strings.TrimSpace(cfg.EnvName)))
	if env == "" {
		env = libZap.EnvironmentLocal
	}

	r := &Runtime{env: cfg, shutdownTimeout: o.shutdownTimeout}

	logger := o.logger
	if logger == nil {
		zl, err := libZap.New(libZap.Config{
			Environment:     env,
			Level:           cfg.LogLevel,
			OTelLibraryName: constant.TelemetrySDKName,
		})
		if err != nil {
			return nil, err
		}

		logger = zl
	}

	r.Logger = logger

	meterProvider := o.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	factory, err := metrics.NewMetricsFactory(meterProvider.Meter(constant.TelemetrySDKName), logger)
	if err != nil {
		return nil, err
	}

	r.Config = transaction.Config{
		Logger:            logger,
		MetricsFactory:    factory,
		TracerProvider:    o.tracerProvider,
		DefaultAttributes: o.defaultAttributes,
		Production:        libZap.IsProduction(env),
	}

	if err := r.openStore(ctx, cfg, factory); err != nil {
		return nil, r.abort(ctx, fmt.Errorf("transact store %s: %w", cfg.StoreBackend, err))
	}

	if err := r.openNotifier(ctx, cfg, factory); err != nil {
		return nil, r.abort(ctx, fmt.Errorf("transact notifier %s: %w", cfg.NotifierBackend, err))
	}

	if err := transaction.SetDefaultConfig(r.Config); err != nil {
		return nil, r.abort(ctx, err)
	}

	logger.Log(ctx, log.LevelInfo, "transact runtime ready",
		log.String("store", backendName(cfg.StoreBackend, StoreMemory)),
		log.String("notifier", backendName(cfg.NotifierBackend, NotifierNone)))

	return r, nil
}

func (r *Runtime) openStore(ctx context.Context, cfg EnvConfig, factory *metrics.MetricsFactory) error {
	switch backendName(cfg.StoreBackend, StoreMemory) {
	case StoreMemory:
		r.Config.Store = transaction.NewMemoryStore()
	case StoreRedis:
		redisCfg := libRedis.Config{
			Addresses:      cfg.redisAddresses(),
			MasterName:     cfg.RedisMasterName,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			Logger:         r.Logger,
			MetricsFactory: factory,
		}

		if cfg.RedisCluster {
			redisCfg.Mode = libRedis.ModeCluster
		}

		if cfg.RedisCACert != "" {
			redisCfg.TLS = &libRedis.TLSConfig{CACertBase64: cfg.RedisCACert}
		}

		client, err := libRedis.New(ctx, redisCfg)
		if err != nil {
			return err
		}

		r.addCloser("redis", func(context.Context) error { return client.Close() })

		store, err := libRedis.NewStore(client,
			libRedis.WithKeyPrefix(cfg.KeyPrefix), libRedis.WithTTL(cfg.RecordTTL))
		if err != nil {
			return err
		}

		r.Config.Store = store
	case StoreNATS:
		conn, err := r.nats(ctx, cfg, factory)
		if err != nil {
			return err
		}

		store, err := libNATS.NewStore(ctx, conn, libNATS.StoreConfig{
			Bucket:    cfg.NATSBucket,
			TTL:       cfg.RecordTTL,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return err
		}

		r.Config.Store = store
	case StoreSQLite:
		store, err := libSQLite.Open(ctx, libSQLite.Config{
			Path:      cfg.SQLitePath,
			Table:     cfg.SQLiteTable,
			KeyPrefix: cfg.KeyPrefix,
			Logger:    r.Logger,
		})
		if err != nil {
			return err
		}

		r.addCloser("sqlite", func(context.Context) error { return store.Close() })
		r.Config.Store = store
	case StoreMongoDB:
		client, err := libMongo.NewClient(ctx, libMongo.Config{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			Logger:         r.Logger,
			MetricsFactory: factory,
		})
		if err != nil {
			return err
		}

		r.addCloser("mongodb", client.Close)

		store, err := libMongo.NewStore(client, libMongo.StoreConfig{
			Collection: cfg.MongoCollection,
			KeyPrefix:  cfg.KeyPrefix,
			TTL:        cfg.RecordTTL,
		})
		if err != nil {
			return err
		}

		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}

		r.Config.Store = store
	}

	return nil
}

func (r *Runtime) openNotifier(ctx context.Context, cfg EnvConfig, factory *metrics.MetricsFactory) error {
	var notifier transaction.Notifier

	switch backendName(cfg.NotifierBackend, NotifierNone) {
	case NotifierNone:
		return nil
	case NotifierRabbitMQ:
		conn, err := libRabbitMQ.NewConnection(libRabbitMQ.Config{
			URL:            cfg.RabbitMQURL,
			Logger:         r.Logger,
			MetricsFactory: factory,
		})
		if err != nil {
			return err
		}

		if err := conn.Connect(ctx); err != nil {
			return err
		}

		r.addCloser("rabbitmq connection", func(context.Context) error { return conn.Close() })
		r.deps = append(r.deps, dependency{name: "rabbitmq", pinger: pingFunc(conn.Connect)})

		n, err := libRabbitMQ.NewNotifier(conn,
			libRabbitMQ.WithExchange(cfg.RabbitMQExchange),
			libRabbitMQ.WithNotifierLogger(r.Logger))
		if err != nil {
			return err
		}

		r.addCloser("rabbitmq notifier", func(context.Context) error { return n.Close() })
		notifier = n
	case NotifierNATS:
		conn, err := r.nats(ctx, cfg, factory)
		if err != nil {
			return err
		}

		natsOpts := []libNATS.NotifierOption{libNATS.WithSubjectPrefix(cfg.NATSSubjectPrefix)}

		if cfg.NATSJetStream {
			js, err := jetstream.New(conn)
			if err != nil {
				return err
			}

			natsOpts = append(natsOpts, libNATS.WithJetStream(js))
		}

		n, err := libNATS.NewNotifier(conn, natsOpts...)
		if err != nil {
			return err
		}

		notifier = n
	}

	r.Config.Notifier = &transaction.NotifierConfig{
		Notifier: notifier,
		Channel:  cfg.NotifierChannel,
		Event:    cfg.NotifierEvent,
	}

	return nil
}

// nats returns the connection shared by the NATS store and notifier.
func (r *Runtime) nats(ctx context.Context, cfg EnvConfig, factory *metrics.MetricsFactory) (*nats.Conn, error) {
	if r.natsConn != nil {
		return r.natsConn, nil
	}

	natsCfg := libNATS.DefaultConfig()
	natsCfg.Name = constant.TelemetrySDKName
	natsCfg.Logger = r.Logger
	natsCfg.MetricsFactory = factory

	if cfg.NATSURL != "" {
		natsCfg.URL = cfg.NATSURL
	}

	conn, err := libNATS.Connect(ctx, natsCfg)
	if err != nil {
		return nil, err
	}

	r.natsConn = conn
	r.addCloser("nats", func(context.Context) error {
		conn.Close()
		return nil
	})
	r.deps = append(r.deps, dependency{name: "nats", pinger: pingFunc(conn.FlushWithContext)})

	return conn, nil
}

func backendName(name, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback
	}

	return name
}

func (r *Runtime) addCloser(name string, fn func(ctx context.Context) error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

func (r *Runtime) abort(ctx context.Context, err error) error {
	if closeErr := r.Close(ctx); closeErr != nil {
		return errors.Join(err, closeErr)
	}

	return err
}

// NewClient constructs a transaction client from the runtime configuration.
func (r *Runtime) NewClient(ctx context.Context, opts ...transaction.Option) (*transaction.Client, error) {
	if r == nil {
		return nil, ErrNilRuntime
	}

	return transaction.New(ctx, r.Config, opts...)
}

// Handler builds the read-only status API over the runtime store, with every
// opened backend reported in /health.
func (r *Runtime) Handler(opts ...libHTTP.HandlerOption) (*libHTTP.Handler, error) {
	if r == nil {
		return nil, ErrNilRuntime
	}

	all := []libHTTP.HandlerOption{libHTTP.WithLogger(r.Logger)}

	for _, dep := range r.deps {
		all = append(all, libHTTP.WithDependency(dep.name, dep.pinger))
	}

	return libHTTP.NewHandler(r.Config.Store, append(all, opts...)...)
}

// Serve runs the status API on the configured address until ctx is done or
// the listener fails, then drains in-flight requests.
func (r *Runtime) Serve(ctx context.Context, opts ...libHTTP.HandlerOption) error {
	h, err := r.Handler(opts...)
	if err != nil {
		return err
	}

	app := libHTTP.NewApp(h, r.Config.TracerProvider)

	errCh := make(chan error, 1)

	go func() {
		r.Logger.Log(ctx, log.LevelInfo, "starting status API", log.String("address", r.env.HTTPAddress))

		errCh <- app.Listen(r.env.HTTPAddress)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status API: %w", err)
		}

		return nil
	}

	r.Logger.Log(context.WithoutCancel(ctx), log.LevelInfo, "shutting down status API")

	if err := app.ShutdownWithTimeout(r.shutdownTimeout); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}

	return nil
}

// Close releases every backend in reverse order of opening and syncs the
// logger. Later calls return the first result.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return ErrNilRuntime
	}

	r.closeOnce.Do(func() {
		var errs []error

		for i := len(r.closers) - 1; i >= 0; i-- {
			c := r.closers[i]

			if err := c.fn(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}

		if r.Logger != nil {
			for _, err := range errs {
				log.SafeError(ctx, r.Logger, "transact runtime close failed", err, r.Config.Production)
			}

			_ = r.Logger.Sync(ctx)
		}

		r.closeErr = errors.Join(errs...)
	})

	return r.closeErr
}
