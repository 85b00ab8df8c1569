package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"conduit/internal/admin"
	"conduit/internal/config"
	"conduit/internal/constants"
	"conduit/internal/endpoint"
	"conduit/internal/inbox"
	"conduit/internal/logger"
	"conduit/internal/orders"
	"conduit/pkg/bootstrap"
	"conduit/pkg/consume"
	"conduit/pkg/health"
	"conduit/pkg/identity"
	"conduit/pkg/metrics"
	"conduit/pkg/saga"
	"conduit/pkg/scope"
	"conduit/pkg/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type App struct {
	config         *config.Config
	logger         logger.Logger
	base           *bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	databases      *bootstrap.Databases
	container      *scope.Container
	journal        *orders.Journal
	orderSaga      *orders.Saga
	endpoint       *endpoint.Endpoint
	health         *health.CheckerRegistry
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		journal:     orders.NewJournal(1000),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPipelineMetrics()
	metrics.RegisterSagaMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dbs, err := a.dbConnector.Connect(initCtx)
	if err != nil {
		return fmt.Errorf("failed to connect databases: %w", err)
	}
	a.databases = dbs
	for _, checker := range dbs.HealthCheckers() {
		a.health.Register(checker)
	}

	store, err := bootstrap.NewSagaStore(a.config, dbs)
	if err != nil {
		return fmt.Errorf("failed to create saga store: %w", err)
	}
	if breaker, ok := store.(*saga.CircuitBreakerStore); ok {
		a.health.RegisterOptional(health.CheckerFunc{
			CheckName: "saga-store-breaker",
			Fn: func(context.Context) error {
				if breaker.IsOpen() {
					return errors.New("saga store circuit breaker is open")
				}
				return nil
			},
		})
	}

	var in *inbox.Inbox
	if a.config.Inbox.Enabled {
		if dbs.Redis == nil {
			return fmt.Errorf("inbox requires a redis connection")
		}
		repo := inbox.NewCircuitBreakerRepository(inbox.NewRepository(dbs.Redis), a.config.CircuitBreaker)
		in = inbox.New(repo, inbox.ConfigFrom(a.config.Inbox), a.logger.Component("inbox"))
	}

	ep, err := a.buildEndpoint(store, in)
	if err != nil {
		return fmt.Errorf("failed to build endpoint: %w", err)
	}
	a.endpoint = ep

	if err := a.base.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initServer(ctx)
	return nil
}

// buildEndpoint wires the order domain into a receive endpoint. A nil store
// means in-memory.
func (a *App) buildEndpoint(store saga.Store, in *inbox.Inbox) (*endpoint.Endpoint, error) {
	if store == nil {
		store = saga.NewMemoryStore()
	}

	a.container = scope.NewContainer()
	orders.Register(a.container, a.journal, a.logger)

	opts := []saga.Option[orders.State]{
		saga.WithName[orders.State](orders.SagaName),
		saga.WithLogger[orders.State](a.logger.Component("saga")),
	}
	if a.config.Saga.RemoveOnComplete {
		opts = append(opts, saga.WithRemoveOnComplete[orders.State]())
	}
	a.orderSaga = orders.NewSaga(saga.NewRepository(store, opts...), a.logger)

	registry := consume.NewRegistry()
	a.orderSaga.Connect(registry)
	orders.ConnectAudit(registry)

	name := a.config.Endpoint.Name
	if name == "" {
		name = constants.DefaultInputTopic
	}

	builder := endpoint.NewBuilder(name, registry, a.logger).
		Configure(a.config.Endpoint).
		WithTracerProvider(otel.GetTracerProvider()).
		WithScope(a.container).
		Use(identity.UseCorrelationIdentity[*consume.Context]())
	if in != nil {
		builder.WithInbox(in)
	}
	return builder.Build()
}

func (a *App) initServer(ctx context.Context) {
	handler := admin.NewHandler(a.logger.Component("admin"),
		admin.WithPipe(a.endpoint),
		admin.WithSaga(admin.ViewOf(a.orderSaga.Repository())),
		admin.WithJournal(a.journal),
		admin.WithHealth(a.health),
	)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      admin.NewRouter(ctx, a.config, handler, a.logger),
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}
}

// Run consumes the input topic and serves the admin API until ctx is done or
// either of them fails. Shutdown runs in both cases.
func (a *App) Run(ctx context.Context) error {
	topic := a.config.Broker.Kafka.InputTopic
	if topic == "" {
		topic = constants.DefaultInputTopic
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(gctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.InfowCtx(gctx, "Consuming", "topic", topic, "endpoint", a.endpoint.Name())
		err := a.base.Consumer.Consume(gctx, topic, a.endpoint.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consumer error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.WithoutCancel(gctx))
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	errs = append(errs, a.base.ShutdownBroker()...)

	if a.container != nil {
		if err := a.container.Close(); err != nil {
			errs = append(errs, fmt.Errorf("container close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, a.databases)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
