package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/twmb/franz-go/pkg/kgo"

	applinkhandler "peppolrelay/internal/applink/handler"
	applinkservice "peppolrelay/internal/applink/service"
	applinkstore "peppolrelay/internal/applink/store"
	"peppolrelay/internal/backup"
	"peppolrelay/internal/balance"
	dochandler "peppolrelay/internal/document/handler"
	docservice "peppolrelay/internal/document/service"
	docstore "peppolrelay/internal/document/store"
	"peppolrelay/internal/events"
	"peppolrelay/internal/gateway"
	"peppolrelay/internal/gateway/einvoice"
	"peppolrelay/internal/gateway/loopback"
	gwmetrics "peppolrelay/internal/gateway/metrics"
	"peppolrelay/internal/gateway/scrada"
	jwttoken "peppolrelay/internal/jwt_token"
	"peppolrelay/internal/monitor"
	"peppolrelay/internal/platform/config"
	"peppolrelay/internal/platform/kafka"
	"peppolrelay/internal/platform/metrics"
	"peppolrelay/internal/platform/middleware"
	"peppolrelay/internal/platform/postgres"
	"peppolrelay/internal/platform/redis"
	registryhandler "peppolrelay/internal/registry/handler"
	registryservice "peppolrelay/internal/registry/service"
	registrystore "peppolrelay/internal/registry/store"
	"peppolrelay/internal/scheduler"
	"peppolrelay/pkg/domain"
	"peppolrelay/pkg/platform/circuit"
	"peppolrelay/pkg/platform/tx"
)

// Units of work around remote gateway calls need room for the call itself.
const remoteTxTimeout = 30 * time.Second

type app struct {
	router    chi.Router
	scheduler *scheduler.Runner
	events    *events.Worker
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storage groups the stores and unit-of-work runners of one backend.
type storage struct {
	documents  docRepo
	registry   registryservice.Store
	links      applinkservice.Store
	outbox     events.Outbox
	documentTx tx.Runner
	registryTx tx.Runner
	ping       monitor.Check
}

// docRepo is the document store seen by every consumer.
type docRepo interface {
	docservice.Store
	scheduler.Store
}

// deferredVariables breaks the construction cycle between the e-invoice
// gateway, which reads registration variables, and the registry service,
// which needs the gateways.
type deferredVariables struct {
	registry *registryservice.Service
}

func (d *deferredVariables) Variables(ctx context.Context, participantID string) (gateway.Variables, error) {
	return d.registry.Variables(ctx, participantID)
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	m := metrics.New()

	st, err := openStorage(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	var probes []monitor.Option
	if st.ping != nil {
		probes = append(probes, monitor.WithCheck("postgres", st.ping))
	}
	counter := balance.Counter(balance.NewAtomicCounter())
	lock := scheduler.Lock(scheduler.NewLocalLock())
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		counter = balance.NewRedisCounter(redisClient.Client, cfg.Redis.BalanceKey)
		lock = scheduler.NewRedisLock(redisClient.Client, cfg.AppName+":lock:", 10*time.Minute)
		probes = append(probes, monitor.WithCheck("redis", redisClient.Health))
	}
	credit := balance.New(counter)

	archiver, err := backup.New(cfg.DataDir, cfg.AppName, backup.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	links := applinkservice.New(st.links, applinkservice.WithLogger(log))
	documents := docservice.New(st.documents, archiver, credit, st.documentTx,
		docservice.WithLogger(log),
		docservice.WithMetrics(m),
		docservice.WithOutbox(st.outbox),
		docservice.WithLinks(links),
		docservice.WithThrottle(cfg.Scheduler.Throttle),
	)

	lookup := &deferredVariables{}
	gateways, err := buildGateways(cfg, log, m, st.documents, archiver, documents, lookup)
	if err != nil {
		a.close()
		return nil, err
	}
	registry := registryservice.New(st.registry, gateways, st.registryTx, registryservice.WithLogger(log))
	lookup.registry = registry

	sched := scheduler.New(st.documents, registry, gateways, archiver, credit, st.documentTx,
		scheduler.WithLogger(log),
		scheduler.WithOutbox(st.outbox),
		scheduler.WithMetrics(m),
		scheduler.WithSyncLimit(cfg.Scheduler.SyncLimit),
		scheduler.WithSlowDownFactor(cfg.Scheduler.SlowDownFactor),
	)
	a.scheduler = scheduler.NewRunner(
		sched.Jobs(cfg.Scheduler.SendInterval, cfg.Scheduler.SyncInterval, cfg.Scheduler.ReceiveInterval),
		scheduler.WithLock(lock),
		scheduler.WithRunnerLogger(log),
	)

	publisher, err := buildPublisher(ctx, cfg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}
	a.events = events.NewWorker(st.outbox, publisher,
		events.WithInterval(cfg.Scheduler.EventsInterval),
		events.WithBatchSize(cfg.Scheduler.EventsBatchSize),
		events.WithRetention(cfg.Scheduler.EventsRetention),
		events.WithLogger(log),
		events.WithMetrics(m),
	)

	defaultAP, err := domain.ParseAccessPoint(cfg.Gateways.DefaultAccessPoint)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("default access point: %w", err)
	}
	validator := jwttoken.NewValidator(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))

	dochandler.New(documents, registry, cfg.Auth.WebhookSecret, log, m, validator).Register(r)
	registryhandler.New(registry, defaultAP, log, m, validator).Register(r)
	applinkhandler.New(links, log, m, validator).Register(r)
	monitor.New(credit, cfg.Auth.MonitorTokenHash, log, probes...).Register(r)
	r.Handle("/metrics", m.Handler())
	a.router = r

	return a, nil
}

func openStorage(ctx context.Context, cfg config.Config, a *app) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		return &storage{
			documents:  docstore.NewInMemory(),
			registry:   registrystore.NewInMemory(),
			links:      applinkstore.NewInMemory(),
			outbox:     events.NewInMemoryOutbox(),
			documentTx: tx.NewLockRunner(remoteTxTimeout),
			registryTx: tx.NewLockRunner(remoteTxTimeout),
		}, nil
	}

	handles, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = handles.Close() })
	if err := postgres.Migrate(ctx, handles.Pool); err != nil {
		return nil, err
	}
	return &storage{
		documents:  docstore.NewPostgres(handles.Pool),
		registry:   registrystore.NewPostgres(handles.DB),
		links:      applinkstore.NewPostgres(handles.DB),
		outbox:     events.NewPostgresOutbox(handles.Pool),
		documentTx: tx.NewPgxRunner(handles.Pool, remoteTxTimeout),
		registryTx: tx.NewSQLRunner(handles.DB, remoteTxTimeout),
		ping:       handles.Pool.Ping,
	}, nil
}

// buildGateways instruments every configured access point. Loopback is
// always active.
func buildGateways(
	cfg config.Config,
	log *slog.Logger,
	m *metrics.Metrics,
	documents loopback.Store,
	archiver *backup.Archiver,
	ingestor scrada.Ingestor,
	lookup einvoice.VariablesLookup,
) (*gateway.Registry, error) {
	gm := gwmetrics.NewWithRegisterer(m.Registerer())
	client := gateway.NewHTTPClient(cfg.Gateways.ConnectTimeout, cfg.Gateways.ResponseTimeout)
	instrument := func(g gateway.Gateway) gateway.Gateway {
		return gateway.Instrument(g,
			gateway.WithBreaker(circuit.New(g.ID().String(),
				circuit.WithFailureThreshold(5),
				circuit.WithCooldown(time.Minute),
			)),
			gateway.WithMetrics(gm),
			gateway.WithLogger(log),
		)
	}

	var active []gateway.Gateway
	if cfg.Gateways.Scrada.Enabled() {
		g, err := scrada.New(scrada.Config{
			BaseURL:   cfg.Gateways.Scrada.URL,
			CompanyID: cfg.Gateways.Scrada.CompanyID,
			APIKey:    cfg.Gateways.Scrada.APIKey,
			Password:  cfg.Gateways.Scrada.Password,
		}, ingestor,
			scrada.WithHTTPClient(client),
			scrada.WithLogger(log),
			scrada.WithFetchConcurrency(cfg.Gateways.Scrada.FetchConcurrency),
		)
		if err != nil {
			return nil, fmt.Errorf("scrada gateway: %w", err)
		}
		active = append(active, instrument(g))
	}
	if cfg.Gateways.EInvoice.Enabled() {
		g, err := einvoice.New(einvoice.Config{
			BaseURL: cfg.Gateways.EInvoice.URL,
			APIKey:  cfg.Gateways.EInvoice.APIKey,
		}, lookup, einvoice.WithHTTPClient(client), einvoice.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("e-invoice gateway: %w", err)
		}
		active = append(active, instrument(g))
	}
	active = append(active, loopback.New(documents, archiver, loopback.WithLogger(log)))

	for _, g := range active {
		log.Info("access point active", "access_point", g.ID())
	}
	return gateway.NewRegistry(active...)
}

// buildPublisher publishes to Kafka when brokers are configured and to the
// log otherwise.
func buildPublisher(ctx context.Context, cfg config.Config, log *slog.Logger, a *app) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(log), nil
	}
	client, err := kafka.NewClient(cfg.Kafka.Brokers, cfg.AppName, kgo.DefaultProduceTopic(cfg.Kafka.Topic))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, 3, 1, log); err != nil {
		return nil, err
	}
	return events.NewKafkaPublisher(client, cfg.Kafka.Topic), nil
}
