// Package app wires the configuration, storage layers, adapters and the
// reconciliation runner into a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/trellis/config"
	"github.com/Ramsey-B/trellis/internal/repositories/syncstate"
	"github.com/Ramsey-B/trellis/pkg/adapters/github"
	"github.com/Ramsey-B/trellis/pkg/adapters/jira"
	"github.com/Ramsey-B/trellis/pkg/adapters/roster"
	"github.com/Ramsey-B/trellis/pkg/changedetect"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/events"
	"github.com/Ramsey-B/trellis/pkg/graph"
	"github.com/Ramsey-B/trellis/pkg/identity"
	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/merging"
	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/relationships"
	"github.com/Ramsey-B/trellis/pkg/routes"
	"github.com/Ramsey-B/trellis/pkg/routes/health"
	"github.com/Ramsey-B/trellis/pkg/sync"
	"github.com/Ramsey-B/trellis/pkg/tracing"
	"github.com/Ramsey-B/trellis/pkg/tracing/exporters"
)

// Sources are the provider page sources the adapters consume. Any may be nil
// to disable that provider.
type Sources struct {
	GitHub github.Source
	Jira   jira.Source
	Roster roster.Source
}

// App holds the assembled service.
type App struct {
	cfg      *config.Config
	logger   ectologger.Logger
	db       *sqlx.DB
	graph    *graph.Client
	producer *kafka.Producer
	echo     *echo.Echo
	checker  *health.Checker
	runner   *sync.Runner
	tracer   *sdktrace.TracerProvider
}

// New assembles the service from configuration.
func New(ctx context.Context, cfg *config.Config, sources Sources) (*App, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	if cfg.TracingEnabled {
		var exporter sdktrace.SpanExporter
		if cfg.TracingExporter == "console" {
			exporter = &exporters.ConsoleExporter{}
		} else {
			exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
				Endpoint: cfg.TracingEndpoint,
				Protocol: cfg.TracingExporter,
				Insecure: true,
				Timeout:  10 * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("build trace exporter: %w", err)
			}
		}
		a.tracer = tracing.InitProvider(cfg.AppName, exporter)
	}

	db, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	a.db = db

	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build graph client: %w", err)
	}
	a.graph = graphClient

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	var sink sync.EventSink
	if cfg.KafkaEnabled {
		a.producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		sink = events.NewEmitter(a.producer, logger)
	}

	stateRepo := syncstate.NewRepository(database.NewDatabaseInstance(db, logger), logger)
	filter := changedetect.NewFilter(changedetect.DefaultPolicies(cfg.IdentityRefreshWindow()), collector, logger)
	resolver := identity.NewResolver(graph.NewPersonService(graphClient, logger), cfg.IdentityRefreshWindow(), logger)
	engine := merging.NewEngine(relationships.NewTable(), graph.NewStore(graphClient, logger), logger)

	driver := sync.NewDriver(stateRepo, filter, resolver, engine, sink, collector, logger)
	a.runner = sync.NewRunner(driver, a.collections(sources, logger), cfg.SyncInterval, logger)

	a.echo = echo.New()
	a.echo.HideBanner = true
	a.checker = health.NewChecker(db, graphClient, "1.0")
	routes.Register(a.echo, cfg.AppName, a.checker)

	return a, nil
}

// collections assembles the sync collections from the configured sources.
// Collections are ordered so edge endpoints sync before the records that
// reference them.
func (a *App) collections(sources Sources, logger ectologger.Logger) []sync.Collection {
	var cols []sync.Collection
	if sources.Roster != nil {
		cols = append(cols, roster.NewAdapter(sources.Roster, logger).Collections()...)
	}
	if sources.Jira != nil {
		cols = append(cols, jira.NewAdapter(sources.Jira, logger).Collections()...)
	}
	if sources.GitHub != nil {
		cols = append(cols, github.NewAdapter(sources.GitHub, logger).Collections()...)
	}
	return cols
}

func (a *App) migrate() error {
	instance, err := migratepg.WithInstance(a.db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(a.cfg.DatabaseName, instance)
}

// Run starts the HTTP surface and the reconciliation runner, blocking until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	go func() {
		addr := fmt.Sprintf(":%d", a.cfg.Port)
		if err := a.echo.Start(addr); err != nil {
			a.logger.WithError(err).Info("HTTP server stopped")
		}
	}()

	a.checker.SetReady(true)
	err := a.runner.Run(ctx)
	a.checker.SetReady(false)
	if err == context.Canceled {
		return nil
	}
	return err
}

// Shutdown releases all resources.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.echo.Shutdown(ctx))
	if a.producer != nil {
		keep(a.producer.Close())
	}
	keep(a.graph.Close(ctx))
	keep(a.db.Close())
	if a.tracer != nil {
		keep(a.tracer.Shutdown(ctx))
	}
	return firstErr
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
