package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	kafkahandler "github.com/3rs4lg4d0/eventpipe/handler/kafka"
	"github.com/3rs4lg4d0/eventpipe/handler/kafkago"
	"github.com/3rs4lg4d0/eventpipe/internal/config"
	"github.com/3rs4lg4d0/eventpipe/internal/orders"
	zaplogger "github.com/3rs4lg4d0/eventpipe/logger/zap"
	zerologger "github.com/3rs4lg4d0/eventpipe/logger/zerolog"
	prommetrics "github.com/3rs4lg4d0/eventpipe/metrics/prometheus"
	tallymetrics "github.com/3rs4lg4d0/eventpipe/metrics/tally"
	gormrepo "github.com/3rs4lg4d0/eventpipe/repository/gorm"
	"github.com/3rs4lg4d0/eventpipe/repository/pgxv5"
	reposql "github.com/3rs4lg4d0/eventpipe/repository/sql"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type txKey struct{}

// app holds the collaborators shared by the commands.
type app struct {
	cfg        config.Config
	logger     evp.Logger
	repository evp.Repository
	store      orders.Store
	serializer *evp.JSONSerializer
	registry   *evp.Registry
	ledger     *orders.Ledger
	pipeline   *evp.Pipeline
	metrics    http.Handler
	closers    []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.logger = logger

	if err := a.openRepository(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.serializer = evp.NewJSONSerializer()
	if err := orders.RegisterEvents(a.serializer); err != nil {
		a.Close()
		return nil, err
	}

	relayOk, relayKo, processorOk, processorKo, confirmed := a.counters()
	a.ledger = orders.NewLedger(confirmed)
	a.registry = evp.NewRegistry()
	if err := orders.RegisterHandlers(a.registry, a.ledger, a.logger); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Kafka.Enabled {
		if err := a.registerForwarding(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.pipeline = evp.New(cfg.Settings(), a.repository, a.serializer, a.registry,
		evp.WithLogger(a.logger),
		evp.WithRelayCounters(relayOk, relayKo),
		evp.WithProcessorCounters(processorOk, processorKo),
	)
	return a, nil
}

// newLogger builds the configured logger. zap always writes to stderr, the
// zerolog backend writes to w.
func newLogger(cfg config.LogConfig, w io.Writer) (evp.Logger, error) {
	if cfg.Backend == "zap" {
		return zaplogger.New(cfg.Level)
	}
	return zerologger.New(w, cfg.Level), nil
}

func (a *app) openRepository(ctx context.Context) error {
	dsn := a.cfg.Postgres.DSN
	switch a.cfg.Postgres.Driver {
	case "sql":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		repo := reposql.New(txKey{}, db, true)
		a.repository, a.store = repo, orders.NewSQLStore(repo)
	case "gorm":
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		repo := gormrepo.New(txKey{}, db)
		a.repository, a.store = repo, orders.NewGormStore(repo)
	default:
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("unable to parse database url: %w", err)
		}
		if a.cfg.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = a.cfg.Postgres.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("unable to create connection pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		repo := pgxv5.New(txKey{}, pool)
		a.repository, a.store = repo, orders.NewPgxStore(repo)
	}
	if l, ok := a.repository.(evp.Loggable); ok {
		l.SetLogger(a.logger)
	}
	return nil
}

// counters builds the pipeline counters on the configured metrics backend
// and keeps the handler that exposes them.
func (a *app) counters() (relayOk, relayKo, processorOk, processorKo, confirmed evp.Counter) {
	reg := prometheus.NewRegistry()
	if a.cfg.Metrics.Backend == "tally" {
		scope, handler, closer := tallymetrics.NewPrometheusScope(reg, time.Second)
		a.metrics = handler
		a.closers = append(a.closers, func() { _ = closer() })
		relayOk, relayKo = tallymetrics.Counters(scope, "relay")
		processorOk, processorKo = tallymetrics.Counters(scope, "processor")
		confirmed, _ = tallymetrics.Counters(scope, "orders")
		return
	}
	m := prommetrics.NewMetrics(reg)
	a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	relayOk, relayKo = m.Counters("relay")
	processorOk, processorKo = m.Counters("processor")
	confirmed, _ = m.Counters("orders")
	return
}

// registerForwarding forwards OrderPlaced to Kafka from the relay.
func (a *app) registerForwarding() error {
	var h evp.Handler
	switch a.cfg.Kafka.Client {
	case "kafka-go":
		w := kafkago.NewWriter(a.cfg.Kafka.Brokers, a.cfg.Kafka.ClientID)
		a.closers = append(a.closers, func() { _ = w.Close() })
		kh := kafkago.New(w, a.serializer)
		kh.SetLogger(a.logger)
		h = kh
	default:
		p, err := kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers":  strings.Join(a.cfg.Kafka.Brokers, ","),
			"client.id":          a.cfg.Kafka.ClientID,
			"linger.ms":          5,
			"compression.type":   "lz4",
			"acks":               -1,
			"enable.idempotence": true,
		})
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		go func() {
			for ev := range p.Events() {
				if kerr, ok := ev.(kafka.Error); ok {
					a.logger.Error("kafka producer error", kerr)
				}
			}
		}()
		a.closers = append(a.closers, func() {
			p.Flush(5000)
			p.Close()
		})
		kh := kafkahandler.New(p, a.serializer)
		kh.SetLogger(a.logger)
		kh.SetDeliveryTimeout(a.cfg.Kafka.DeliveryTimeout)
		h = kh
	}
	return a.registry.Register(orders.OrderPlacedType, h)
}

func (a *app) orderService() *orders.Service {
	s := orders.NewService(a.pipeline.Writer(), a.pipeline, a.store)
	s.SetLogger(a.logger)
	return s
}

// Close releases the resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
