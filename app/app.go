package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kbukum/taskflow/api"
	"github.com/kbukum/taskflow/auth"
	"github.com/kbukum/taskflow/bootstrap"
	"github.com/kbukum/taskflow/callback"
	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/database"
	"github.com/kbukum/taskflow/kafka"
	"github.com/kbukum/taskflow/logger"
	"github.com/kbukum/taskflow/observability"
	"github.com/kbukum/taskflow/processor"
	"github.com/kbukum/taskflow/quota"
	"github.com/kbukum/taskflow/recorder"
	"github.com/kbukum/taskflow/redis"
	"github.com/kbukum/taskflow/schema"
	"github.com/kbukum/taskflow/server"
	"github.com/kbukum/taskflow/server/endpoint"
	"github.com/kbukum/taskflow/server/middleware"
	"github.com/kbukum/taskflow/task"
)

// Mode selects how much of the service Build wires.
type Mode int

const (
	// ModeServe wires everything: HTTP, Kafka, Redis and the reconciler loop.
	ModeServe Mode = iota
	// ModeTask wires the database and domain only, for one-shot commands.
	ModeTask
)

// Service holds the wired domain objects. Fields are set during the app's
// configure phase.
type Service struct {
	Ledger     *quota.Ledger
	Store      *recorder.Store
	Registry   *dag.Registry
	Scheduler  *dag.Scheduler
	Gateway    *callback.Gateway
	Tasks      *task.Service
	Reconciler *quota.Reconciler
	Server     *server.Server
	Prometheus *prometheus.Registry
}

// Build creates the app with infrastructure components registered and the
// domain wired in its configure phase.
func Build(cfg *Config, mode Mode, opts ...bootstrap.Option) (*bootstrap.App[*Config], *Service, error) {
	a, err := bootstrap.NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	log := a.Logger
	svc := &Service{Prometheus: prometheus.NewRegistry()}

	if cfg.Tracing.Enabled {
		if err := a.RegisterComponent(&telemetry{
			cfg: cfg.Tracing,
			res: observability.Resource{ServiceName: cfg.Name, ServiceVersion: cfg.Version, Environment: cfg.Environment},
			log: log,
		}); err != nil {
			return nil, nil, err
		}
	}

	db := database.NewComponent(cfg.Database, log).
		WithAutoMigrate(append(quota.Models(), recorder.Models()...)...)
	if err := a.RegisterComponent(db); err != nil {
		return nil, nil, err
	}
	a.Summary.Add("infra", "database", redactDSN(cfg.Database.DSN))

	var rds *redis.Component
	if mode == ModeServe && cfg.Redis.Enabled {
		rds = redis.NewComponent(cfg.Redis, log)
		if err := a.RegisterComponent(rds); err != nil {
			return nil, nil, err
		}
		a.Summary.Add("infra", "redis", cfg.Redis.Addr)
	}

	a.OnConfigure(func(_ context.Context, a *bootstrap.App[*Config]) error {
		return svc.wire(a, db.DB(), rds, mode)
	})
	return a, svc, nil
}

func (s *Service) wire(a *bootstrap.App[*Config], db *database.DB, rds *redis.Component, mode Mode) error {
	cfg, log := a.Cfg, a.Logger
	s.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := observability.NewMetrics(observability.Meter(ServiceName))
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	s.Ledger = quota.NewLedger(db, quota.NewMetrics(s.Prometheus), log)
	s.Store = recorder.NewStore(db)

	s.Registry = dag.NewRegistry()
	names, err := processor.Register(s.Registry, cfg.Processors, log)
	if err != nil {
		return err
	}
	s.Registry.RegisterProcessor("echo", dag.EchoProcessor{})
	for _, name := range names {
		a.Summary.Add("processors", name, cfg.Processors[name].URL)
	}
	s.Registry.Wrap(func(b dag.Behavior) dag.Behavior {
		return dag.WithLogging(dag.WithMetrics(dag.WithTracing(b, observability.SpanNode), metrics), log)
	})
	s.Scheduler = dag.NewScheduler(cfg.Engine, s.Registry, s.Store, log)

	var dedupe callback.DedupeStore
	if rds != nil {
		dedupe = callback.NewRedisDedupe(rds.Client(), cfg.Callback.DedupeTTL)
	}
	s.Gateway = callback.NewGateway(
		callback.NewSigner(cfg.Callback.Secret, cfg.Callback.Tolerance),
		dedupe, s.Scheduler.Pending(), callback.NewMetrics(s.Prometheus), log)

	taskOpts := []task.Option{task.WithMetrics(metrics)}
	var producer *kafka.Producer
	if mode == ModeServe && cfg.Kafka.Enabled {
		if producer, err = kafka.NewProducer(cfg.Kafka, log); err != nil {
			return err
		}
		taskOpts = append(taskOpts, task.WithPublisher(producer))
	}
	s.Tasks = task.NewService(cfg.Task, s.Scheduler, s.Ledger, s.Store, log, taskOpts...)
	if err := a.RegisterComponent(s.Tasks); err != nil {
		return err
	}
	s.Reconciler = quota.NewReconciler(s.Ledger, s.Tasks, cfg.Quota.Reconciler, log)

	if mode != ModeServe {
		return nil
	}

	if cfg.Quota.Reconciler.Enabled {
		if err := a.RegisterComponent(s.Reconciler.Component()); err != nil {
			return err
		}
	}
	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.CallbackTopic, log)
		if err != nil {
			return err
		}
		if err := a.RegisterComponent(kafka.NewComponent(consumer, s.Gateway.KafkaHandler(), producer, log)); err != nil {
			return err
		}
		a.Summary.Add("consumers", cfg.Kafka.CallbackTopic, cfg.Kafka.GroupID)
	}

	s.Server = server.New(cfg.Server, log)
	s.Server.ApplyMiddleware()
	if err := s.routes(a); err != nil {
		return err
	}
	for _, r := range s.Server.Engine().Routes() {
		a.Summary.Add("routes", r.Method+" "+r.Path, "")
	}
	return a.RegisterComponent(server.NewComponent(s.Server))
}

func (s *Service) routes(a *bootstrap.App[*Config]) error {
	cfg := a.Cfg
	r := s.Server.Engine()
	r.GET("/health", endpoint.Health(cfg.Name, a.Components.HealthAll))
	r.GET("/ready", endpoint.Readiness(a.Components.HealthAll))
	r.GET("/version", endpoint.Version())
	r.GET("/metrics", endpoint.Metrics(s.Prometheus))

	s.Gateway.RegisterRoutes(r)

	var mws []gin.HandlerFunc
	if cfg.Auth.Enabled {
		tokens, err := auth.NewService(cfg.Auth)
		if err != nil {
			return err
		}
		mws = append(mws, middleware.Auth(tokens.Validator()))
	} else {
		a.Logger.Warn("authentication disabled, API requests run as the dev subject",
			logger.Fields("subject", cfg.Auth.DevSubject))
		mws = append(mws, middleware.StaticSubject(cfg.Auth.DevSubject))
	}
	if cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			KeyFunc:           middleware.SubjectKey,
		}))
	}

	api.NewHandler(s.Tasks, s.Store, s.Ledger, schema.NewFileLoader(cfg.Schemas.Dirs...), a.Logger).
		RegisterRoutes(r, mws...)
	return nil
}

// redactDSN hides a password in URL-style DSNs.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":***@" + host
}
