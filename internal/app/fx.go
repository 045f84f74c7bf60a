// Package app wires every component into two runnable Fx graphs: a
// worker process (consumer + listener + reprocessor + registry +
// state poller) and an admin HTTP process, generalized from the
// teacher's CommonModule/APIModule/WorkerModule split.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alarmdispatch/core/internal/adapter"
	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/consumer"
	deliveryHTTP "github.com/alarmdispatch/core/internal/delivery/http"
	"github.com/alarmdispatch/core/internal/dlq"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/gate"
	"github.com/alarmdispatch/core/internal/listener"
	"github.com/alarmdispatch/core/internal/logger"
	"github.com/alarmdispatch/core/internal/modempool"
	"github.com/alarmdispatch/core/internal/processor"
	"github.com/alarmdispatch/core/internal/quiethours"
	"github.com/alarmdispatch/core/internal/ratelimit"
	"github.com/alarmdispatch/core/internal/registry"
	"github.com/alarmdispatch/core/internal/storage/postgres"
	"github.com/alarmdispatch/core/internal/storage/rabbitmq"
	"github.com/alarmdispatch/core/internal/storage/redis"
	"github.com/alarmdispatch/core/internal/syscontrol"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// newRegistry adapts registry.NewRegistry's scalar params to the
// WorkerRegistryConfig struct so fx can resolve it without a named
// value for each of HeartbeatInterval/TTLMultiplier.
func newRegistry(r repo.WorkerRepository, cfg *config.Config, logger *zerolog.Logger) *registry.Registry {
	return registry.NewRegistry(r, cfg.Worker.HeartbeatInterval, cfg.Worker.TTLMultiplier, logger)
}

// Sub-config extractors: the adapter constructors each take their own
// leaf config struct rather than the whole *config.Config, matching
// how the teacher scoped per-dependency config; these give fx a
// resolvable provider for each one.
func emailConfig(cfg *config.Config) config.EmailConfig { return cfg.Channels.Email }
func smsConfig(cfg *config.Config) config.SMSConfig     { return cfg.Channels.SMS }
func voiceConfig(cfg *config.Config) config.VoiceConfig { return cfg.Channels.Voice }
func pushConfig(cfg *config.Config) config.PushConfig   { return cfg.Channels.Push }

// newReprocessor adapts dlq.NewReprocessor's workerID string param,
// sourced from the registry's own identity once it has been assigned
// (so dead-letter reprocessing attributes to the same worker id that
// heartbeats in the registry).
func newReprocessor(
	store *dlq.Store,
	alarms repo.AlarmRepository,
	dispatcher processor.Dispatcher,
	breakers *breaker.Set,
	reg *registry.Registry,
	cfg *config.Config,
	logger *zerolog.Logger,
) *dlq.Reprocessor {
	return dlq.NewReprocessor(store, alarms, dispatcher, breakers, reg.WorkerID(), cfg, logger)
}

// CommonModule provides every dependency shared by the worker and
// admin processes: config, logging, storage connections, repositories
// bound to their domain interfaces, and the gating/fan-out machinery.
var CommonModule = fx.Options(
	fx.Provide(
		config.NewConfig,
		logger.NewLogger,

		postgres.NewPool,
		redis.NewClient,
		rabbitmq.NewConnection,

		rabbitmq.NewAlarmQueue,
		func(q *rabbitmq.AlarmQueue) repo.Queue { return q },

		fx.Annotate(postgres.NewAlarmRepository, fx.As(new(repo.AlarmRepository))),
		fx.Annotate(postgres.NewContactRepository, fx.As(new(repo.ContactRepository))),
		fx.Annotate(postgres.NewPushTokenRepository, fx.As(new(repo.PushTokenRepository))),
		fx.Annotate(postgres.NewAttemptRepository, fx.As(new(repo.AttemptRepository))),
		fx.Annotate(postgres.NewDedupRepository, fx.As(new(repo.DedupRepository))),
		fx.Annotate(postgres.NewDLQRepository, fx.As(new(repo.DLQRepository))),
		fx.Annotate(postgres.NewModemRepository, fx.As(new(repo.ModemRepository))),
		fx.Annotate(postgres.NewWorkerRepository, fx.As(new(repo.WorkerRepository))),
		fx.Annotate(postgres.NewStateRepository, fx.As(new(repo.StateRepository))),

		fx.Annotate(ratelimit.NewRedisLimiter, fx.As(new(ratelimit.Limiter))),
		fx.Annotate(gate.NewRedisBounceChecker, fx.As(new(gate.BounceChecker))),
		quiethours.NewChecker,
		gate.NewGate,

		breaker.NewSet,
		modempool.NewManagedPool,

		emailConfig,
		smsConfig,
		voiceConfig,
		pushConfig,
		adapter.NewEmailAdapter,
		adapter.NewSMSAdapter,
		adapter.NewVoiceAdapter,
		adapter.NewPushAdapter,
		fx.Annotate(adapter.NewLiveSet, fx.ResultTags(`name:"live"`)),
		fx.Annotate(adapter.NewMockSet, fx.ResultTags(`name:"mock"`)),

		syscontrol.NewManager,

		dlq.NewStore,
		func(s *dlq.Store) processor.DLQWriter { return s },

		fx.Annotate(
			processor.NewProcessor,
			fx.ParamTags(``, ``, ``, ``, ``, ``, `name:"live"`, `name:"mock"`, ``, ``, ``, ``),
			fx.As(new(processor.Dispatcher)),
		),

		newRegistry,
		newReprocessor,
	),
)

// WorkerModule runs the message-driven pipeline: the bus consumer, the
// LISTEN/NOTIFY fallback listener (feature-flagged), the dead-letter
// reprocessor loop, the worker-registry heartbeat/sweep, the modem
// health probe, and the system-state reload watcher.
var WorkerModule = fx.Options(
	CommonModule,
	fx.Provide(
		consumer.New,
		listener.NewListener,
	),
	fx.Invoke(registerWorkerHooks),
)

// AdminModule runs the gin-based admin HTTP surface.
var AdminModule = fx.Options(
	CommonModule,
	fx.Provide(
		deliveryHTTP.NewHandlers,
		deliveryHTTP.NewServer,
	),
	fx.Invoke(registerAdminHooks),
)

func registerAdminHooks(server *deliveryHTTP.Server, lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

type workerParams struct {
	fx.In

	Consumer     *consumer.Consumer
	Listener     *listener.Listener
	Reprocessor  *dlq.Reprocessor
	Registry     *registry.Registry
	State        *syscontrol.Manager
	Pool         *modempool.ManagedPool
	Cfg          *config.Config
	Logger       *zerolog.Logger
	DB           *postgres.ManagedPool
	Queue        *rabbitmq.AlarmQueue
	Conn         *amqp.Connection
	Redis        *goredis.Client
}

// registerWorkerHooks starts every background loop on OnStart and tears
// them down in stages on OnStop: the consumer stops first and gets a
// bounded grace period to drain whatever it's already handling, then the
// reprocessor/registry/listener/state watcher stop, and only then are the
// shared pools and connections closed.
func registerWorkerHooks(p workerParams, lc fx.Lifecycle) {
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := p.Registry.Register(bgCtx); err != nil {
				return err
			}

			go func() {
				defer close(consumerDone)
				p.Consumer.Start(consumerCtx)
			}()
			go p.Reprocessor.Run(bgCtx)
			go p.Registry.Run(bgCtx)
			go p.Pool.Probe(bgCtx)
			go p.State.WatchReload(bgCtx)

			if p.Cfg.Features.ListenNotifyEnabled {
				go p.Listener.Run(bgCtx)
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelConsumer()

			grace := p.Cfg.Bus.ShutdownGrace
			if grace <= 0 {
				grace = 30 * time.Second
			}
			select {
			case <-consumerDone:
			case <-time.After(grace):
				p.Logger.Warn().Dur("grace", grace).Msg("app: consumer did not drain in-flight work within the shutdown grace period")
			}

			cancelBackground()

			p.DB.Close()
			return errors.Join(p.Queue.Close(), p.Conn.Close(), p.Redis.Close())
		},
	})
}
