// Package app assembles the admin gateway from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/config"
	"koi-auction/internal/infrastructure/leader"
	"koi-auction/internal/infrastructure/mysql"
	"koi-auction/internal/infrastructure/rabbitmq"
	redisinfra "koi-auction/internal/infrastructure/redis"
	"koi-auction/internal/infrastructure/remote"
	"koi-auction/internal/lock"
	"koi-auction/internal/querycache"
	"koi-auction/internal/saga"
	"koi-auction/internal/services"
	"koi-auction/pkg/logger"
	"koi-auction/pkg/utils"
)

// Gateway holds every long-lived component of one gateway instance.
type Gateway struct {
	Config        *config.Config
	Redis         *redis.Client
	DB            *sql.DB
	Remote        *remote.Client
	Cache         *querycache.Client
	Invalidations *redisinfra.InvalidationBus
	SagaLog       saga.LogStore
	Sagas         *saga.Runner
	Phases        *services.PhaseRegistry
	Runner        *services.MutationRunner
	Flows         *services.AuctionFlows
	Events        *services.EventListener
	Leader        *leader.RedisLeaderElection
	Repair        *services.RepairScheduler

	log logger.Logger
}

func NewGateway(ctx context.Context, cfg *config.Config, log logger.Logger) (*Gateway, error) {
	rdb, err := utils.InitializeRedis(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	db, err := utils.InitializeMysql(ctx, cfg.MySQL, log)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	sagaLog := mysql.NewMySQLSagaRepository(db)
	if err := sagaLog.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to prepare saga log: %w", err)
	}

	return Assemble(cfg, rdb, db, sagaLog, log), nil
}

// Assemble wires the components around already-open connections.
func Assemble(cfg *config.Config, rdb *redis.Client, db *sql.DB, sagaLog saga.LogStore, log logger.Logger) *Gateway {
	g := &Gateway{
		Config:  cfg,
		Redis:   rdb,
		DB:      db,
		SagaLog: sagaLog,
		log:     log,
	}

	g.Remote = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout, log)
	g.Invalidations = redisinfra.NewInvalidationBus(rdb, log)

	var store querycache.Store = querycache.NewMemoryStore()
	if cfg.Cache.Backend == "redis" {
		store = redisinfra.NewRedisQueryStore(rdb, cfg.Cache.TTL)
	}
	g.Cache = querycache.NewClient(store, log,
		querycache.WithPublisher(g.Invalidations, cfg.Instance.ID),
		querycache.WithFetchTimeout(cfg.Cache.FetchTimeout))
	services.RegisterFetchers(g.Cache, g.Remote, g.Remote)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Lock.Backend == "redis" {
		locker = redisinfra.NewRedisLocker(rdb, cfg.Lock.TTL)
	}

	toasts := redisinfra.NewToastBus(rdb, log)
	alerts := rabbitmq.NewAlertPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)

	g.Sagas = saga.NewRunner(sagaLog, log)
	g.Phases = services.NewPhaseRegistry(0)
	g.Runner = services.NewMutationRunner(g.Cache, locker, g.Sagas, toasts, alerts, g.Phases, log)
	g.Flows = services.NewAuctionFlows(g.Runner, g.Cache, g.Sagas, g.Remote, g.Remote, log)
	g.Events = services.NewEventListener(g.Cache, toasts, log)
	g.Leader = leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)
	g.Repair = services.NewRepairScheduler(services.RepairConfig{
		Schedule:    cfg.Repair.Schedule,
		MaxAttempts: cfg.Repair.MaxAttempts,
		BatchSize:   cfg.Repair.BatchSize,
	}, sagaLog, g.Sagas, g.Cache, alerts, g.Leader, cfg.Instance.ID, log)

	g.Phases.OnChange(func(s services.MutationStatus) {
		log.Debug("Mutation phase", "mutation_id", s.MutationID, "flow", s.Flow, "phase", s.Phase, "step", s.Step)
	})
	return g
}

func (g *Gateway) Close() error {
	var errs []error
	if g.DB != nil {
		errs = append(errs, g.DB.Close())
	}
	if g.Redis != nil {
		errs = append(errs, g.Redis.Close())
	}
	return errors.Join(errs...)
}
