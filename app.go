package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PPLink/global"
	"PPLink/module/chat/message"
	chatstore "PPLink/module/chat/store"
	"PPLink/module/msgsync"
	"PPLink/module/pairing"
	pairingstore "PPLink/module/pairing/store"
	"PPLink/module/user"
	"PPLink/service/gateway"
	"PPLink/service/health"
	"PPLink/service/ingest"
	"PPLink/service/kafka"
	"PPLink/service/mgo"
	"PPLink/service/natsx"
	"PPLink/service/push"
	redisstore "PPLink/service/storage/redis"
	"PPLink/tools/ids"
	"PPLink/tools/safe"
	"PPLink/tools/security"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg *global.Config
	log *zap.Logger

	reg    *push.Registry
	sup    *push.Supervisor
	gw     *gateway.Gateway
	http   *http.Server
	health *health.Server

	mongo *mgo.MongoManager
	rdb   redis.UniversalClient
	pg    *pgxpool.Pool
	nats  *natsx.Client
	kafka *kafka.Consumer
}

// build wires every component from cfg. Backends that are switched on must
// be reachable; the process does not start half configured.
func build(ctx context.Context, cfg *global.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	tokens, err := security.NewIssuer(security.Options{
		Secret:     []byte(cfg.Auth.Secret),
		Alg:        cfg.Auth.Alg,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Issuer:     cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, err
	}

	// ---- storage ----
	var (
		chat chatstore.Store
		dir  pairing.UserDirectory
	)
	if cfg.Mongo.Enable {
		a.mongo = mgo.NewManager(&cfg.Mongo.Config, log)
		if err := a.mongo.Connect(ctx); err != nil {
			return nil, err
		}
		db, _ := a.mongo.DB()
		ms := chatstore.NewMongo(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		chat, dir = ms, user.NewMongoDirectory(db)
	} else {
		log.Warn("mongo disabled, chat and user data live in memory")
		chat, dir = chatstore.NewMemory(), user.NewMemoryDirectory()
	}
	if cfg.Redis.Enable {
		if a.rdb, err = redisstore.New(ctx, cfg.Redis.Config); err != nil {
			return nil, err
		}
	}
	challenges, err := a.pairingStore(ctx)
	if err != nil {
		return nil, err
	}

	// ---- core ----
	a.reg = push.NewRegistry(push.RegistryConf{IDs: ids.NewSnowflake(cfg.App.NodeID), Log: log})
	a.sup = push.NewSupervisor(a.reg, push.SupervisorConf{
		PingEvery:   cfg.KeepAlive.PingEvery,
		IdleTimeout: cfg.KeepAlive.IdleTimeout,
		SweepEvery:  cfg.KeepAlive.SweepEvery,
		Log:         log,
	})
	pair := pairing.NewService(challenges, dir, tokens, pairing.Config{TTL: cfg.Pairing.TTL, Log: log})
	msgs := message.NewService(chat, a.reg, message.Config{Log: log})
	sync := msgsync.NewService(chat, msgsync.Config{
		MaxPerConversation: cfg.Sync.MaxPerConversation,
		MaxAgeDays:         cfg.Sync.MaxAgeDays,
		Concurrency:        cfg.Sync.Concurrency,
		Log:                log,
	})

	a.gw = gateway.New(gateway.Deps{
		Registry:   a.reg,
		Supervisor: a.sup,
		Pairing:    pair,
		Messages:   msgs,
		Sync:       sync,
		Tokens:     tokens,
	}, gateway.Config{WriteTimeout: cfg.KeepAlive.WriteTimeout, Origins: cfg.App.Origins, Log: log})
	a.http = &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           a.gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- ingest ----
	h := ingest.NewHandler(msgs, log)
	if cfg.NATS.Enable {
		if err := a.startNATS(ctx, h); err != nil {
			return nil, err
		}
	}
	if cfg.Kafka.Enable {
		kc, err := kafka.NewConsumer(cfg.Kafka.Config, ingest.KafkaRouter(cfg.Kafka.Topics, h))
		if err != nil {
			return nil, err
		}
		a.kafka = kc
		safe.Go(log, "kafka-ingest", func() { kc.Run(ctx) })
	}

	// ---- background ----
	a.sup.Start()
	safe.Go(log, "pairing-purger", func() { pair.RunPurger(ctx, cfg.Pairing.PurgeEvery) })

	a.health = health.New(log)
	if a.mongo != nil {
		a.health.AddProbe("mongo", func(context.Context) bool { return a.mongo.Healthy() })
		safe.Go(log, "mongo-health", func() { a.mongo.Run(ctx) })
	}
	if a.rdb != nil {
		a.health.AddProbe("redis", func(ctx context.Context) bool {
			pctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return a.rdb.Ping(pctx).Err() == nil
		})
	}
	if a.pg != nil {
		a.health.AddProbe("postgres", func(ctx context.Context) bool {
			pctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return a.pg.Ping(pctx) == nil
		})
	}
	safe.Go(log, "health-watch", func() { a.health.Watch(ctx, 10*time.Second) })
	return a, nil
}

func (a *app) pairingStore(ctx context.Context) (pairingstore.Store, error) {
	switch a.cfg.Pairing.Store {
	case global.StoreMongo:
		db, _ := a.mongo.DB()
		s := pairingstore.NewMongo(db)
		return s, s.EnsureIndexes(ctx)
	case global.StoreRedis:
		return pairingstore.NewRedis(a.rdb, a.cfg.Pairing.RedisPrefix), nil
	case global.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.pg = pool
		s := pairingstore.NewPostgres(pool)
		return s, s.Migrate(ctx)
	default:
		return pairingstore.NewMemory(), nil
	}
}

func (a *app) startNATS(ctx context.Context, h *ingest.Handler) error {
	var idem natsx.IdemStore
	if a.rdb != nil {
		idem = natsx.NewRedisIdem(a.rdb, "pplink:idem:")
	} else {
		mem := natsx.NewMemIdem(nil)
		idem = mem
		safe.Go(a.log, "nats-idem-sweep", func() {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					mem.Sweep()
				}
			}
		})
	}
	c, err := natsx.Connect(a.cfg.NATS.Config, a.log,
		natsx.Recover(a.log), natsx.Logging(a.log), natsx.Idempotent(idem, a.cfg.NATS.IdemTTL))
	if err != nil {
		return err
	}
	a.nats = c
	return ingest.SubscribeNATS(ctx, c, ingest.NATSRoute(a.cfg.NATS.Subject, a.cfg.NATS.Queue), h)
}

// run serves HTTP and gRPC health until ctx ends or a listener fails.
func (a *app) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.App.GRPCAddr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 2)
	safe.Go(a.log, "grpc-health", func() { errCh <- a.health.Serve(lis) })
	safe.Go(a.log, "http", func() {
		a.log.Info("HTTP listening", zap.String("addr", a.cfg.App.HTTPAddr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// shutdown stops intake first, then closes every open stream, then the
// backends.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	httpDone := make(chan error, 1)
	go func() { httpDone <- a.http.Shutdown(ctx) }()

	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.kafka != nil {
		_ = a.kafka.Close(false)
	}

	a.reg.Shutdown()
	if err := a.gw.Wait(ctx); err != nil {
		a.log.Warn("streams still open at deadline", zap.Error(err))
	}
	if err := <-httpDone; err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.sup.Stop()
	a.health.Stop()

	if a.mongo != nil {
		_ = a.mongo.Close(ctx)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.log.Info("bye")
	_ = a.log.Sync()
}
