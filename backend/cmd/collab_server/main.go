package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"collabdoc/backend/config"
	"collabdoc/backend/internal/authservice"
	"collabdoc/backend/internal/cache"
	"collabdoc/backend/internal/collab"
	"collabdoc/backend/internal/httpapi/handlers"
	"collabdoc/backend/internal/httpapi/middleware"
	"collabdoc/backend/internal/lock"
	"collabdoc/backend/internal/presence"
	"collabdoc/backend/internal/repo"
	"collabdoc/backend/internal/store"
	"collabdoc/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("init config failed")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	logger := log.Logger

	// === durable store ===
	var (
		docs      repo.DocumentRepo
		sessions  repo.SessionRepo
		snapshots repo.SnapshotRepo
	)
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect mysql failed")
		}
		docs = store.NewGormDocumentRepo(db)
		sessions = store.NewGormSessionRepo(db)
		snapshots = store.NewSnapshotStore(db)
	} else {
		log.Warn().Msg("mysql.dsn empty, using in-memory store")
		mem := store.NewMemory()
		docs, sessions, snapshots = mem, mem, mem
	}

	// === presence fast tier ===
	var fast cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			// presence degrades to durable-only while redis is down
			log.Warn().Err(err).Msg("redis ping failed")
		}
		fast = cache.NewRedisPresence(rdb)
	}

	// === op events ===
	sem := collab.NewSemaphoreControl(collab.DefaultMaxSemaphore)
	var (
		events     collab.EventSink
		dispatcher *collab.KafkaDispatcher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect kafka failed")
		}
		defer producer.Close()

		dispatcher = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, sem, collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  time.Second,
		}, logger)
		// runs before producer.Close so queued events drain first
		defer dispatcher.Close()
		events = dispatcher
	}

	rooms := collab.NewRegistry(collab.Options{
		OpsLogLimit:     cfg.Collab.OpsLogLimit,
		CheckpointEvery: cfg.Collab.CheckpointEvery,
		Snapshots:       snapshots,
		Events:          events,
		Semaphore:       sem,
		Logger:          logger.With().Str("component", "collab").Logger(),
	})
	locks := lock.NewManager(docs, logger, lock.WithTimeout(cfg.Lock.Timeout))
	tracker := presence.NewTracker(sessions, fast, cfg.Presence.TTL, time.Now, logger)
	docHandler := handlers.NewDocumentHandler(docs, locks, tracker, logger)
	gateway := ws.NewGateway(rooms, locks, ws.GatewayOptions{
		AllowedOrigins: cfg.Cors.AllowOrigins,
		SendQueue:      cfg.Collab.SendQueue,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	locks.StartSweeper(ctx, cfg.Lock.SweepInterval)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Cors.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		resp := gin.H{"ok": true, "rooms": rooms.Len()}
		if dispatcher != nil {
			resp["events"] = dispatcher.Stats()
		}
		c.JSON(http.StatusOK, resp)
	})
	r.POST("/auth/refresh", authservice.Refresh([]byte(cfg.Auth.Secret), cfg.Auth.AccessTTL))
	authed := r.Group("/", middleware.AuthMiddleware([]byte(cfg.Auth.Secret)))
	authed.GET("/collab/:documentId", gateway.Connect)
	docHandler.Register(authed)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("collab server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := rooms.CheckpointAll(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final checkpoint")
	}
}
