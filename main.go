package main

import (
	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/guilds"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/hub"
	"chatrelay-backend/internal/jwt"
	"chatrelay-backend/internal/keyValue"
	"chatrelay-backend/internal/messaging"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/presence"
	"chatrelay-backend/internal/ratelimit"
	"chatrelay-backend/internal/snowflake"
	"chatrelay-backend/internal/typing"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// publisher is satisfied by every hub broker.
type publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

func setupLogger(cfg *models.ConfigFile) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.LogToFile {
		zapConfig.OutputPaths = []string{"app.log", "stdout"}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

func setupRedis(ctx context.Context, cfg *models.ConfigFile) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

// setupBroker picks how events reach the other instances. The returned run
// function blocks until ctx is done.
func setupBroker(cfg *models.ConfigFile, local *hub.LocalPubSub, redisClient *redis.Client, sugar *zap.SugaredLogger) (publisher, func(ctx context.Context) error, func(), error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		ps := hub.NewRedisPubSub(redisClient, local, sugar)
		return ps, ps.Run, func() {}, nil

	case config.BrokerNats:
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("chatrelay"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, nil, err
		}
		ps := hub.NewNatsPubSub(nc, local, sugar)
		return ps, ps.Run, nc.Close, nil

	default:
		return local, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}, func() {}, nil
	}
}

func main() {
	fmt.Println("Reading config file...")
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer sugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Connecting to database...")
	store, err := database.Setup(cfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer store.Close()

	var redisClient *redis.Client
	var kv keyValue.Store
	if cfg.RedisAddress != "" {
		fmt.Println("Connecting to redis...")
		redisClient, err = setupRedis(ctx, cfg)
		if err != nil {
			sugar.Fatal(err)
		}
		defer redisClient.Close()
		kv = keyValue.NewRedis(redisClient, sugar)
	} else {
		local := keyValue.NewLocal(sugar)
		go local.Run(ctx)
		kv = local
	}

	ids, err := snowflake.New(cfg.SnowflakeWorkerID)
	if err != nil {
		sugar.Fatal(err)
	}

	keeper, err := jwt.New(cfg.JwtSecret)
	if err != nil {
		sugar.Fatal(err)
	}

	rooms := hub.NewRooms(store, sugar)
	local := hub.NewLocalPubSub(rooms, sugar)

	broker, runBroker, closeBroker, err := setupBroker(cfg, local, redisClient, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer closeBroker()

	go func() {
		if err := runBroker(ctx); err != nil {
			sugar.Errorf("Broker stopped: %v", err)
			stop()
		}
	}()

	coordinator := presence.New(store, store, broker, time.Duration(cfg.PresenceGraceSeconds)*time.Second, sugar)
	registry := hub.NewRegistry(keeper, rooms, coordinator, cfg.SendBufferSize, sugar)

	typingLimiter := ratelimit.New(ratelimit.Config{PerSecond: cfg.TypingRateLimit, Burst: cfg.TypingBurst})
	messageLimiter := ratelimit.New(ratelimit.Config{PerSecond: cfg.MessageRateLimit, Burst: cfg.MessageBurst})
	go typingLimiter.Run(ctx)
	go messageLimiter.Run(ctx)

	aggregator := typing.New(typing.Config{
		TTL:           time.Duration(cfg.TypingTTLSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.TypingSweepMillis) * time.Millisecond,
	}, store, typingLimiter, broker, sugar)
	go aggregator.Run(ctx)

	messages := messaging.New(messaging.Deps{
		Store:       store,
		Permissions: store,
		Publisher:   broker,
		Typing:      aggregator,
		IDs:         ids,
		Nonces:      kv,
		Limiter:     messageLimiter,
		Sugar:       sugar,
	})

	h := handlers.New(handlers.Deps{
		Sugar:    sugar,
		Store:    store,
		Keeper:   keeper,
		KeyValue: kv,
		Registry: registry,
		Rooms:    rooms,
		Messages: messages,
		Typing:   aggregator,
		Presence: coordinator,
		Guilds:   guilds.New(store, broker, registry, rooms, ids, sugar),
	})

	isHttps := cfg.TlsCert != "" && cfg.TlsKey != ""

	var httpProtocol string
	if isHttps {
		httpProtocol = "https"
	} else {
		httpProtocol = "http"
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Address, cfg.Port),
		Handler:           h.Router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sugar.Info("Shutting down...")

		registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Error(err)
		}
	}()

	sugar.Infof("Server is running on %s://%s:%s", httpProtocol, cfg.Address, cfg.Port)

	if isHttps {
		err = server.ListenAndServeTLS(cfg.TlsCert, cfg.TlsKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatal(err)
	}
}
