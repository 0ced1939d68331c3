package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/krishiconnect/chat-service/config"
	"github.com/krishiconnect/chat-service/internal/api"
	"github.com/krishiconnect/chat-service/internal/auth"
	"github.com/krishiconnect/chat-service/internal/crypto"
	"github.com/krishiconnect/chat-service/internal/events"
	"github.com/krishiconnect/chat-service/internal/presence"
	"github.com/krishiconnect/chat-service/internal/ratelimit"
	"github.com/krishiconnect/chat-service/internal/repository"
	"github.com/krishiconnect/chat-service/internal/service"
	"github.com/krishiconnect/chat-service/internal/social"
	"github.com/krishiconnect/chat-service/internal/ws"
	"github.com/krishiconnect/chat-service/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		lg.Fatalw("mongo connect", "error", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		lg.Fatalw("mongo ping", "error", err)
	}
	db := mongoClient.Database(cfg.Mongo.Database)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// rate limiting falls back to the local counter; presence degrades
		lg.Warnw("redis unreachable, continuing with local counters", "error", err)
	}

	keyProvider, err := crypto.NewStaticKeyProvider(cfg.Crypto.KeyHex)
	if err != nil {
		lg.Fatalw("encryption key", "error", err)
	}
	codec := crypto.NewCodec(keyProvider)

	convRepo := repository.NewMongoConversationRepository(db.Collection("conversations"))
	msgRepo := repository.NewMongoMessageRepository(db.Collection("messages"))
	followRepo := social.NewMongoFollowRepository(db.Collection("follows"))
	gate := social.NewGate(followRepo)

	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisCounter(redisClient, cfg.Redis.Prefix+":msgrate"),
		ratelimit.NewLocalCounter(),
		cfg.RateLimit.MessagesPerWindow,
		cfg.RateLimitWindow,
		lg,
	)

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
	defer publisher.Close()

	chat := service.NewChatService(convRepo, msgRepo, gate, codec, limiter, publisher, lg)

	authn := auth.NewSessionAuthenticator(
		auth.NewJWTValidator(cfg.JWT.Secret),
		auth.NewMongoAccountDirectory(db.Collection("users")),
	)

	hub := ws.NewHub()
	presenceStore := presence.NewStore(redisClient, cfg.Redis.Prefix, 24*time.Hour)
	wsHandler := ws.NewHandler(hub, chat, authn, presenceStore, ws.Config{
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		ReadDeadline:  cfg.ReadDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageSizeBytes,
	}, lg)

	app := api.NewServer(chat, authn, wsHandler, lg)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		lg.Infow("chat service listening", "addr", addr, "env", cfg.App.Env)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		lg.Fatalw("server error", "error", err)
	case s := <-sig:
		lg.Infow("signal received, shutting down", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		lg.Warnw("fiber shutdown", "error", err)
	}
	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disconnectCancel()
	_ = mongoClient.Disconnect(disconnectCtx)
	_ = redisClient.Close()
}
