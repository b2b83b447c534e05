package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/events"
	"github.com/zhouzirui/pairchat/backend/internal/handler"
	liveHandler "github.com/zhouzirui/pairchat/backend/internal/handler/live"
	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/logger"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/pairchat/backend/internal/service/chat"
	"github.com/zhouzirui/pairchat/backend/internal/storage/badgerstore"
	"github.com/zhouzirui/pairchat/backend/internal/storage/mongostore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				zl.Warn("shutdown step failed", zap.Error(err))
			}
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	host, err := openHost(ctx, cfg.Attachment)
	if err != nil {
		return err
	}
	uploadDir := ""
	if disk, ok := host.(*attachment.DiskHost); ok {
		uploadDir = disk.Dir()
	}

	relay, err := openRelay(cfg.Live, zl)
	if err != nil {
		return err
	}
	if relay != nil {
		closers = append(closers, relay.Close)
	}

	normalizer := attachment.NewNormalizer(cfg.Attachment.AssetBaseURL)
	hub := live.NewHub(normalizer, relay, zl.Named("live"))
	go func() {
		if err := hub.Run(ctx); err != nil {
			zl.Error("live relay stopped", zap.Error(err))
		}
	}()

	opts := []chatService.Option{chatService.WithLogger(zl.Named("chat"))}
	if cfg.Kafka.Enabled() {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, publisher.Close)
		opts = append(opts, chatService.WithPublisher(publisher))
		zl.Info("kafka export enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svc := chatService.NewService(store, attachment.NewResolver(host, zl.Named("attachment")), normalizer, hub, opts...)

	router := handler.NewRouter(handler.Deps{
		ChatService: svc,
		Hub:         hub,
		LiveOptions: liveHandler.Options{
			SendBuffer:   cfg.Live.SendBuffer,
			PingInterval: cfg.Live.PingInterval,
		},
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		UploadDir:      uploadDir,
		Logger:         zl.Named("http"),
	})

	return startServer(ctx, cfg.Server, router, zl)
}

func openStore(ctx context.Context, cfg config.StoreConfig, zl *zap.Logger) (chat.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		zl.Warn("using in-memory message store, history is lost on restart")
		return chat.NewMemoryStore(), func() error { return nil }, nil

	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store, err := mongostore.New(ctx, client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		zl.Info("message store ready", zap.String("driver", "mongo"), zap.String("database", cfg.MongoDatabase))
		return store, func() error { return client.Disconnect(context.Background()) }, nil

	default:
		db, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		store, err := badgerstore.New(db, zl.Named("badger"))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		zl.Info("message store ready", zap.String("driver", "badger"), zap.String("path", cfg.BadgerPath))
		return store, func() error {
			return errors.Join(store.Close(), db.Close())
		}, nil
	}
}

func openHost(ctx context.Context, cfg config.AttachmentConfig) (attachment.Host, error) {
	if cfg.Host == "s3" {
		return attachment.NewS3Host(ctx, attachment.S3Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	}
	return attachment.NewDiskHost(cfg.UploadDir)
}

func openRelay(cfg config.LiveConfig, zl *zap.Logger) (live.Relay, error) {
	switch cfg.Relay {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		zl.Info("live relay enabled", zap.String("relay", "redis"), zap.String("channel", cfg.RedisChannel))
		return live.NewRedisRelay(client, cfg.RedisChannel, zl.Named("redis")), nil
	case "nats":
		nc, err := live.ConnectNats(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		zl.Info("live relay enabled", zap.String("relay", "nats"), zap.String("subject", cfg.NatsSubject))
		return live.NewNatsRelay(nc, cfg.NatsSubject, zl.Named("nats")), nil
	default:
		return nil, nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, zl *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zl.Info("pairchat backend listening", zap.String("addr", addr))
	return runServer(ctx, srv, serverCfg.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
