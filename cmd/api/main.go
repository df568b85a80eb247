package main

import (
	"context"
	"log"

	"crewdeck/internal/auth"
	"crewdeck/internal/config"
	"crewdeck/internal/gateway"
	"crewdeck/internal/store"
	"crewdeck/internal/store/memstore"
	"crewdeck/internal/store/redisstore"
	"crewdeck/internal/uploads"
	"crewdeck/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l := logger.New(cfg.Server.Environment)
	logger.SetGlobalLogger(l)
	defer l.Logger.Sync()

	ctx := context.Background()

	var st store.Store
	var health gateway.HealthChecker
	switch cfg.Store.Backend {
	case "mem":
		st = memstore.New()
		l.Warnf("Using the in-memory store, state is lost on restart")
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		}
		st = redisstore.New(rdb, l)
		health = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var transfer uploads.Transfer
	if cfg.S3.Bucket != "" {
		t, err := uploads.NewS3Transfer(ctx, uploads.S3Config{
			Region:     cfg.S3.Region,
			Bucket:     cfg.S3.Bucket,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			Endpoint:   cfg.S3.Endpoint,
			PublicBase: cfg.S3.PublicURL,
		})
		if err != nil {
			log.Fatalf("Failed to build S3 transfer: %v", err)
		}
		transfer = t
	} else {
		l.Warnf("No S3 bucket configured, file uploads are disabled")
	}

	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	handler := gateway.NewHandler(st, transfer, nil, authn, l, cfg.Sync)
	server := gateway.NewServer(cfg, l, handler)
	server.SetupRoutes(authn, health)

	if err := server.Start(); err != nil {
		l.Errorf("Server exited with error: %v", err)
	}
}
