package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/api"
	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/delivery"
	"github.com/ignite/campaign-dispatch/internal/dispatch"
	"github.com/ignite/campaign-dispatch/internal/importer"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	st, cleanup, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer cleanup()

	provider, err := delivery.NewSESProvider(context.Background(), delivery.SESConfig{
		Region:    cfg.SES.Region,
		AccessKey: cfg.SES.AccessKey,
		SecretKey: cfg.SES.SecretKey,
	})
	if err != nil {
		log.Fatalf("Failed to initialize SES provider: %v", err)
	}

	dispatchSvc := dispatch.NewService(st, provider, dispatch.Options{
		Identity: dispatch.SenderIdentity{
			FromName:  cfg.SES.FromName,
			FromEmail: cfg.SES.FromEmail,
			ReplyTo:   cfg.SES.ReplyTo,
		},
		InsertDelay: cfg.Dispatch.InsertDelay(),
	})

	var mirror *importer.ProgressMirror
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = importer.NewProgressMirror(rdb)
		logger.Info("import progress mirror enabled", "addr", cfg.Redis.Addr)
	}

	jobs := importer.NewJobs(st)
	chunks := importer.NewChunkProcessor(jobs, st, importer.NewDirSource(cfg.Importer.UploadDir), mirror)

	router := api.NewRouter(api.Deps{
		Dispatch: dispatchSvc,
		Jobs:     jobs,
		Chunks:   chunks,
		Mirror:   mirror,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr, "store_backend", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// buildStore constructs the configured store backend. The returned cleanup
// closes any underlying connections.
func buildStore(cfg *config.Config) (store.Client, func(), error) {
	switch cfg.Store.Backend {
	case "dynamodb":
		st, err := store.NewDynamo(context.Background(), store.DynamoConfig{
			Table:     cfg.Store.DynamoDB.Table,
			Region:    cfg.Store.DynamoDB.Region,
			Profile:   cfg.Store.DynamoDB.AWSProfile,
			AccessKey: cfg.Store.DynamoDB.AccessKey,
			SecretKey: cfg.Store.DynamoDB.SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.Postgres.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.Store.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Store.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return store.NewPostgres(db), func() { db.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}
