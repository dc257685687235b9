package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/restfulblog/restfulblog/handlers"
	"github.com/restfulblog/restfulblog/internal/blog/cache"
	"github.com/restfulblog/restfulblog/internal/blog/repository"
	"github.com/restfulblog/restfulblog/internal/blog/service"
	"github.com/restfulblog/restfulblog/internal/config"
	"github.com/restfulblog/restfulblog/internal/database"
	"github.com/restfulblog/restfulblog/internal/server"
	"github.com/restfulblog/restfulblog/internal/storage"
	"github.com/restfulblog/restfulblog/pkg/logger"
	"github.com/restfulblog/restfulblog/pkg/metrics"
)

var startTime = time.Now()

func main() {
	if err := run(); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run() error {
	// LOG_LEVEL is honoured before config so config errors are visible at debug
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: store=%s redis=%v minio=%v rate_limit=%v", cfg.Store, cfg.Redis.Enabled(), cfg.MinIO.Enabled(), cfg.RateLimit.Enabled)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.Check{}

	var repo repository.Repository
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warnf("using in-memory post store; posts are lost on restart")
		repo = repository.NewMemoryRepo()
	default:
		client, err := database.ConnectWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.ConnectAttempts, time.Second)
		if err != nil {
			return err
		}
		defer database.Disconnect(client, 5*time.Second)
		logger.Infof("connected to MongoDB (%s.%s)", cfg.MongoDB.Database, cfg.MongoDB.Collection)
		repo = repository.NewMongoRepo(client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection))
	}
	checks["store"] = repo.Ping

	var opts []service.Option
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis %s unavailable, running without cache: %v", cfg.Redis.Addr(), err)
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
			logger.Infof("connected to Redis %s (cache ttl %s)", cfg.Redis.Addr(), cfg.Redis.CacheTTL)
			opts = append(opts, service.WithCache(cache.NewRedisCache(rdb, "post:", cfg.Redis.CacheTTL)))
			checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		}
	}

	deps := server.Deps{
		Posts:   service.New(repo, opts...),
		Redis:   rdb,
		Checks:  checks,
		Started: startTime,
	}
	if cfg.MinIO.Enabled() {
		images, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("image uploads disabled: %v", err)
		} else {
			logger.Infof("image uploads enabled (bucket %s)", cfg.MinIO.Bucket)
			deps.Images = images
			checks["images"] = images.Ping
		}
	}

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)

	h, err := server.NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server, h)
	if err := server.Run(ctx, srv, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Infof("App has stopped")
	return nil
}
