package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ghandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/restfulblog/restfulblog/handlers"
	"github.com/restfulblog/restfulblog/internal/blog/handler"
	"github.com/restfulblog/restfulblog/internal/blog/service"
	"github.com/restfulblog/restfulblog/internal/config"
	"github.com/restfulblog/restfulblog/internal/views"
	"github.com/restfulblog/restfulblog/pkg/logger"
	"github.com/restfulblog/restfulblog/pkg/middleware"
)

// Deps are the collaborators the router is built from. Images, Redis and
// Checks are optional.
type Deps struct {
	Posts   service.Service
	Images  handler.ImageStore
	Redis   *redis.Client
	Checks  map[string]handlers.Check
	Started time.Time
}

// NewRouter assembles the blog routes, operational endpoints and static
// assets. POST requests carrying _method=PUT|PATCH|DELETE (form field or
// query) or an X-HTTP-Method-Override header are dispatched as that method.
func NewRouter(cfg *config.Config, d Deps) (http.Handler, error) {
	if d.Posts == nil {
		return nil, errors.New("server: post service is required")
	}
	tmpl, err := views.Load()
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.SetHTMLTemplate(tmpl)
	r.StaticFS("/static", views.Static())

	handlers.RegisterHealth(r, d.Started, d.Checks)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var guards []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		if rl.UseRedis && d.Redis != nil {
			logger.Infof("write rate limit: redis, %.2f rps burst %d per %ds", rl.RPS, rl.Burst, rl.WindowSeconds)
			guards = append(guards, middleware.RedisRateLimitMiddleware(d.Redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second))
		} else {
			logger.Infof("write rate limit: memory, %.2f rps burst %d", rl.RPS, rl.Burst)
			guards = append(guards, middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}
	handler.NewPostHandler(d.Posts, d.Images).Register(r, guards...)

	return ghandlers.HTTPMethodOverrideHandler(r), nil
}

// New wraps h in an http.Server configured from cfg.
func New(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Run serves until ctx is done, then shuts down gracefully within grace.
func Run(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("blog listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down (grace %s)", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
