package service

import (
	"context"
	"errors"
	"time"

	"github.com/restfulblog/restfulblog/internal/blog"
	"github.com/restfulblog/restfulblog/internal/blog/repository"
	"github.com/restfulblog/restfulblog/pkg/logger"
	"github.com/restfulblog/restfulblog/pkg/metrics"
	"go.mongodb.org/mongo-driver/mongo"
)

// Service defines the post operations used by the handler layer. Every
// method issues exactly one call against the post store.
type Service interface {
	Create(ctx context.Context, in blog.PostInput) (*blog.Post, error)
	List(ctx context.Context) ([]*blog.Post, error)
	Get(ctx context.Context, id string) (*blog.Post, error)
	Update(ctx context.Context, id string, in blog.PostInput) (*blog.Post, error)
	Delete(ctx context.Context, id string) error
}

// Cache is an optional read-through cache for single posts.
// GetPost returns (nil, nil) on a miss. Version is read before going to the
// store and SetPostIfVersion refuses the fill once Invalidate has bumped it,
// so a write always wins over a read that was in flight.
type Cache interface {
	GetPost(ctx context.Context, id string) (*blog.Post, error)
	Version(ctx context.Context, id string) (int64, error)
	SetPostIfVersion(ctx context.Context, p *blog.Post, version int64) (bool, error)
	Invalidate(ctx context.Context, id string) error
}

type Option func(*postService)

// WithCache enables cache-aside reads for Get.
func WithCache(c Cache) Option {
	return func(s *postService) { s.cache = c }
}

// WithClock overrides the time source used for the created timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *postService) { s.now = now }
}

func New(repo repository.Repository, opts ...Option) Service {
	s := &postService{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewMemoryService returns a Service backed by the in-memory repository.
func NewMemoryService(opts ...Option) Service {
	return New(repository.NewMemoryRepo(), opts...)
}

// NewMongoService returns a Service backed by a MongoDB collection.
// Caller owns the client and disconnects it on shutdown.
func NewMongoService(col *mongo.Collection, opts ...Option) Service {
	return New(repository.NewMongoRepo(col), opts...)
}

type postService struct {
	repo  repository.Repository
	cache Cache
	now   func() time.Time
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, blog.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(op, result).Inc()
}

func (s *postService) Create(ctx context.Context, in blog.PostInput) (*blog.Post, error) {
	p := blog.NewPost(in, time.Time{}, s.now())
	_, err := s.repo.Create(ctx, p)
	record("create", err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *postService) List(ctx context.Context) ([]*blog.Post, error) {
	posts, err := s.repo.List(ctx)
	record("list", err)
	return posts, err
}

func (s *postService) Get(ctx context.Context, id string) (*blog.Post, error) {
	version, fill := int64(0), false
	if s.cache != nil {
		p, err := s.cache.GetPost(ctx, id)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			logger.Warnf("post cache read %s: %v", id, err)
		case p != nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return p, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
		if version, err = s.cache.Version(ctx, id); err != nil {
			logger.Warnf("post cache version %s: %v", id, err)
		} else {
			fill = true
		}
	}
	p, err := s.repo.Get(ctx, id)
	record("get", err)
	if err != nil {
		return nil, err
	}
	if fill {
		stored, err := s.cache.SetPostIfVersion(ctx, p, version)
		switch {
		case err != nil:
			logger.Warnf("post cache write %s: %v", id, err)
		case !stored:
			logger.Debugf("post cache fill %s skipped, written since read", id)
		}
	}
	return p, nil
}

func (s *postService) Update(ctx context.Context, id string, in blog.PostInput) (*blog.Post, error) {
	p, err := s.repo.Update(ctx, id, in)
	record("update", err)
	if err != nil {
		return nil, err
	}
	s.evict(ctx, id)
	return p, nil
}

func (s *postService) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	record("delete", err)
	if err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

func (s *postService) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warnf("post cache evict %s: %v", id, err)
	}
}
