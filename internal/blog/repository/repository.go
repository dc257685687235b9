package repository

import (
	"context"

	"github.com/restfulblog/restfulblog/internal/blog"
)

// Repository is the post persistence contract. Implementations assign ids on
// Create and report missing posts with blog.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *blog.Post) (string, error)
	Get(ctx context.Context, id string) (*blog.Post, error)
	List(ctx context.Context) ([]*blog.Post, error)
	Update(ctx context.Context, id string, in blog.PostInput) (*blog.Post, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
