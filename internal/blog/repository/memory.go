package repository

import (
	"context"
	"sync"

	"github.com/restfulblog/restfulblog/internal/blog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryRepo keeps posts in process memory. Used for local development
// (BLOG_STORE=memory) and tests. List returns posts in insertion order.
type MemoryRepo struct {
	mu    sync.RWMutex
	order []string
	store map[string]*blog.Post
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*blog.Post)}
}

func (m *MemoryRepo) Create(ctx context.Context, p *blog.Post) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = primitive.NewObjectID().Hex()
	cp := *p
	m.store[p.ID] = &cp
	m.order = append(m.order, p.ID)
	return p.ID, nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*blog.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !primitive.IsValidObjectID(id) {
		return nil, blog.ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.store[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, blog.ErrNotFound
}

func (m *MemoryRepo) List(ctx context.Context) ([]*blog.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*blog.Post, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.store[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepo) Update(ctx context.Context, id string, in blog.PostInput) (*blog.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !primitive.IsValidObjectID(id) {
		return nil, blog.ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, blog.ErrNotFound
	}
	in.ApplyTo(p)
	cp := *p
	return &cp, nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !primitive.IsValidObjectID(id) {
		return blog.ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return blog.ErrNotFound
	}
	delete(m.store, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}
