package service

import (
	"context"
	"errors"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/restfulblog/restfulblog/internal/blog"
	"github.com/restfulblog/restfulblog/internal/blog/cache"
	"github.com/restfulblog/restfulblog/internal/blog/repository"
	"github.com/restfulblog/restfulblog/pkg/metrics"
	"github.com/stretchr/testify/require"
)

// countingRepo wraps the memory repo and counts Get calls
type countingRepo struct {
	*repository.MemoryRepo
	gets int
}

func (c *countingRepo) Get(ctx context.Context, id string) (*blog.Post, error) {
	c.gets++
	return c.MemoryRepo.Get(ctx, id)
}

// failingRepo fails every call with err
type failingRepo struct{ err error }

func (f failingRepo) Create(context.Context, *blog.Post) (string, error) { return "", f.err }
func (f failingRepo) Get(context.Context, string) (*blog.Post, error)    { return nil, f.err }
func (f failingRepo) List(context.Context) ([]*blog.Post, error)         { return nil, f.err }
func (f failingRepo) Update(context.Context, string, blog.PostInput) (*blog.Post, error) {
	return nil, f.err
}
func (f failingRepo) Delete(context.Context, string) error { return f.err }
func (f failingRepo) Ping(context.Context) error           { return f.err }

// brokenCache fails every call
type brokenCache struct{}

func (brokenCache) GetPost(context.Context, string) (*blog.Post, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) Version(context.Context, string) (int64, error) {
	return 0, errors.New("cache down")
}
func (brokenCache) SetPostIfVersion(context.Context, *blog.Post, int64) (bool, error) {
	return false, errors.New("cache down")
}
func (brokenCache) Invalidate(context.Context, string) error { return errors.New("cache down") }

// pausingRepo holds Get between the store read and the return while armed,
// so a write can land before the reader fills the cache.
type pausingRepo struct {
	*repository.MemoryRepo
	read   chan struct{}
	resume chan struct{}
}

func (p *pausingRepo) Get(ctx context.Context, id string) (*blog.Post, error) {
	post, err := p.MemoryRepo.Get(ctx, id)
	if p.read != nil {
		p.read <- struct{}{}
		<-p.resume
	}
	return post, err
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *mr.Miniredis) {
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: m.Addr()}), "", time.Minute), m
}

type getResult struct {
	post *blog.Post
	err  error
}

// readAcross starts a Get on id, runs write once the store read is done and
// then lets the Get finish. It returns what the in-flight Get saw.
func readAcross(t *testing.T, svc Service, repo *pausingRepo, id string, write func()) getResult {
	t.Helper()
	repo.read = make(chan struct{})
	repo.resume = make(chan struct{})
	done := make(chan getResult, 1)
	go func() {
		p, err := svc.Get(context.Background(), id)
		done <- getResult{p, err}
	}()

	select {
	case <-repo.read:
	case <-time.After(2 * time.Second):
		t.Fatal("store read did not happen")
	}
	write()
	close(repo.resume)
	res := <-done
	repo.read = nil
	return res
}

func TestCreateSetsCreatedFromClock(t *testing.T) {
	now := time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)
	svc := NewMemoryService(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("Hello"), Body: blog.String("World")})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.Equal(t, now, p.Created)
	require.Empty(t, p.Image)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, p.ID, list[0].ID)
}

func TestUpdateKeepsIDAndCreated(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("t"), Body: blog.String("b")})
	require.NoError(t, err)

	u, err := svc.Update(ctx, p.ID, blog.PostInput{Body: blog.String("changed")})
	require.NoError(t, err)
	require.Equal(t, p.ID, u.ID)
	require.Equal(t, p.Created, u.Created)
	require.Equal(t, "t", u.Title)
	require.Equal(t, "changed", u.Body)
}

func TestGetIsCacheAside(t *testing.T) {
	rc, m := newRedisCache(t)

	repo := &countingRepo{MemoryRepo: repository.NewMemoryRepo()}
	svc := New(repo, WithCache(rc))
	ctx := context.Background()

	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("cached")})
	require.NoError(t, err)

	hits := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit"))

	_, err = svc.Get(ctx, p.ID)
	require.NoError(t, err)
	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "cached", got.Title)
	require.Equal(t, 1, repo.gets, "second read should be served from cache")
	require.Equal(t, hits+1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))

	// update invalidates, the next read goes to the store
	_, err = svc.Update(ctx, p.ID, blog.PostInput{Title: blog.String("fresh")})
	require.NoError(t, err)
	require.False(t, m.Exists("post:"+p.ID))
	got, err = svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "fresh", got.Title)
	require.Equal(t, 2, repo.gets)

	// delete evicts
	require.NoError(t, svc.Delete(ctx, p.ID))
	require.False(t, m.Exists("post:"+p.ID))
	_, err = svc.Get(ctx, p.ID)
	require.ErrorIs(t, err, blog.ErrNotFound)
	require.Equal(t, 3, repo.gets)
}

func TestDeleteWinsOverInFlightRead(t *testing.T) {
	rc, m := newRedisCache(t)
	repo := &pausingRepo{MemoryRepo: repository.NewMemoryRepo()}
	svc := New(repo, WithCache(rc))
	ctx := context.Background()

	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("doomed")})
	require.NoError(t, err)

	res := readAcross(t, svc, repo, p.ID, func() {
		require.NoError(t, svc.Delete(ctx, p.ID))
	})
	require.NoError(t, res.err)
	require.Equal(t, "doomed", res.post.Title)

	require.False(t, m.Exists("post:"+p.ID), "stale read must not refill the cache")
	got, err := svc.Get(ctx, p.ID)
	require.ErrorIs(t, err, blog.ErrNotFound)
	require.Nil(t, got)
}

func TestUpdateWinsOverInFlightRead(t *testing.T) {
	rc, _ := newRedisCache(t)
	repo := &pausingRepo{MemoryRepo: repository.NewMemoryRepo()}
	svc := New(repo, WithCache(rc))
	ctx := context.Background()

	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("old"), Body: blog.String("b")})
	require.NoError(t, err)

	res := readAcross(t, svc, repo, p.ID, func() {
		_, err := svc.Update(ctx, p.ID, blog.PostInput{Title: blog.String("new")})
		require.NoError(t, err)
	})
	require.NoError(t, res.err)
	require.Equal(t, "old", res.post.Title)

	// twice: once from the store, once from the refilled cache
	for i := 0; i < 2; i++ {
		got, err := svc.Get(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, "new", got.Title)
		require.Equal(t, "b", got.Body)
	}
}

func TestBrokenCacheFallsBackToStore(t *testing.T) {
	svc := NewMemoryService(WithCache(brokenCache{}))
	ctx := context.Background()
	p, err := svc.Create(ctx, blog.PostInput{Title: blog.String("x")})
	require.NoError(t, err)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "x", got.Title)

	_, err = svc.Update(ctx, p.ID, blog.PostInput{Title: blog.String("y")})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, p.ID))
}

func TestStoreErrorsPropagateAndAreCounted(t *testing.T) {
	boom := errors.New("connection refused")
	svc := New(failingRepo{err: boom})
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("list", "error"))
	_, err := svc.List(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("list", "error")))

	_, err = svc.Create(ctx, blog.PostInput{})
	require.ErrorIs(t, err, boom)
	_, err = svc.Get(ctx, "id")
	require.ErrorIs(t, err, boom)
	_, err = svc.Update(ctx, "id", blog.PostInput{})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, svc.Delete(ctx, "id"), boom)
}

func TestNotFoundIsCountedSeparately(t *testing.T) {
	svc := NewMemoryService()
	before := testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("delete", "not_found"))
	err := svc.Delete(context.Background(), "64b7f0c2a1b2c3d4e5f60718")
	require.ErrorIs(t, err, blog.ErrNotFound)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("delete", "not_found")))
}
