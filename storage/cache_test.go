package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasktracker/domain"
	"tasktracker/internal/consts"
)

type stubReferences struct {
	categoriesFn func(ctx context.Context) ([]domain.Category, error)
	prioritiesFn func(ctx context.Context) ([]domain.Priority, error)
}

func (s *stubReferences) Categories(ctx context.Context) ([]domain.Category, error) {
	if s.categoriesFn == nil {
		return nil, errors.New("unexpected Categories call")
	}
	return s.categoriesFn(ctx)
}

func (s *stubReferences) Priorities(ctx context.Context) ([]domain.Priority, error) {
	if s.prioritiesFn == nil {
		return nil, errors.New("unexpected Priorities call")
	}
	return s.prioritiesFn(ctx)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestReferenceCacheCategoriesMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := []domain.Category{{ID: 1, Name: "Development"}, {ID: 2, Name: "Design"}}

	var calls int
	cache := NewReferenceCache(&stubReferences{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			calls++
			return append([]domain.Category(nil), expected...), nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		cats, err := cache.Categories(ctx)
		if err != nil {
			t.Fatalf("categories: %v", err)
		}
		if !reflect.DeepEqual(cats, expected) {
			t.Fatalf("unexpected categories: %#v", cats)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(consts.CategoriesCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestReferenceCacheLookupByID(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewReferenceCache(&stubReferences{
		prioritiesFn: func(ctx context.Context) ([]domain.Priority, error) {
			return []domain.Priority{{ID: 1, Level: domain.PriorityLow}, {ID: 4, Level: domain.PriorityUrgent}}, nil
		},
	}, client, time.Minute)

	p, err := cache.GetPriority(context.Background(), 4)
	if err != nil {
		t.Fatalf("get priority: %v", err)
	}
	if p == nil || p.Level != domain.PriorityUrgent {
		t.Fatalf("unexpected priority: %#v", p)
	}
	p, err = cache.GetPriority(context.Background(), 2)
	if err != nil || p != nil {
		t.Fatalf("expected nil for unknown id, got %#v, %v", p, err)
	}
}

func TestReferenceCacheDropsCorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(consts.CategoriesCacheKey, "not-json"); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	var calls int
	cache := NewReferenceCache(&stubReferences{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			calls++
			return []domain.Category{{ID: 1, Name: "Testing"}}, nil
		},
	}, client, time.Minute)

	cats, err := cache.Categories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 1 || calls != 1 {
		t.Fatalf("expected backend fallback, got %#v after %d calls", cats, calls)
	}
	got, err := mr.Get(consts.CategoriesCacheKey)
	if err != nil || got == "not-json" {
		t.Fatalf("corrupt entry not replaced: %q %v", got, err)
	}
}

func TestReferenceCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	cache := NewReferenceCache(&stubReferences{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			return []domain.Category{{ID: 1, Name: "Design"}}, nil
		},
	}, client, time.Minute)
	cats, err := cache.Categories(context.Background())
	if err != nil || len(cats) != 1 {
		t.Fatalf("expected backend result, got %#v, %v", cats, err)
	}
}

func TestReferenceCacheZeroTTLSkipsStore(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewReferenceCache(&stubReferences{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			return []domain.Category{{ID: 1, Name: "Design"}}, nil
		},
	}, client, 0)
	if _, err := cache.Categories(context.Background()); err != nil {
		t.Fatalf("categories: %v", err)
	}
	if mr.Exists(consts.CategoriesCacheKey) {
		t.Fatalf("zero ttl must not populate the cache")
	}
}

func TestReferenceCacheInvalidate(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewReferenceCache(&stubReferences{
		categoriesFn: func(ctx context.Context) ([]domain.Category, error) {
			return []domain.Category{{ID: 1, Name: "Design"}}, nil
		},
	}, client, time.Minute)
	if _, err := cache.Categories(context.Background()); err != nil {
		t.Fatalf("categories: %v", err)
	}
	cache.Invalidate(context.Background())
	if mr.Exists(consts.CategoriesCacheKey) {
		t.Fatalf("invalidate left the key behind")
	}
}

func TestSeedWithCacheDropsListsCachedBeforeSeeding(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	st := openTestStore(t)
	cache := NewReferenceCache(st, client, time.Hour)

	before, err := cache.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("expected an empty store, got %v", before)
	}

	if err := SeedWithCache(ctx, st, cache, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	after, err := cache.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(after) != len(DefaultCategories) {
		t.Fatalf("expected %d categories after seeding, got %v", len(DefaultCategories), after)
	}
	priorities, err := cache.Priorities(ctx)
	if err != nil || len(priorities) != 4 {
		t.Fatalf("expected seeded priorities, got %v %v", priorities, err)
	}

	if err := SeedWithCache(ctx, st, nil, time.Now()); err != nil {
		t.Fatalf("seed without cache: %v", err)
	}
}
