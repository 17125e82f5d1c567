package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface. Values are stored as JSON.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes keys matching a glob pattern such as "bb:compute:*".
	DeleteByPattern(ctx context.Context, pattern string) error
	Close() error
}

// Nop never stores anything; every Get is a miss.
type Nop struct{}

func (Nop) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (Nop) Get(context.Context, string, interface{}) error                { return ErrCacheMiss }
func (Nop) Delete(context.Context, ...string) error                       { return nil }
func (Nop) DeleteByPattern(context.Context, string) error                 { return nil }
func (Nop) Close() error                                                  { return nil }
