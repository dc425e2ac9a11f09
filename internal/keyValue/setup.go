package keyValue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is a string key/value store with per-key expiry. Missing or expired
// keys read as "".
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expires time.Duration) error
	// SetNX stores the value only if the key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, expires time.Duration) (bool, error)
}

type value struct {
	value   string
	expires time.Time
}

// Local keeps keys in process memory, used when running self-contained.
type Local struct {
	mutex   sync.RWMutex
	hashmap map[string]value
	sugar   *zap.SugaredLogger
	now     func() time.Time
}

func NewLocal(sugar *zap.SugaredLogger) *Local {
	return &Local{
		hashmap: make(map[string]value),
		sugar:   sugar,
		now:     time.Now,
	}
}

// Run deletes expired keys once a minute until ctx is done.
func (l *Local) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Local) sweep() {
	now := l.now()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	for key, v := range l.hashmap {
		if v.expires.Before(now) {
			delete(l.hashmap, key)
		}
	}
}

func (l *Local) live(key string) (value, bool) {
	v, exists := l.hashmap[key]
	if !exists || v.expires.Before(l.now()) {
		return value{}, false
	}
	return v, true
}

func (l *Local) Get(_ context.Context, key string) (string, error) {
	l.sugar.Debugf("Getting value of key [%s] from hashmap", key)

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	v, _ := l.live(key)
	return v.value, nil
}

func (l *Local) GetDel(_ context.Context, key string) (string, error) {
	l.sugar.Debugf("Getting and deleting value of key [%s] from hashmap", key)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	v, _ := l.live(key)
	delete(l.hashmap, key)
	return v.value, nil
}

func (l *Local) Set(_ context.Context, key string, v string, expires time.Duration) error {
	l.sugar.Debugf("Setting value of key [%s] in hashmap", key)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.hashmap[key] = value{v, l.now().Add(expires)}
	return nil
}

func (l *Local) SetNX(_ context.Context, key string, v string, expires time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, exists := l.live(key); exists {
		return false, nil
	}

	l.hashmap[key] = value{v, l.now().Add(expires)}
	return true, nil
}

// Redis shares keys between processes.
type Redis struct {
	client *redis.Client
	sugar  *zap.SugaredLogger
}

func NewRedis(client *redis.Client, sugar *zap.SugaredLogger) *Redis {
	return &Redis{client: client, sugar: sugar}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	r.sugar.Debugf("Getting value of key [%s] from redis", key)

	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *Redis) GetDel(ctx context.Context, key string) (string, error) {
	r.sugar.Debugf("Getting and deleting value of key [%s] from redis", key)

	v, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, v string, expires time.Duration) error {
	r.sugar.Debugf("Setting value of key [%s] in redis", key)
	return r.client.Set(ctx, key, v, expires).Err()
}

func (r *Redis) SetNX(ctx context.Context, key string, v string, expires time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, v, expires).Result()
}
