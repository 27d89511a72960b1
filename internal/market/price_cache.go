package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/logging"
)

// PriceCache is the shared per-symbol ticker cache. Every runner reads
// through it so one tick cadence across many strategies on the same symbol
// costs one upstream call per TTL window.
//
// The in-process map is authoritative. When Redis is enabled it acts as a
// second tier shared across engine instances, with graceful degradation:
// Redis errors only ever cause a fallthrough to the upstream source.
type PriceCache struct {
	source PriceSource
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]priceEntry

	rdb     *redis.Client
	healthy bool
	rmu     sync.RWMutex
}

type priceEntry struct {
	price   float64
	fetched time.Time
}

// NewPriceCache creates the cache over an upstream source.
func NewPriceCache(source PriceSource, ttl time.Duration, redisCfg config.RedisConfig) *PriceCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	pc := &PriceCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]priceEntry),
	}

	if redisCfg.Enabled {
		pc.rdb = redis.NewClient(&redis.Options{
			Addr:         redisCfg.Address,
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pc.rdb.Ping(ctx).Err(); err != nil {
			logging.WithComponent("market").Warn("redis price tier unavailable, running in-process only", "error", err)
		} else {
			pc.healthy = true
			logging.WithComponent("market").Info("redis price tier connected", "address", redisCfg.Address)
		}
	}

	return pc
}

func (pc *PriceCache) redisHealthy() bool {
	pc.rmu.RLock()
	defer pc.rmu.RUnlock()
	return pc.rdb != nil && pc.healthy
}

func (pc *PriceCache) setRedisHealth(ok bool) {
	pc.rmu.Lock()
	pc.healthy = ok
	pc.rmu.Unlock()
}

func redisPriceKey(symbol string) string {
	return fmt.Sprintf("qd:ticker:%s", NormalizeSymbol(symbol))
}

// Price returns the latest price for the symbol, consulting the local TTL
// cache, then Redis, then the upstream source.
func (pc *PriceCache) Price(ctx context.Context, symbol string) (float64, error) {
	key := NormalizeSymbol(symbol)

	pc.mu.Lock()
	if e, ok := pc.entries[key]; ok && time.Since(e.fetched) < pc.ttl {
		pc.mu.Unlock()
		return e.price, nil
	}
	pc.mu.Unlock()

	if pc.redisHealthy() {
		if val, err := pc.rdb.Get(ctx, redisPriceKey(symbol)).Result(); err == nil {
			if p, perr := strconv.ParseFloat(val, 64); perr == nil && p > 0 {
				pc.store(key, p)
				return p, nil
			}
		} else if err != redis.Nil {
			pc.setRedisHealth(false)
		}
	}

	price, err := pc.source.Ticker(ctx, symbol)
	if err != nil {
		// Serve a stale local entry rather than failing the tick outright.
		pc.mu.Lock()
		e, ok := pc.entries[key]
		pc.mu.Unlock()
		if ok && e.price > 0 {
			return e.price, nil
		}
		return 0, err
	}

	pc.Put(ctx, symbol, price)
	return price, nil
}

// Put records a price observation, e.g. from the ticker stream.
func (pc *PriceCache) Put(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}
	key := NormalizeSymbol(symbol)
	pc.store(key, price)

	if pc.redisHealthy() {
		if err := pc.rdb.Set(ctx, redisPriceKey(symbol),
			strconv.FormatFloat(price, 'f', -1, 64), pc.ttl).Err(); err != nil {
			pc.setRedisHealth(false)
		}
	}
}

func (pc *PriceCache) store(key string, price float64) {
	pc.mu.Lock()
	pc.entries[key] = priceEntry{price: price, fetched: time.Now()}
	pc.mu.Unlock()
}

// Close releases the Redis connection if any.
func (pc *PriceCache) Close() {
	if pc.rdb != nil {
		_ = pc.rdb.Close()
	}
}
