// Package engineconfig holds the engine's process-wide and per-connection
// configuration, modeled on the teacher's RWMutex-guarded DefaultConfig.
package engineconfig

import (
	"fmt"
	"sync"
	"time"
)

// PoolConfig configures a connection pool (C3).
type PoolConfig struct {
	MaxSize           int32
	MinIdle           int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	CheckoutTimeout   time.Duration // 0 with Policy=FailFast means "fail immediately"
}

// CacheConfig configures the prepared-statement cache (C5).
type CacheConfig struct {
	MaxEntries int // default 50, per spec §4.5
}

// DefaultCacheConfig returns the spec's default of 50 cached statements.
func DefaultCacheConfig() CacheConfig { return CacheConfig{MaxEntries: 50} }

// WorkerConfig configures the request/response worker (C9).
type WorkerConfig struct {
	DefaultTimeout time.Duration // 30s per spec §4.9; 0 disables the timeout
}

// DefaultWorkerConfig returns the spec's default 30 second request timeout.
func DefaultWorkerConfig() WorkerConfig { return WorkerConfig{DefaultTimeout: 30 * time.Second} }

// ConnectOptions are the per-connection knobs spec §3 names on Connection:
// login timeout, default statement timeout, and an optional result-buffer
// cap.
type ConnectOptions struct {
	ConnectionString    string
	LoginTimeout        time.Duration
	DefaultQueryTimeout time.Duration
	ResultBufferCap     int // 0 means "no cap"
}

// EngineConfig is the process-wide configuration, safe for concurrent use.
// Field access goes through accessor methods so callers never need to know
// whether a read races a concurrent update, mirroring the teacher's
// DefaultConfig pattern (db/postgres/config).
type EngineConfig struct {
	mu sync.RWMutex

	pool   PoolConfig
	cache  CacheConfig
	worker WorkerConfig
}

// NewEngineConfig returns a config seeded with the spec's documented
// defaults.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		pool: PoolConfig{
			MaxSize:           10,
			MinIdle:           0,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   30 * time.Minute,
			HealthCheckPeriod: 5 * time.Minute,
			CheckoutTimeout:   0,
		},
		cache:  DefaultCacheConfig(),
		worker: DefaultWorkerConfig(),
	}
}

func (c *EngineConfig) Pool() PoolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

func (c *EngineConfig) SetPool(p PoolConfig) error {
	if p.MaxSize <= 0 {
		return fmt.Errorf("engineconfig: pool max size must be positive, got %d", p.MaxSize)
	}
	if p.MinIdle < 0 || p.MinIdle > p.MaxSize {
		return fmt.Errorf("engineconfig: pool min idle %d out of range [0, %d]", p.MinIdle, p.MaxSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = p
	return nil
}

func (c *EngineConfig) Cache() CacheConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

func (c *EngineConfig) SetCache(cc CacheConfig) error {
	if cc.MaxEntries <= 0 {
		return fmt.Errorf("engineconfig: cache max entries must be positive, got %d", cc.MaxEntries)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = cc
	return nil
}

func (c *EngineConfig) Worker() WorkerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worker
}

func (c *EngineConfig) SetWorker(wc WorkerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.worker = wc
}

// Validate validates a ConnectOptions before any native call is made,
// per spec §7 ("validation errors fail fast before any native call").
func (o ConnectOptions) Validate() error {
	if o.ConnectionString == "" {
		return fmt.Errorf("engineconfig: connection string must not be empty")
	}
	if o.ResultBufferCap < 0 {
		return fmt.Errorf("engineconfig: result buffer cap must not be negative")
	}
	return nil
}
