// Package engine is the top-level facade (§1 NEW): it wires C1-C10 plus
// the ambient stack into the Go-package API surface a caller actually
// imports, standing in for the C-ABI surface spec.md §6 describes for the
// cgo/FFI rendition of this engine. A Session owns the process-wide
// environment handle, one connection pool per pool.Identity, the shared
// prepared-statement cache, and the request/response worker; Connection
// is the per-connection handle a caller checks out from it.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/engineconfig"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/pool"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/stmtcache"
	"github.com/fsvxavier/odbcengine/telemetry/logger"
	"github.com/fsvxavier/odbcengine/telemetry/metrics"
	"github.com/fsvxavier/odbcengine/worker"
)

// Session is the process-wide engine instance: one native environment
// handle, a pool per distinct pool.Identity, a shared statement cache, and
// the single long-lived worker every request is dispatched through.
type Session struct {
	api    odbcapi.NativeAPI
	cfg    *engineconfig.EngineConfig
	log    logger.Logger
	mreg   metrics.Registry
	reg    *handleman.Registry
	envID  handleman.ID
	env    odbcapi.Handle
	cache  *stmtcache.Cache
	Worker *worker.Worker

	poolsMu sync.Mutex
	pools   map[pool.Identity]*pool.Pool
}

// Open allocates the process-wide environment handle and starts the
// request worker. cfg/log/mreg may be nil: cfg defaults to
// engineconfig.NewEngineConfig(), log/mreg default to their Noop
// implementations, per the teacher's "never require a sink" convention.
func Open(api odbcapi.NativeAPI, cfg *engineconfig.EngineConfig, log logger.Logger, mreg metrics.Registry) (*Session, error) {
	if cfg == nil {
		cfg = engineconfig.NewEngineConfig()
	}
	if log == nil {
		log = logger.Noop()
	}
	if mreg == nil {
		mreg = metrics.Noop()
	}
	log = log.With(logger.String("session_id", uuid.NewString()))

	env, err := api.AllocEnv()
	if err != nil {
		return nil, classify.Wrap(classify.EnvironmentNotInitialized, "engine: failed to allocate environment", err)
	}

	reg := handleman.New()
	reg.OnCascadeWarning(func(kind handleman.Kind, id handleman.ID, cause error) {
		log.Warn("engine: cascade drop failed", logger.String("kind", kind.String()), logger.Uint64("id", uint64(id)), logger.Err(cause))
	})
	envID := reg.RegisterEnv(func() error { return api.FreeHandle(odbcapi.HandleTypeEnv, env) })

	w := worker.New(cfg.Worker(), log, mreg)
	w.Start()

	return &Session{
		api:    api,
		cfg:    cfg,
		log:    log,
		mreg:   mreg,
		reg:    reg,
		envID:  envID,
		env:    env,
		cache:  stmtcache.New(cfg.Cache().MaxEntries, mreg),
		Worker: w,
		pools:  map[pool.Identity]*pool.Pool{},
	}, nil
}

// poolFor returns the pool for identity, creating it lazily on first use.
func (s *Session) poolFor(identity pool.Identity, opts engineconfig.ConnectOptions) *pool.Pool {
	s.poolsMu.Lock()
	defer s.poolsMu.Unlock()
	if p, ok := s.pools[identity]; ok {
		return p
	}
	dial := func(ctx context.Context) (odbcapi.Handle, error) {
		conn, err := s.api.AllocConn(s.env)
		if err != nil {
			return 0, err
		}
		timeoutMs := int(opts.LoginTimeout.Milliseconds())
		if err := s.api.Connect(conn, opts.ConnectionString, timeoutMs); err != nil {
			s.api.FreeHandle(odbcapi.HandleTypeDBC, conn)
			return 0, err
		}
		return conn, nil
	}
	cfg := pool.Config{PoolConfig: s.cfg.Pool(), Policy: pool.FailFast}
	p := pool.New(identity, cfg, s.api, s.reg, s.envID, dial, s.log, s.mreg)
	s.pools[identity] = p
	return p
}

// Connect checks out (or opens) a pooled connection per spec.md §4.2/§4.3:
// the pool is selected by identity (server:port:uid, excluding database),
// so two connection strings differing only in database share a pool.
func (s *Session) Connect(ctx context.Context, opts engineconfig.ConnectOptions) (*Connection, error) {
	if err := opts.Validate(); err != nil {
		return nil, classify.Wrap(classify.Validation, "engine: invalid connect options", err)
	}
	identity := pool.ParseIdentity(opts.ConnectionString)
	p := s.poolFor(identity, opts)

	connID, handle, err := p.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	return &Connection{
		session:             s,
		pool:                p,
		id:                  connID,
		handle:              handle,
		defaultQueryTimeout: opts.DefaultQueryTimeout,
		defaultResultCap:    opts.ResultBufferCap,
	}, nil
}

// Close tears down every pool and the worker, then cascades the
// environment handle, per spec.md §9's cascade-with-warning teardown
// policy.
func (s *Session) Close() error {
	s.Worker.Stop()

	s.poolsMu.Lock()
	pools := make([]*pool.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.poolsMu.Unlock()
	for _, p := range pools {
		_ = p.Close()
	}

	s.reg.Teardown()
	return nil
}
