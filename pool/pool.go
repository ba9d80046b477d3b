// Package pool implements the bounded connection pool (C3): one pool per
// connection identity, validated checkout with a configurable fail-fast or
// wait policy, and a liveness probe on checkout. Lifecycle accounting
// (closed flag, metrics, graceful Close) is modeled on the teacher's pgx
// Pool (db/postgres/providers/pgx/pool.go): an atomic closed flag guarding
// double-close, a background health-check goroutine, and a metrics struct
// of telemetry/metrics counters and gauges.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/engineconfig"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/telemetry/logger"
	"github.com/fsvxavier/odbcengine/telemetry/metrics"
)

// CheckoutPolicy selects what Checkout does when the pool is exhausted.
type CheckoutPolicy int

const (
	// FailFast returns an error immediately when no connection is
	// available and the pool is at max size. This is the spec's default.
	FailFast CheckoutPolicy = iota
	// Wait blocks until a connection is released or ctx is done.
	Wait
)

// Identity is a pool's key: server:port:uid extracted from a connection
// string, ignoring the database attribute, per spec.md §4.2. Two
// connection strings differing only in database share a pool.
type Identity string

// ParseIdentity extracts the pool identity from an ODBC connection string
// of the form "key1=val1;key2=val2;...". Recognized keys are matched
// case-insensitively; DATABASE/DB/DBNAME is deliberately excluded.
func ParseIdentity(connectionString string) Identity {
	var server, port, uid string
	for _, part := range strings.Split(connectionString, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		switch key {
		case "SERVER", "HOST", "ADDRESS":
			server = val
		case "PORT":
			port = val
		case "UID", "USER", "USERNAME":
			uid = val
		}
	}
	return Identity(fmt.Sprintf("%s:%s:%s", server, port, uid))
}

// Dialer opens a new native connection for a pool member. Supplied by the
// caller (the engine facade) so Pool stays independent of how connection
// strings are built per member.
type Dialer func(ctx context.Context) (odbcapi.Handle, error)

// Config bundles the knobs Pool needs beyond engineconfig.PoolConfig.
type Config struct {
	engineconfig.PoolConfig
	Policy CheckoutPolicy
}

type member struct {
	conn    handleman.ID
	handle  odbcapi.Handle
	idle    bool
	created time.Time
}

// Pool is a bounded set of native connections sharing one Identity.
type Pool struct {
	identity Identity
	cfg      Config
	api      odbcapi.NativeAPI
	reg      *handleman.Registry
	env      handleman.ID
	dial     Dialer
	id       handleman.ID
	log      logger.Logger
	metrics  *poolMetrics

	mu      sync.Mutex
	cond    *sync.Cond
	members map[handleman.ID]*member
	closed  int32

	stopHealth chan struct{}
	wg         sync.WaitGroup
}

type poolMetrics struct {
	checkouts   metrics.Counter
	checkoutErr metrics.Counter
	released    metrics.Counter
	discarded   metrics.Counter
	size        metrics.Gauge
	idle        metrics.Gauge
}

func newPoolMetrics(reg metrics.Registry, identity Identity) *poolMetrics {
	label := string(identity)
	return &poolMetrics{
		checkouts:   reg.Counter("odbcengine_pool_checkouts_total", "total successful checkouts", label),
		checkoutErr: reg.Counter("odbcengine_pool_checkout_errors_total", "total failed checkouts", label),
		released:    reg.Counter("odbcengine_pool_released_total", "total connections released", label),
		discarded:   reg.Counter("odbcengine_pool_discarded_total", "total dead connections discarded on checkout", label),
		size:        reg.Gauge("odbcengine_pool_size", "current pool size", label),
		idle:        reg.Gauge("odbcengine_pool_idle", "current idle connections", label),
	}
}

// New creates a pool for identity, registering it with reg under env (the
// process-wide environment handle every pooled connection is a child of).
// Connections are opened lazily on first checkout; health checks run every
// cfg.HealthCheckPeriod if non-zero.
func New(identity Identity, cfg Config, api odbcapi.NativeAPI, reg *handleman.Registry, env handleman.ID, dial Dialer, log logger.Logger, mreg metrics.Registry) *Pool {
	if log == nil {
		log = logger.Noop()
	}
	if mreg == nil {
		mreg = metrics.Noop()
	}
	p := &Pool{
		identity:   identity,
		cfg:        cfg,
		api:        api,
		reg:        reg,
		env:        env,
		dial:       dial,
		id:         reg.RegisterPool(),
		log:        log.With(logger.String("pool", string(identity))),
		metrics:    newPoolMetrics(mreg, identity),
		members:    map[handleman.ID]*member{},
		stopHealth: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	if cfg.HealthCheckPeriod > 0 {
		p.wg.Add(1)
		go p.runHealthChecks()
	}
	return p
}

// ID is this pool's handleman identifier.
func (p *Pool) ID() handleman.ID { return p.id }

func (p *Pool) isClosed() bool { return atomic.LoadInt32(&p.closed) == 1 }

// Checkout hands out a live connection, opening a new one if under max and
// none are idle. Under FailFast, returns an error immediately once the pool
// is at max size and no idle member is available. Under Wait, blocks until
// a member is released, the context is done, or cfg.CheckoutTimeout elapses.
func (p *Pool) Checkout(ctx context.Context) (handleman.ID, odbcapi.Handle, error) {
	if p.isClosed() {
		return 0, 0, classify.New(classify.Connection, "pool: checkout from closed pool")
	}

	if p.cfg.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CheckoutTimeout)
		defer cancel()
	}

	p.mu.Lock()
	for {
		for id, m := range p.members {
			if m.idle {
				m.idle = false
				p.mu.Unlock()
				if !p.probe(ctx, m.handle) {
					p.discard(id)
					p.mu.Lock()
					continue
				}
				p.markCheckedOut(id)
				p.metrics.checkouts.Inc()
				p.updateGauges()
				return id, m.handle, nil
			}
		}
		if int32(len(p.members)) < p.cfg.MaxSize {
			p.mu.Unlock()
			id, h, err := p.open(ctx)
			if err != nil {
				p.metrics.checkoutErr.Inc()
				return 0, 0, err
			}
			p.markCheckedOut(id)
			p.metrics.checkouts.Inc()
			p.updateGauges()
			return id, h, nil
		}
		if p.cfg.Policy == FailFast {
			p.mu.Unlock()
			p.metrics.checkoutErr.Inc()
			return 0, 0, classify.New(classify.Connection, "pool: exhausted, fail-fast policy in effect")
		}
		waitDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-waitDone:
			}
		}()
		p.cond.Wait()
		close(waitDone)
		if ctx.Err() != nil {
			p.mu.Unlock()
			p.metrics.checkoutErr.Inc()
			return 0, 0, classify.Wrap(classify.RequestTimeout, "pool: checkout wait timed out", ctx.Err())
		}
	}
}

func (p *Pool) open(ctx context.Context) (handleman.ID, odbcapi.Handle, error) {
	h, err := p.dial(ctx)
	if err != nil {
		return 0, 0, classify.Wrap(classify.Connection, "pool: failed to open connection", err)
	}
	id, err := p.reg.RegisterConnection(p.env, func() error { return p.api.Disconnect(h) })
	if err != nil {
		return 0, 0, classify.Wrap(classify.Connection, "pool: failed to register opened connection", err)
	}
	p.mu.Lock()
	p.members[id] = &member{conn: id, handle: h, created: timeNow()}
	if err := p.reg.AttachPoolConnection(p.id, id); err != nil {
		p.log.Warn("pool: failed to attach member to registry", logger.Err(err))
	}
	p.mu.Unlock()
	return id, h, nil
}

func (p *Pool) markCheckedOut(id handleman.ID) {
	if err := p.reg.MarkCheckedOut(p.id, id); err != nil {
		p.log.Warn("pool: failed to mark checkout", logger.Err(err))
	}
}

// probe performs the liveness check spec.md §4.3 requires on checkout
// ("SELECT 1 or equivalent"); failures here are expected (dead idle
// connections) and not logged as errors.
func (p *Pool) probe(ctx context.Context, h odbcapi.Handle) bool {
	dead, err := p.api.GetConnectAttr(h, odbcapi.ConnAttrConnectionDead)
	if err != nil {
		return true // driver doesn't support the attribute; assume alive
	}
	return dead == 0
}

func (p *Pool) discard(id handleman.ID) {
	p.mu.Lock()
	_, ok := p.members[id]
	if ok {
		delete(p.members, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.metrics.discarded.Inc()
	_ = p.reg.DetachPoolConnection(p.id, id)
	// Drop (not a direct Disconnect) keeps handleman the sole owner of the
	// native handle's lifetime, same as any other connection teardown.
	if err := p.reg.Drop(handleman.KindConnection, id); err != nil {
		p.log.Warn("pool: failed to drop discarded connection", logger.Err(err))
	}
}

// Release returns a checked-out connection to the idle set.
func (p *Pool) Release(id handleman.ID) {
	p.mu.Lock()
	if m, ok := p.members[id]; ok {
		m.idle = true
	}
	p.mu.Unlock()
	if err := p.reg.MarkReleased(p.id, id); err != nil {
		p.log.Warn("pool: failed to mark release", logger.Err(err))
	}
	p.metrics.released.Inc()
	p.updateGauges()
	p.cond.Broadcast()
}

// State reports (size, idle), satisfying the invariant idle+in_use==size.
func (p *Pool) State() (size, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		size++
		if m.idle {
			idle++
		}
	}
	return size, idle
}

func (p *Pool) updateGauges() {
	size, idle := p.State()
	p.metrics.size.Set(float64(size))
	p.metrics.idle.Set(float64(idle))
}

func (p *Pool) runHealthChecks() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var toCheck []handleman.ID
	for id, m := range p.members {
		if m.idle {
			toCheck = append(toCheck, id)
		}
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range toCheck {
		p.mu.Lock()
		m, ok := p.members[id]
		p.mu.Unlock()
		if !ok {
			continue
		}
		if !p.probe(ctx, m.handle) {
			p.discard(id)
		}
	}
}

// Close destroys every internal connection via the handle manager, which
// refuses if any member is still checked out.
func (p *Pool) Close() error {
	if p.isClosed() {
		return nil
	}
	// Drop first: if members are still checked out, this fails and Close
	// can be retried once they're released, rather than wedging the pool
	// in a half-closed state.
	if err := p.reg.Drop(handleman.KindPool, p.id); err != nil {
		return err
	}
	if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		close(p.stopHealth)
		p.wg.Wait()
	}
	return nil
}

var timeNow = time.Now
