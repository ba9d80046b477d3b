// Package worker implements the request/response worker (C9): a single
// long-lived goroutine that owns all C1-C8 state, processing one request at
// a time while per-request work (C8 parallel insert, batched streaming) may
// itself fan out onto other goroutines, per spec.md §4.9.
//
// Request correlation uses a monotonically increasing ULID per request,
// grounded on the teacher's uid/ulid Provider (uid/ulid/provider.go): a
// mutex-guarded ulid.Monotonic entropy source rather than a bare counter.
//
// The interceptor pipeline is modeled on the teacher's hook manager
// (db/postgres/interfaces/hooks.go): interceptors are data (name plus
// before/after funcs) invoked around dispatch, not a base class callers
// must extend.
package worker

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/engineconfig"
	"github.com/fsvxavier/odbcengine/telemetry/logger"
	"github.com/fsvxavier/odbcengine/telemetry/metrics"
)

// RequestID correlates a Submit call with its eventual Response. It sorts
// lexically in submission order, per spec.md §4.9's "monotonically
// increasing requestId".
type RequestID = ulid.ULID

// Request is one unit of work submitted to the worker. Run executes the
// actual native-API call(s); Timeout overrides engineconfig's default
// (nil means "use the worker's default", a non-nil zero or negative
// duration disables the timeout entirely, per spec.md §4.9).
type Request struct {
	Op      string
	Timeout *time.Duration
	Run     func(ctx context.Context) (interface{}, error)
}

// Response is what Submit eventually returns, correlated by ID.
type Response struct {
	ID    RequestID
	Value interface{}
	Err   error
}

// InterceptContext is the data an Interceptor's hooks observe around one
// request's dispatch.
type InterceptContext struct {
	ID        RequestID
	Op        string
	StartTime time.Time
	Duration  time.Duration
	Err       error
}

// Interceptor is a named pair of hooks invoked around every request
// dispatch. Interceptors compose as a plain slice (data), not inheritance.
type Interceptor struct {
	Name   string
	Before func(*InterceptContext)
	After  func(*InterceptContext)
}

type queuedRequest struct {
	id      RequestID
	req     Request
	timeout time.Duration
}

// Worker is the single long-lived request processor. Create with New,
// start its loop with Start, and stop it with Stop; Stop fails every
// still-pending request with classify.WorkerTerminated, per spec.md §4.9's
// crash/termination behavior.
type Worker struct {
	defaultTimeout time.Duration
	interceptors   []Interceptor
	log            logger.Logger
	wmetrics       *workerMetrics

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	reqCh chan *queuedRequest
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	pending map[RequestID]chan Response
	closed  bool

	wg sync.WaitGroup
}

type workerMetrics struct {
	requests metrics.Counter
	errors   metrics.Counter
	timeouts metrics.Counter
	latency  metrics.Histogram
}

func newWorkerMetrics(reg metrics.Registry) *workerMetrics {
	return &workerMetrics{
		requests: reg.Counter("odbcengine_worker_requests_total", "total requests processed"),
		errors:   reg.Counter("odbcengine_worker_errors_total", "total requests that returned an error"),
		timeouts: reg.Counter("odbcengine_worker_timeouts_total", "total requests abandoned by the caller on timeout"),
		latency:  reg.Histogram("odbcengine_worker_request_duration_seconds", "request dispatch duration", nil),
	}
}

// New builds a Worker from cfg plus any extra interceptors (applied after
// the built-in logging/metrics pair). Call Start to begin processing.
func New(cfg engineconfig.WorkerConfig, log logger.Logger, mreg metrics.Registry, extra ...Interceptor) *Worker {
	if log == nil {
		log = logger.Noop()
	}
	if mreg == nil {
		mreg = metrics.Noop()
	}
	w := &Worker{
		defaultTimeout: cfg.DefaultTimeout,
		log:            log,
		wmetrics:       newWorkerMetrics(mreg),
		entropy:        ulid.Monotonic(rand.Reader, 0),
		reqCh:          make(chan *queuedRequest),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		pending:        map[RequestID]chan Response{},
	}
	w.interceptors = append(w.interceptors, Interceptor{
		Name:   "logging",
		Before: func(ic *InterceptContext) { w.log.Debug("worker: dispatching request", logger.String("op", ic.Op)) },
		After: func(ic *InterceptContext) {
			fields := []logger.Field{logger.String("op", ic.Op), logger.Duration("duration", ic.Duration)}
			if ic.Err != nil {
				w.log.Warn("worker: request failed", append(fields, logger.Err(ic.Err))...)
				return
			}
			w.log.Debug("worker: request completed", fields...)
		},
	})
	w.interceptors = append(w.interceptors, Interceptor{
		Name: "metrics",
		After: func(ic *InterceptContext) {
			w.wmetrics.requests.Inc()
			w.wmetrics.latency.Observe(ic.Duration.Seconds())
			if ic.Err != nil {
				w.wmetrics.errors.Inc()
			}
		},
	})
	w.interceptors = append(w.interceptors, extra...)
	return w
}

// Start launches the worker's single processing goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.wg.Done()
	for {
		select {
		case qr := <-w.reqCh:
			w.process(qr)
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) nextID() RequestID {
	w.idMu.Lock()
	defer w.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), w.entropy)
}

func (w *Worker) resolveTimeout(t *time.Duration) time.Duration {
	if t == nil {
		return w.defaultTimeout
	}
	if *t <= 0 {
		return 0
	}
	return *t
}

// Submit enqueues req and blocks until its response arrives, its timeout
// elapses, ctx is done, or the worker terminates. Exactly one of
// {response, RequestTimeout, WorkerTerminated} is ever observed, per
// spec.md §8's worker invariant.
func (w *Worker) Submit(ctx context.Context, req Request) (interface{}, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, classify.New(classify.WorkerTerminated, "worker: worker is not running")
	}
	id := w.nextID()
	ch := make(chan Response, 1)
	w.pending[id] = ch
	w.mu.Unlock()

	timeout := w.resolveTimeout(req.Timeout)
	qr := &queuedRequest{id: id, req: req, timeout: timeout}

	select {
	case w.reqCh <- qr:
	case <-w.done:
		w.dropPending(id)
		return nil, classify.New(classify.WorkerTerminated, "worker: worker terminated before accepting request")
	case <-ctx.Done():
		w.dropPending(id)
		return nil, classify.Wrap(classify.RequestTimeout, "worker: caller context done before dispatch", ctx.Err())
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case resp := <-ch:
		return resp.Value, resp.Err
	case <-timerC:
		w.dropPending(id)
		w.wmetrics.timeouts.Inc()
		return nil, classify.New(classify.RequestTimeout, fmt.Sprintf("worker: request %s timed out after %s", id, timeout))
	case <-ctx.Done():
		w.dropPending(id)
		return nil, classify.Wrap(classify.RequestTimeout, "worker: caller context done while request was pending", ctx.Err())
	case <-w.done:
		w.dropPending(id)
		return nil, classify.New(classify.WorkerTerminated, "worker: worker terminated while request was pending")
	}
}

// dropPending removes id's response channel so a late response from
// process() finds nothing to deliver to and is silently discarded, per
// spec.md §4.9's timeout semantics.
func (w *Worker) dropPending(id RequestID) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *Worker) process(qr *queuedRequest) {
	ic := &InterceptContext{ID: qr.id, Op: qr.req.Op, StartTime: time.Now()}
	for _, i := range w.interceptors {
		if i.Before != nil {
			i.Before(ic)
		}
	}

	runCtx := context.Background()
	var cancel context.CancelFunc
	if qr.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, qr.timeout)
	}
	val, err := qr.req.Run(runCtx)
	if cancel != nil {
		cancel()
	}

	ic.Duration = time.Since(ic.StartTime)
	ic.Err = err
	for _, i := range w.interceptors {
		if i.After != nil {
			i.After(ic)
		}
	}

	w.deliver(qr.id, Response{ID: qr.id, Value: val, Err: err})
}

// deliver hands resp to id's pending channel if the caller is still
// waiting; a caller that already timed out has removed its entry, so the
// late response is dropped here rather than blocking forever.
func (w *Worker) deliver(id RequestID, resp Response) {
	w.mu.Lock()
	ch, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
}

// Stop ends the processing loop and immediately fails every pending
// request — including one currently in flight — with
// classify.WorkerTerminated, rather than waiting for an in-flight native
// call to return: a terminated worker may never come back. The in-flight
// call's eventual result, if any, is dropped by deliver the same way a
// caller's own timeout drops a late response. Safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	remaining := w.pending
	w.pending = map[RequestID]chan Response{}
	w.mu.Unlock()

	close(w.stop)
	for id, ch := range remaining {
		ch <- Response{ID: id, Err: classify.New(classify.WorkerTerminated, "worker: worker terminated with request still pending")}
	}
	// Reap the processing goroutine in the background; it may still be
	// blocked inside an in-flight Run this call just declared terminated.
	go w.wg.Wait()
}
