// Package streaming implements the streaming executor (C7):
// stream_start -> (stream_fetch)* -> stream_close, in two modes sharing
// the same external contract. Batched mode's "one encoded batch in
// flight" bound is a buffered channel of depth 1 between the background
// fetch goroutine and the chunker, grounded on the teacher's
// copy_optimizer.go CopyOptimizer worker/channel shape (chunked copy-out,
// bounded in-flight buffers) adapted from bulk COPY to cursor-driven
// SELECT streaming.
package streaming

import (
	"context"
	"sync"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/executor"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

// Mode selects how Start produces its encoded result buffer(s), per
// spec.md §4.7.
type Mode int

const (
	// BufferMode runs the query, encodes the entire result buffer in
	// memory up front, and yields it as fixed-size chunks. Memory is
	// bounded on the consumer side only.
	BufferMode Mode = iota
	// BatchedMode fetches up to fetchSize rows per batch from a live
	// cursor, encoding each batch as an independent framed result buffer.
	// Memory is bounded on both sides: the engine keeps at most one
	// encoded batch in flight.
	BatchedMode
)

const defaultFetchSize = 1000

type batchMsg struct {
	data []byte
	err  error
}

// Stream is one open stream_start -> stream_fetch* -> stream_close cycle.
// handleman.Registry.HasOpenStream enforces that at most one Stream is
// open per connection at a time (spec.md §4.7's close-semantics
// invariant); Start checks it before allocating anything.
type Stream struct {
	id   handleman.ID
	api  odbcapi.NativeAPI
	reg  *handleman.Registry
	stmt odbcapi.Handle
	mode Mode

	mu         sync.Mutex
	buf        []byte // current chunk source: the whole buffer (buffer mode) or current batch (batched mode)
	pos        int
	closed     bool
	pendingErr error // a batch error discovered while peeking ahead for hasMore

	batches chan batchMsg // batched mode only, depth 1
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Start runs sql on conn and opens a stream in the given mode. fetchSize
// is batched mode's rows-per-batch (ignored, but accepted, in buffer
// mode); 0 uses the spec default of 1000.
func Start(ctx context.Context, api odbcapi.NativeAPI, reg *handleman.Registry, connID handleman.ID, conn odbcapi.Handle, sql string, mode Mode, fetchSize int) (*Stream, error) {
	if reg.HasOpenStream(connID) {
		return nil, classify.New(classify.Validation, "streaming: a stream is already open on this connection")
	}
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}

	stmt, err := api.AllocStmt(conn)
	if err != nil {
		return nil, classify.Wrap(classify.Query, "streaming: failed to allocate statement", err)
	}
	if err := api.ExecDirect(ctx, stmt, sql); err != nil {
		api.FreeStmt(stmt, true)
		return nil, classify.Wrap(classify.Query, "streaming: query failed", err)
	}

	s := &Stream{api: api, reg: reg, stmt: stmt, mode: mode, stop: make(chan struct{})}

	id, err := reg.RegisterStream(connID, s.closeNative)
	if err != nil {
		api.FreeStmt(stmt, true)
		return nil, classify.Wrap(classify.Query, "streaming: failed to register stream handle", err)
	}
	s.id = id

	switch mode {
	case BufferMode:
		cols, cTypes, err := executor.DescribeColumns(api, stmt)
		if err != nil {
			reg.Drop(handleman.KindStream, id)
			return nil, err
		}
		b := protocol.NewResultBuilder(cols)
		if err := executor.FetchAllRows(api, stmt, cTypes, b); err != nil {
			reg.Drop(handleman.KindStream, id)
			return nil, err
		}
		s.buf = b.Encode()
	case BatchedMode:
		s.batches = make(chan batchMsg, 1)
		s.wg.Add(1)
		go s.runBatches(fetchSize)
	}
	return s, nil
}

// ID is this stream's handleman identifier.
func (s *Stream) ID() handleman.ID { return s.id }

// runBatches is the batched-mode background producer: it fetches up to
// fetchSize rows at a time, encodes each batch as its own framed result
// buffer, and hands it to the chunker over a depth-1 channel: at most one
// encoded batch waits in the channel, and once it is full the producer
// blocks holding the next encoded batch until the chunker takes one.
func (s *Stream) runBatches(fetchSize int) {
	defer s.wg.Done()
	defer close(s.batches)

	cols, cTypes, err := executor.DescribeColumns(s.api, s.stmt)
	if err != nil {
		s.sendBatch(batchMsg{err: err})
		return
	}

	for {
		b := protocol.NewResultBuilder(cols)
		n := 0
		for ; n < fetchSize; n++ {
			hasRow, err := s.api.Fetch(s.stmt)
			if err != nil {
				s.sendBatch(batchMsg{err: classify.Wrap(classify.Query, "streaming: fetch failed", err)})
				return
			}
			if !hasRow {
				break
			}
			row := make(protocol.Row, len(cTypes))
			for i, ct := range cTypes {
				data, isNull, err := s.api.GetData(s.stmt, i+1, ct)
				if err != nil {
					s.sendBatch(batchMsg{err: classify.Wrap(classify.Query, "streaming: get data failed", err)})
					return
				}
				if !isNull {
					row[i] = data
				}
			}
			_ = b.AddRow(row)
		}
		if n == 0 {
			return
		}
		if !s.sendBatch(batchMsg{data: b.Encode()}) {
			return
		}
		if n < fetchSize {
			return
		}
	}
}

// sendBatch delivers msg to the batches channel, or returns false if the
// stream was closed first.
func (s *Stream) sendBatch(msg batchMsg) bool {
	select {
	case s.batches <- msg:
		return true
	case <-s.stop:
		return false
	}
}

// Fetch returns up to maxChunkBytes of the stream's current output,
// reading the next batch (batched mode) or the buffer-mode result once
// its current chunk is exhausted. hasMore is false once both the current
// chunk and any further batches are drained.
func (s *Stream) Fetch(maxChunkBytes int) (data []byte, hasMore bool, err error) {
	if maxChunkBytes <= 0 {
		maxChunkBytes = 1 << 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, classify.New(classify.Validation, "streaming: fetch on a closed stream")
	}
	if s.pendingErr != nil {
		err, s.pendingErr = s.pendingErr, nil
		return nil, false, err
	}

	for s.pos >= len(s.buf) {
		if s.mode == BufferMode {
			return nil, false, nil
		}
		msg, ok := <-s.batches
		if !ok {
			return nil, false, nil
		}
		if msg.err != nil {
			return nil, false, msg.err
		}
		s.buf = msg.data
		s.pos = 0
	}

	end := s.pos + maxChunkBytes
	if end > len(s.buf) {
		end = len(s.buf)
	}
	chunk := s.buf[s.pos:end]
	s.pos = end

	more := s.pos < len(s.buf)
	if !more && s.mode == BatchedMode {
		// The current batch is fully chunked out; block for the next
		// batch (or channel close) now so hasMore reflects reality
		// instead of forcing an extra round-trip that returns no data.
		// The channel's depth-1 bound still caps how far the producer
		// can run ahead of this consumption.
		msg, ok := <-s.batches
		switch {
		case !ok:
			more = false
		case msg.err != nil:
			s.pendingErr = msg.err
			more = true
		default:
			s.buf = msg.data
			s.pos = 0
			more = true
		}
	}
	return chunk, more, nil
}

// closeNative is the handleman Destroy callback: it stops the batched
// background goroutine (if any) and frees the native statement handle.
func (s *Stream) closeNative() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	return s.api.FreeHandle(odbcapi.HandleTypeStmt, s.stmt)
}

// Close ends the stream, freeing its native statement via the handleman
// cascade. A stream must be closed even after a Fetch error, per
// spec.md §4.7.
func (s *Stream) Close() error {
	return s.reg.Drop(handleman.KindStream, s.id)
}
