package streaming

import (
	"encoding/binary"

	"github.com/fsvxavier/odbcengine/protocol"
)

// headerSize mirrors protocol's unexported constant: magic(4) version(2)
// columnCount(2) rowCount(4) payloadSize(4).
const headerSize = 16

// Reassembler re-assembles the framed result buffers a consumer receives
// across repeated stream_fetch calls, per spec.md §4.7: it reads the
// 16-byte header, computes 16+payloadSize, and emits a parsed buffer once
// enough bytes have accumulated. Leftover bytes at Close are a framing
// error.
type Reassembler struct {
	buf []byte
}

// Feed appends a stream_fetch chunk and returns every complete result
// buffer that chunk completed (zero or more; a single chunk may complete
// several small buffers, or an accumulated buffer may span many chunks).
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)
	var out [][]byte
	for {
		if len(r.buf) < headerSize {
			return out, nil
		}
		payloadSize := readPayloadSize(r.buf)
		total := headerSize + payloadSize
		if len(r.buf) < total {
			return out, nil
		}
		out = append(out, append([]byte(nil), r.buf[:total]...))
		r.buf = r.buf[total:]
	}
}

// readPayloadSize reads the payloadSize field (bytes 12-16) without fully
// decoding the buffer, since Feed only needs to know where the frame ends;
// full validation happens when the caller eventually calls protocol.Decode
// on the reassembled buffer.
func readPayloadSize(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[12:16]))
}

// Close reports a framing error if bytes remain that never completed a
// full frame, per spec.md §4.7's close semantics.
func (r *Reassembler) Close() error {
	if len(r.buf) > 0 {
		return protocol.NewFramingError("streaming: leftover bytes at close")
	}
	return nil
}
