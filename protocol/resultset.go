package protocol

import (
	"fmt"
)

// Column describes one result-set column's metadata.
type Column struct {
	Type ColumnType
	Name string
}

// Row is one decoded row: nil entries represent SQL NULL.
type Row [][]byte

// ResultSet is the parsed form of a result buffer produced by C6/C7.
type ResultSet struct {
	Columns []Column
	Rows    []Row
}

// ResultBuilder incrementally encodes a result buffer. Columns must be set
// before any row is added.
type ResultBuilder struct {
	columns []Column
	rows    []Row
}

// NewResultBuilder starts a builder for the given column metadata.
func NewResultBuilder(columns []Column) *ResultBuilder {
	return &ResultBuilder{columns: columns}
}

// AddRow appends one row. cells must have exactly len(columns) entries; a
// nil entry encodes SQL NULL.
func (b *ResultBuilder) AddRow(cells Row) error {
	if len(cells) != len(b.columns) {
		return fmt.Errorf("protocol: row has %d cells, want %d", len(cells), len(b.columns))
	}
	b.rows = append(b.rows, cells)
	return nil
}

// Encode produces the complete result buffer per spec §4.1/§6:
//
//	magic(u32) version(u16) columnCount(u16) rowCount(u32) payloadSize(u32)
//	column[columnCount]: odbcType(u16) nameLen(u16) name(utf-8)
//	row[rowCount]: cell[columnCount]
//	cell: nullFlag(u8); if nullFlag=0 then dataLen(u32) data(bytes)
func (b *ResultBuilder) Encode() []byte {
	payload := make([]byte, 0, 256)

	for _, c := range b.columns {
		var buf [4]byte
		byteOrder.PutUint16(buf[0:2], uint16(c.Type))
		byteOrder.PutUint16(buf[2:4], uint16(len(c.Name)))
		payload = append(payload, buf[:]...)
		payload = append(payload, []byte(c.Name)...)
	}

	for _, row := range b.rows {
		for _, cell := range row {
			if cell == nil {
				payload = append(payload, 1)
				continue
			}
			payload = append(payload, 0)
			var lenBuf [4]byte
			byteOrder.PutUint32(lenBuf[:], uint32(len(cell)))
			payload = append(payload, lenBuf[:]...)
			payload = append(payload, cell...)
		}
	}

	out := make([]byte, headerSize+len(payload))
	byteOrder.PutUint32(out[0:4], Magic)
	byteOrder.PutUint16(out[4:6], Version)
	byteOrder.PutUint16(out[6:8], uint16(len(b.columns)))
	byteOrder.PutUint32(out[8:12], uint32(len(b.rows)))
	byteOrder.PutUint32(out[12:16], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Empty encodes the well-formed zero-column, zero-row buffer spec §4.6
// requires for DDL/DML and no-row SELECTs — an empty result is never an
// error.
func Empty() []byte {
	return NewResultBuilder(nil).Encode()
}

// FramingError and VersionError distinguish the two failure modes Decode
// can report, per spec §4.1: a too-short buffer is always a framing error,
// never reported as an out-of-range read; a bad magic is a version error.
type FramingError struct{ msg string }

func (e *FramingError) Error() string { return "protocol: framing error: " + e.msg }

// NewFramingError lets other packages (e.g. streaming's consumer-side
// reassembler) report the same FramingError type Decode returns.
func NewFramingError(msg string) *FramingError { return &FramingError{msg: msg} }

type VersionError struct{ msg string }

func (e *VersionError) Error() string { return "protocol: version error: " + e.msg }

// NewVersionError mirrors NewFramingError for the version-mismatch case.
func NewVersionError(msg string) *VersionError { return &VersionError{msg: msg} }

// Decode parses a result buffer produced by Encode/Empty.
func Decode(buf []byte) (*ResultSet, error) {
	if len(buf) < headerSize {
		return nil, &FramingError{msg: fmt.Sprintf("buffer of %d bytes shorter than header (%d)", len(buf), headerSize)}
	}

	magic := byteOrder.Uint32(buf[0:4])
	if magic != Magic {
		return nil, &VersionError{msg: fmt.Sprintf("bad magic 0x%X", magic)}
	}
	version := byteOrder.Uint16(buf[4:6])
	if version != Version {
		return nil, &VersionError{msg: fmt.Sprintf("unsupported version %d", version)}
	}

	columnCount := byteOrder.Uint16(buf[6:8])
	rowCount := byteOrder.Uint32(buf[8:12])
	payloadSize := byteOrder.Uint32(buf[12:16])

	if uint64(headerSize)+uint64(payloadSize) != uint64(len(buf)) {
		return nil, &FramingError{msg: fmt.Sprintf("buffer length %d != header(%d)+payloadSize(%d)", len(buf), headerSize, payloadSize)}
	}

	cursor := headerSize
	end := headerSize + int(payloadSize)

	need := func(n int) error {
		if cursor+n > end {
			return &FramingError{msg: "truncated payload"}
		}
		return nil
	}

	columns := make([]Column, 0, columnCount)
	for i := uint16(0); i < columnCount; i++ {
		if err := need(4); err != nil {
			return nil, err
		}
		odbcType := byteOrder.Uint16(buf[cursor : cursor+2])
		nameLen := byteOrder.Uint16(buf[cursor+2 : cursor+4])
		cursor += 4
		if err := need(int(nameLen)); err != nil {
			return nil, err
		}
		name := string(buf[cursor : cursor+int(nameLen)])
		cursor += int(nameLen)
		columns = append(columns, Column{Type: ColumnType(odbcType), Name: name})
	}

	rows := make([]Row, 0, rowCount)
	for r := uint32(0); r < rowCount; r++ {
		row := make(Row, columnCount)
		for c := uint16(0); c < columnCount; c++ {
			if err := need(1); err != nil {
				return nil, err
			}
			nullFlag := buf[cursor]
			cursor++
			if nullFlag != 0 {
				row[c] = nil
				continue
			}
			if err := need(4); err != nil {
				return nil, err
			}
			dataLen := byteOrder.Uint32(buf[cursor : cursor+4])
			cursor += 4
			if err := need(int(dataLen)); err != nil {
				return nil, err
			}
			cell := make([]byte, dataLen)
			copy(cell, buf[cursor:cursor+int(dataLen)])
			cursor += int(dataLen)
			row[c] = cell
		}
		rows = append(rows, row)
	}

	if cursor != end {
		return nil, &FramingError{msg: "trailing bytes after last row"}
	}

	return &ResultSet{Columns: columns, Rows: rows}, nil
}
