// Package bulk implements the bulk insert engine (C8): array-bound insert
// against a columnar wire layout, and a parallel variant that splits the
// row range across workers each checking out a pool connection, modeled on
// the teacher's CopyOptimizer worker-pool shape
// (db/postgres/providers/pgx/copy_optimizer.go) adapted from bulk COPY to
// array-bound INSERT.
package bulk

import (
	"encoding/binary"
	"fmt"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/protocol"
)

// defaultBatchSize is the array-bind group size spec.md §4.8 names as the
// default when the caller doesn't request one.
const defaultBatchSize = 1000

var byteOrder = binary.LittleEndian

// ColumnSchema describes one column of a bulk-insert target: its wire
// type, a fixed byte width every array slot is padded or truncated to, and
// whether NULL is allowed. Type reuses protocol.ParamTag (minus
// ParamTagNull, which has no meaning as a column's own type) since bulk
// cells carry exactly the same five value shapes a bound parameter does.
type ColumnSchema struct {
	Name     string
	Type     protocol.ParamTag
	Nullable bool
	MaxLen   uint32
}

// Cell is one column's value for one row, as supplied to Builder.AddRow.
type Cell struct {
	Null  bool
	Value []byte
}

// Buffer is the decoded form of the columnar data buffer spec.md §4.8
// describes: per-column, per-row fixed-width slots plus a null bitmap for
// nullable columns.
type Buffer struct {
	Table    string
	Columns  []ColumnSchema
	RowCount int
	Nulls    [][]bool   // Nulls[col][row]
	Data     [][][]byte // Data[col][row], each exactly Columns[col].MaxLen bytes
}

// Builder incrementally assembles a Buffer, validating each row against its
// column schema as it's added rather than deferring validation to Encode.
type Builder struct {
	table   string
	columns []ColumnSchema
	nulls   [][]bool
	data    [][][]byte
}

// NewBuilder starts a builder for table with the given column schema.
func NewBuilder(table string, columns []ColumnSchema) (*Builder, error) {
	if table == "" {
		return nil, classify.New(classify.Validation, "bulk: table name must not be empty")
	}
	if len(columns) == 0 {
		return nil, classify.New(classify.Validation, "bulk: column schema must not be empty")
	}
	for _, c := range columns {
		if c.Name == "" {
			return nil, classify.New(classify.Validation, "bulk: column name must not be empty")
		}
		if c.MaxLen == 0 {
			return nil, classify.New(classify.Validation, fmt.Sprintf("bulk: column %q must have a non-zero maxLen", c.Name))
		}
	}
	return &Builder{
		table:   table,
		columns: columns,
		nulls:   make([][]bool, len(columns)),
		data:    make([][][]byte, len(columns)),
	}, nil
}

// AddRow appends one row. A NULL cell in a non-nullable column is a
// validation error at build time, per spec.md §4.8; a NULL cell in a
// nullable column sets the row's bitmap bit and stores a zeroed slot.
func (b *Builder) AddRow(cells []Cell) error {
	if len(cells) != len(b.columns) {
		return classify.New(classify.Validation, fmt.Sprintf("bulk: row has %d cells, want %d", len(cells), len(b.columns)))
	}
	for i, cell := range cells {
		col := b.columns[i]
		if cell.Null {
			if !col.Nullable {
				return classify.New(classify.Validation, fmt.Sprintf("bulk: column %q is not nullable", col.Name))
			}
			b.nulls[i] = append(b.nulls[i], true)
			b.data[i] = append(b.data[i], make([]byte, col.MaxLen))
			continue
		}
		b.nulls[i] = append(b.nulls[i], false)
		b.data[i] = append(b.data[i], padOrTruncate(cell.Value, col.MaxLen))
	}
	return nil
}

func padOrTruncate(v []byte, width uint32) []byte {
	out := make([]byte, width)
	copy(out, v)
	return out
}

// Build finalizes the Buffer. The builder remains usable afterward; further
// AddRow calls extend a fresh snapshot, not the one already returned.
func (b *Builder) Build() *Buffer {
	rowCount := 0
	if len(b.columns) > 0 {
		rowCount = len(b.nulls[0])
	}
	nulls := make([][]bool, len(b.columns))
	data := make([][][]byte, len(b.columns))
	for i := range b.columns {
		nulls[i] = append([]bool(nil), b.nulls[i]...)
		data[i] = append([][]byte(nil), b.data[i]...)
	}
	return &Buffer{
		Table:    b.table,
		Columns:  append([]ColumnSchema(nil), b.columns...),
		RowCount: rowCount,
		Nulls:    nulls,
		Data:     data,
	}
}

// Encode produces the wire layout spec.md §4.8 defines:
//
//	tableNameLen(u32) tableName columnCount(u32)
//	column[columnCount]: nameLen(u32) name type(u8) nullable(u8) maxLen(u32)
//	rowCount(u32)
//	column[columnCount]: [if nullable: nullBitmap(ceil(rowCount/8) bytes)] then rowCount fixed-width entries
func (buf *Buffer) Encode() []byte {
	out := make([]byte, 0, 256)
	out = appendU32(out, uint32(len(buf.Table)))
	out = append(out, buf.Table...)
	out = appendU32(out, uint32(len(buf.Columns)))

	for _, c := range buf.Columns {
		out = appendU32(out, uint32(len(c.Name)))
		out = append(out, c.Name...)
		out = append(out, byte(c.Type))
		if c.Nullable {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = appendU32(out, c.MaxLen)
	}

	out = appendU32(out, uint32(buf.RowCount))

	for ci, c := range buf.Columns {
		if c.Nullable {
			bitmap := make([]byte, (buf.RowCount+7)/8)
			for r, isNull := range buf.Nulls[ci] {
				if isNull {
					bitmap[r/8] |= 1 << uint(r%8)
				}
			}
			out = append(out, bitmap...)
		}
		for r := 0; r < buf.RowCount; r++ {
			out = append(out, buf.Data[ci][r]...)
		}
	}
	return out
}

// Decode parses a buffer produced by Encode.
func Decode(raw []byte) (*Buffer, error) {
	r := &reader{buf: raw}

	tableLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	table, err := r.bytes(int(tableLen))
	if err != nil {
		return nil, err
	}
	columnCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnSchema, columnCount)
	for i := range columns {
		nameLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		typeByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		nullableByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		maxLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		columns[i] = ColumnSchema{
			Name:     string(name),
			Type:     protocol.ParamTag(typeByte),
			Nullable: nullableByte != 0,
			MaxLen:   maxLen,
		}
	}

	rowCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	nulls := make([][]bool, columnCount)
	data := make([][][]byte, columnCount)
	for ci, c := range columns {
		colNulls := make([]bool, rowCount)
		if c.Nullable {
			bitmap, err := r.bytes(int((rowCount + 7) / 8))
			if err != nil {
				return nil, err
			}
			for row := uint32(0); row < rowCount; row++ {
				if bitmap[row/8]&(1<<uint(row%8)) != 0 {
					colNulls[row] = true
				}
			}
		}
		colData := make([][]byte, rowCount)
		for row := uint32(0); row < rowCount; row++ {
			cell, err := r.bytes(int(c.MaxLen))
			if err != nil {
				return nil, err
			}
			colData[row] = cell
		}
		nulls[ci] = colNulls
		data[ci] = colData
	}

	if r.pos != len(r.buf) {
		return nil, classify.New(classify.Validation, "bulk: trailing bytes after last column")
	}

	return &Buffer{
		Table:    string(table),
		Columns:  columns,
		RowCount: int(rowCount),
		Nulls:    nulls,
		Data:     data,
	}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return classify.New(classify.Validation, "bulk: truncated buffer")
	}
	return nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := byteOrder.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func appendU32(out []byte, v uint32) []byte {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	return append(out, b[:]...)
}
