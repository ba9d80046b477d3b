// Package protocol implements the engine's binary result protocol (C1): a
// compact, self-describing wire format used to ferry rows, metadata,
// multi-result items, parameter values, and structured errors from the
// engine to clients without a per-row call.
//
// All multi-byte integers are little-endian throughout.
package protocol

import "encoding/binary"

var byteOrder = binary.LittleEndian

// ColumnType mirrors the ODBC SQL_* type identifiers (not the SQL_C_*
// C-buffer types); a result column's odbcType is the source type reported
// by SQLDescribeCol.
type ColumnType uint16

const (
	ColumnTypeUnknown   ColumnType = 0
	ColumnTypeChar      ColumnType = 1
	ColumnTypeNumeric   ColumnType = 2
	ColumnTypeDecimal   ColumnType = 3
	ColumnTypeInteger   ColumnType = 4
	ColumnTypeSmallInt  ColumnType = 5
	ColumnTypeFloat     ColumnType = 6
	ColumnTypeReal      ColumnType = 7
	ColumnTypeDouble    ColumnType = 8
	ColumnTypeDate      ColumnType = 9
	ColumnTypeTime      ColumnType = 10
	ColumnTypeTimestamp ColumnType = 11
	ColumnTypeVarchar   ColumnType = 12
	ColumnTypeBinary    ColumnType = -2 & 0xFFFF
	ColumnTypeVarBinary ColumnType = -3 & 0xFFFF
	ColumnTypeLongVarBinary ColumnType = -4 & 0xFFFF
	ColumnTypeBigInt    ColumnType = -5 & 0xFFFF
	ColumnTypeTinyInt   ColumnType = -6 & 0xFFFF
	ColumnTypeBit       ColumnType = -7 & 0xFFFF
	ColumnTypeWVarchar  ColumnType = -9 & 0xFFFF
	ColumnTypeGUID      ColumnType = -11 & 0xFFFF
)

// Magic and version constants for the result-buffer header.
const (
	Magic          uint32 = 0x4F444243 // "ODBC" read as a big-endian u32; the little-endian wire bytes are "CBDO", per spec §4.1
	Version        uint16 = 1
	headerSize            = 16 // magic(4) + version(2) + columnCount(2) + rowCount(4) + payloadSize(4)
)

