// Package executor implements the query executor (C6): single-shot SELECT,
// parameterized execute, and multi-result execute, each encoding its
// output through protocol.ResultBuilder/MultiResultBuilder. The three
// operations mirror the teacher's IConn.Query/QueryRow/Exec split
// (db/postgres/interfaces/connection.go), collapsed onto this engine's
// handle-level NativeAPI instead of database/sql-style driver types, since
// C7/C8 need direct cursor and array-bound parameter control that
// database/sql's driver interfaces don't expose.
package executor

import (
	"context"
	"encoding/binary"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

// Options overrides the per-call knob spec.md §4.6 allows: a result-buffer
// cap (0 means "no cap"). The query timeout lives on the ctx the caller
// passes in, not here — engine.Connection derives that ctx from
// engineconfig.ConnectOptions.DefaultQueryTimeout when the caller doesn't
// supply its own deadline.
type Options struct {
	ResultBufferCap int
}

// CTypeOf maps a protocol.ColumnType's width to the CType GetData should
// request, so text and binary columns both come back as raw bytes the
// result builder can store verbatim.
func CTypeOf(sqlType int16) odbcapi.CType {
	switch protocol.ColumnType(uint16(sqlType)) {
	case protocol.ColumnTypeInteger:
		return odbcapi.CTypeLong
	case protocol.ColumnTypeSmallInt, protocol.ColumnTypeTinyInt, protocol.ColumnTypeBit:
		return odbcapi.CTypeShort
	case protocol.ColumnTypeBigInt:
		return odbcapi.CTypeSBigInt
	case protocol.ColumnTypeFloat, protocol.ColumnTypeReal, protocol.ColumnTypeDouble:
		return odbcapi.CTypeDouble
	case protocol.ColumnTypeDate, protocol.ColumnTypeTime, protocol.ColumnTypeTimestamp:
		return odbcapi.CTypeTimestamp
	case protocol.ColumnTypeBinary, protocol.ColumnTypeVarBinary, protocol.ColumnTypeLongVarBinary:
		return odbcapi.CTypeBinary
	default:
		return odbcapi.CTypeChar
	}
}

// DescribeColumns reads the stmt's result-set metadata via NumResultCols/
// DescribeCol, returning the protocol.Column slice plus the CType to use
// per column when fetching row data.
func DescribeColumns(api odbcapi.NativeAPI, stmt odbcapi.Handle) ([]protocol.Column, []odbcapi.CType, error) {
	n, err := api.NumResultCols(stmt)
	if err != nil {
		return nil, nil, classify.Wrap(classify.Query, "executor: failed to read result column count", err)
	}
	cols := make([]protocol.Column, n)
	cTypes := make([]odbcapi.CType, n)
	for i := 0; i < n; i++ {
		desc, err := api.DescribeCol(stmt, i+1)
		if err != nil {
			return nil, nil, classify.Wrap(classify.Query, "executor: failed to describe result column", err)
		}
		cols[i] = protocol.Column{Type: protocol.ColumnType(uint16(desc.Type)), Name: desc.Name}
		cTypes[i] = CTypeOf(desc.Type)
	}
	return cols, cTypes, nil
}

// FetchAllRows drains stmt's cursor into b, one protocol.Row per driver
// row, using GetData rather than bound columns so variable-length data
// never needs a pre-sized buffer.
func FetchAllRows(api odbcapi.NativeAPI, stmt odbcapi.Handle, cTypes []odbcapi.CType, b *protocol.ResultBuilder) error {
	for {
		hasRow, err := api.Fetch(stmt)
		if err != nil {
			return classify.Wrap(classify.Query, "executor: fetch failed", err)
		}
		if !hasRow {
			return nil
		}
		row := make(protocol.Row, len(cTypes))
		for i, ct := range cTypes {
			data, isNull, err := api.GetData(stmt, i+1, ct)
			if err != nil {
				return classify.Wrap(classify.Query, "executor: get data failed", err)
			}
			if isNull {
				row[i] = nil
				continue
			}
			row[i] = data
		}
		if err := b.AddRow(row); err != nil {
			return classify.Wrap(classify.Query, "executor: row shape mismatch", err)
		}
	}
}

// buildResult runs DescribeColumns+FetchAllRows and encodes the outcome,
// applying opts.ResultBufferCap. A statement with no result set at all
// (DDL/pure DML) yields protocol.Empty() — not an error, per spec.md §4.6.
func buildResult(api odbcapi.NativeAPI, stmt odbcapi.Handle, opts Options) ([]byte, error) {
	cols, cTypes, err := DescribeColumns(api, stmt)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return protocol.Empty(), nil
	}
	b := protocol.NewResultBuilder(cols)
	if err := FetchAllRows(api, stmt, cTypes, b); err != nil {
		return nil, err
	}
	return capEncode(b.Encode(), opts)
}

func capEncode(buf []byte, opts Options) ([]byte, error) {
	if opts.ResultBufferCap > 0 && len(buf) > opts.ResultBufferCap {
		return nil, classify.BufferTooSmallErr(len(buf))
	}
	return buf, nil
}

// Select runs a single-shot SELECT with no parameters (SQLExecDirect) and
// returns the encoded result buffer.
func Select(ctx context.Context, api odbcapi.NativeAPI, conn odbcapi.Handle, sql string, opts Options) ([]byte, error) {
	stmt, err := api.AllocStmt(conn)
	if err != nil {
		return nil, classify.Wrap(classify.Query, "executor: failed to allocate statement", err)
	}
	defer api.FreeStmt(stmt, true)

	if err := api.ExecDirect(ctx, stmt, sql); err != nil {
		return nil, diagnosticOrWrap(api, stmt, "executor: query failed", err)
	}
	return buildResult(api, stmt, opts)
}

// Execute runs sql against a prepared statement, binding params per the
// spec §4.1 parameter wire format, and returns the encoded result (a
// result set for a SELECT-shaped statement, or protocol.Empty() for pure
// DML/DDL).
func Execute(ctx context.Context, api odbcapi.NativeAPI, conn odbcapi.Handle, sql string, params []protocol.ParamValue, opts Options) ([]byte, error) {
	stmt, err := api.AllocStmt(conn)
	if err != nil {
		return nil, classify.Wrap(classify.Query, "executor: failed to allocate statement", err)
	}
	defer api.FreeStmt(stmt, true)

	if err := api.Prepare(stmt, sql); err != nil {
		return nil, diagnosticOrWrap(api, stmt, "executor: prepare failed", err)
	}
	if err := bindParams(api, stmt, params); err != nil {
		return nil, err
	}
	if err := api.Execute(ctx, stmt); err != nil {
		return nil, diagnosticOrWrap(api, stmt, "executor: execute failed", err)
	}
	return buildResult(api, stmt, opts)
}

// MultiResult runs sql and walks every driver result set it produces
// (SQLMoreResults), appending each as a protocol.MultiResultItem: tag=0
// for a result set, tag=1 with the affected-row count for a DML result,
// per spec.md §4.6.
func MultiResult(ctx context.Context, api odbcapi.NativeAPI, conn odbcapi.Handle, sql string, params []protocol.ParamValue, opts Options) ([]byte, error) {
	stmt, err := api.AllocStmt(conn)
	if err != nil {
		return nil, classify.Wrap(classify.Query, "executor: failed to allocate statement", err)
	}
	defer api.FreeStmt(stmt, true)

	if len(params) > 0 {
		if err := api.Prepare(stmt, sql); err != nil {
			return nil, diagnosticOrWrap(api, stmt, "executor: prepare failed", err)
		}
		if err := bindParams(api, stmt, params); err != nil {
			return nil, err
		}
		if err := api.Execute(ctx, stmt); err != nil {
			return nil, diagnosticOrWrap(api, stmt, "executor: execute failed", err)
		}
	} else {
		if err := api.ExecDirect(ctx, stmt, sql); err != nil {
			return nil, diagnosticOrWrap(api, stmt, "executor: query failed", err)
		}
	}

	mb := &protocol.MultiResultBuilder{}
	for {
		cols, cTypes, err := DescribeColumns(api, stmt)
		if err != nil {
			return nil, err
		}
		if len(cols) > 0 {
			b := protocol.NewResultBuilder(cols)
			if err := FetchAllRows(api, stmt, cTypes, b); err != nil {
				return nil, err
			}
			mb.AddResultSet(b.Encode())
		} else {
			count, err := api.RowCount(stmt)
			if err != nil {
				return nil, classify.Wrap(classify.Query, "executor: failed to read affected row count", err)
			}
			mb.AddAffectedCount(count)
		}

		more, err := api.MoreResults(stmt)
		if err != nil {
			return nil, classify.Wrap(classify.Query, "executor: failed to advance to next result", err)
		}
		if !more {
			break
		}
	}
	return capEncode(mb.Encode(), opts)
}

// bindParams binds each protocol.ParamValue at its 1-based ordinal
// position, translating the wire tag to the CType/SQLSTATE-neutral native
// type BindParameter expects.
func bindParams(api odbcapi.NativeAPI, stmt odbcapi.Handle, params []protocol.ParamValue) error {
	for i, p := range params {
		var cType odbcapi.CType
		var sqlType int16
		var value []byte

		switch p.Tag {
		case protocol.ParamTagNull:
			cType, sqlType, value = odbcapi.CTypeChar, int16(protocol.ColumnTypeVarchar), nil
		case protocol.ParamTagString:
			cType, sqlType, value = odbcapi.CTypeChar, int16(protocol.ColumnTypeVarchar), []byte(p.Str)
		case protocol.ParamTagInt32:
			cType, sqlType = odbcapi.CTypeLong, int16(protocol.ColumnTypeInteger)
			value = make([]byte, 4)
			binary.LittleEndian.PutUint32(value, uint32(p.I32))
		case protocol.ParamTagInt64:
			cType, sqlType = odbcapi.CTypeSBigInt, int16(protocol.ColumnTypeBigInt)
			value = make([]byte, 8)
			binary.LittleEndian.PutUint64(value, uint64(p.I64))
		case protocol.ParamTagDecimal:
			cType, sqlType, value = odbcapi.CTypeChar, int16(protocol.ColumnTypeDecimal), []byte(p.Dec.String())
		case protocol.ParamTagBinary:
			cType, sqlType, value = odbcapi.CTypeBinary, int16(protocol.ColumnTypeVarBinary), p.Bin
		default:
			return classify.New(classify.Validation, "executor: unknown parameter tag")
		}

		if err := api.BindParameter(stmt, i+1, odbcapi.ParamInput, cType, sqlType, value); err != nil {
			return classify.Wrap(classify.Query, "executor: bind parameter failed", err)
		}
	}
	return nil
}

// diagnosticOrWrap prefers the driver's own structured diagnostic (mapped
// through classify.FromDiagnostic) over a generic Query-kind wrap, so
// callers get the SQLSTATE-derived taxonomy spec.md §4.10 promises.
func diagnosticOrWrap(api odbcapi.NativeAPI, stmt odbcapi.Handle, msg string, cause error) error {
	if d := api.LastDiagnostic(odbcapi.HandleTypeStmt, stmt); d != nil {
		return classify.FromDiagnostic(classify.Diagnostic{SQLState: d.SQLState, NativeCode: d.NativeCode, Message: d.Message})
	}
	return classify.Wrap(classify.Query, msg, cause)
}
