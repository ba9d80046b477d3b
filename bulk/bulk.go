package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/pool"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

// ArrayInsert performs an array-bound insert of buf against conn, grouping
// rows into batchSize-row groups (spec.md §4.8's default of 1000 when
// batchSize <= 0) and binding one column inserter per column per group.
// Returns the total affected-row count the driver reports across groups.
func ArrayInsert(ctx context.Context, api odbcapi.NativeAPI, conn odbcapi.Handle, buf *Buffer, batchSize int) (int64, error) {
	if len(buf.Columns) == 0 {
		return 0, classify.New(classify.Validation, "bulk: buffer has no columns")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	sql, err := insertSQL(buf.Table, buf.Columns)
	if err != nil {
		return 0, err
	}

	stmt, err := api.AllocStmt(conn)
	if err != nil {
		return 0, classify.Wrap(classify.Query, "bulk: failed to allocate statement", err)
	}
	defer api.FreeStmt(stmt, true)

	if err := api.Prepare(stmt, sql); err != nil {
		return 0, diagnosticOrWrap(api, stmt, "bulk: prepare failed", err)
	}

	var total int64
	for start := 0; start < buf.RowCount; start += batchSize {
		end := start + batchSize
		if end > buf.RowCount {
			end = buf.RowCount
		}
		n := end - start

		if err := api.SetParamArraySize(stmt, n); err != nil {
			return total, classify.Wrap(classify.Query, "bulk: failed to set array size", err)
		}
		for ci, col := range buf.Columns {
			cType, sqlType, err := wireType(col.Type)
			if err != nil {
				return total, err
			}
			var nulls []bool
			if col.Nullable {
				nulls = buf.Nulls[ci][start:end]
			}
			if err := api.BindArrayParameter(stmt, ci+1, cType, sqlType, buf.Data[ci][start:end], nulls); err != nil {
				return total, classify.Wrap(classify.Query, "bulk: bind array parameter failed", err)
			}
		}

		if err := api.Execute(ctx, stmt); err != nil {
			return total, diagnosticOrWrap(api, stmt, "bulk: batch execute failed", err)
		}
		rc, err := api.RowCount(stmt)
		if err != nil {
			return total, classify.Wrap(classify.Query, "bulk: failed to read affected row count", err)
		}
		total += rc
	}
	return total, nil
}

// insertSQL builds "INSERT INTO table (c1,c2,...) VALUES (?,?,...)".
func insertSQL(table string, columns []ColumnSchema) (string, error) {
	if table == "" {
		return "", classify.New(classify.Validation, "bulk: table name must not be empty")
	}
	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(placeholders, ", ")), nil
}

// wireType maps a bulk column's wire tag to the CType/SQL type pair
// BindArrayParameter expects, mirroring executor.bindParams' single-value
// mapping since both bind the same five value shapes.
func wireType(tag protocol.ParamTag) (odbcapi.CType, int16, error) {
	switch tag {
	case protocol.ParamTagString:
		return odbcapi.CTypeChar, int16(protocol.ColumnTypeVarchar), nil
	case protocol.ParamTagInt32:
		return odbcapi.CTypeLong, int16(protocol.ColumnTypeInteger), nil
	case protocol.ParamTagInt64:
		return odbcapi.CTypeSBigInt, int16(protocol.ColumnTypeBigInt), nil
	case protocol.ParamTagDecimal:
		return odbcapi.CTypeChar, int16(protocol.ColumnTypeDecimal), nil
	case protocol.ParamTagBinary:
		return odbcapi.CTypeBinary, int16(protocol.ColumnTypeVarBinary), nil
	default:
		return 0, 0, classify.New(classify.Validation, "bulk: unsupported column type tag")
	}
}

func diagnosticOrWrap(api odbcapi.NativeAPI, stmt odbcapi.Handle, msg string, cause error) error {
	if d := api.LastDiagnostic(odbcapi.HandleTypeStmt, stmt); d != nil {
		return classify.FromDiagnostic(classify.Diagnostic{SQLState: d.SQLState, NativeCode: d.NativeCode, Message: d.Message})
	}
	return classify.Wrap(classify.Query, msg, cause)
}

// slice returns a row-range view of buf sharing its underlying column
// slices, used to give each parallel worker its own contiguous row range
// without copying the columnar data.
func (buf *Buffer) slice(start, end int) *Buffer {
	nulls := make([][]bool, len(buf.Columns))
	data := make([][][]byte, len(buf.Columns))
	for i := range buf.Columns {
		if buf.Nulls[i] != nil {
			nulls[i] = buf.Nulls[i][start:end]
		}
		data[i] = buf.Data[i][start:end]
	}
	return &Buffer{
		Table:    buf.Table,
		Columns:  buf.Columns,
		RowCount: end - start,
		Nulls:    nulls,
		Data:     data,
	}
}

// ParallelInsert splits buf's rows into workers contiguous slices, each
// array-bound inserted on its own pool connection, and aggregates the
// inserted counts, per spec.md §4.8's parallel bulk insert path. Worker
// concurrency is bounded the same way the teacher's CopyOptimizer bounds
// its copy workers: a fixed-size pool of goroutines, not one per row range
// beyond what's asked for.
func ParallelInsert(ctx context.Context, api odbcapi.NativeAPI, p *pool.Pool, buf *Buffer, workers, batchSize int) (int64, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > buf.RowCount && buf.RowCount > 0 {
		workers = buf.RowCount
	}
	if buf.RowCount == 0 {
		return 0, nil
	}

	chunk := (buf.RowCount + workers - 1) / workers

	var (
		wg       sync.WaitGroup
		total    int64
		errOnce  sync.Once
		firstErr error
	)

	for start := 0; start < buf.RowCount; start += chunk {
		end := start + chunk
		if end > buf.RowCount {
			end = buf.RowCount
		}
		sub := buf.slice(start, end)

		wg.Add(1)
		go func(sub *Buffer) {
			defer wg.Done()

			id, conn, err := p.Checkout(ctx)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			defer p.Release(id)

			n, err := ArrayInsert(ctx, api, conn, sub, batchSize)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			atomic.AddInt64(&total, n)
		}(sub)
	}

	wg.Wait()
	if firstErr != nil {
		return atomic.LoadInt64(&total), firstErr
	}
	return total, nil
}
