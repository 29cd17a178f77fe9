package reader

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
	"github.com/gosqlitelog/ulogsqlite/writer"
)

func intVal(v int32) record.Value {
	b := make([]byte, 4)
	codec.WriteU32(b, uint32(v))
	return record.Value{Type: record.Int, Data: b}
}

func textVal(s string) record.Value { return record.Value{Type: record.Text, Data: []byte(s)} }

func buildFile(t *testing.T, pageSize, colCount int, rows [][]record.Value) *ioctx.MemIO {
	t.Helper()
	ctx := context.Background()
	m := ioctx.NewMemIO()
	w := writer.New(m, writer.WithPageSize(pageSize), writer.WithTableName("t1"), writer.WithColCount(colCount))
	require.NoError(t, w.WriteInit(ctx))
	for _, row := range rows {
		require.NoError(t, w.AppendRowWithValues(ctx, row))
	}
	require.NoError(t, w.Finalize(ctx))
	return m
}

func TestReadInitLoadsRootAndColumnCount(t *testing.T) {
	m := buildFile(t, 4096, 3, [][]record.Value{
		{intVal(1), textVal("a"), textVal("x")},
	})
	r := New(m)
	require.NoError(t, r.ReadInit(context.Background()))
	assert.Equal(t, 3, r.ColCount())
}

func TestSrchRowByIDFindsEveryAppendedRow(t *testing.T) {
	ctx := context.Background()
	const n = 5
	var rows [][]record.Value
	for i := int32(1); i <= n; i++ {
		rows = append(rows, []record.Value{intVal(i), textVal(fmt.Sprintf("row-%d", i))})
	}
	m := buildFile(t, 4096, 2, rows)

	r := New(m)
	require.NoError(t, r.ReadInit(ctx))

	for i := int64(1); i <= n; i++ {
		require.NoError(t, r.SrchRowByID(ctx, i))
		rowid, err := r.CurRowID()
		require.NoError(t, err)
		assert.Equal(t, i, rowid)

		cnt, err := r.CurRowColCount()
		require.NoError(t, err)
		assert.Equal(t, 2, cnt)

		col1, err := r.ReadColVal(1)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("row-%d", i), string(col1.Data))
	}
}

func TestSrchRowByIDNotFound(t *testing.T) {
	m := buildFile(t, 4096, 1, [][]record.Value{{intVal(1)}, {intVal(2)}})
	r := New(m)
	require.NoError(t, r.ReadInit(context.Background()))

	err := r.SrchRowByID(context.Background(), 999)
	require.Error(t, err)
}

func TestSrchRowByIDAcrossMultipleLeavesAndInteriorLevels(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large tree round-trip in short mode")
	}
	ctx := context.Background()
	const n = 3000
	var rows [][]record.Value
	for i := int32(0); i < n; i++ {
		rows = append(rows, []record.Value{intVal(i)})
	}
	m := buildFile(t, 512, 1, rows)

	r := New(m)
	require.NoError(t, r.ReadInit(ctx))

	for i := int64(1); i <= n; i++ {
		require.NoError(t, r.SrchRowByID(ctx, i))
		rowid, err := r.CurRowID()
		require.NoError(t, err)
		assert.Equal(t, i, rowid)
	}
}

func TestBinSrchRowByValOnRowID(t *testing.T) {
	m := buildFile(t, 4096, 1, [][]record.Value{{intVal(10)}, {intVal(20)}, {intVal(30)}})
	r := New(m)
	ctx := context.Background()
	require.NoError(t, r.ReadInit(ctx))

	require.NoError(t, r.BinSrchRowByVal(ctx, 0, intVal(2), true))
	rowid, err := r.CurRowID()
	require.NoError(t, err)
	assert.Equal(t, int64(2), rowid)
}

func TestBinSrchRowByValOnMonotonicColumn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-leaf binary search in short mode")
	}
	ctx := context.Background()
	const n = 800
	var rows [][]record.Value
	for i := int32(0); i < n; i++ {
		rows = append(rows, []record.Value{intVal(i * 10), {Type: record.Blob, Data: make([]byte, 40)}})
	}
	m := buildFile(t, 512, 2, rows)

	r := New(m)
	require.NoError(t, r.ReadInit(ctx))

	require.NoError(t, r.BinSrchRowByVal(ctx, 0, intVal(4000), false))
	col0, err := r.ReadColVal(0)
	require.NoError(t, err)
	assert.Equal(t, int32(4000), int32(codec.ReadU32(col0.Data)))
}

func TestReadColValNullForUnsetColumn(t *testing.T) {
	ctx := context.Background()
	m := ioctx.NewMemIO()
	w := writer.New(m, writer.WithPageSize(4096), writer.WithTableName("t1"), writer.WithColCount(2))
	require.NoError(t, w.WriteInit(ctx))
	require.NoError(t, w.SetColVal(0, intVal(1)))
	require.NoError(t, w.AppendEmptyRow(ctx))
	require.NoError(t, w.Finalize(ctx))

	r := New(m)
	require.NoError(t, r.ReadInit(ctx))
	require.NoError(t, r.SrchRowByID(ctx, 1))

	col1, err := r.ReadColVal(1)
	require.NoError(t, err)
	assert.Equal(t, record.Null, col1.Type)
}
