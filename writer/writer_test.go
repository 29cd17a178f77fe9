package writer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
)

func intVal(v int32) record.Value {
	b := make([]byte, 4)
	codec.WriteU32(b, uint32(v))
	return record.Value{Type: record.Int, Data: b}
}

func textValW(s string) record.Value { return record.Value{Type: record.Text, Data: []byte(s)} }

func newTestWriter(t *testing.T, pageSize, colCount int, opts ...Option) (*Writer, *ioctx.MemIO) {
	t.Helper()
	m := ioctx.NewMemIO()
	allOpts := append([]Option{
		WithPageSize(pageSize),
		WithTableName("t1"),
		WithColCount(colCount),
	}, opts...)
	w := New(m, allOpts...)
	require.NoError(t, w.WriteInit(context.Background()))
	return w, m
}

func TestWriteInitProducesValidPageOneAndEmptyLeaf(t *testing.T) {
	w, m := newTestWriter(t, 512, 2)
	require.NoError(t, w.Finalize(context.Background()))

	buf := m.Bytes()
	require.Len(t, buf, 1024) // page 1 + one empty leaf

	h, err := schema.ReadHeader(buf[:100])
	require.NoError(t, err)
	assert.Equal(t, 512, h.PageSize)
	assert.Equal(t, uint32(4), h.SchemaFormat)
	assert.Equal(t, uint32(1), h.TextEncoding)

	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root)
}

func TestAppendRowWithValuesAndSrchable(t *testing.T) {
	w, m := newTestWriter(t, 4096, 3)
	ctx := context.Background()

	for i := int32(1); i <= 5; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{
			intVal(i), textValW(fmt.Sprintf("row-%d", i)), textValW("x"),
		}))
	}
	require.NoError(t, w.Finalize(ctx))

	buf := m.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root) // single leaf, no interior levels needed

	leafBuf := buf[(root-1)*4096 : root*4096]
	h, err := page.ParseHeader(leafBuf, root)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), h.CellCount)

	for i := 0; i < 5; i++ {
		off := page.ReadCellOffset(leafBuf, root, h, i)
		rowid, err := page.LeafCellRowID(leafBuf, off)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), rowid)
	}
}

func TestSetColValDefaultsUnsetToNull(t *testing.T) {
	w, m := newTestWriter(t, 4096, 3)
	ctx := context.Background()

	require.NoError(t, w.SetColVal(0, intVal(7)))
	// column 1 and 2 left unset
	require.NoError(t, w.AppendEmptyRow(ctx))
	require.NoError(t, w.Finalize(ctx))

	buf := m.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)
	leafBuf := buf[(root-1)*4096 : root*4096]
	h, err := page.ParseHeader(leafBuf, root)
	require.NoError(t, err)
	off := page.ReadCellOffset(leafBuf, root, h, 0)

	_, n := codec.ReadVarint(leafBuf, off)
	_, n2 := codec.ReadVarint(leafBuf, off+n)
	recordStart := off + n + n2
	hdr, _, err := record.ReadHeader(leafBuf, recordStart)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hdr.SerialTypes[1]) // NULL
	assert.Equal(t, uint64(0), hdr.SerialTypes[2]) // NULL
}

func TestRowTooBigOnOversizedRow(t *testing.T) {
	w, _ := newTestWriter(t, 512, 1)
	ctx := context.Background()

	err := w.AppendRowWithValues(ctx, []record.Value{
		{Type: record.Blob, Data: make([]byte, 600)},
	})
	require.Error(t, err)
}

func TestRowForcesNewLeafWhenCurrentIsFull(t *testing.T) {
	w, m := newTestWriter(t, 512, 1)
	ctx := context.Background()

	// Each row's blob is sized so only a handful fit per 512-byte leaf,
	// forcing at least one leaf rollover well before any interior level.
	for i := 0; i < 20; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{
			{Type: record.Blob, Data: make([]byte, 40)},
		}))
	}
	require.NoError(t, w.Finalize(ctx))

	size, _ := m.Size(ctx)
	assert.Greater(t, size, int64(512*2)) // more than page1 + a single leaf
}

func TestThreeLevelTreeAtSmallPageSize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large tree construction in short mode")
	}
	w, m := newTestWriter(t, 512, 1)
	ctx := context.Background()

	const n = 3000
	for i := 0; i < n; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{intVal(int32(i))}))
	}
	require.NoError(t, w.Finalize(ctx))

	buf := m.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)

	rootBuf := buf[(root-1)*512 : root*512]
	h, err := page.ParseHeader(rootBuf, root)
	require.NoError(t, err)
	require.Equal(t, page.KindInteriorTable, h.Kind)

	// Root's right child (or one of its entries) must itself be interior,
	// proving a 3rd level exists between root and the leaves.
	childBuf := buf[(h.RightChild-1)*512 : h.RightChild*512]
	ch, err := page.ParseHeader(childBuf, h.RightChild)
	require.NoError(t, err)
	assert.Equal(t, page.KindInteriorTable, ch.Kind)
}

func TestPageLimitEnforced(t *testing.T) {
	w, _ := newTestWriter(t, 512, 1, WithMaxPagesExp(1)) // cap = 2 pages total
	ctx := context.Background()

	// Page 1 + leaf page 2 already exist (2 pages, at the cap). Forcing a
	// rollover to a third leaf must fail with PAGE_LIMIT.
	var lastErr error
	for i := 0; i < 200; i++ {
		lastErr = w.AppendRowWithValues(ctx, []record.Value{
			{Type: record.Blob, Data: make([]byte, 40)},
		})
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
}

func TestInitForAppendResumesAndFinalizeAgainIsStable(t *testing.T) {
	ctx := context.Background()
	m := ioctx.NewMemIO()

	w := New(m, WithPageSize(4096), WithTableName("t1"), WithColCount(1))
	require.NoError(t, w.WriteInit(ctx))
	for i := int32(1); i <= 3; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{intVal(i)}))
	}
	require.NoError(t, w.Finalize(ctx))

	root1, err := schema.MasterRootPage(m.Bytes())
	require.NoError(t, err)

	w2 := New(m, WithPageSize(4096))
	require.NoError(t, w2.InitForAppend(ctx))
	require.NoError(t, w2.Finalize(ctx))

	root2, err := schema.MasterRootPage(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}

func TestInitForAppendThenNewRowsContinueRowIDSequence(t *testing.T) {
	ctx := context.Background()
	m := ioctx.NewMemIO()

	w := New(m, WithPageSize(4096), WithTableName("t1"), WithColCount(1))
	require.NoError(t, w.WriteInit(ctx))
	for i := int32(1); i <= 3; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{intVal(i)}))
	}
	require.NoError(t, w.Finalize(ctx))

	w2 := New(m, WithPageSize(4096))
	require.NoError(t, w2.InitForAppend(ctx))
	require.NoError(t, w2.AppendRowWithValues(ctx, []record.Value{intVal(4)}))
	require.NoError(t, w2.Finalize(ctx))

	buf := m.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)
	leafBuf := buf[(root-1)*4096 : root*4096]
	h, err := page.ParseHeader(leafBuf, root)
	require.NoError(t, err)
	require.Equal(t, uint16(4), h.CellCount)

	off := page.ReadCellOffset(leafBuf, root, h, 3)
	rowid, err := page.LeafCellRowID(leafBuf, off)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rowid)
}
