package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosqlitelog/ulogsqlite/internal/page"
	"github.com/gosqlitelog/ulogsqlite/internal/record"
	"github.com/gosqlitelog/ulogsqlite/internal/schema"
	"github.com/gosqlitelog/ulogsqlite/ioctx"
)

func TestBuildLevelSingleLeafIsNoOp(t *testing.T) {
	w := &Writer{cfg: Config{PageSize: 512}, io: ioctx.NewMemIO()}
	pages, err := w.buildLevel(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, pages)
}

func TestMultiLeafBuildsSingleRootWithDividerKeys(t *testing.T) {
	ctx := context.Background()
	w, m := newTestWriter(t, 512, 1)

	const n = 100 // enough 40-byte-blob rows to need several leaves, one interior page
	for i := 0; i < n; i++ {
		require.NoError(t, w.AppendRowWithValues(ctx, []record.Value{
			{Type: record.Blob, Data: make([]byte, 40)},
		}))
	}
	require.NoError(t, w.Finalize(ctx))

	buf := m.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)

	rootBuf := buf[(root-1)*512 : root*512]
	h, err := page.ParseHeader(rootBuf, root)
	require.NoError(t, err)
	require.Equal(t, page.KindInteriorTable, h.Kind)

	// Walk the root's divider entries: keys must be strictly increasing and
	// each left_child's own max row-id must equal that divider key.
	var prevKey int64 = -1
	for i := 0; i < int(h.CellCount); i++ {
		off := page.ReadCellOffset(rootBuf, root, h, i)
		child, key, err := page.InteriorCellChildAndKey(rootBuf, off)
		require.NoError(t, err)
		assert.Greater(t, key, prevKey)
		prevKey = key

		childBuf := buf[(child-1)*512 : child*512]
		ch, err := page.ParseHeader(childBuf, child)
		require.NoError(t, err)
		require.Equal(t, page.KindLeafTable, ch.Kind)
		lastOff := page.ReadCellOffset(childBuf, child, ch, int(ch.CellCount)-1)
		lastRowID, err := page.LeafCellRowID(childBuf, lastOff)
		require.NoError(t, err)
		assert.Equal(t, key, lastRowID)
	}

	// The right-most child must hold row-ids strictly greater than the last
	// divider key.
	rightBuf := buf[(h.RightChild-1)*512 : h.RightChild*512]
	rh, err := page.ParseHeader(rightBuf, h.RightChild)
	require.NoError(t, err)
	firstOff := page.ReadCellOffset(rightBuf, h.RightChild, rh, 0)
	firstRowID, err := page.LeafCellRowID(rightBuf, firstOff)
	require.NoError(t, err)
	assert.Greater(t, firstRowID, prevKey)
}

func TestExactFitStaysOnSameLeafOneByteOverRolls(t *testing.T) {
	ctx := context.Background()

	// 512-byte page, 1 column, leaf header 8 bytes: usable cell space is
	// 512 - 8 = 504 bytes for pointers + cells.
	m1 := ioctx.NewMemIO()
	w1 := New(m1, WithPageSize(512), WithTableName("t1"), WithColCount(1))
	require.NoError(t, w1.WriteInit(ctx))

	// Cell = varint(payloadLen)+varint(rowid)+record; record = varint(hdrlen=3)+varint(serialtype, 2 bytes)+body.
	// Choose a blob length so two rows exactly fill the 504-byte budget
	// (2 pointers + 2 cells == 504), then verify that a second row one byte
	// larger forces a new leaf.
	blobLen := 244
	row := []record.Value{{Type: record.Blob, Data: make([]byte, blobLen)}}
	sizes, err := record.Measure(row)
	require.NoError(t, err)
	cellLen := 2 + 1 + sizes.Total // payload-len varint (2 bytes: 247 > 127) + rowid varint (1 byte) + record
	t.Logf("cell length: %d", cellLen)
	require.Equal(t, 504, 2*cellLen+2*2)

	require.NoError(t, w1.AppendRowWithValues(ctx, row))
	require.NoError(t, w1.AppendRowWithValues(ctx, row))
	require.NoError(t, w1.Finalize(ctx))

	buf := m1.Bytes()
	root, err := schema.MasterRootPage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root) // both rows fit on the single initial leaf

	m2 := ioctx.NewMemIO()
	w2 := New(m2, WithPageSize(512), WithTableName("t1"), WithColCount(1))
	require.NoError(t, w2.WriteInit(ctx))
	bigger := []record.Value{{Type: record.Blob, Data: make([]byte, blobLen+1)}}
	require.NoError(t, w2.AppendRowWithValues(ctx, row))
	require.NoError(t, w2.AppendRowWithValues(ctx, bigger))
	require.NoError(t, w2.Finalize(ctx))

	root2, err := schema.MasterRootPage(m2.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(4), root2) // leaves on pages 2 and 3, interior root on page 4
}
