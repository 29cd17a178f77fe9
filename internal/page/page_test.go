package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafHeaderLayoutPageOne(t *testing.T) {
	buf := make([]byte, 512)
	p := New(buf, 1, 512, 0)
	p.Init(KindLeafTable)

	require.NoError(t, p.AddCell(1, []byte("record-one")))
	require.NoError(t, p.AddCell(2, []byte("record-two")))
	p.FinalizeHeader()

	h, err := ParseHeader(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, KindLeafTable, h.Kind)
	assert.Equal(t, uint16(2), h.CellCount)

	// Page 1's header lives at offset 100, so its cell-pointer array must
	// start at 108, not 8.
	assert.Equal(t, 108, CellPointerOffset(1, h, 0))
}

func TestLeafHeaderLayoutNonFirstPage(t *testing.T) {
	buf := make([]byte, 512)
	p := New(buf, 2, 512, 0)
	p.Init(KindLeafTable)
	require.NoError(t, p.AddCell(1, []byte("x")))
	p.FinalizeHeader()

	h, err := ParseHeader(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, LeafHeaderLen, 8)
	assert.Equal(t, 8, CellPointerOffset(2, h, 0))
}

func TestInteriorHeaderHasRightChild(t *testing.T) {
	buf := make([]byte, 512)
	p := New(buf, 3, 512, 0)
	p.Init(KindInteriorTable)
	p.SetRightChild(99)
	require.NoError(t, p.AddInteriorEntry(5, 10))
	require.NoError(t, p.AddInteriorEntry(6, 20))
	p.FinalizeHeader()

	h, err := ParseHeader(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, KindInteriorTable, h.Kind)
	assert.Equal(t, uint32(99), h.RightChild)
	assert.Equal(t, 12, CellPointerOffset(3, h, 0))

	off0 := ReadCellOffset(buf, 3, h, 0)
	child, key, err := InteriorCellChildAndKey(buf, off0)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), child)
	assert.Equal(t, int64(10), key)
}

func TestFreeSpaceShrinksAsCellsAdded(t *testing.T) {
	buf := make([]byte, 512)
	p := New(buf, 2, 512, 0)
	p.Init(KindLeafTable)

	free0 := p.FreeSpace()
	require.NoError(t, p.AddCell(1, make([]byte, 20)))
	free1 := p.FreeSpace()
	assert.Less(t, free1, free0)
}

func TestCellsReadBackInInsertionOrder(t *testing.T) {
	buf := make([]byte, 512)
	p := New(buf, 2, 512, 0)
	p.Init(KindLeafTable)

	require.NoError(t, p.AddCell(10, []byte("aaa")))
	require.NoError(t, p.AddCell(20, []byte("bbbb")))
	require.NoError(t, p.AddCell(30, []byte("c")))
	p.FinalizeHeader()

	h, err := ParseHeader(buf, 2)
	require.NoError(t, err)
	require.Equal(t, uint16(3), h.CellCount)

	wantRowIDs := []int64{10, 20, 30}
	for i, want := range wantRowIDs {
		off := ReadCellOffset(buf, 2, h, i)
		rowid, err := LeafCellRowID(buf, off)
		require.NoError(t, err)
		assert.Equal(t, want, rowid)
	}
}

func TestRowTooBigOnEmptyPage(t *testing.T) {
	buf := make([]byte, 64)
	p := New(buf, 2, 64, 0)
	p.Init(KindLeafTable)

	// 64-byte page, 8-byte header, 2-byte pointer: 54 bytes of usable cell
	// space. A record bigger than that cannot fit even alone on the page.
	err := p.AddCell(1, make([]byte, 100))
	assert.ErrorIs(t, err, ErrRowTooBig)
}

func TestExactFitSucceedsOneByteOverFails(t *testing.T) {
	buf := make([]byte, 64)
	p := New(buf, 2, 64, 0)
	p.Init(KindLeafTable)

	// header(8) + pointer(2) + varint(payloadLen,1byte) + varint(rowid,1byte) + payload == 64
	// => payload == 64 - 8 - 2 - 1 - 1 = 52
	exact := make([]byte, 52)
	require.NoError(t, p.AddCell(1, exact))

	buf2 := make([]byte, 64)
	p2 := New(buf2, 2, 64, 0)
	p2.Init(KindLeafTable)
	tooBig := make([]byte, 53)
	err := p2.AddCell(1, tooBig)
	require.Error(t, err)
}

func TestSecondCellRejectedWhenPageFull(t *testing.T) {
	buf := make([]byte, 64)
	p := New(buf, 2, 64, 0)
	p.Init(KindLeafTable)

	require.NoError(t, p.AddCell(1, make([]byte, 52)))
	err := p.AddCell(2, make([]byte, 10))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRowTooBig) // page has room in general, just not for this caller
}
