// Package page implements the SQLite table B-tree page layout: the 8-byte
// leaf / 12-byte interior header, the cell-pointer array growing from the
// header downward, and cells packed from the end of the page upward. Every
// operation here works against a single caller-supplied buffer — no page
// ever allocates a second page's worth of memory.
package page

import (
	"fmt"

	"github.com/gosqlitelog/ulogsqlite/internal/codec"
)

// Kind is the one-byte B-tree page type.
type Kind byte

const (
	// KindInteriorTable is an interior table B-tree page (0x05).
	KindInteriorTable Kind = 0x05
	// KindLeafTable is a leaf table B-tree page (0x0D).
	KindLeafTable Kind = 0x0D
)

// LeafHeaderLen is the byte length of a leaf page header.
const LeafHeaderLen = 8

// InteriorHeaderLen is the byte length of an interior page header, which adds
// a 4-byte right-most child pointer to the leaf header.
const InteriorHeaderLen = 12

// ErrRowTooBig is returned when a single cell cannot fit on an empty page of
// the configured size; SQLite overflow pages are out of scope (spec §4.3).
var ErrRowTooBig = fmt.Errorf("page: row exceeds usable page size")

// HeaderOffset returns where the B-tree page header begins: page 1 reserves
// its first 100 bytes for the database header, every other page starts at 0.
func HeaderOffset(pageNum uint32) int {
	if pageNum == 1 {
		return 100
	}
	return 0
}

// Page is a mutable view over one page-sized buffer. It is built fresh via
// Init, or reconstructed from on-disk bytes via Parse, and never retains a
// reference to any other page.
type Page struct {
	buf           []byte
	pageNum       uint32
	pageSize      int
	reservedBytes int
	headerOffset  int

	kind             Kind
	firstFreeblock   uint16
	cellCount        uint16
	cellContentStart uint16 // on-disk encoding; 0 means 65536
	fragmentedBytes  uint8
	rightChild       uint32

	pointers []uint16 // cell-pointer array, in insertion (= row-id) order
}

// New wraps buf (which must be exactly pageSize bytes) as the page numbered
// pageNum, ready for Init.
func New(buf []byte, pageNum uint32, pageSize, reservedBytes int) *Page {
	return &Page{
		buf:           buf,
		pageNum:       pageNum,
		pageSize:      pageSize,
		reservedBytes: reservedBytes,
		headerOffset:  HeaderOffset(pageNum),
	}
}

// Init resets the page to an empty page of the given kind.
func (p *Page) Init(kind Kind) {
	p.kind = kind
	p.firstFreeblock = 0
	p.cellCount = 0
	p.cellContentStart = p.contentStartForEmpty()
	p.fragmentedBytes = 0
	p.rightChild = 0
	p.pointers = p.pointers[:0]
	for i := range p.buf {
		p.buf[i] = 0
	}
}

// usableSize is the page size minus the per-page reserved region SQLite
// carves off the tail of every page (the writer defaults to 0 unless
// configured otherwise, and the reader must honour whatever a foreign file
// specifies).
func (p *Page) usableSize() int {
	return p.pageSize - p.reservedBytes
}

func (p *Page) contentStartForEmpty() uint16 {
	if p.usableSize() == 65536 {
		return 0
	}
	return uint16(p.usableSize())
}

// contentStart returns the absolute (0-based within buf) offset of the start
// of the cell content area, decoding the "0 means 65536" convention.
func (p *Page) contentStart() int {
	if p.cellContentStart == 0 {
		return 65536
	}
	return int(p.cellContentStart)
}

func (p *Page) headerLen() int {
	if p.kind == KindInteriorTable {
		return InteriorHeaderLen
	}
	return LeafHeaderLen
}

// cellPointerAreaStart is the first byte after the page header, where the
// cell-pointer array begins.
func (p *Page) cellPointerAreaStart() int {
	return p.headerOffset + p.headerLen()
}

// FreeSpace returns how many bytes remain available for a new cell plus its
// 2-byte pointer-array entry.
func (p *Page) FreeSpace() int {
	firstFree := p.cellPointerAreaStart() + int(p.cellCount)*2
	return p.contentStart() - firstFree
}

// CellCount returns the number of cells currently on the page.
func (p *Page) CellCount() int { return int(p.cellCount) }

// PageNum returns the page's own page number.
func (p *Page) PageNum() uint32 { return p.pageNum }

// Kind returns the page's B-tree node type.
func (p *Page) Kind() Kind { return p.kind }

// RightChild returns the right-most child pointer (interior pages only).
func (p *Page) RightChild() uint32 { return p.rightChild }

// SetRightChild sets the right-most child pointer (interior pages only).
func (p *Page) SetRightChild(child uint32) {
	p.rightChild = child
}

// fits reports whether a cell of cellLen bytes can be placed without
// exceeding the page's usable size.
func (p *Page) fits(cellLen int) bool {
	firstFree := p.cellPointerAreaStart() + int(p.cellCount)*2 + 2
	newContentStart := p.contentStart() - cellLen
	return firstFree <= newContentStart
}

// AddCell places a leaf cell (varint payload-size, varint rowid, record
// bytes) on the page, provided it fits. ErrRowTooBig indicates the row
// cannot fit even on a fully empty page of this size; the caller should stop
// retrying rather than allocate ever-larger leaves.
func (p *Page) AddCell(rowid int64, record []byte) error {
	payloadLen := len(record)
	head := make([]byte, codec.MaxVarintLen*2)
	n := codec.WriteVarint(head, uint64(payloadLen))
	n += codec.WriteVarint(head[n:], codec.Int64ToUint64(rowid))
	cellLen := n + payloadLen

	if !p.fits(cellLen) {
		if p.cellCount == 0 {
			return ErrRowTooBig
		}
		return fmt.Errorf("page: cell does not fit in remaining free space")
	}

	newStart := p.contentStart() - cellLen
	copy(p.buf[newStart:], head[:n])
	copy(p.buf[newStart+n:], record)
	p.setContentStart(newStart)

	p.pointers = append(p.pointers, uint16(newStart))
	p.cellCount++
	return nil
}

// AddInteriorEntry places an interior cell (4-byte left child page number,
// varint row-id divider key) on the page.
func (p *Page) AddInteriorEntry(leftChild uint32, key int64) error {
	head := make([]byte, 4+codec.MaxVarintLen)
	codec.WriteU32(head, leftChild)
	n := 4 + codec.WriteVarint(head[4:], codec.Int64ToUint64(key))
	cellLen := n

	if !p.fits(cellLen) {
		if p.cellCount == 0 {
			return ErrRowTooBig
		}
		return fmt.Errorf("page: interior entry does not fit in remaining free space")
	}

	newStart := p.contentStart() - cellLen
	copy(p.buf[newStart:], head[:n])
	p.setContentStart(newStart)

	p.pointers = append(p.pointers, uint16(newStart))
	p.cellCount++
	return nil
}

func (p *Page) setContentStart(offset int) {
	if offset == 65536 {
		p.cellContentStart = 0
	} else {
		p.cellContentStart = uint16(offset)
	}
}

// FinalizeHeader writes the current header and cell-pointer array fields
// into the backing buffer. Must be called before the page is handed to the
// write callback.
func (p *Page) FinalizeHeader() {
	h := p.buf[p.headerOffset:]
	h[0] = byte(p.kind)
	codec.WriteU16(h[1:3], p.firstFreeblock)
	codec.WriteU16(h[3:5], p.cellCount)
	codec.WriteU16(h[5:7], p.cellContentStart)
	h[7] = p.fragmentedBytes
	if p.kind == KindInteriorTable {
		codec.WriteU32(h[8:12], p.rightChild)
	}

	ptrBase := p.cellPointerAreaStart()
	for i, off := range p.pointers {
		codec.WriteU16(p.buf[ptrBase+i*2:], off)
	}
}

// Bytes returns the full backing buffer, pageSize long.
func (p *Page) Bytes() []byte { return p.buf }

// Reopen reconstructs in-memory write state (cell count, content-start
// cursor, pointer array) from a page already parsed via ParseHeader, so
// AddCell/AddInteriorEntry can resume appending to a page loaded from disk.
func (p *Page) Reopen(h Header) {
	p.kind = h.Kind
	p.firstFreeblock = h.FirstFreeblock
	p.cellCount = h.CellCount
	p.cellContentStart = h.CellContentStart
	p.fragmentedBytes = h.FragmentedBytes
	p.rightChild = h.RightChild

	p.pointers = p.pointers[:0]
	base := p.cellPointerAreaStart()
	for i := 0; i < int(h.CellCount); i++ {
		off := int(codec.ReadU16(p.buf[base+i*2 : base+i*2+2]))
		p.pointers = append(p.pointers, uint16(off))
	}
}

// Header describes the parsed fields of an on-disk page header, independent
// of any particular Page instance — used by readers and by the tree
// finaliser, which must inspect a page without retaining it.
type Header struct {
	Kind             Kind
	FirstFreeblock   uint16
	CellCount        uint16
	CellContentStart uint16
	FragmentedBytes  uint8
	RightChild       uint32 // valid only when Kind == KindInteriorTable
}

// ParseHeader reads the B-tree page header out of buf for the given page
// number (which determines whether the header starts at 0 or 100).
func ParseHeader(buf []byte, pageNum uint32) (Header, error) {
	off := HeaderOffset(pageNum)
	if len(buf) < off+LeafHeaderLen {
		return Header{}, fmt.Errorf("page: buffer too small for header")
	}
	h := buf[off:]
	kind := Kind(h[0])
	hdr := Header{
		Kind:             kind,
		FirstFreeblock:   codec.ReadU16(h[1:3]),
		CellCount:        codec.ReadU16(h[3:5]),
		CellContentStart: codec.ReadU16(h[5:7]),
		FragmentedBytes:  h[7],
	}
	if kind == KindInteriorTable {
		if len(buf) < off+InteriorHeaderLen {
			return Header{}, fmt.Errorf("page: buffer too small for interior header")
		}
		hdr.RightChild = codec.ReadU32(h[8:12])
	}
	return hdr, nil
}

// CellPointerOffset returns the absolute offset of the i'th entry in the
// cell-pointer array.
func CellPointerOffset(pageNum uint32, h Header, i int) int {
	base := HeaderOffset(pageNum)
	if h.Kind == KindInteriorTable {
		base += InteriorHeaderLen
	} else {
		base += LeafHeaderLen
	}
	return base + i*2
}

// ReadCellOffset returns the absolute byte offset of the i'th cell's content.
func ReadCellOffset(buf []byte, pageNum uint32, h Header, i int) int {
	off := CellPointerOffset(pageNum, h, i)
	return int(codec.ReadU16(buf[off : off+2]))
}

// LeafCellRowID reads just the row-id of a leaf cell at the given content
// offset, without parsing the record payload.
func LeafCellRowID(buf []byte, offset int) (int64, error) {
	_, n := codec.ReadVarint(buf, offset) // payload length
	if n == 0 {
		return 0, fmt.Errorf("page: malformed payload-length varint")
	}
	rowid, n2 := codec.ReadVarint(buf, offset+n)
	if n2 == 0 {
		return 0, fmt.Errorf("page: malformed rowid varint")
	}
	return codec.Uint64ToInt64(rowid), nil
}

// InteriorCellChildAndKey reads an interior cell's left-child page number and
// divider row-id key at the given content offset.
func InteriorCellChildAndKey(buf []byte, offset int) (child uint32, key int64, err error) {
	if offset+4 > len(buf) {
		return 0, 0, fmt.Errorf("page: interior cell offset out of range")
	}
	child = codec.ReadU32(buf[offset : offset+4])
	k, n := codec.ReadVarint(buf, offset+4)
	if n == 0 {
		return 0, 0, fmt.Errorf("page: malformed interior key varint")
	}
	return child, codec.Uint64ToInt64(k), nil
}
