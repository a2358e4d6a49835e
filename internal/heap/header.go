package heap

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/tuannm99/novaheap/internal/alias/bx"
	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

// File header (page 0), little-endian:
//
//	[0:4]   magic
//	[4:6]   version
//	[6:8]   flags
//	[8:40]  table name, NUL terminated
//	[40:44] record size
//	[44:48] page list head
//	[48:52] page list tail
//	[52:56] free list head
//	[56:60] block count
//	[60:64] tuple count
//	[64:66] field count
//	[68:]   fields, 40 bytes each: name[32] type[1] pad[3] size[4]
const (
	FileMagic   uint32 = 0x4E484650 // "PFHN"
	FileVersion uint16 = 1

	flagVolatile uint16 = 1 << 0

	hdrMagic      = 0
	hdrVersion    = 4
	hdrFlags      = 6
	hdrName       = 8
	hdrRecordSize = 40
	hdrPageList   = 44
	hdrLastPage   = 48
	hdrFreeList   = 52
	hdrNumBlocks  = 56
	hdrNumTuples  = 60
	hdrNumFields  = 64
	hdrFields     = 68

	nameWidth      = 32
	fieldEntrySize = 40
	fieldType      = 32
	fieldSize      = 36

	MaxFields = 20
)

// Data page header, little-endian:
//
//	[0:4]   magic
//	[4:8]   page number
//	[8:12]  max records
//	[12:16] occupied
//	[16:20] next page
//	[20:24] prev page
//	[24:28] next free page
//	[32:256] occupancy bitmap, MSB first
const (
	PageMagic      uint32 = 0x4E485047 // "GPHN"
	PageHeaderSize        = 256

	phMagic      = 0
	phPageID     = 4
	phMaxRecords = 8
	phOccupied   = 12
	phNextPage   = 16
	phPrevPage   = 20
	phNextFree   = 24
	phBitmap     = 32

	bitmapBytes = PageHeaderSize - phBitmap
	// MaxRecordsPerPage is bounded by the bitmap that fits in the page header.
	MaxRecordsPerPage = bitmapBytes * 8
)

var (
	ErrCorruptHeader  = fmt.Errorf("heap: corrupt header: %w", storage.ErrPageCorrupted)
	ErrPageFull       = errors.New("heap: no free slot on page")
	ErrRecordNotFound = fmt.Errorf("heap: record not found: %w", storage.ErrPageNotFound)
	ErrRecordSize     = errors.New("heap: record bytes do not match record size")
	ErrRecordTooLarge = errors.New("heap: record does not fit in a page")
	ErrTooManyFields  = errors.New("heap: too many fields for header page")
	ErrUnknownFile    = fmt.Errorf("heap: unknown heap file: %w", storage.ErrFileNotFound)
	ErrPageOutOfRange = errors.New("heap: page ordinal out of range")
)

// FileHeader is the decoded page 0 of a heap file.
type FileHeader struct {
	TableName  string
	Volatile   bool
	RecordSize int
	PageList   storage.PageNo
	LastPage   storage.PageNo
	FreeList   storage.PageNo
	NumBlocks  int
	NumTuples  int
	Desc       *record.Descriptor
}

// headerCapacity is the number of field entries a header page of pageSize holds.
func headerCapacity(pageSize int) int {
	return min(MaxFields, (pageSize-hdrFields)/fieldEntrySize)
}

// maxRecords is the slot count of a data page.
func maxRecords(pageSize, recordSize int) int {
	if recordSize <= 0 {
		return 0
	}
	return min((pageSize-PageHeaderSize)/recordSize, MaxRecordsPerPage)
}

func slotOffset(slot, recordSize int) int {
	return PageHeaderSize + slot*recordSize
}

func (h *FileHeader) encode(buf []byte) error {
	if h.Desc.NumFields() > headerCapacity(len(buf)) {
		return fmt.Errorf("%w: %d fields, page holds %d", ErrTooManyFields, h.Desc.NumFields(), headerCapacity(len(buf)))
	}
	clear(buf)

	bx.PutU32At(buf, hdrMagic, FileMagic)
	bx.PutU16At(buf, hdrVersion, FileVersion)
	var flags uint16
	if h.Volatile {
		flags |= flagVolatile
	}
	bx.PutU16At(buf, hdrFlags, flags)
	if !bx.PutCString(buf[hdrName:hdrName+nameWidth], h.TableName) {
		return fmt.Errorf("%w: table name %q longer than %d bytes", record.ErrInvalidSchema, h.TableName, nameWidth-1)
	}
	bx.PutU32At(buf, hdrRecordSize, uint32(h.RecordSize))
	bx.PutI32At(buf, hdrPageList, int32(h.PageList))
	bx.PutI32At(buf, hdrLastPage, int32(h.LastPage))
	bx.PutI32At(buf, hdrFreeList, int32(h.FreeList))
	bx.PutU32At(buf, hdrNumBlocks, uint32(h.NumBlocks))
	bx.PutU32At(buf, hdrNumTuples, uint32(h.NumTuples))
	bx.PutU16At(buf, hdrNumFields, uint16(h.Desc.NumFields()))

	for i, f := range h.Desc.Fields {
		e := buf[hdrFields+i*fieldEntrySize : hdrFields+(i+1)*fieldEntrySize]
		bx.PutCString(e[:nameWidth], f.Name)
		e[fieldType] = byte(f.Type)
		bx.PutU32At(e, fieldSize, uint32(f.Size))
	}
	return nil
}

// decodeFileHeader parses page 0. When desc is non-nil the field table is
// not decoded again.
func decodeFileHeader(buf []byte, desc *record.Descriptor) (*FileHeader, error) {
	if magic := bx.U32At(buf, hdrMagic); magic != FileMagic {
		return nil, fmt.Errorf("%w: bad file magic 0x%08x", ErrCorruptHeader, magic)
	}
	if v := bx.U16At(buf, hdrVersion); v != FileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, v)
	}

	h := &FileHeader{
		TableName:  bx.CString(buf[hdrName : hdrName+nameWidth]),
		Volatile:   bx.U16At(buf, hdrFlags)&flagVolatile != 0,
		RecordSize: int(bx.U32At(buf, hdrRecordSize)),
		PageList:   storage.PageNo(bx.I32At(buf, hdrPageList)),
		LastPage:   storage.PageNo(bx.I32At(buf, hdrLastPage)),
		FreeList:   storage.PageNo(bx.I32At(buf, hdrFreeList)),
		NumBlocks:  int(bx.U32At(buf, hdrNumBlocks)),
		NumTuples:  int(bx.U32At(buf, hdrNumTuples)),
		Desc:       desc,
	}

	if h.Desc == nil {
		n := int(bx.U16At(buf, hdrNumFields))
		if n == 0 || n > headerCapacity(len(buf)) {
			return nil, fmt.Errorf("%w: field count %d", ErrCorruptHeader, n)
		}
		fields := make([]record.Field, n)
		for i := range fields {
			e := buf[hdrFields+i*fieldEntrySize : hdrFields+(i+1)*fieldEntrySize]
			fields[i] = record.Field{
				Name: bx.CString(e[:nameWidth]),
				Type: record.FieldType(e[fieldType]),
				Size: int(bx.U32At(e, fieldSize)),
			}
		}
		d := record.NewDescriptor(fields...)
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
		}
		h.Desc = d
	}

	if h.RecordSize != h.Desc.RecordSize() {
		return nil, fmt.Errorf("%w: record size %d, fields need %d", ErrCorruptHeader, h.RecordSize, h.Desc.RecordSize())
	}
	return h, nil
}

// PageHeader is the decoded header of a data page, bitmap included.
type PageHeader struct {
	PageID     storage.PageNo
	MaxRecords int
	Occupied   int
	NextPage   storage.PageNo
	PrevPage   storage.PageNo
	NextFree   storage.PageNo
	Bitmap     []byte // ceil(MaxRecords/8) bytes
}

func newPageHeader(pn storage.PageNo, maxRecs int, prev storage.PageNo) *PageHeader {
	return &PageHeader{
		PageID:     pn,
		MaxRecords: maxRecs,
		NextPage:   storage.NoPage,
		PrevPage:   prev,
		NextFree:   storage.NoPage,
		Bitmap:     make([]byte, (maxRecs+7)/8),
	}
}

// encode writes the header into the first PageHeaderSize bytes of buf.
func (p *PageHeader) encode(buf []byte) {
	clear(buf[:PageHeaderSize])
	bx.PutU32At(buf, phMagic, PageMagic)
	bx.PutI32At(buf, phPageID, int32(p.PageID))
	bx.PutU32At(buf, phMaxRecords, uint32(p.MaxRecords))
	bx.PutU32At(buf, phOccupied, uint32(p.Occupied))
	bx.PutI32At(buf, phNextPage, int32(p.NextPage))
	bx.PutI32At(buf, phPrevPage, int32(p.PrevPage))
	bx.PutI32At(buf, phNextFree, int32(p.NextFree))
	copy(buf[phBitmap:], p.Bitmap)
}

func decodePageHeader(buf []byte, pn storage.PageNo) (*PageHeader, error) {
	if magic := bx.U32At(buf, phMagic); magic != PageMagic {
		return nil, fmt.Errorf("%w: page %s: bad page magic 0x%08x", ErrCorruptHeader, pn, magic)
	}
	p := &PageHeader{
		PageID:     storage.PageNo(bx.I32At(buf, phPageID)),
		MaxRecords: int(bx.U32At(buf, phMaxRecords)),
		Occupied:   int(bx.U32At(buf, phOccupied)),
		NextPage:   storage.PageNo(bx.I32At(buf, phNextPage)),
		PrevPage:   storage.PageNo(bx.I32At(buf, phPrevPage)),
		NextFree:   storage.PageNo(bx.I32At(buf, phNextFree)),
	}
	if p.PageID != pn {
		return nil, fmt.Errorf("%w: page %s claims id %s", ErrCorruptHeader, pn, p.PageID)
	}
	if p.MaxRecords <= 0 || p.MaxRecords > MaxRecordsPerPage || p.Occupied > p.MaxRecords {
		return nil, fmt.Errorf("%w: page %s: occupied %d of %d", ErrCorruptHeader, pn, p.Occupied, p.MaxRecords)
	}
	p.Bitmap = make([]byte, (p.MaxRecords+7)/8)
	copy(p.Bitmap, buf[phBitmap:])
	return p, nil
}

func (p *PageHeader) Full() bool { return p.Occupied >= p.MaxRecords }

// Live reports whether slot holds a record.
func (p *PageHeader) Live(slot int) bool {
	if slot < 0 || slot >= p.MaxRecords {
		return false
	}
	return p.Bitmap[slot/8]&(0x80>>(slot%8)) != 0
}

func (p *PageHeader) setBit(slot int)   { p.Bitmap[slot/8] |= 0x80 >> (slot % 8) }
func (p *PageHeader) clearBit(slot int) { p.Bitmap[slot/8] &^= 0x80 >> (slot % 8) }

// firstFree returns the lowest clear slot, or -1.
func (p *PageHeader) firstFree() int {
	for i := 0; i < p.MaxRecords; i++ {
		if !p.Live(i) {
			return i
		}
	}
	return -1
}

// nextLive returns the lowest set slot >= from, or -1.
func (p *PageHeader) nextLive(from int) int {
	for i := max(from, 0); i < p.MaxRecords; i++ {
		if p.Live(i) {
			return i
		}
	}
	return -1
}

// popCount counts live slots in the bitmap.
func (p *PageHeader) popCount() int {
	n := 0
	for i, b := range p.Bitmap {
		if i == len(p.Bitmap)-1 && p.MaxRecords%8 != 0 {
			b &= byte(0xFF << (8 - p.MaxRecords%8))
		}
		n += bits.OnesCount8(b)
	}
	return n
}
