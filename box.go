// Package mp4 implements encoding and decoding of ISO Base Media File Format (MP4) boxes.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

var be = binary.BigEndian

const uint32Max = math.MaxUint32

// maxDepth limits box nesting so hostile input cannot exhaust the stack.
const maxDepth = 32

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// newBoxType creates a BoxType from a 4-character string.
func newBoxType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeStyp = newBoxType("styp")
	TypeFree = newBoxType("free")
	TypeSkip = newBoxType("skip")
	TypeUUID = newBoxType("uuid")
	TypeSidx = newBoxType("sidx")
	TypeMdat = newBoxType("mdat")
	TypeMoov = newBoxType("moov")
	TypeMvhd = newBoxType("mvhd")
	TypeTrak = newBoxType("trak")
	TypeTkhd = newBoxType("tkhd")
	TypeTref = newBoxType("tref")
	TypeEdts = newBoxType("edts")
	TypeElst = newBoxType("elst")
	TypeMdia = newBoxType("mdia")
	TypeMdhd = newBoxType("mdhd")
	TypeHdlr = newBoxType("hdlr")
	TypeMinf = newBoxType("minf")
	TypeVmhd = newBoxType("vmhd")
	TypeSmhd = newBoxType("smhd")
	TypeDinf = newBoxType("dinf")
	TypeDref = newBoxType("dref")
	TypeURL  = newBoxType("url ")
	TypeURN  = newBoxType("urn ")
	TypeStbl = newBoxType("stbl")
	TypeStsd = newBoxType("stsd")
	TypeStts = newBoxType("stts")
	TypeCtts = newBoxType("ctts")
	TypeStsc = newBoxType("stsc")
	TypeStsz = newBoxType("stsz")
	TypeStz2 = newBoxType("stz2")
	TypeStco = newBoxType("stco")
	TypeCo64 = newBoxType("co64")
	TypeStss = newBoxType("stss")
	TypeStdp = newBoxType("stdp")
	TypeBtrt = newBoxType("btrt")
	TypeMvex = newBoxType("mvex")
	TypeMehd = newBoxType("mehd")
	TypeTrex = newBoxType("trex")
	TypeMoof = newBoxType("moof")
	TypeMfhd = newBoxType("mfhd")
	TypeTraf = newBoxType("traf")
	TypeTfhd = newBoxType("tfhd")
	TypeTfdt = newBoxType("tfdt")
	TypeTrun = newBoxType("trun")
	TypeMfra = newBoxType("mfra")
	TypeMeta = newBoxType("meta")
	TypeUdta = newBoxType("udta")

	TypeAvc1 = newBoxType("avc1")
	TypeAvc3 = newBoxType("avc3")
	TypeHvc1 = newBoxType("hvc1")
	TypeHev1 = newBoxType("hev1")
	TypeEncv = newBoxType("encv")
	TypeMp4v = newBoxType("mp4v")
	TypeVp09 = newBoxType("vp09")
	TypeAv01 = newBoxType("av01")
	TypeAvcC = newBoxType("avcC")
	TypeHvcC = newBoxType("hvcC")
	TypeMp4a = newBoxType("mp4a")
	TypeEnca = newBoxType("enca")
	TypeAc3  = newBoxType("ac-3")
	TypeEc3  = newBoxType("ec-3")
	TypeOpus = newBoxType("Opus")
	TypeFlac = newBoxType("fLaC")
	TypeEsds = newBoxType("esds")

	TypeSinf = newBoxType("sinf")
	TypeFrma = newBoxType("frma")
	TypeSchm = newBoxType("schm")
	TypeSchi = newBoxType("schi")
	TypeTenc = newBoxType("tenc")
	TypePssh = newBoxType("pssh")
	TypeSenc = newBoxType("senc")

	TypeWvtt = newBoxType("wvtt")
	TypeVttC = newBoxType("vttC")
	TypeVlab = newBoxType("vlab")
	TypeVttc = newBoxType("vttc")
	TypeVtte = newBoxType("vtte")
	TypeVtta = newBoxType("vtta")
	TypeIden = newBoxType("iden")
	TypeSttg = newBoxType("sttg")
	TypePayl = newBoxType("payl")
	TypeCtim = newBoxType("ctim")
	TypeVsid = newBoxType("vsid")
)

// Box represents an MP4 box (atom).
//
// Exactly one body representation is used: Payload for registered leaf
// types, Children for containers, Raw for opaque and unknown types. Leaf
// boxes whose schema has nested boxes (stsd, dref, sample entries) carry
// both a Payload and Children. Raw on a leaf box holds any bytes that follow
// the record and is written back unchanged.
type Box struct {
	Type         BoxType
	ExtendedType uuid.UUID // set for uuid boxes only

	Offset int64  // absolute offset of the size field
	Size   uint64 // total size including header
	End    int64  // Offset + Size

	Version uint8
	Flags   uint32

	Children []*Box
	Payload  any
	Raw      []byte
}

// Child returns the first direct child box of the given type, or nil.
func (b *Box) Child(t BoxType) *Box {
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// ChildList returns all direct child boxes of the given type.
func (b *Box) ChildList(t BoxType) []*Box {
	var out []*Box
	for _, c := range b.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// HeaderSize returns the encoded header length, full box fields included.
func (b *Box) HeaderSize() int {
	n := headerSize
	if b.Type == TypeUUID {
		n += extendedLen
	}
	if b.Size > uint32Max {
		n += largeSizeLen
	}
	if s := lookup(b.Type, b.ExtendedType); s != nil && s.full {
		n += fullHeaderSize
	}
	return n
}

// decoder holds per-call decode state.
type decoder struct {
	strict bool
	depth  int
}

// Decode decodes a box from buf[start:end].
func Decode(buf []byte, start, end int) (*Box, error) {
	if start < 0 || end > len(buf) || start > end {
		return nil, fmt.Errorf("%w: range [%d:%d] outside buffer of %d bytes", ErrInvalidLength, start, end, len(buf))
	}
	d := &decoder{}
	return d.decodeBox(newCursor(buf, start, end, 0))
}

// DecodeAll decodes top-level boxes until the end of buf.
func DecodeAll(buf []byte) ([]*Box, error) {
	d := &decoder{}
	return d.decodeAll(newCursor(buf, 0, len(buf), 0))
}

func (d *decoder) decodeAll(c *cursor) ([]*Box, error) {
	var boxes []*Box
	for c.remaining() > 0 {
		box, err := d.decodeBox(c)
		if err != nil {
			return boxes, err
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// decodeBox decodes one box at the cursor and advances past it.
func (d *decoder) decodeBox(c *cursor) (*Box, error) {
	h, err := readHeader(c)
	if err != nil {
		return nil, err
	}
	box := &Box{
		Type:         h.typ,
		ExtendedType: h.ext,
		Offset:       h.offset,
		Size:         h.size,
		End:          h.offset + int64(h.size),
	}
	body := c.sub(h.bodyLen)

	s := lookup(h.typ, h.ext)
	if s == nil && d.strict {
		if h.typ == TypeUUID {
			return nil, fmt.Errorf("%w: uuid %s at offset %d", ErrUnknownBoxType, h.ext, h.offset)
		}
		return nil, fmt.Errorf("%w: %s at offset %d", ErrUnknownBoxType, h.typ, h.offset)
	}
	if err := d.decodeBody(box, s, body); err != nil {
		return nil, fmt.Errorf("decoding %s at offset %d: %w", h.typ, h.offset, err)
	}
	return box, nil
}

func (d *decoder) decodeBody(box *Box, s *schema, body *cursor) error {
	if s == nil || s.kind == kindOpaque {
		box.Raw = body.rest()
		return body.err
	}
	if s.full {
		vf := body.u32()
		if body.err != nil {
			return body.err
		}
		box.Version = uint8(vf >> 24)
		box.Flags = vf & 0x00ffffff
	}

	if s.kind == kindContainer {
		return d.decodeChildren(box, body)
	}

	if err := s.codec.decode(box, body, d); err != nil {
		return err
	}
	if body.err != nil {
		return body.err
	}
	box.Raw = body.rest()
	return nil
}

// decodeChildren decodes boxes until the bounded range is exhausted.
// Zero children is valid.
func (d *decoder) decodeChildren(box *Box, c *cursor) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.exit()

	for c.remaining() > 0 {
		child, err := d.decodeBox(c)
		if err != nil {
			return err
		}
		box.Children = append(box.Children, child)
	}
	return nil
}

// decodeEntries decodes exactly n child boxes, as stsd and dref do.
func (d *decoder) decodeEntries(box *Box, c *cursor, n uint32) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.exit()

	n = uint32(c.count(n, headerSize))
	for range n {
		child, err := d.decodeBox(c)
		if err != nil {
			return err
		}
		box.Children = append(box.Children, child)
	}
	return c.err
}

func (d *decoder) enter() error {
	if d.depth >= maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d boxes", ErrMalformedBox, maxDepth)
	}
	d.depth++
	return nil
}

func (d *decoder) exit() { d.depth-- }

// EncodingLength computes the total encoded size of the box and populates
// the Size fields of the box and its descendants. Flags and versions that are
// derived from the payload are recomputed first.
func EncodingLength(box *Box) uint64 {
	s := lookup(box.Type, box.ExtendedType)
	var body uint64
	switch {
	case s == nil || s.kind == kindOpaque:
		body = uint64(len(box.Raw))
	case s.kind == kindContainer:
		body = childrenLength(box)
	case box.Payload == nil:
		body = uint64(len(box.Raw))
	default:
		if s.codec.rebuild != nil {
			s.codec.rebuild(box)
		}
		body = uint64(s.codec.encodingLength(box)) + uint64(len(box.Raw))
	}
	if s != nil && s.full && !(s.kind == kindLeaf && box.Payload == nil) {
		body += fullHeaderSize
	}
	_, total := frameLen(box.Type, body)
	box.Size = total
	return total
}

func childrenLength(box *Box) uint64 {
	var n uint64
	for _, child := range box.Children {
		n += EncodingLength(child)
	}
	return n
}

// validate checks that every payload matches the schema of its box type.
func validate(box *Box) error {
	if s := lookup(box.Type, box.ExtendedType); s != nil && s.kind == kindLeaf && box.Payload != nil {
		if !s.codec.accepts(box) {
			return fmt.Errorf("%w: payload %T does not match box %s", ErrMalformedBox, box.Payload, box.Type)
		}
	}
	for _, child := range box.Children {
		if err := validate(child); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes the box into buf starting at offset.
// Returns the number of bytes written.
func Encode(box *Box, buf []byte, offset int) (int, error) {
	if err := validate(box); err != nil {
		return 0, err
	}
	sz := EncodingLength(box)
	if uint64(len(buf)-offset) < sz {
		return 0, fmt.Errorf("encoding %s: %w: need %d bytes, have %d", box.Type, io.ErrShortBuffer, sz, len(buf)-offset)
	}
	w := &writer{buf: buf, pos: offset}
	encodeBox(box, w)
	return int(sz), nil
}

// encodeBox writes a box whose sizes were computed by EncodingLength.
func encodeBox(box *Box, w *writer) {
	box.Offset = w.offset()
	box.End = box.Offset + int64(box.Size)
	writeHeader(w, box)

	s := lookup(box.Type, box.ExtendedType)
	if s != nil && s.full && !(s.kind == kindLeaf && box.Payload == nil) {
		w.u32(uint32(box.Version)<<24 | box.Flags&0x00ffffff)
	}
	switch {
	case s == nil || s.kind == kindOpaque:
		w.bytes(box.Raw)
	case s.kind == kindContainer:
		encodeChildren(box, w)
	case box.Payload == nil:
		w.bytes(box.Raw)
	default:
		s.codec.encode(box, w)
		w.bytes(box.Raw)
	}
}

func encodeChildren(box *Box, w *writer) {
	for _, child := range box.Children {
		encodeBox(child, w)
	}
}

// EncodeToBytes is a convenience that allocates a buffer and encodes the box.
func EncodeToBytes(box *Box) ([]byte, error) {
	return EncodeToBuf(box, nil)
}

// EncodeToBuf encodes the box into the provided buffer slice.
// The buffer will be grown if needed. Returns the slice containing the encoded data.
func EncodeToBuf(box *Box, buf []byte) ([]byte, error) {
	if err := validate(box); err != nil {
		return nil, err
	}
	sz := int(EncodingLength(box))
	if cap(buf) < sz {
		buf = make([]byte, sz)
	} else {
		buf = buf[:sz]
	}
	encodeBox(box, &writer{buf: buf})
	return buf, nil
}
