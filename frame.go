package mp4

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	headerSize     = 8
	largeSizeLen   = 8
	extendedLen    = 16
	fullHeaderSize = 4
)

// cursor is a bounded big-endian reader over buf[pos:end]. Reads past end
// record a sticky ErrTruncatedInput and return zero values, so codecs can
// decode a whole record and check the error once.
type cursor struct {
	buf  []byte
	pos  int
	end  int
	base int64 // absolute stream offset of buf[0]
	err  error
}

func newCursor(buf []byte, start, end int, base int64) *cursor {
	return &cursor{buf: buf, pos: start, end: end, base: base}
}

func (c *cursor) remaining() int { return c.end - c.pos }

// offset returns the absolute stream offset of the next unread byte.
func (c *cursor) offset() int64 { return c.base + int64(c.pos) }

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.end-c.pos < n {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedInput, n, c.offset(), c.end-c.pos)
		return false
	}
	return true
}

// fail records a malformed-field error unless an error is already pending.
func (c *cursor) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformedBox}, args...)...)
	}
}

// sub returns a cursor over the next n bytes and advances past them.
func (c *cursor) sub(n int) *cursor {
	if !c.need(n) {
		return &cursor{buf: c.buf, pos: c.pos, end: c.pos, base: c.base, err: c.err}
	}
	s := &cursor{buf: c.buf, pos: c.pos, end: c.pos + n, base: c.base}
	c.pos += n
	return s
}

// count validates that n entries of size bytes each fit in the remainder,
// so a hostile entry count cannot force a huge allocation.
func (c *cursor) count(n uint32, size int) int {
	if c.err != nil {
		return 0
	}
	if size > 0 && int64(n)*int64(size) > int64(c.remaining()) {
		c.err = fmt.Errorf("%w: %d entries of %d bytes at offset %d, have %d bytes",
			ErrTruncatedInput, n, size, c.offset(), c.remaining())
		return 0
	}
	return int(n)
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := be.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) u24() uint32 {
	if !c.need(3) {
		return 0
	}
	b := c.buf[c.pos:]
	c.pos += 3
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := be.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := be.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v
}

func (c *cursor) i16() int16 { return int16(c.u16()) }
func (c *cursor) i32() int32 { return int32(c.u32()) }

// uvar reads a 32-bit field for version 0 and a 64-bit field otherwise.
func (c *cursor) uvar(version uint8) uint64 {
	if version == 1 {
		return c.u64()
	}
	return uint64(c.u32())
}

func (c *cursor) fourCC() (t [4]byte) {
	if !c.need(4) {
		return t
	}
	copy(t[:], c.buf[c.pos:])
	c.pos += 4
	return t
}

func (c *cursor) uuid() (id uuid.UUID) {
	if !c.need(16) {
		return id
	}
	copy(id[:], c.buf[c.pos:])
	c.pos += 16
	return id
}

// bytes returns a copy of the next n bytes.
func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, c.buf[c.pos:])
	c.pos += n
	return b
}

// rest returns a copy of everything left, or nil when nothing is left.
func (c *cursor) rest() []byte {
	if c.err != nil || c.remaining() == 0 {
		return nil
	}
	return c.bytes(c.remaining())
}

func (c *cursor) skip(n int) {
	if c.need(n) {
		c.pos += n
	}
}

// zeros consumes n bytes and reports whether all of them were zero.
func (c *cursor) zeros(n int) bool {
	if !c.need(n) {
		return true
	}
	ok := true
	for _, b := range c.buf[c.pos : c.pos+n] {
		if b != 0 {
			ok = false
			break
		}
	}
	c.pos += n
	return ok
}

// cstring reads a NUL-terminated string. A missing terminator ends the string
// at the end of the range.
func (c *cursor) cstring() string {
	if c.err != nil {
		return ""
	}
	i := c.pos
	for i < c.end && c.buf[i] != 0 {
		i++
	}
	s := string(c.buf[c.pos:i])
	c.pos = i
	if c.pos < c.end {
		c.pos++
	}
	return s
}

// text reads the remainder as an unterminated string.
func (c *cursor) text() string {
	if c.err != nil {
		return ""
	}
	s := string(c.buf[c.pos:c.end])
	c.pos = c.end
	return s
}

// writer encodes big-endian fields into a buffer sized by EncodingLength.
type writer struct {
	buf  []byte
	pos  int
	base int64
}

func (w *writer) offset() int64 { return w.base + int64(w.pos) }

func (w *writer) u8(v uint8) {
	w.buf[w.pos] = v
	w.pos++
}

func (w *writer) u16(v uint16) {
	be.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

func (w *writer) u24(v uint32) {
	w.buf[w.pos] = byte(v >> 16)
	w.buf[w.pos+1] = byte(v >> 8)
	w.buf[w.pos+2] = byte(v)
	w.pos += 3
}

func (w *writer) u32(v uint32) {
	be.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *writer) u64(v uint64) {
	be.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *writer) i16(v int16) { w.u16(uint16(v)) }
func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) uvar(version uint8, v uint64) {
	if version == 1 {
		w.u64(v)
		return
	}
	w.u32(uint32(v))
}

func (w *writer) bytes(p []byte) {
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
}

func (w *writer) zeros(n int) {
	clear(w.buf[w.pos : w.pos+n])
	w.pos += n
}

func (w *writer) cstring(s string) {
	w.bytes([]byte(s))
	w.u8(0)
}

// header is a decoded box frame.
type header struct {
	offset  int64
	size    uint64
	hdrLen  int
	typ     BoxType
	ext     uuid.UUID
	bodyLen int
}

// readHeader decodes a box frame at the cursor. The size field counts the
// whole box, so the body length is size minus the header that was read.
func readHeader(c *cursor) (header, error) {
	h := header{offset: c.offset()}
	avail := c.remaining()
	if avail < headerSize {
		return h, fmt.Errorf("%w: box header at offset %d needs %d bytes, have %d",
			ErrTruncatedInput, h.offset, headerSize, avail)
	}
	size32 := c.u32()
	h.typ = c.fourCC()
	h.hdrLen = headerSize
	h.size = uint64(size32)

	switch size32 {
	case 1:
		h.size = c.u64()
		h.hdrLen += largeSizeLen
	case 0:
		h.size = uint64(avail)
	}
	if h.typ == TypeUUID {
		h.ext = c.uuid()
		h.hdrLen += extendedLen
	}
	if c.err != nil {
		return h, fmt.Errorf("box %s header: %w", h.typ, c.err)
	}
	if h.size < uint64(h.hdrLen) {
		return h, fmt.Errorf("%w: box %s at offset %d declares %d bytes, header is %d",
			ErrInvalidLength, h.typ, h.offset, h.size, h.hdrLen)
	}
	if h.size > uint64(avail) {
		return h, fmt.Errorf("%w: box %s at offset %d declares %d bytes, have %d",
			ErrTruncatedInput, h.typ, h.offset, h.size, avail)
	}
	h.bodyLen = int(h.size) - h.hdrLen
	return h, nil
}

// frameLen returns the header length and the size field value for a box
// whose body is bodyLen bytes, promoting to a 64-bit size when needed.
func frameLen(t BoxType, bodyLen uint64) (hdrLen int, total uint64) {
	hdrLen = headerSize
	if t == TypeUUID {
		hdrLen += extendedLen
	}
	total = uint64(hdrLen) + bodyLen
	if total > uint32Max {
		hdrLen += largeSizeLen
		total += largeSizeLen
	}
	return hdrLen, total
}

func writeHeader(w *writer, box *Box) {
	if box.Size > uint32Max {
		w.u32(1)
		w.bytes(box.Type[:])
		w.u64(box.Size)
	} else {
		w.u32(uint32(box.Size))
		w.bytes(box.Type[:])
	}
	if box.Type == TypeUUID {
		w.bytes(box.ExtendedType[:])
	}
}
