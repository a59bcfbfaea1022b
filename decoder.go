package mp4

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// Decoder reads top-level boxes from a stream one at a time. Each box is
// read fully into memory before it is decoded, except mdat bodies when
// SkipMdat is set.
type Decoder struct {
	// Strict rejects box types without a registered schema with
	// ErrUnknownBoxType instead of keeping them as raw bytes.
	Strict bool

	// SkipMdat discards mdat bodies. The decoded box carries an Mdat payload
	// with only ContentLength set.
	SkipMdat bool

	r   io.Reader
	off int64
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Offset returns the stream offset of the next box.
func (d *Decoder) Offset() int64 { return d.off }

// Next decodes the next top-level box. It returns io.EOF when the stream ends
// cleanly between boxes.
func (d *Decoder) Next() (*Box, error) {
	var hdr [headerSize + largeSizeLen + extendedLen]byte
	n, err := io.ReadFull(d.r, hdr[:headerSize])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, d.readErr(err, headerSize, n)
	}
	hdrLen := headerSize
	size := uint64(be.Uint32(hdr[:]))
	typ := BoxType(hdr[4:8])

	if size == 1 {
		if err := d.readMore(hdr[hdrLen : hdrLen+largeSizeLen]); err != nil {
			return nil, err
		}
		size = be.Uint64(hdr[hdrLen:])
		hdrLen += largeSizeLen
	}
	if typ == TypeUUID {
		if err := d.readMore(hdr[hdrLen : hdrLen+extendedLen]); err != nil {
			return nil, err
		}
		hdrLen += extendedLen
	}

	toEnd := size == 0
	if !toEnd && (size < uint64(hdrLen) || size > math.MaxInt64) {
		return nil, fmt.Errorf("%w: box %s at offset %d declares %d bytes, header is %d",
			ErrInvalidLength, typ, d.off, size, hdrLen)
	}
	bodyLen := int64(size) - int64(hdrLen)

	if d.SkipMdat && typ == TypeMdat {
		return d.skipMdat(hdrLen, bodyLen, toEnd)
	}

	var body []byte
	if toEnd {
		body, err = io.ReadAll(d.r)
	} else {
		body, err = io.ReadAll(io.LimitReader(d.r, bodyLen))
		if err == nil && int64(len(body)) < bodyLen {
			err = io.ErrUnexpectedEOF
		}
	}
	if err != nil {
		return nil, d.readErr(err, int(bodyLen), len(body))
	}

	buf := make([]byte, 0, hdrLen+len(body))
	buf = append(buf, hdr[:hdrLen]...)
	buf = append(buf, body...)

	dec := &decoder{strict: d.Strict}
	box, err := dec.decodeBox(newCursor(buf, 0, len(buf), d.off))
	if err != nil {
		return nil, err
	}
	d.off += int64(len(buf))
	return box, nil
}

// DecodeAll decodes boxes until the end of the stream.
func (d *Decoder) DecodeAll() ([]*Box, error) {
	var boxes []*Box
	for {
		box, err := d.Next()
		if errors.Is(err, io.EOF) {
			return boxes, nil
		}
		if err != nil {
			return boxes, err
		}
		boxes = append(boxes, box)
	}
}

func (d *Decoder) readMore(p []byte) error {
	n, err := io.ReadFull(d.r, p)
	if err != nil {
		return d.readErr(err, len(p), n)
	}
	return nil
}

func (d *Decoder) readErr(err error, want, got int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedInput, want, d.off, got)
	}
	return fmt.Errorf("reading box at offset %d: %w", d.off, err)
}

func (d *Decoder) skipMdat(hdrLen int, bodyLen int64, toEnd bool) (*Box, error) {
	var skipped int64
	var err error
	if s, ok := d.r.(io.Seeker); ok {
		skipped, err = seekForward(s, bodyLen, toEnd)
	} else if toEnd {
		skipped, err = io.Copy(io.Discard, d.r)
	} else {
		skipped, err = io.CopyN(io.Discard, d.r, bodyLen)
	}
	if err != nil {
		return nil, d.readErr(err, int(bodyLen), int(skipped))
	}

	size := uint64(hdrLen) + uint64(skipped)
	box := &Box{
		Type:    TypeMdat,
		Offset:  d.off,
		Size:    size,
		End:     d.off + int64(size),
		Payload: &Mdat{ContentLength: uint64(skipped)},
	}
	d.off = box.End
	return box, nil
}

// seekForward skips n bytes (or to the end when toEnd is set) and fails with
// io.ErrUnexpectedEOF when the stream is shorter.
func seekForward(s io.Seeker, n int64, toEnd bool) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if toEnd {
		return end - cur, nil
	}
	if cur+n > end {
		return end - cur, io.ErrUnexpectedEOF
	}
	_, err = s.Seek(cur+n, io.SeekStart)
	return n, err
}
