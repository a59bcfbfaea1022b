package mp4

import (
	"fmt"
	"io"
)

// Encoder writes boxes to a stream.
//
// On an io.WriteSeeker, container boxes are written with a placeholder size
// that is patched once their children are out, so only one leaf is held in
// memory at a time. On other writers each top-level box is encoded into a
// buffer first. Skipped mdat bodies (nil Data) are written as zeros.
type Encoder struct {
	w   io.Writer
	ws  io.WriteSeeker
	off int64
	buf []byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	// Pipes and terminals satisfy io.WriteSeeker but fail to seek.
	if ws, ok := w.(io.WriteSeeker); ok {
		if off, err := ws.Seek(0, io.SeekCurrent); err == nil {
			e.ws = ws
			e.off = off
		}
	}
	return e
}

// Offset returns the stream offset of the next box.
func (e *Encoder) Offset() int64 { return e.off }

// Encode writes box and its descendants, updating their Offset, Size and End.
func (e *Encoder) Encode(box *Box) error {
	if err := validate(box); err != nil {
		return err
	}
	if e.ws != nil {
		return e.encodeSeeking(box)
	}
	return e.encodeBuffered(box)
}

func (e *Encoder) encodeBuffered(box *Box) error {
	if isSkippedMdat(box) {
		return e.writeSkippedMdat(box)
	}
	sz := EncodingLength(box)
	if cap(e.buf) < int(sz) {
		e.buf = make([]byte, sz)
	}
	buf := e.buf[:sz]
	encodeBox(box, &writer{buf: buf, base: e.off})
	return e.write(buf)
}

func (e *Encoder) encodeSeeking(box *Box) error {
	s := lookup(box.Type, box.ExtendedType)
	if s == nil || s.kind != kindContainer {
		return e.encodeBuffered(box)
	}

	start := e.off
	box.Offset = start
	hdr := make([]byte, headerSize, headerSize+extendedLen)
	copy(hdr[4:], box.Type[:])
	if box.Type == TypeUUID {
		hdr = append(hdr, box.ExtendedType[:]...)
	}
	if err := e.write(hdr); err != nil {
		return err
	}
	for _, child := range box.Children {
		if err := e.encodeSeeking(child); err != nil {
			return err
		}
	}

	size := uint64(e.off - start)
	if size > uint32Max {
		return fmt.Errorf("%w: container %s at offset %d grew to %d bytes", ErrInvalidLength, box.Type, start, size)
	}
	box.Size = size
	box.End = e.off

	var patch [4]byte
	be.PutUint32(patch[:], uint32(size))
	if _, err := e.ws.Seek(start, io.SeekStart); err != nil {
		return err
	}
	if _, err := e.ws.Write(patch[:]); err != nil {
		return err
	}
	_, err := e.ws.Seek(e.off, io.SeekStart)
	return err
}

func isSkippedMdat(box *Box) bool {
	m, ok := box.Payload.(*Mdat)
	return ok && box.Type == TypeMdat && m.Data == nil && m.ContentLength > 0 && len(box.Raw) == 0
}

// writeSkippedMdat streams the zero body instead of allocating it.
func (e *Encoder) writeSkippedMdat(box *Box) error {
	m := box.Payload.(*Mdat)
	hdrLen, total := frameLen(box.Type, m.ContentLength)
	box.Size = total
	box.Offset = e.off
	box.End = e.off + int64(total)

	hdr := make([]byte, hdrLen)
	writeHeader(&writer{buf: hdr}, box)
	if err := e.write(hdr); err != nil {
		return err
	}
	n, err := io.CopyN(e.w, zeroReader{}, int64(m.ContentLength))
	e.off += n
	return err
}

func (e *Encoder) write(p []byte) error {
	n, err := e.w.Write(p)
	e.off += int64(n)
	return err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
