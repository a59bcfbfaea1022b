package mp4

import "fmt"

// descriptor implements MPEG-4 descriptor parsing for esds boxes.

type descriptorTag byte

const (
	tagESDescriptor            descriptorTag = 0x03
	tagDecoderConfigDescriptor descriptorTag = 0x04
	tagDecoderSpecificInfo     descriptorTag = 0x05
	tagSLConfigDescriptor      descriptorTag = 0x06
)

type descriptor struct {
	tag      descriptorTag
	length   int // header plus body
	oti      byte
	buffer   []byte
	children map[descriptorTag]*descriptor
}

func decodeDescriptor(buf []byte, start, end int) *descriptor {
	if start >= end {
		return nil
	}
	tag := descriptorTag(buf[start])
	ptr := start + 1
	length := 0
	for i := 0; i < 4 && ptr < end; i++ {
		lenByte := buf[ptr]
		ptr++
		length = length<<7 | int(lenByte&0x7f)
		if lenByte&0x80 == 0 {
			break
		}
	}
	bodyEnd := min(ptr+length, end)

	d := &descriptor{tag: tag, length: ptr - start + length}
	switch tag {
	case tagESDescriptor:
		decodeESDescriptor(d, buf, ptr, bodyEnd)
	case tagDecoderConfigDescriptor:
		if ptr < bodyEnd {
			d.oti = buf[ptr]
			d.children = decodeDescriptorArray(buf, ptr+13, bodyEnd)
		}
	default:
		d.buffer = buf[ptr:bodyEnd]
	}
	return d
}

func decodeDescriptorArray(buf []byte, start, end int) map[descriptorTag]*descriptor {
	m := make(map[descriptorTag]*descriptor)
	for ptr := start; ptr+2 <= end; {
		desc := decodeDescriptor(buf, ptr, end)
		if desc == nil {
			break
		}
		ptr += desc.length
		m[desc.tag] = desc
	}
	return m
}

func decodeESDescriptor(d *descriptor, buf []byte, start, end int) {
	if start+3 > end {
		return
	}
	flags := buf[start+2]
	ptr := start + 3
	if flags&0x80 != 0 { // streamDependenceFlag
		ptr += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if ptr >= end {
			return
		}
		ptr += int(buf[ptr]) + 1
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		ptr += 2
	}
	d.children = decodeDescriptorArray(buf, ptr, end)
}

// Esds represents the elementary stream descriptor box. Descriptor holds the
// ES_Descriptor as stored and is what gets encoded; the other fields are
// parsed from it.
type Esds struct {
	Descriptor           []byte
	ObjectTypeIndication uint8
	DecoderSpecificInfo  []byte
	MimeCodec            string // e.g. "40.2"
}

// NewEsds builds an esds payload for a single elementary stream.
func NewEsds(esID uint16, oti, streamType uint8, bufferSize, maxBitrate, avgBitrate uint32, dsi []byte) *Esds {
	dcd := make([]byte, 13, 13+2+len(dsi))
	dcd[0] = oti
	dcd[1] = streamType<<2 | 0x01
	dcd[2] = byte(bufferSize >> 16)
	dcd[3] = byte(bufferSize >> 8)
	dcd[4] = byte(bufferSize)
	be.PutUint32(dcd[5:], maxBitrate)
	be.PutUint32(dcd[9:], avgBitrate)
	if len(dsi) > 0 {
		dcd = appendDescriptor(dcd, tagDecoderSpecificInfo, dsi)
	}

	es := []byte{byte(esID >> 8), byte(esID), 0}
	es = appendDescriptor(es, tagDecoderConfigDescriptor, dcd)
	es = appendDescriptor(es, tagSLConfigDescriptor, []byte{0x02})

	e := &Esds{Descriptor: appendDescriptor(nil, tagESDescriptor, es)}
	parseEsds(e)
	return e
}

// appendDescriptor appends a tag, a 4-byte expandable length and the body.
func appendDescriptor(dst []byte, tag descriptorTag, body []byte) []byte {
	n := len(body)
	dst = append(dst, byte(tag),
		byte(n>>21)&0x7f|0x80, byte(n>>14)&0x7f|0x80, byte(n>>7)&0x7f|0x80, byte(n)&0x7f)
	return append(dst, body...)
}

func parseEsds(e *Esds) {
	desc := decodeDescriptor(e.Descriptor, 0, len(e.Descriptor))
	if desc == nil || desc.tag != tagESDescriptor {
		return
	}
	dcd, ok := desc.children[tagDecoderConfigDescriptor]
	if !ok || dcd.oti == 0 {
		return
	}
	e.ObjectTypeIndication = dcd.oti
	e.MimeCodec = fmt.Sprintf("%x", dcd.oti)
	if dsi, ok := dcd.children[tagDecoderSpecificInfo]; ok && len(dsi.buffer) > 0 {
		e.DecoderSpecificInfo = dsi.buffer
		if audioConfig := (dsi.buffer[0] & 0xf8) >> 3; audioConfig != 0 {
			e.MimeCodec += fmt.Sprintf(".%d", audioConfig)
		}
	}
}

// --- esds ---

func decodeEsds(_ *Box, e *Esds, c *cursor, _ *decoder) error {
	e.Descriptor = c.rest()
	parseEsds(e)
	return nil
}

func encodeEsds(_ *Box, e *Esds, w *writer) { w.bytes(e.Descriptor) }

func encodingLengthEsds(_ *Box, e *Esds) int { return len(e.Descriptor) }
