package mp4

import "fmt"

// Stsd represents the sample description box. Its entries are the box's
// Children.
type Stsd struct{}

// VisualSampleEntry represents a visual sample entry (e.g. avc1). Codec
// configuration boxes (avcC, hvcC, btrt, sinf) are the box's Children.
type VisualSampleEntry struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HResolution        uint32
	VResolution        uint32
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
}

// AudioSampleEntry represents an audio sample entry (e.g. mp4a).
type AudioSampleEntry struct {
	DataReferenceIndex uint16
	SoundVersion       uint16 // QuickTime sound description version
	ChannelCount       uint16
	SampleSize         uint16
	CompressionID      int16
	SampleRate         uint32 // 16.16 fixed
	QTExtension        []byte // version 1/2 QuickTime fields, kept verbatim
}

// SampleRateHz returns the integer part of the sample rate.
func (a *AudioSampleEntry) SampleRateHz() uint32 { return a.SampleRate >> 16 }

// TextSampleEntry represents a WebVTT (wvtt) sample entry. vttC and vlab
// are the box's Children.
type TextSampleEntry struct {
	DataReferenceIndex uint16
}

// AvcC represents the AVC decoder configuration record.
type AvcC struct {
	ConfigurationVersion uint8
	Profile              uint8
	ProfileCompatibility uint8
	Level                uint8
	LengthSizeMinusOne   uint8
	SPS                  [][]byte
	PPS                  [][]byte

	// Record is the configuration record as stored. When set it is written
	// back unchanged; when nil the record is built from the fields above.
	Record []byte
}

// Codec returns the RFC 6381 codec parameter, e.g. "64001f".
func (a *AvcC) Codec() string {
	return fmt.Sprintf("%02x%02x%02x", a.Profile, a.ProfileCompatibility, a.Level)
}

// HvcC represents the HEVC decoder configuration record.
type HvcC struct {
	GeneralProfileIDC uint8
	GeneralLevelIDC   uint8
	Record            []byte
}

// Btrt represents the bit rate box.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

// Stsz represents the sample size box.
type Stsz struct {
	SampleSize  uint32 // non-zero when all samples share one size
	SampleCount uint32
	Entries     []uint32
}

// Stz2 represents the compact sample size box.
type Stz2 struct {
	FieldSize uint8 // 4, 8 or 16
	Entries   []uint32
}

// STTSEntry is a time-to-sample entry.
type STTSEntry struct {
	Count    uint32
	Duration uint32
}

// Stts represents the time-to-sample box.
type Stts struct {
	Entries []STTSEntry
}

// CTTSEntry is a composition offset entry.
type CTTSEntry struct {
	Count             uint32
	CompositionOffset int64 // unsigned in version 0, signed in version 1
}

// Ctts represents the composition offset box.
type Ctts struct {
	Entries []CTTSEntry
}

// Stss represents the sync sample box.
type Stss struct {
	Entries []uint32 // 1-based sample numbers
}

// STSCEntry is a sample-to-chunk entry.
type STSCEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// Stsc represents the sample-to-chunk box.
type Stsc struct {
	Entries []STSCEntry
}

// Stco represents the chunk offset box.
type Stco struct {
	Entries []uint32
}

// Co64 represents the 64-bit chunk offset box.
type Co64 struct {
	Entries []uint64
}

// Stdp represents the sample degradation priority box.
type Stdp struct {
	Priorities []uint16
}

func registerSampleTable() {
	registerLeaf(TypeStsd, true, newCodec(decodeStsd, encodeStsd, encodingLengthStsd, nil))

	visual := newCodec(decodeVisual, encodeVisual, encodingLengthVisual, nil)
	for _, t := range []BoxType{TypeAvc1, TypeAvc3, TypeHvc1, TypeHev1, TypeEncv, TypeMp4v, TypeVp09, TypeAv01} {
		registerLeaf(t, false, visual)
	}
	audio := newCodec(decodeAudio, encodeAudio, encodingLengthAudio, nil)
	for _, t := range []BoxType{TypeMp4a, TypeEnca, TypeAc3, TypeEc3, TypeOpus, TypeFlac} {
		registerLeaf(t, false, audio)
	}
	registerLeaf(TypeWvtt, false, newCodec(decodeText, encodeText, encodingLengthText, nil))

	registerLeaf(TypeAvcC, false, newCodec(decodeAvcC, encodeAvcC, encodingLengthAvcC, nil))
	registerLeaf(TypeHvcC, false, newCodec(decodeHvcC, encodeHvcC, encodingLengthHvcC, nil))
	registerLeaf(TypeEsds, true, newCodec(decodeEsds, encodeEsds, encodingLengthEsds, nil))
	registerLeaf(TypeBtrt, false, newCodec(decodeBtrt, encodeBtrt, encodingLengthBtrt, nil))

	registerLeaf(TypeStsz, true, newCodec(decodeStsz, encodeStsz, encodingLengthStsz, rebuildStsz))
	registerLeaf(TypeStz2, true, newCodec(decodeStz2, encodeStz2, encodingLengthStz2, nil))
	registerLeaf(TypeStts, true, newCodec(decodeStts, encodeStts, encodingLengthStts, nil))
	registerLeaf(TypeCtts, true, newCodec(decodeCtts, encodeCtts, encodingLengthCtts, rebuildCtts))
	registerLeaf(TypeStss, true, newCodec(decodeStss, encodeStss, encodingLengthStss, nil))
	registerLeaf(TypeStsc, true, newCodec(decodeStsc, encodeStsc, encodingLengthStsc, nil))
	registerLeaf(TypeStco, true, newCodec(decodeStco, encodeStco, encodingLengthStco, nil))
	registerLeaf(TypeCo64, true, newCodec(decodeCo64, encodeCo64, encodingLengthCo64, nil))
	registerLeaf(TypeStdp, true, newCodec(decodeStdp, encodeStdp, encodingLengthStdp, nil))
}

// --- stsd ---

func decodeStsd(box *Box, _ *Stsd, c *cursor, d *decoder) error {
	return d.decodeEntries(box, c, c.u32())
}

func encodeStsd(box *Box, _ *Stsd, w *writer) {
	w.u32(uint32(len(box.Children)))
	encodeChildren(box, w)
}

func encodingLengthStsd(box *Box, _ *Stsd) int {
	return 4 + int(childrenLength(box))
}

// decodeEntryChildren decodes nested boxes while a full header fits, leaving
// short trailers (QuickTime terminators) in Raw.
func decodeEntryChildren(box *Box, c *cursor, d *decoder) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.exit()

	for c.err == nil && c.remaining() >= headerSize {
		child, err := d.decodeBox(c)
		if err != nil {
			return err
		}
		box.Children = append(box.Children, child)
	}
	return nil
}

// sampleEntryHeader reads the 6 reserved bytes and data reference index that
// start every sample entry.
func sampleEntryHeader(c *cursor) uint16 {
	if !c.zeros(6) {
		c.fail("sample entry reserved bytes are not zero")
	}
	return c.u16()
}

// --- avc1 / VisualSampleEntry ---

func decodeVisual(box *Box, v *VisualSampleEntry, c *cursor, d *decoder) error {
	v.DataReferenceIndex = sampleEntryHeader(c)
	c.skip(16)
	v.Width = c.u16()
	v.Height = c.u16()
	v.HResolution = c.u32()
	v.VResolution = c.u32()
	c.skip(4)
	v.FrameCount = c.u16()
	name := c.bytes(32)
	if len(name) == 32 {
		nameLen := min(int(name[0]), 31)
		v.CompressorName = string(name[1 : 1+nameLen])
	}
	v.Depth = c.u16()
	c.skip(2)
	if c.err != nil {
		return nil
	}
	return decodeEntryChildren(box, c, d)
}

func encodeVisual(box *Box, v *VisualSampleEntry, w *writer) {
	w.zeros(6)
	w.u16(v.DataReferenceIndex)
	w.zeros(16)
	w.u16(v.Width)
	w.u16(v.Height)
	hRes := v.HResolution
	if hRes == 0 {
		hRes = 0x480000
	}
	w.u32(hRes)
	vRes := v.VResolution
	if vRes == 0 {
		vRes = 0x480000
	}
	w.u32(vRes)
	w.zeros(4)
	fc := v.FrameCount
	if fc == 0 {
		fc = 1
	}
	w.u16(fc)
	nameLen := min(len(v.CompressorName), 31)
	w.u8(uint8(nameLen))
	w.bytes([]byte(v.CompressorName[:nameLen]))
	w.zeros(31 - nameLen)
	depth := v.Depth
	if depth == 0 {
		depth = 0x18
	}
	w.u16(depth)
	w.i16(-1)
	encodeChildren(box, w)
}

func encodingLengthVisual(box *Box, _ *VisualSampleEntry) int {
	return 78 + int(childrenLength(box))
}

// --- mp4a / AudioSampleEntry ---

func decodeAudio(box *Box, a *AudioSampleEntry, c *cursor, d *decoder) error {
	a.DataReferenceIndex = sampleEntryHeader(c)
	a.SoundVersion = c.u16()
	c.skip(6)
	a.ChannelCount = c.u16()
	a.SampleSize = c.u16()
	a.CompressionID = c.i16()
	c.skip(2)
	a.SampleRate = c.u32()
	switch a.SoundVersion {
	case 1:
		a.QTExtension = c.bytes(16)
	case 2:
		a.QTExtension = c.bytes(36)
	}
	if c.err != nil {
		return nil
	}
	return decodeEntryChildren(box, c, d)
}

func encodeAudio(box *Box, a *AudioSampleEntry, w *writer) {
	w.zeros(6)
	w.u16(a.DataReferenceIndex)
	w.u16(a.SoundVersion)
	w.zeros(6)
	cc := a.ChannelCount
	if cc == 0 {
		cc = 2
	}
	w.u16(cc)
	ss := a.SampleSize
	if ss == 0 {
		ss = 16
	}
	w.u16(ss)
	w.i16(a.CompressionID)
	w.zeros(2)
	w.u32(a.SampleRate)
	w.bytes(a.QTExtension)
	encodeChildren(box, w)
}

func encodingLengthAudio(box *Box, a *AudioSampleEntry) int {
	return 28 + len(a.QTExtension) + int(childrenLength(box))
}

// --- wvtt / TextSampleEntry ---

func decodeText(box *Box, t *TextSampleEntry, c *cursor, d *decoder) error {
	t.DataReferenceIndex = sampleEntryHeader(c)
	if c.err != nil {
		return nil
	}
	return decodeEntryChildren(box, c, d)
}

func encodeText(box *Box, t *TextSampleEntry, w *writer) {
	w.zeros(6)
	w.u16(t.DataReferenceIndex)
	encodeChildren(box, w)
}

func encodingLengthText(box *Box, _ *TextSampleEntry) int {
	return 8 + int(childrenLength(box))
}

// --- avcC ---

func decodeAvcC(_ *Box, a *AvcC, c *cursor, _ *decoder) error {
	a.Record = c.rest()
	r := newCursor(a.Record, 0, len(a.Record), 0)
	a.ConfigurationVersion = r.u8()
	a.Profile = r.u8()
	a.ProfileCompatibility = r.u8()
	a.Level = r.u8()
	a.LengthSizeMinusOne = r.u8() & 0x03
	numSPS := maskedInt5(r.u8())
	for range numSPS {
		a.SPS = append(a.SPS, r.bytes(int(r.u16())))
	}
	numPPS := r.u8()
	for range numPPS {
		a.PPS = append(a.PPS, r.bytes(int(r.u16())))
	}
	if r.err != nil {
		c.err = fmt.Errorf("avcC record: %w", r.err)
	}
	return nil
}

func encodeAvcC(_ *Box, a *AvcC, w *writer) {
	if a.Record != nil {
		w.bytes(a.Record)
		return
	}
	w.u8(a.ConfigurationVersion)
	w.u8(a.Profile)
	w.u8(a.ProfileCompatibility)
	w.u8(a.Level)
	w.u8(0xfc | a.LengthSizeMinusOne&0x03)
	w.u8(0xe0 | maskedInt5(uint8(len(a.SPS))))
	for _, sps := range a.SPS {
		w.u16(uint16(len(sps)))
		w.bytes(sps)
	}
	w.u8(uint8(len(a.PPS)))
	for _, pps := range a.PPS {
		w.u16(uint16(len(pps)))
		w.bytes(pps)
	}
}

func encodingLengthAvcC(_ *Box, a *AvcC) int {
	if a.Record != nil {
		return len(a.Record)
	}
	n := 7
	for _, sps := range a.SPS {
		n += 2 + len(sps)
	}
	for _, pps := range a.PPS {
		n += 2 + len(pps)
	}
	return n
}

// --- hvcC ---

func decodeHvcC(_ *Box, h *HvcC, c *cursor, _ *decoder) error {
	h.Record = c.rest()
	if len(h.Record) >= 13 {
		h.GeneralProfileIDC = h.Record[1] & 0x1f
		h.GeneralLevelIDC = h.Record[12]
	}
	return nil
}

func encodeHvcC(_ *Box, h *HvcC, w *writer) { w.bytes(h.Record) }

func encodingLengthHvcC(_ *Box, h *HvcC) int { return len(h.Record) }

// --- btrt ---

func decodeBtrt(_ *Box, b *Btrt, c *cursor, _ *decoder) error {
	b.BufferSizeDB = c.u32()
	b.MaxBitrate = c.u32()
	b.AvgBitrate = c.u32()
	return nil
}

func encodeBtrt(_ *Box, b *Btrt, w *writer) {
	w.u32(b.BufferSizeDB)
	w.u32(b.MaxBitrate)
	w.u32(b.AvgBitrate)
}

func encodingLengthBtrt(_ *Box, _ *Btrt) int { return 12 }

// --- stsz ---

func decodeStsz(_ *Box, s *Stsz, c *cursor, _ *decoder) error {
	s.SampleSize = c.u32()
	s.SampleCount = c.u32()
	if s.SampleSize != 0 {
		return nil
	}
	n := c.count(s.SampleCount, 4)
	s.Entries = make([]uint32, n)
	for i := range s.Entries {
		s.Entries[i] = c.u32()
	}
	return nil
}

func encodeStsz(_ *Box, s *Stsz, w *writer) {
	w.u32(s.SampleSize)
	w.u32(s.SampleCount)
	if s.SampleSize != 0 {
		return
	}
	for _, e := range s.Entries {
		w.u32(e)
	}
}

func encodingLengthStsz(_ *Box, s *Stsz) int {
	if s.SampleSize != 0 {
		return 8
	}
	return 8 + len(s.Entries)*4
}

func rebuildStsz(_ *Box, s *Stsz) {
	if s.SampleSize == 0 {
		s.SampleCount = uint32(len(s.Entries))
	}
}

// --- stz2 ---

func decodeStz2(_ *Box, s *Stz2, c *cursor, _ *decoder) error {
	if !c.zeros(3) {
		c.fail("stz2 reserved bytes are not zero")
	}
	s.FieldSize = c.u8()
	count := c.u32()
	if c.err != nil {
		return nil
	}
	var n int
	switch s.FieldSize {
	case 4:
		n = c.count(uint32((uint64(count)+1)/2), 1)
	case 8:
		n = c.count(count, 1)
	case 16:
		n = c.count(count, 2)
	default:
		c.fail("stz2 field size %d", s.FieldSize)
		return nil
	}
	if n == 0 {
		return nil
	}
	s.Entries = make([]uint32, count)
	for i := range s.Entries {
		switch s.FieldSize {
		case 4:
			if i%2 == 0 {
				s.Entries[i] = uint32(c.buf[c.pos] >> 4)
			} else {
				s.Entries[i] = uint32(c.buf[c.pos] & 0x0f)
				c.pos++
			}
		case 8:
			s.Entries[i] = uint32(c.u8())
		case 16:
			s.Entries[i] = uint32(c.u16())
		}
	}
	if s.FieldSize == 4 && count%2 == 1 {
		c.pos++
	}
	return nil
}

func encodeStz2(_ *Box, s *Stz2, w *writer) {
	w.zeros(3)
	w.u8(s.FieldSize)
	w.u32(uint32(len(s.Entries)))
	switch s.FieldSize {
	case 4:
		for i := 0; i < len(s.Entries); i += 2 {
			b := uint8(s.Entries[i]&0x0f) << 4
			if i+1 < len(s.Entries) {
				b |= uint8(s.Entries[i+1] & 0x0f)
			}
			w.u8(b)
		}
	case 8:
		for _, e := range s.Entries {
			w.u8(uint8(e))
		}
	default:
		for _, e := range s.Entries {
			w.u16(uint16(e))
		}
	}
}

func encodingLengthStz2(_ *Box, s *Stz2) int {
	switch s.FieldSize {
	case 4:
		return 8 + (len(s.Entries)+1)/2
	case 8:
		return 8 + len(s.Entries)
	default:
		return 8 + len(s.Entries)*2
	}
}

// --- stts ---

func decodeStts(_ *Box, s *Stts, c *cursor, _ *decoder) error {
	n := c.count(c.u32(), 8)
	s.Entries = make([]STTSEntry, n)
	for i := range s.Entries {
		s.Entries[i] = STTSEntry{Count: c.u32(), Duration: c.u32()}
	}
	return nil
}

func encodeStts(_ *Box, s *Stts, w *writer) {
	w.u32(uint32(len(s.Entries)))
	for _, e := range s.Entries {
		w.u32(e.Count)
		w.u32(e.Duration)
	}
}

func encodingLengthStts(_ *Box, s *Stts) int {
	return 4 + len(s.Entries)*8
}

// --- ctts ---

func decodeCtts(box *Box, s *Ctts, c *cursor, _ *decoder) error {
	n := c.count(c.u32(), 8)
	s.Entries = make([]CTTSEntry, n)
	for i := range s.Entries {
		e := CTTSEntry{Count: c.u32()}
		if box.Version == 0 {
			e.CompositionOffset = int64(c.u32())
		} else {
			e.CompositionOffset = int64(c.i32())
		}
		s.Entries[i] = e
	}
	return nil
}

func encodeCtts(box *Box, s *Ctts, w *writer) {
	w.u32(uint32(len(s.Entries)))
	for _, e := range s.Entries {
		w.u32(e.Count)
		if box.Version == 0 {
			w.u32(uint32(e.CompositionOffset))
		} else {
			w.i32(int32(e.CompositionOffset))
		}
	}
}

func encodingLengthCtts(_ *Box, s *Ctts) int {
	return 4 + len(s.Entries)*8
}

func rebuildCtts(box *Box, s *Ctts) {
	if box.Version != 0 {
		return
	}
	for _, e := range s.Entries {
		if e.CompositionOffset < 0 {
			box.Version = 1
			return
		}
	}
}

// --- stss ---

func decodeStss(_ *Box, s *Stss, c *cursor, _ *decoder) error {
	s.Entries = readUint32s(c)
	return nil
}

func encodeStss(_ *Box, s *Stss, w *writer) { writeUint32s(w, s.Entries) }

func encodingLengthStss(_ *Box, s *Stss) int { return 4 + len(s.Entries)*4 }

// --- stsc ---

func decodeStsc(_ *Box, s *Stsc, c *cursor, _ *decoder) error {
	n := c.count(c.u32(), 12)
	s.Entries = make([]STSCEntry, n)
	for i := range s.Entries {
		s.Entries[i] = STSCEntry{
			FirstChunk:          c.u32(),
			SamplesPerChunk:     c.u32(),
			SampleDescriptionID: c.u32(),
		}
	}
	return nil
}

func encodeStsc(_ *Box, s *Stsc, w *writer) {
	w.u32(uint32(len(s.Entries)))
	for _, e := range s.Entries {
		w.u32(e.FirstChunk)
		w.u32(e.SamplesPerChunk)
		w.u32(e.SampleDescriptionID)
	}
}

func encodingLengthStsc(_ *Box, s *Stsc) int {
	return 4 + len(s.Entries)*12
}

// --- stco ---

func decodeStco(_ *Box, s *Stco, c *cursor, _ *decoder) error {
	s.Entries = readUint32s(c)
	return nil
}

func encodeStco(_ *Box, s *Stco, w *writer) { writeUint32s(w, s.Entries) }

func encodingLengthStco(_ *Box, s *Stco) int { return 4 + len(s.Entries)*4 }

// --- co64 ---

func decodeCo64(_ *Box, s *Co64, c *cursor, _ *decoder) error {
	n := c.count(c.u32(), 8)
	s.Entries = make([]uint64, n)
	for i := range s.Entries {
		s.Entries[i] = c.u64()
	}
	return nil
}

func encodeCo64(_ *Box, s *Co64, w *writer) {
	w.u32(uint32(len(s.Entries)))
	for _, e := range s.Entries {
		w.u64(e)
	}
}

func encodingLengthCo64(_ *Box, s *Co64) int { return 4 + len(s.Entries)*8 }

// --- stdp ---

func decodeStdp(_ *Box, s *Stdp, c *cursor, _ *decoder) error {
	s.Priorities = make([]uint16, c.remaining()/2)
	for i := range s.Priorities {
		s.Priorities[i] = c.u16()
	}
	return nil
}

func encodeStdp(_ *Box, s *Stdp, w *writer) {
	for _, p := range s.Priorities {
		w.u16(p)
	}
}

func encodingLengthStdp(_ *Box, s *Stdp) int { return len(s.Priorities) * 2 }

func readUint32s(c *cursor) []uint32 {
	n := c.count(c.u32(), 4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = c.u32()
	}
	return out
}

func writeUint32s(w *writer, vs []uint32) {
	w.u32(uint32(len(vs)))
	for _, v := range vs {
		w.u32(v)
	}
}
