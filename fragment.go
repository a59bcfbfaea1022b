package mp4

// Mdat represents the media data box. Data is nil when the body was skipped
// while streaming; ContentLength always holds the body length.
type Mdat struct {
	Data          []byte
	ContentLength uint64
}

// SidxReference is one subsegment reference of a segment index.
type SidxReference struct {
	ReferenceType      bool // true when the reference points at another sidx
	ReferencedSize     uint32
	SubsegmentDuration uint32
	StartsWithSAP      bool
	SAPType            uint8
	SAPDeltaTime       uint32
}

// Sidx represents the segment index box.
type Sidx struct {
	ReferenceID              uint32
	Timescale                uint32
	EarliestPresentationTime uint64
	FirstOffset              uint64
	References               []SidxReference
}

// Mehd represents the movie extends header box.
type Mehd struct {
	FragmentDuration uint64
}

// Trex represents the track extends box holding per-track fragment defaults.
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            SampleFlags
}

// Mfhd represents the movie fragment header box.
type Mfhd struct {
	SequenceNumber uint32
}

// tfhd flags.
const (
	TfhdBaseDataOffsetPresent         = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent  = 0x000008
	TfhdDefaultSampleSizePresent      = 0x000010
	TfhdDefaultSampleFlagsPresent     = 0x000020
	TfhdDurationIsEmpty               = 0x010000
	TfhdDefaultBaseIsMoof             = 0x020000
)

// Tfhd represents the track fragment header box. Each Has field gates the
// optional field that follows it; Flags is recomputed from them on encode.
type Tfhd struct {
	TrackID uint32

	HasBaseDataOffset bool
	BaseDataOffset    uint64

	HasSampleDescriptionIndex bool
	SampleDescriptionIndex    uint32

	HasDefaultSampleDuration bool
	DefaultSampleDuration    uint32

	HasDefaultSampleSize bool
	DefaultSampleSize    uint32

	HasDefaultSampleFlags bool
	DefaultSampleFlags    SampleFlags

	DurationIsEmpty   bool
	DefaultBaseIsMoof bool
}

// Tfdt represents the track fragment decode time box.
type Tfdt struct {
	BaseMediaDecodeTime uint64
}

// trun flags.
const (
	TrunDataOffsetPresent                   = 0x000001
	TrunFirstSampleFlagsPresent             = 0x000004
	TrunSampleDurationPresent               = 0x000100
	TrunSampleSizePresent                   = 0x000200
	TrunSampleFlagsPresent                  = 0x000400
	TrunSampleCompositionTimeOffsetsPresent = 0x000800
)

// maxEmptyRun bounds the sample count of a trun whose samples carry no
// fields, since nothing in the body limits it.
const maxEmptyRun = 1 << 20

// TrunSample holds the per-sample fields of a track run. Only the fields
// whose Has flag is set on the Trun are meaningful.
type TrunSample struct {
	Duration              uint32
	Size                  uint32
	Flags                 SampleFlags
	CompositionTimeOffset int64 // unsigned in version 0, signed in version 1
}

// Trun represents the track run box.
type Trun struct {
	HasDataOffset bool
	DataOffset    int32

	HasFirstSampleFlags bool
	FirstSampleFlags    SampleFlags

	HasSampleDuration              bool
	HasSampleSize                  bool
	HasSampleFlags                 bool
	HasSampleCompositionTimeOffset bool

	Samples []TrunSample
}

func registerFragment() {
	registerLeaf(TypeMdat, false, newCodec(decodeMdat, encodeMdat, encodingLengthMdat, nil))
	registerLeaf(TypeSidx, true, newCodec(decodeSidx, encodeSidx, encodingLengthSidx, rebuildSidx))
	registerLeaf(TypeMehd, true, newCodec(decodeMehd, encodeMehd, encodingLengthMehd, rebuildMehd))
	registerLeaf(TypeTrex, true, newCodec(decodeTrex, encodeTrex, encodingLengthTrex, nil))
	registerLeaf(TypeMfhd, true, newCodec(decodeMfhd, encodeMfhd, encodingLengthMfhd, nil))
	registerLeaf(TypeTfhd, true, newCodec(decodeTfhd, encodeTfhd, encodingLengthTfhd, rebuildTfhd))
	registerLeaf(TypeTfdt, true, newCodec(decodeTfdt, encodeTfdt, encodingLengthTfdt, rebuildTfdt))
	registerLeaf(TypeTrun, true, newCodec(decodeTrun, encodeTrun, encodingLengthTrun, rebuildTrun))
}

// --- mdat ---

func decodeMdat(_ *Box, m *Mdat, c *cursor, _ *decoder) error {
	m.ContentLength = uint64(c.remaining())
	m.Data = c.rest()
	return nil
}

func encodeMdat(_ *Box, m *Mdat, w *writer) {
	if m.Data != nil {
		w.bytes(m.Data)
		return
	}
	w.zeros(int(m.ContentLength))
}

func encodingLengthMdat(_ *Box, m *Mdat) int {
	if m.Data != nil {
		return len(m.Data)
	}
	return int(m.ContentLength)
}

// --- sidx ---

func decodeSidx(box *Box, s *Sidx, c *cursor, _ *decoder) error {
	s.ReferenceID = c.u32()
	s.Timescale = c.u32()
	s.EarliestPresentationTime = c.uvar(box.Version)
	s.FirstOffset = c.uvar(box.Version)
	c.skip(2)
	n := c.count(uint32(c.u16()), 12)
	s.References = make([]SidxReference, n)
	for i := range s.References {
		a := c.u32()
		dur := c.u32()
		b := c.u32()
		s.References[i] = SidxReference{
			ReferenceType:      a>>31 == 1,
			ReferencedSize:     a & 0x7fffffff,
			SubsegmentDuration: dur,
			StartsWithSAP:      b>>31 == 1,
			SAPType:            uint8(b >> 28 & 0x7),
			SAPDeltaTime:       b & 0x0fffffff,
		}
	}
	return nil
}

func encodeSidx(box *Box, s *Sidx, w *writer) {
	w.u32(s.ReferenceID)
	w.u32(s.Timescale)
	w.uvar(box.Version, s.EarliestPresentationTime)
	w.uvar(box.Version, s.FirstOffset)
	w.u16(0)
	w.u16(uint16(len(s.References)))
	for _, r := range s.References {
		a := r.ReferencedSize & 0x7fffffff
		if r.ReferenceType {
			a |= 1 << 31
		}
		b := uint32(r.SAPType&0x7)<<28 | r.SAPDeltaTime&0x0fffffff
		if r.StartsWithSAP {
			b |= 1 << 31
		}
		w.u32(a)
		w.u32(r.SubsegmentDuration)
		w.u32(b)
	}
}

func encodingLengthSidx(box *Box, s *Sidx) int {
	n := 12 + 12*len(s.References)
	if box.Version == 1 {
		return n + 16
	}
	return n + 8
}

func rebuildSidx(box *Box, s *Sidx) {
	if needs64(s.EarliestPresentationTime, s.FirstOffset) {
		box.Version = 1
	}
}

// --- mehd ---

func decodeMehd(box *Box, m *Mehd, c *cursor, _ *decoder) error {
	m.FragmentDuration = c.uvar(box.Version)
	return nil
}

func encodeMehd(box *Box, m *Mehd, w *writer) { w.uvar(box.Version, m.FragmentDuration) }

func encodingLengthMehd(box *Box, _ *Mehd) int {
	if box.Version == 1 {
		return 8
	}
	return 4
}

func rebuildMehd(box *Box, m *Mehd) {
	if needs64(m.FragmentDuration) {
		box.Version = 1
	}
}

// --- trex ---

func decodeTrex(_ *Box, t *Trex, c *cursor, _ *decoder) error {
	t.TrackID = c.u32()
	t.DefaultSampleDescriptionIndex = c.u32()
	t.DefaultSampleDuration = c.u32()
	t.DefaultSampleSize = c.u32()
	t.DefaultSampleFlags = ParseSampleFlags(c.u32())
	return nil
}

func encodeTrex(_ *Box, t *Trex, w *writer) {
	w.u32(t.TrackID)
	w.u32(t.DefaultSampleDescriptionIndex)
	w.u32(t.DefaultSampleDuration)
	w.u32(t.DefaultSampleSize)
	w.u32(t.DefaultSampleFlags.Uint32())
}

func encodingLengthTrex(_ *Box, _ *Trex) int { return 20 }

// --- mfhd ---

func decodeMfhd(_ *Box, m *Mfhd, c *cursor, _ *decoder) error {
	m.SequenceNumber = c.u32()
	return nil
}

func encodeMfhd(_ *Box, m *Mfhd, w *writer) { w.u32(m.SequenceNumber) }

func encodingLengthMfhd(_ *Box, _ *Mfhd) int { return 4 }

// --- tfhd ---

func decodeTfhd(box *Box, t *Tfhd, c *cursor, _ *decoder) error {
	f := box.Flags
	t.TrackID = c.u32()
	if t.HasBaseDataOffset = f&TfhdBaseDataOffsetPresent != 0; t.HasBaseDataOffset {
		t.BaseDataOffset = c.u64()
	}
	if t.HasSampleDescriptionIndex = f&TfhdSampleDescriptionIndexPresent != 0; t.HasSampleDescriptionIndex {
		t.SampleDescriptionIndex = c.u32()
	}
	if t.HasDefaultSampleDuration = f&TfhdDefaultSampleDurationPresent != 0; t.HasDefaultSampleDuration {
		t.DefaultSampleDuration = c.u32()
	}
	if t.HasDefaultSampleSize = f&TfhdDefaultSampleSizePresent != 0; t.HasDefaultSampleSize {
		t.DefaultSampleSize = c.u32()
	}
	if t.HasDefaultSampleFlags = f&TfhdDefaultSampleFlagsPresent != 0; t.HasDefaultSampleFlags {
		t.DefaultSampleFlags = ParseSampleFlags(c.u32())
	}
	t.DurationIsEmpty = f&TfhdDurationIsEmpty != 0
	t.DefaultBaseIsMoof = f&TfhdDefaultBaseIsMoof != 0
	return nil
}

func encodeTfhd(_ *Box, t *Tfhd, w *writer) {
	w.u32(t.TrackID)
	if t.HasBaseDataOffset {
		w.u64(t.BaseDataOffset)
	}
	if t.HasSampleDescriptionIndex {
		w.u32(t.SampleDescriptionIndex)
	}
	if t.HasDefaultSampleDuration {
		w.u32(t.DefaultSampleDuration)
	}
	if t.HasDefaultSampleSize {
		w.u32(t.DefaultSampleSize)
	}
	if t.HasDefaultSampleFlags {
		w.u32(t.DefaultSampleFlags.Uint32())
	}
}

func encodingLengthTfhd(_ *Box, t *Tfhd) int {
	n := 4
	if t.HasBaseDataOffset {
		n += 8
	}
	for _, has := range []bool{t.HasSampleDescriptionIndex, t.HasDefaultSampleDuration, t.HasDefaultSampleSize, t.HasDefaultSampleFlags} {
		if has {
			n += 4
		}
	}
	return n
}

func rebuildTfhd(box *Box, t *Tfhd) {
	var f uint32
	if t.HasBaseDataOffset {
		f |= TfhdBaseDataOffsetPresent
	}
	if t.HasSampleDescriptionIndex {
		f |= TfhdSampleDescriptionIndexPresent
	}
	if t.HasDefaultSampleDuration {
		f |= TfhdDefaultSampleDurationPresent
	}
	if t.HasDefaultSampleSize {
		f |= TfhdDefaultSampleSizePresent
	}
	if t.HasDefaultSampleFlags {
		f |= TfhdDefaultSampleFlagsPresent
	}
	if t.DurationIsEmpty {
		f |= TfhdDurationIsEmpty
	}
	if t.DefaultBaseIsMoof {
		f |= TfhdDefaultBaseIsMoof
	}
	box.Flags = f
}

// --- tfdt ---

func decodeTfdt(box *Box, t *Tfdt, c *cursor, _ *decoder) error {
	t.BaseMediaDecodeTime = c.uvar(box.Version)
	return nil
}

func encodeTfdt(box *Box, t *Tfdt, w *writer) { w.uvar(box.Version, t.BaseMediaDecodeTime) }

func encodingLengthTfdt(box *Box, _ *Tfdt) int {
	if box.Version == 1 {
		return 8
	}
	return 4
}

func rebuildTfdt(box *Box, t *Tfdt) {
	if needs64(t.BaseMediaDecodeTime) {
		box.Version = 1
	}
}

// --- trun ---

func decodeTrun(box *Box, t *Trun, c *cursor, _ *decoder) error {
	f := box.Flags
	count := c.u32()
	if t.HasDataOffset = f&TrunDataOffsetPresent != 0; t.HasDataOffset {
		t.DataOffset = c.i32()
	}
	if t.HasFirstSampleFlags = f&TrunFirstSampleFlagsPresent != 0; t.HasFirstSampleFlags {
		t.FirstSampleFlags = ParseSampleFlags(c.u32())
	}
	t.HasSampleDuration = f&TrunSampleDurationPresent != 0
	t.HasSampleSize = f&TrunSampleSizePresent != 0
	t.HasSampleFlags = f&TrunSampleFlagsPresent != 0
	t.HasSampleCompositionTimeOffset = f&TrunSampleCompositionTimeOffsetsPresent != 0

	n := c.count(count, t.sampleLen())
	if t.sampleLen() == 0 {
		// No per-sample fields: the count alone describes the run.
		if count > maxEmptyRun {
			c.fail("trun declares %d samples without per-sample fields", count)
			return nil
		}
		n = int(count)
	}
	t.Samples = make([]TrunSample, n)
	for i := range t.Samples {
		s := &t.Samples[i]
		if t.HasSampleDuration {
			s.Duration = c.u32()
		}
		if t.HasSampleSize {
			s.Size = c.u32()
		}
		if t.HasSampleFlags {
			s.Flags = ParseSampleFlags(c.u32())
		}
		if t.HasSampleCompositionTimeOffset {
			if box.Version == 0 {
				s.CompositionTimeOffset = int64(c.u32())
			} else {
				s.CompositionTimeOffset = int64(c.i32())
			}
		}
	}
	return nil
}

func (t *Trun) sampleLen() int {
	n := 0
	for _, has := range []bool{t.HasSampleDuration, t.HasSampleSize, t.HasSampleFlags, t.HasSampleCompositionTimeOffset} {
		if has {
			n += 4
		}
	}
	return n
}

func encodeTrun(box *Box, t *Trun, w *writer) {
	w.u32(uint32(len(t.Samples)))
	if t.HasDataOffset {
		w.i32(t.DataOffset)
	}
	if t.HasFirstSampleFlags {
		w.u32(t.FirstSampleFlags.Uint32())
	}
	for _, s := range t.Samples {
		if t.HasSampleDuration {
			w.u32(s.Duration)
		}
		if t.HasSampleSize {
			w.u32(s.Size)
		}
		if t.HasSampleFlags {
			w.u32(s.Flags.Uint32())
		}
		if t.HasSampleCompositionTimeOffset {
			if box.Version == 0 {
				w.u32(uint32(s.CompositionTimeOffset))
			} else {
				w.i32(int32(s.CompositionTimeOffset))
			}
		}
	}
}

func encodingLengthTrun(_ *Box, t *Trun) int {
	n := 4
	if t.HasDataOffset {
		n += 4
	}
	if t.HasFirstSampleFlags {
		n += 4
	}
	return n + len(t.Samples)*t.sampleLen()
}

func rebuildTrun(box *Box, t *Trun) {
	var f uint32
	if t.HasDataOffset {
		f |= TrunDataOffsetPresent
	}
	if t.HasFirstSampleFlags {
		f |= TrunFirstSampleFlagsPresent
	}
	if t.HasSampleDuration {
		f |= TrunSampleDurationPresent
	}
	if t.HasSampleSize {
		f |= TrunSampleSizePresent
	}
	if t.HasSampleFlags {
		f |= TrunSampleFlagsPresent
	}
	if t.HasSampleCompositionTimeOffset {
		f |= TrunSampleCompositionTimeOffsetsPresent
		if box.Version == 0 {
			for _, s := range t.Samples {
				if s.CompositionTimeOffset < 0 {
					box.Version = 1
					break
				}
			}
		}
	}
	box.Flags = f
}
