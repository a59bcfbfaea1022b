package mp4

import "math"

// Codec types for each known box.

// Ftyp represents the file type box (also used for styp).
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Mvhd represents the movie header box.
type Mvhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             int32 // 16.16 fixed
	Volume           int16 // 8.8 fixed
	Matrix           [9]int32
	PreDefined       [6]uint32
	NextTrackID      uint32
}

// Track header flags.
const (
	TrackEnabled   = 0x000001
	TrackInMovie   = 0x000002
	TrackInPreview = 0x000004
)

// Tkhd represents the track header box.
type Tkhd struct {
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           int16
	Matrix           [9]int32
	Width            uint32 // 16.16 fixed
	Height           uint32 // 16.16 fixed
}

// Mdhd represents the media header box.
type Mdhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         string
	Quality          uint16
}

// Hdlr represents the handler reference box.
type Hdlr struct {
	PreDefined  uint32
	HandlerType [4]byte
	Reserved    [3]uint32
	Name        string

	unterminated bool // name had no NUL in the source
}

// Vmhd represents the video media header box.
type Vmhd struct {
	GraphicsMode uint16
	Opcolor      [3]uint16
}

// Smhd represents the sound media header box.
type Smhd struct {
	Balance int16 // 8.8 fixed
}

// ElstEntry is an edit list entry.
type ElstEntry struct {
	EditDuration      uint64
	MediaTime         int64 // -1 marks an empty edit
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst represents the edit list box.
type Elst struct {
	Entries []ElstEntry
}

// Dref represents the data reference box. Its entries are the box's
// Children (url and urn boxes).
type Dref struct{}

// URL represents a url data entry. An empty Location means the media data is
// in the same file.
type URL struct {
	Location string
}

// SelfContained reports whether the data is in the same file.
func (u *URL) SelfContained() bool { return u.Location == "" }

// URN represents a urn data entry.
type URN struct {
	Name     string
	Location string
}

// SelfContained reports whether the data is in the same file.
func (u *URN) SelfContained() bool { return u.Name == "" && u.Location == "" }

const dataEntrySelfContained = 0x000001

// needs64 reports whether any value overflows a 32-bit field.
func needs64(vs ...uint64) bool {
	for _, v := range vs {
		if v > uint32Max {
			return true
		}
	}
	return false
}

// --- ftyp / styp ---

var ftypCodec = newCodec(decodeFtyp, encodeFtyp, encodingLengthFtyp, nil)

func decodeFtyp(_ *Box, f *Ftyp, c *cursor, _ *decoder) error {
	f.MajorBrand = c.fourCC()
	f.MinorVersion = c.u32()
	for c.err == nil && c.remaining() >= 4 {
		f.CompatibleBrands = append(f.CompatibleBrands, c.fourCC())
	}
	return nil
}

func encodeFtyp(_ *Box, f *Ftyp, w *writer) {
	w.bytes(f.MajorBrand[:])
	w.u32(f.MinorVersion)
	for _, brand := range f.CompatibleBrands {
		w.bytes(brand[:])
	}
}

func encodingLengthFtyp(_ *Box, f *Ftyp) int {
	return 8 + len(f.CompatibleBrands)*4
}

// --- mvhd ---

func decodeMvhd(box *Box, m *Mvhd, c *cursor, _ *decoder) error {
	m.CreationTime = c.uvar(box.Version)
	m.ModificationTime = c.uvar(box.Version)
	m.Timescale = c.u32()
	m.Duration = c.uvar(box.Version)
	m.Rate = c.i32()
	m.Volume = c.i16()
	if !c.zeros(10) {
		c.fail("mvhd reserved bytes are not zero")
	}
	for i := range m.Matrix {
		m.Matrix[i] = c.i32()
	}
	for i := range m.PreDefined {
		m.PreDefined[i] = c.u32()
	}
	m.NextTrackID = c.u32()
	return nil
}

func encodeMvhd(box *Box, m *Mvhd, w *writer) {
	w.uvar(box.Version, m.CreationTime)
	w.uvar(box.Version, m.ModificationTime)
	w.u32(m.Timescale)
	w.uvar(box.Version, m.Duration)
	w.i32(m.Rate)
	w.i16(m.Volume)
	w.zeros(10)
	for _, v := range m.Matrix {
		w.i32(v)
	}
	for _, v := range m.PreDefined {
		w.u32(v)
	}
	w.u32(m.NextTrackID)
}

func encodingLengthMvhd(box *Box, _ *Mvhd) int {
	if box.Version == 1 {
		return 108
	}
	return 96
}

func rebuildMvhd(box *Box, m *Mvhd) {
	if box.Version == 0 && needs64(m.CreationTime, m.ModificationTime, m.Duration) {
		box.Version = 1
	}
}

// --- tkhd ---

func decodeTkhd(box *Box, t *Tkhd, c *cursor, _ *decoder) error {
	t.CreationTime = c.uvar(box.Version)
	t.ModificationTime = c.uvar(box.Version)
	t.TrackID = c.u32()
	c.skip(4)
	t.Duration = c.uvar(box.Version)
	c.skip(8)
	t.Layer = c.i16()
	t.AlternateGroup = c.i16()
	t.Volume = c.i16()
	c.skip(2)
	for i := range t.Matrix {
		t.Matrix[i] = c.i32()
	}
	t.Width = c.u32()
	t.Height = c.u32()
	return nil
}

func encodeTkhd(box *Box, t *Tkhd, w *writer) {
	w.uvar(box.Version, t.CreationTime)
	w.uvar(box.Version, t.ModificationTime)
	w.u32(t.TrackID)
	w.zeros(4)
	w.uvar(box.Version, t.Duration)
	w.zeros(8)
	w.i16(t.Layer)
	w.i16(t.AlternateGroup)
	w.i16(t.Volume)
	w.zeros(2)
	for _, v := range t.Matrix {
		w.i32(v)
	}
	w.u32(t.Width)
	w.u32(t.Height)
}

func encodingLengthTkhd(box *Box, _ *Tkhd) int {
	if box.Version == 1 {
		return 92
	}
	return 80
}

func rebuildTkhd(box *Box, t *Tkhd) {
	if box.Version == 0 && needs64(t.CreationTime, t.ModificationTime, t.Duration) {
		box.Version = 1
	}
}

// --- mdhd ---

func decodeMdhd(box *Box, m *Mdhd, c *cursor, _ *decoder) error {
	m.CreationTime = c.uvar(box.Version)
	m.ModificationTime = c.uvar(box.Version)
	m.Timescale = c.u32()
	m.Duration = c.uvar(box.Version)
	m.Language = DecodeLanguage(c.u16())
	m.Quality = c.u16()
	return nil
}

func encodeMdhd(box *Box, m *Mdhd, w *writer) {
	w.uvar(box.Version, m.CreationTime)
	w.uvar(box.Version, m.ModificationTime)
	w.u32(m.Timescale)
	w.uvar(box.Version, m.Duration)
	w.u16(EncodeLanguage(m.Language))
	w.u16(m.Quality)
}

func encodingLengthMdhd(box *Box, _ *Mdhd) int {
	if box.Version == 1 {
		return 32
	}
	return 20
}

func rebuildMdhd(box *Box, m *Mdhd) {
	if box.Version == 0 && needs64(m.CreationTime, m.ModificationTime, m.Duration) {
		box.Version = 1
	}
}

// --- hdlr ---

func decodeHdlr(box *Box, h *Hdlr, c *cursor, _ *decoder) error {
	if box.Version != 0 {
		c.fail("hdlr version %d", box.Version)
	}
	h.PreDefined = c.u32()
	h.HandlerType = c.fourCC()
	for i := range h.Reserved {
		h.Reserved[i] = c.u32()
	}
	if c.err != nil {
		return nil
	}
	end := c.pos
	for end < c.end && c.buf[end] != 0 {
		end++
	}
	h.unterminated = end == c.end
	h.Name = c.cstring()
	return nil
}

func encodeHdlr(_ *Box, h *Hdlr, w *writer) {
	w.u32(h.PreDefined)
	w.bytes(h.HandlerType[:])
	for _, v := range h.Reserved {
		w.u32(v)
	}
	if h.unterminated {
		w.bytes([]byte(h.Name))
		return
	}
	w.cstring(h.Name)
}

func encodingLengthHdlr(_ *Box, h *Hdlr) int {
	n := 20 + len(h.Name)
	if !h.unterminated {
		n++
	}
	return n
}

// --- vmhd ---

func decodeVmhd(box *Box, v *Vmhd, c *cursor, _ *decoder) error {
	if box.Flags != 1 {
		c.fail("vmhd flags 0x%06x, want 0x000001", box.Flags)
	}
	v.GraphicsMode = c.u16()
	for i := range v.Opcolor {
		v.Opcolor[i] = c.u16()
	}
	return nil
}

func encodeVmhd(_ *Box, v *Vmhd, w *writer) {
	w.u16(v.GraphicsMode)
	for _, c := range v.Opcolor {
		w.u16(c)
	}
}

func encodingLengthVmhd(_ *Box, _ *Vmhd) int { return 8 }

func rebuildVmhd(box *Box, _ *Vmhd) { box.Flags = 1 }

// --- smhd ---

func decodeSmhd(_ *Box, s *Smhd, c *cursor, _ *decoder) error {
	s.Balance = c.i16()
	c.skip(2)
	return nil
}

func encodeSmhd(_ *Box, s *Smhd, w *writer) {
	w.i16(s.Balance)
	w.zeros(2)
}

func encodingLengthSmhd(_ *Box, _ *Smhd) int { return 4 }

// --- elst ---

func decodeElst(box *Box, e *Elst, c *cursor, _ *decoder) error {
	entrySize := 12
	if box.Version == 1 {
		entrySize = 20
	}
	n := c.count(c.u32(), entrySize)
	e.Entries = make([]ElstEntry, n)
	for i := range e.Entries {
		en := &e.Entries[i]
		if box.Version == 1 {
			en.EditDuration = c.u64()
			en.MediaTime = int64(c.u64())
		} else {
			en.EditDuration = uint64(c.u32())
			en.MediaTime = int64(c.i32())
		}
		en.MediaRateInteger = c.i16()
		en.MediaRateFraction = c.i16()
	}
	return nil
}

func encodeElst(box *Box, e *Elst, w *writer) {
	w.u32(uint32(len(e.Entries)))
	for _, en := range e.Entries {
		if box.Version == 1 {
			w.u64(en.EditDuration)
			w.u64(uint64(en.MediaTime))
		} else {
			w.u32(uint32(en.EditDuration))
			w.i32(int32(en.MediaTime))
		}
		w.i16(en.MediaRateInteger)
		w.i16(en.MediaRateFraction)
	}
}

func encodingLengthElst(box *Box, e *Elst) int {
	if box.Version == 1 {
		return 4 + len(e.Entries)*20
	}
	return 4 + len(e.Entries)*12
}

func rebuildElst(box *Box, e *Elst) {
	if box.Version != 0 {
		return
	}
	for _, en := range e.Entries {
		if en.EditDuration > uint32Max || en.MediaTime > math.MaxInt32 || en.MediaTime < math.MinInt32 {
			box.Version = 1
			return
		}
	}
}

// --- dref ---

func decodeDref(box *Box, _ *Dref, c *cursor, d *decoder) error {
	return d.decodeEntries(box, c, c.u32())
}

func encodeDref(box *Box, _ *Dref, w *writer) {
	w.u32(uint32(len(box.Children)))
	encodeChildren(box, w)
}

func encodingLengthDref(box *Box, _ *Dref) int {
	return 4 + int(childrenLength(box))
}

// --- url / urn ---

func decodeURL(box *Box, u *URL, c *cursor, _ *decoder) error {
	if box.Flags&dataEntrySelfContained == 0 {
		u.Location = c.cstring()
	}
	return nil
}

func encodeURL(box *Box, u *URL, w *writer) {
	if box.Flags&dataEntrySelfContained == 0 {
		w.cstring(u.Location)
	}
}

func encodingLengthURL(box *Box, u *URL) int {
	if box.Flags&dataEntrySelfContained == 0 {
		return len(u.Location) + 1
	}
	return 0
}

func rebuildURL(box *Box, u *URL) {
	if u.SelfContained() {
		box.Flags |= dataEntrySelfContained
	} else {
		box.Flags &^= dataEntrySelfContained
	}
}

func decodeURN(box *Box, u *URN, c *cursor, _ *decoder) error {
	if box.Flags&dataEntrySelfContained == 0 {
		u.Name = c.cstring()
		u.Location = c.cstring()
	}
	return nil
}

func encodeURN(box *Box, u *URN, w *writer) {
	if box.Flags&dataEntrySelfContained == 0 {
		w.cstring(u.Name)
		w.cstring(u.Location)
	}
}

func encodingLengthURN(box *Box, u *URN) int {
	if box.Flags&dataEntrySelfContained == 0 {
		return len(u.Name) + len(u.Location) + 2
	}
	return 0
}

func rebuildURN(box *Box, u *URN) {
	if u.SelfContained() {
		box.Flags |= dataEntrySelfContained
	} else {
		box.Flags &^= dataEntrySelfContained
	}
}
