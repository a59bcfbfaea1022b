package mp4

import "github.com/google/uuid"

// Well-known protection system IDs for pssh boxes.
var (
	SystemIDWidevine  = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	SystemIDPlayReady = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
	SystemIDClearKey  = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
)

// Pssh represents the protection system specific header box. The box is
// written as version 1 exactly when KeyIDs is non-empty.
type Pssh struct {
	SystemID uuid.UUID
	KeyIDs   []uuid.UUID
	Data     []byte
}

// Tenc represents the track encryption box.
type Tenc struct {
	DefaultCryptByteBlock  uint8 // version 1 only
	DefaultSkipByteBlock   uint8 // version 1 only
	DefaultIsProtected     uint8
	DefaultPerSampleIVSize uint8
	DefaultKID             uuid.UUID
	DefaultConstantIV      []byte // protected with a zero per-sample IV size only
}

// senc flags.
const (
	SencOverrideTrackEncryption = 0x000001 // PIFF only
	SencUseSubsampleEncryption  = 0x000002
)

// SubsampleEntry is one clear/protected range of a subsample-encrypted sample.
type SubsampleEntry struct {
	BytesOfClearData     uint16
	BytesOfProtectedData uint32
}

// SencSample holds the initialization vector and subsamples of one sample.
type SencSample struct {
	IV         []byte
	Subsamples []SubsampleEntry
}

// SencOverride carries the PIFF per-box track encryption override.
type SencOverride struct {
	AlgorithmID uint32
	IVSize      uint8
	KID         uuid.UUID
}

// Senc represents the sample encryption box.
type Senc struct {
	Override      *SencOverride
	HasSubsamples bool
	Samples       []SencSample
}

// Frma represents the original format box.
type Frma struct {
	DataFormat BoxType
}

const schmSchemeURIPresent = 0x000001

// Schm represents the scheme type box.
type Schm struct {
	SchemeType    [4]byte
	SchemeVersion uint32
	HasSchemeURI  bool
	SchemeURI     string
}

func registerDRM() {
	pssh := newCodec(decodePssh, encodePssh, encodingLengthPssh, rebuildPssh)
	tenc := newCodec(decodeTenc, encodeTenc, encodingLengthTenc, nil)
	senc := newCodec(decodeSenc, encodeSenc, encodingLengthSenc, rebuildSenc)

	registerLeaf(TypePssh, true, pssh)
	registerLeaf(TypeTenc, true, tenc)
	registerLeaf(TypeSenc, true, senc)
	registerLeaf(TypeFrma, false, newCodec(decodeFrma, encodeFrma, encodingLengthFrma, nil))
	registerLeaf(TypeSchm, true, newCodec(decodeSchm, encodeSchm, encodingLengthSchm, rebuildSchm))

	registerExtended(PIFFProtectionSystem, true, pssh)
	registerExtended(PIFFTrackEncryption, true, tenc)
	registerExtended(PIFFSampleEncryption, true, senc)
}

// --- pssh ---

func decodePssh(box *Box, p *Pssh, c *cursor, _ *decoder) error {
	p.SystemID = c.uuid()
	if box.Version > 0 {
		n := c.count(c.u32(), 16)
		p.KeyIDs = make([]uuid.UUID, n)
		for i := range p.KeyIDs {
			p.KeyIDs[i] = c.uuid()
		}
	}
	p.Data = c.bytes(int(c.u32()))
	return nil
}

func encodePssh(box *Box, p *Pssh, w *writer) {
	w.bytes(p.SystemID[:])
	if box.Version > 0 {
		w.u32(uint32(len(p.KeyIDs)))
		for _, id := range p.KeyIDs {
			w.bytes(id[:])
		}
	}
	w.u32(uint32(len(p.Data)))
	w.bytes(p.Data)
}

func encodingLengthPssh(box *Box, p *Pssh) int {
	n := 16 + 4 + len(p.Data)
	if box.Version > 0 {
		n += 4 + 16*len(p.KeyIDs)
	}
	return n
}

func rebuildPssh(box *Box, p *Pssh) {
	if len(p.KeyIDs) > 0 {
		box.Version = 1
	} else {
		box.Version = 0
	}
}

// --- tenc ---

func decodeTenc(box *Box, t *Tenc, c *cursor, _ *decoder) error {
	if c.u8() != 0 {
		c.fail("tenc reserved byte is not zero")
		return nil
	}
	blocks := c.u8()
	if box.Version > 0 {
		t.DefaultCryptByteBlock = blocks >> 4
		t.DefaultSkipByteBlock = blocks & 0x0f
	}
	t.DefaultIsProtected = c.u8()
	t.DefaultPerSampleIVSize = c.u8()
	t.DefaultKID = c.uuid()
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		t.DefaultConstantIV = c.bytes(int(c.u8()))
	}
	return nil
}

func encodeTenc(box *Box, t *Tenc, w *writer) {
	w.u8(0)
	if box.Version > 0 {
		w.u8(t.DefaultCryptByteBlock<<4 | t.DefaultSkipByteBlock&0x0f)
	} else {
		w.u8(0)
	}
	w.u8(t.DefaultIsProtected)
	w.u8(t.DefaultPerSampleIVSize)
	w.bytes(t.DefaultKID[:])
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		w.u8(uint8(len(t.DefaultConstantIV)))
		w.bytes(t.DefaultConstantIV)
	}
}

func encodingLengthTenc(_ *Box, t *Tenc) int {
	if t.DefaultIsProtected == 1 && t.DefaultPerSampleIVSize == 0 {
		return 20 + 1 + len(t.DefaultConstantIV)
	}
	return 20
}

// --- senc ---

func decodeSenc(box *Box, s *Senc, c *cursor, _ *decoder) error {
	ivSize := -1
	if box.Flags&SencOverrideTrackEncryption != 0 {
		s.Override = &SencOverride{AlgorithmID: c.u24(), IVSize: c.u8(), KID: c.uuid()}
		ivSize = int(s.Override.IVSize)
	}
	s.HasSubsamples = box.Flags&SencUseSubsampleEncryption != 0
	count := c.u32()
	if c.err != nil {
		return nil
	}
	if ivSize < 0 {
		ivSize = inferSencIVSize(c, count, s.HasSubsamples)
	}
	s.Samples = readSencSamples(c, count, ivSize, s.HasSubsamples)
	return nil
}

// inferSencIVSize picks the per-sample IV size that makes the sample list
// consume the body exactly. The size itself lives in tenc, which a leaf
// decoder cannot see.
func inferSencIVSize(c *cursor, count uint32, subsamples bool) int {
	if count == 0 {
		return 0
	}
	if !subsamples {
		if c.remaining()%int(count) == 0 {
			return c.remaining() / int(count)
		}
		return 8
	}
	for _, size := range []int{8, 16, 0} {
		try := *c
		readSencSamples(&try, count, size, true)
		if try.err == nil && try.remaining() == 0 {
			return size
		}
	}
	return 8
}

func readSencSamples(c *cursor, count uint32, ivSize int, subsamples bool) []SencSample {
	minLen := ivSize
	if subsamples {
		minLen += 2
	}
	n := c.count(count, minLen)
	if minLen == 0 && count > maxEmptyRun {
		c.fail("senc declares %d samples without per-sample data", count)
		return nil
	}
	if minLen == 0 {
		n = int(count)
	}
	out := make([]SencSample, n)
	for i := range out {
		out[i].IV = c.bytes(ivSize)
		if subsamples {
			m := c.count(uint32(c.u16()), 6)
			out[i].Subsamples = make([]SubsampleEntry, m)
			for j := range out[i].Subsamples {
				out[i].Subsamples[j] = SubsampleEntry{
					BytesOfClearData:     c.u16(),
					BytesOfProtectedData: c.u32(),
				}
			}
		}
		if c.err != nil {
			return out[:i]
		}
	}
	return out
}

func encodeSenc(_ *Box, s *Senc, w *writer) {
	if s.Override != nil {
		w.u24(s.Override.AlgorithmID)
		w.u8(s.Override.IVSize)
		w.bytes(s.Override.KID[:])
	}
	w.u32(uint32(len(s.Samples)))
	for _, smp := range s.Samples {
		w.bytes(smp.IV)
		if s.HasSubsamples {
			w.u16(uint16(len(smp.Subsamples)))
			for _, sub := range smp.Subsamples {
				w.u16(sub.BytesOfClearData)
				w.u32(sub.BytesOfProtectedData)
			}
		}
	}
}

func encodingLengthSenc(_ *Box, s *Senc) int {
	n := 4
	if s.Override != nil {
		n += 20
	}
	for _, smp := range s.Samples {
		n += len(smp.IV)
		if s.HasSubsamples {
			n += 2 + 6*len(smp.Subsamples)
		}
	}
	return n
}

func rebuildSenc(box *Box, s *Senc) {
	box.Flags &^= SencOverrideTrackEncryption | SencUseSubsampleEncryption
	if s.Override != nil {
		box.Flags |= SencOverrideTrackEncryption
	}
	if s.HasSubsamples {
		box.Flags |= SencUseSubsampleEncryption
	}
}

// --- frma ---

func decodeFrma(_ *Box, f *Frma, c *cursor, _ *decoder) error {
	f.DataFormat = c.fourCC()
	return nil
}

func encodeFrma(_ *Box, f *Frma, w *writer) { w.bytes(f.DataFormat[:]) }

func encodingLengthFrma(_ *Box, _ *Frma) int { return 4 }

// --- schm ---

func decodeSchm(box *Box, s *Schm, c *cursor, _ *decoder) error {
	s.SchemeType = c.fourCC()
	s.SchemeVersion = c.u32()
	if s.HasSchemeURI = box.Flags&schmSchemeURIPresent != 0; s.HasSchemeURI {
		s.SchemeURI = c.cstring()
	}
	return nil
}

func encodeSchm(_ *Box, s *Schm, w *writer) {
	w.bytes(s.SchemeType[:])
	w.u32(s.SchemeVersion)
	if s.HasSchemeURI {
		w.cstring(s.SchemeURI)
	}
}

func encodingLengthSchm(_ *Box, s *Schm) int {
	if s.HasSchemeURI {
		return 8 + len(s.SchemeURI) + 1
	}
	return 8
}

func rebuildSchm(box *Box, s *Schm) {
	if s.HasSchemeURI {
		box.Flags |= schmSchemeURIPresent
	} else {
		box.Flags &^= schmSchemeURIPresent
	}
}
