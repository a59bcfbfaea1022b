package mp4

// WebVTT boxes (ISO/IEC 14496-30). Strings fill the rest of the body and
// carry no terminator.

// VttC represents the WebVTT configuration box.
type VttC struct{ Config string }

// Vlab represents the WebVTT source label box.
type Vlab struct{ SourceLabel string }

// Iden represents the cue identifier box.
type Iden struct{ CueID string }

// Sttg represents the cue settings box.
type Sttg struct{ Settings string }

// Payl represents the cue payload box.
type Payl struct{ CueText string }

// Ctim represents the cue current time box.
type Ctim struct{ CueCurrentTime string }

// Vtta represents the cue additional text box.
type Vtta struct{ CueAdditionalText string }

// Vsid represents the cue source ID box.
type Vsid struct{ SourceID uint32 }

func registerWebVTT() {
	registerLeaf(TypeVttC, false, newTextCodec(func(v *VttC) *string { return &v.Config }))
	registerLeaf(TypeVlab, false, newTextCodec(func(v *Vlab) *string { return &v.SourceLabel }))
	registerLeaf(TypeIden, false, newTextCodec(func(v *Iden) *string { return &v.CueID }))
	registerLeaf(TypeSttg, false, newTextCodec(func(v *Sttg) *string { return &v.Settings }))
	registerLeaf(TypePayl, false, newTextCodec(func(v *Payl) *string { return &v.CueText }))
	registerLeaf(TypeCtim, false, newTextCodec(func(v *Ctim) *string { return &v.CueCurrentTime }))
	registerLeaf(TypeVtta, false, newTextCodec(func(v *Vtta) *string { return &v.CueAdditionalText }))
	registerLeaf(TypeVsid, false, newCodec(decodeVsid, encodeVsid, encodingLengthVsid, nil))
}

// newTextCodec builds a codec for a box whose whole body is one string field.
func newTextCodec[T any](field func(*T) *string) *codec {
	return newCodec(
		func(_ *Box, p *T, c *cursor, _ *decoder) error {
			*field(p) = c.text()
			return nil
		},
		func(_ *Box, p *T, w *writer) { w.bytes([]byte(*field(p))) },
		func(_ *Box, p *T) int { return len(*field(p)) },
		nil,
	)
}

// --- vsid ---

func decodeVsid(_ *Box, v *Vsid, c *cursor, _ *decoder) error {
	v.SourceID = c.u32()
	return nil
}

func encodeVsid(_ *Box, v *Vsid, w *writer) { w.u32(v.SourceID) }

func encodingLengthVsid(_ *Box, _ *Vsid) int { return 4 }
