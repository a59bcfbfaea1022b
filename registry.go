package mp4

import "github.com/google/uuid"

type schemaKind uint8

const (
	kindOpaque schemaKind = iota
	kindLeaf
	kindContainer
)

// schema describes how the body of one box type is laid out.
type schema struct {
	kind  schemaKind
	full  bool // body starts with version and flags
	codec *codec
}

// codec is an internal interface for box-specific encoding/decoding.
// Decoders call back into the dispatcher through the decoder argument for
// nested boxes, which breaks the container/box definition cycle.
type codec struct {
	decode         func(box *Box, c *cursor, d *decoder) error
	encode         func(box *Box, w *writer)
	encodingLength func(box *Box) int
	rebuild        func(box *Box)
	accepts        func(box *Box) bool
}

// newCodec binds typed payload functions to a codec. rebuild may be nil; when
// set it recomputes version and flags from the payload before encoding.
func newCodec[T any](
	decode func(box *Box, p *T, c *cursor, d *decoder) error,
	encode func(box *Box, p *T, w *writer),
	encodingLength func(box *Box, p *T) int,
	rebuild func(box *Box, p *T),
) *codec {
	cd := &codec{
		decode: func(box *Box, c *cursor, d *decoder) error {
			p := new(T)
			if err := decode(box, p, c, d); err != nil {
				return err
			}
			box.Payload = p
			return nil
		},
		encode: func(box *Box, w *writer) {
			encode(box, box.Payload.(*T), w)
		},
		encodingLength: func(box *Box) int {
			return encodingLength(box, box.Payload.(*T))
		},
		accepts: func(box *Box) bool {
			_, ok := box.Payload.(*T)
			return ok
		},
	}
	if rebuild != nil {
		cd.rebuild = func(box *Box) { rebuild(box, box.Payload.(*T)) }
	}
	return cd
}

var (
	registry         = map[BoxType]*schema{}
	extendedRegistry = map[uuid.UUID]*schema{}
)

func lookup(t BoxType, ext uuid.UUID) *schema {
	if t == TypeUUID {
		return extendedRegistry[ext]
	}
	return registry[t]
}

func registerLeaf(t BoxType, full bool, cd *codec) {
	registry[t] = &schema{kind: kindLeaf, full: full, codec: cd}
}

func registerContainer(types ...BoxType) {
	for _, t := range types {
		registry[t] = &schema{kind: kindContainer}
	}
}

func registerOpaque(types ...BoxType) {
	for _, t := range types {
		registry[t] = &schema{kind: kindOpaque}
	}
}

func registerExtended(id uuid.UUID, full bool, cd *codec) {
	extendedRegistry[id] = &schema{kind: kindLeaf, full: full, codec: cd}
}

// IsContainer reports whether boxes of type t hold only child boxes.
func IsContainer(t BoxType) bool {
	s := registry[t]
	return s != nil && s.kind == kindContainer
}

// IsFullBox reports whether boxes of type t carry version and flags.
func IsFullBox(t BoxType) bool {
	s := registry[t]
	return s != nil && s.full
}

// Registered reports whether t has a schema other than the raw fallback.
func Registered(t BoxType) bool {
	_, ok := registry[t]
	return ok
}

// PIFF (Protected Interoperable File Format) extended types.
var (
	PIFFTrackEncryption  = uuid.MustParse("8974dbce-7be7-4c51-84f9-7148f9882554")
	PIFFProtectionSystem = uuid.MustParse("d08a4f18-10f3-4a82-b6c8-32d8aba183d3")
	PIFFSampleEncryption = uuid.MustParse("a2394f52-5a9b-4f14-a244-6c427c648df4")
)

func init() {
	registerContainer(
		TypeMoov, TypeTrak, TypeEdts, TypeMdia, TypeMinf, TypeDinf, TypeStbl,
		TypeMvex, TypeMoof, TypeTraf, TypeMfra, TypeTref, TypeSinf, TypeSchi,
		TypeVttc, TypeVtte,
	)
	registerOpaque(TypeFree, TypeSkip, TypeUdta, TypeMeta)

	registerLeaf(TypeFtyp, false, ftypCodec)
	registerLeaf(TypeStyp, false, ftypCodec)
	registerLeaf(TypeMvhd, true, newCodec(decodeMvhd, encodeMvhd, encodingLengthMvhd, rebuildMvhd))
	registerLeaf(TypeTkhd, true, newCodec(decodeTkhd, encodeTkhd, encodingLengthTkhd, rebuildTkhd))
	registerLeaf(TypeMdhd, true, newCodec(decodeMdhd, encodeMdhd, encodingLengthMdhd, rebuildMdhd))
	registerLeaf(TypeHdlr, true, newCodec(decodeHdlr, encodeHdlr, encodingLengthHdlr, nil))
	registerLeaf(TypeVmhd, true, newCodec(decodeVmhd, encodeVmhd, encodingLengthVmhd, rebuildVmhd))
	registerLeaf(TypeSmhd, true, newCodec(decodeSmhd, encodeSmhd, encodingLengthSmhd, nil))
	registerLeaf(TypeElst, true, newCodec(decodeElst, encodeElst, encodingLengthElst, rebuildElst))
	registerLeaf(TypeDref, true, newCodec(decodeDref, encodeDref, encodingLengthDref, nil))
	registerLeaf(TypeURL, true, newCodec(decodeURL, encodeURL, encodingLengthURL, rebuildURL))
	registerLeaf(TypeURN, true, newCodec(decodeURN, encodeURN, encodingLengthURN, rebuildURN))

	registerSampleTable()
	registerFragment()
	registerDRM()
	registerWebVTT()
}
