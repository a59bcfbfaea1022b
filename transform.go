package mp4

import "github.com/google/uuid"

// DecodeLanguage unpacks an ISO-639-2/T language code stored as three 5-bit
// letters offset by 0x60.
func DecodeLanguage(v uint16) string {
	return string([]byte{
		byte(v>>10&0x1f) + 0x60,
		byte(v>>5&0x1f) + 0x60,
		byte(v&0x1f) + 0x60,
	})
}

// EncodeLanguage packs a three-letter ISO-639-2/T code. Missing letters
// encode as zero.
func EncodeLanguage(s string) uint16 {
	var v uint16
	for i := range 3 {
		var bits uint16
		if i < len(s) {
			bits = uint16(s[i]-0x60) & 0x1f
		}
		v = v<<5 | bits
	}
	return v
}

// UUIDFromBytes converts 16 raw bytes to a UUID.
func UUIDFromBytes(b []byte) (uuid.UUID, error) {
	return uuid.FromBytes(b)
}

// UUIDBytes returns the 16-byte wire layout of a UUID.
func UUIDBytes(id uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// maskedInt5 keeps the low five bits, as count fields packed with reserved
// bits do.
func maskedInt5(v uint8) uint8 { return v & 0x1f }

// SampleFlags is the 32-bit sample flags field used by trex, tfhd and trun.
type SampleFlags struct {
	IsLeading           uint8
	DependsOn           uint8
	IsDependedOn        uint8
	HasRedundancy       uint8
	PaddingValue        uint8
	NonSync             bool
	DegradationPriority uint16
}

// Sample dependency values shared by DependsOn, IsDependedOn and HasRedundancy.
const (
	DependsUnknown = 0
	DependsYes     = 1
	DependsNo      = 2
)

// ParseSampleFlags unpacks the bitfield: 4 reserved bits, is_leading 2,
// depends_on 2, is_depended_on 2, has_redundancy 2, padding 3, non_sync 1,
// degradation_priority 16.
func ParseSampleFlags(v uint32) SampleFlags {
	return SampleFlags{
		IsLeading:           uint8(v >> 26 & 0x3),
		DependsOn:           uint8(v >> 24 & 0x3),
		IsDependedOn:        uint8(v >> 22 & 0x3),
		HasRedundancy:       uint8(v >> 20 & 0x3),
		PaddingValue:        uint8(v >> 17 & 0x7),
		NonSync:             v>>16&0x1 == 1,
		DegradationPriority: uint16(v),
	}
}

// Uint32 packs the flags back into their wire form.
func (f SampleFlags) Uint32() uint32 {
	v := uint32(f.IsLeading&0x3)<<26 |
		uint32(f.DependsOn&0x3)<<24 |
		uint32(f.IsDependedOn&0x3)<<22 |
		uint32(f.HasRedundancy&0x3)<<20 |
		uint32(f.PaddingValue&0x7)<<17 |
		uint32(f.DegradationPriority)
	if f.NonSync {
		v |= 1 << 16
	}
	return v
}

// IsSync reports whether the sample is a sync sample.
func (f SampleFlags) IsSync() bool {
	return !f.NonSync && f.DependsOn != DependsYes
}
