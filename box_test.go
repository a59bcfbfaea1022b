package mp4_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mp4 "github.com/tetsuo/mp4box"
)

var ftypBytes = []byte("\x00\x00\x00\x18ftypiso5\x00\x00\x00\x01iso5avc1")

func brand(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}

// roundTrip encodes box, decodes the result and checks that re-encoding the
// decoded tree reproduces the same bytes.
func roundTrip(t *testing.T, box *mp4.Box) (*mp4.Box, []byte) {
	t.Helper()
	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)
	require.EqualValues(t, len(buf), box.Size)

	got, err := mp4.Decode(buf, 0, len(buf))
	require.NoError(t, err)

	again, err := mp4.EncodeToBytes(got)
	require.NoError(t, err)
	require.Equal(t, buf, again)
	return got, buf
}

func TestDecodeFtyp(t *testing.T) {
	box, err := mp4.Decode(ftypBytes, 0, len(ftypBytes))
	require.NoError(t, err)

	assert.Equal(t, mp4.TypeFtyp, box.Type)
	assert.EqualValues(t, 0, box.Offset)
	assert.EqualValues(t, 24, box.Size)
	assert.EqualValues(t, 24, box.End)
	assert.Equal(t, &mp4.Ftyp{
		MajorBrand:       brand("iso5"),
		MinorVersion:     1,
		CompatibleBrands: [][4]byte{brand("iso5"), brand("avc1")},
	}, box.Payload)
}

func TestEncodeFtyp(t *testing.T) {
	box := &mp4.Box{
		Type: mp4.TypeFtyp,
		Payload: &mp4.Ftyp{
			MajorBrand:       brand("iso5"),
			MinorVersion:     1,
			CompatibleBrands: [][4]byte{brand("iso5"), brand("avc1")},
		},
	}
	assert.EqualValues(t, 24, mp4.EncodingLength(box))

	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)
	assert.Equal(t, ftypBytes, buf)

	out := make([]byte, 30)
	n, err := mp4.Encode(box, out, 6)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.Equal(t, ftypBytes, out[6:])

	_, err = mp4.Encode(box, make([]byte, 10), 0)
	assert.Error(t, err)
}

func TestDecodeAtOffset(t *testing.T) {
	buf := append([]byte("junk"), ftypBytes...)
	box, err := mp4.Decode(buf, 4, len(buf))
	require.NoError(t, err)
	assert.EqualValues(t, 4, box.Offset)
	assert.EqualValues(t, 28, box.End)
}

func TestUnknownBoxRoundTrip(t *testing.T) {
	raw := []byte("\x00\x00\x00\x0dzzzzhello")
	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.Equal(t, "zzzz", box.Type.String())
	assert.Nil(t, box.Payload)
	assert.Equal(t, []byte("hello"), box.Raw)
	assert.False(t, mp4.Registered(box.Type))

	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short header", []byte{0, 0, 0}, mp4.ErrTruncatedInput},
		{"size beyond input", []byte("\x00\x00\x00\x20ftypiso5"), mp4.ErrTruncatedInput},
		{"size below header", []byte("\x00\x00\x00\x04ftyp"), mp4.ErrInvalidLength},
		{"largesize beyond input", []byte("\x00\x00\x00\x01free\x00\x00\x00\x00\x00\x00\x00\x40"), mp4.ErrTruncatedInput},
		{"field past body", []byte("\x00\x00\x00\x0cmfhd\x00\x00\x00\x00"), mp4.ErrTruncatedInput},
		{"child header cut", []byte("\x00\x00\x00\x0cmoov\x00\x00\x00\x08"), mp4.ErrTruncatedInput},
		{"vmhd flags", []byte("\x00\x00\x00\x14vmhd\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), mp4.ErrMalformedBox},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mp4.Decode(tt.in, 0, len(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err := mp4.Decode(ftypBytes, 0, 100)
	assert.ErrorIs(t, err, mp4.ErrInvalidLength)
}

func TestNestingLimit(t *testing.T) {
	box := &mp4.Box{Type: mp4.TypeFree}
	for range 40 {
		box = &mp4.Box{Type: mp4.TypeMoov, Children: []*mp4.Box{box}}
	}
	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)

	_, err = mp4.Decode(buf, 0, len(buf))
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
}

func TestSizeZeroRunsToEnd(t *testing.T) {
	raw := []byte("\x00\x00\x00\x00freeabcdef")
	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), box.Size)
	assert.Equal(t, []byte("abcdef"), box.Raw)

	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00\x00\x00\x0efreeabcdef"), buf)
}

func TestLargeSizeHeader(t *testing.T) {
	raw := []byte("\x00\x00\x00\x01free\x00\x00\x00\x00\x00\x00\x00\x12ab")
	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.EqualValues(t, 18, box.Size)
	assert.Equal(t, []byte("ab"), box.Raw)
}

func TestLengthInvariant(t *testing.T) {
	moov := testMovie()
	buf, err := mp4.EncodeToBytes(moov)
	require.NoError(t, err)

	boxes, err := mp4.DecodeAll(append(append([]byte{}, ftypBytes...), buf...))
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	var check func(b *mp4.Box)
	check = func(b *mp4.Box) {
		assert.Equal(t, b.End-b.Offset, int64(b.Size), "%s", b.Type)
		body := int64(b.Size) - int64(b.HeaderSize())
		assert.GreaterOrEqual(t, body, int64(0), "%s", b.Type)
		next := b.Offset + int64(b.HeaderSize())
		if mp4.IsContainer(b.Type) {
			for _, c := range b.Children {
				assert.Equal(t, next, c.Offset, "%s in %s", c.Type, b.Type)
				next = c.End
				check(c)
			}
			assert.Equal(t, b.End, next, "%s", b.Type)
			return
		}
		for _, c := range b.Children {
			check(c)
		}
	}
	for _, b := range boxes {
		check(b)
	}
}

func TestUUIDBoxHeader(t *testing.T) {
	box := &mp4.Box{
		Type:         mp4.TypeUUID,
		ExtendedType: uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"),
		Raw:          []byte{1, 2, 3},
	}
	got, buf := roundTrip(t, box)
	assert.Len(t, buf, 24+3)
	assert.Equal(t, box.ExtendedType, got.ExtendedType)
	assert.Equal(t, 24, got.HeaderSize())
}

func TestVersionPromotion(t *testing.T) {
	t.Run("mvhd", func(t *testing.T) {
		box := &mp4.Box{Type: mp4.TypeMvhd, Payload: &mp4.Mvhd{
			Timescale:   1000,
			Duration:    math.MaxUint32 + 1,
			Rate:        0x00010000,
			Volume:      0x0100,
			NextTrackID: 2,
		}}
		got, buf := roundTrip(t, box)
		assert.Len(t, buf, 120)
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, box.Payload, got.Payload)
	})
	t.Run("mvhd v0", func(t *testing.T) {
		box := &mp4.Box{Type: mp4.TypeMvhd, Payload: &mp4.Mvhd{Timescale: 1000, Duration: 5000}}
		got, buf := roundTrip(t, box)
		assert.Len(t, buf, 108)
		assert.EqualValues(t, 0, got.Version)
	})
	t.Run("tfdt", func(t *testing.T) {
		box := &mp4.Box{Type: mp4.TypeTfdt, Payload: &mp4.Tfdt{BaseMediaDecodeTime: 1 << 40}}
		got, buf := roundTrip(t, box)
		assert.Len(t, buf, 20)
		assert.EqualValues(t, 1, got.Version)
		assert.EqualValues(t, 1<<40, got.Payload.(*mp4.Tfdt).BaseMediaDecodeTime)
	})
	t.Run("elst", func(t *testing.T) {
		box := &mp4.Box{Type: mp4.TypeElst, Payload: &mp4.Elst{Entries: []mp4.ElstEntry{
			{EditDuration: 100, MediaTime: -1, MediaRateInteger: 1},
			{EditDuration: math.MaxUint32 + 5, MediaTime: 2000, MediaRateInteger: 1},
		}}}
		got, _ := roundTrip(t, box)
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, box.Payload, got.Payload)
	})
	t.Run("ctts", func(t *testing.T) {
		box := &mp4.Box{Type: mp4.TypeCtts, Payload: &mp4.Ctts{Entries: []mp4.CTTSEntry{
			{Count: 2, CompositionOffset: 10},
			{Count: 1, CompositionOffset: -5},
		}}}
		got, _ := roundTrip(t, box)
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, box.Payload, got.Payload)
	})
}

func TestFlagsRebuild(t *testing.T) {
	t.Run("tfhd", func(t *testing.T) {
		tfhd := &mp4.Tfhd{
			TrackID:              1,
			HasDefaultSampleSize: true,
			DefaultSampleSize:    188,
			DefaultBaseIsMoof:    true,
		}
		box := &mp4.Box{Type: mp4.TypeTfhd, Flags: 0xffffff, Payload: tfhd}
		got, buf := roundTrip(t, box)
		assert.EqualValues(t, mp4.TfhdDefaultSampleSizePresent|mp4.TfhdDefaultBaseIsMoof, got.Flags)
		assert.Len(t, buf, 20)
		assert.Equal(t, tfhd, got.Payload)
	})
	t.Run("trun", func(t *testing.T) {
		trun := &mp4.Trun{
			HasDataOffset:                  true,
			DataOffset:                     120,
			HasFirstSampleFlags:            true,
			FirstSampleFlags:               mp4.SampleFlags{DependsOn: mp4.DependsNo},
			HasSampleDuration:              true,
			HasSampleSize:                  true,
			HasSampleCompositionTimeOffset: true,
			Samples: []mp4.TrunSample{
				{Duration: 10, Size: 100, CompositionTimeOffset: 20},
				{Duration: 10, Size: 50, CompositionTimeOffset: -10},
			},
		}
		box := &mp4.Box{Type: mp4.TypeTrun, Payload: trun}
		got, _ := roundTrip(t, box)
		assert.EqualValues(t, 0x000b05, got.Flags)
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, trun, got.Payload)
	})
	t.Run("url self-contained", func(t *testing.T) {
		got, buf := roundTrip(t, &mp4.Box{Type: mp4.TypeURL, Payload: &mp4.URL{}})
		assert.EqualValues(t, 1, got.Flags)
		assert.Len(t, buf, 12)
	})
	t.Run("pssh version", func(t *testing.T) {
		kid := uuid.MustParse("337b9643-21b6-4355-9e59-3eccb46c7ef7")
		v1 := &mp4.Pssh{SystemID: mp4.SystemIDWidevine, KeyIDs: []uuid.UUID{kid}, Data: []byte{8, 1}}
		got, _ := roundTrip(t, &mp4.Box{Type: mp4.TypePssh, Payload: v1})
		assert.EqualValues(t, 1, got.Version)
		assert.Equal(t, v1, got.Payload)

		v0 := &mp4.Pssh{SystemID: mp4.SystemIDWidevine, Data: []byte{8, 1}}
		got, buf := roundTrip(t, &mp4.Box{Type: mp4.TypePssh, Version: 1, Payload: v0})
		assert.EqualValues(t, 0, got.Version)
		assert.Len(t, buf, 8+4+16+4+2)
	})
}

func TestPayloadMismatch(t *testing.T) {
	box := &mp4.Box{Type: mp4.TypeMvhd, Payload: &mp4.Tkhd{}}
	_, err := mp4.EncodeToBytes(box)
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
}

func TestLeafWithoutPayloadWritesRaw(t *testing.T) {
	raw := []byte("\x00\x00\x00\x10mfhd\x00\x00\x00\x00\x00\x00\x00\x07")
	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.EqualValues(t, 7, box.Payload.(*mp4.Mfhd).SequenceNumber)

	opaque := &mp4.Box{Type: mp4.TypeMfhd, Raw: raw[8:]}
	buf, err := mp4.EncodeToBytes(opaque)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
}

func TestTrailingBytesKept(t *testing.T) {
	raw := []byte("\x00\x00\x00\x12mfhd\x00\x00\x00\x00\x00\x00\x00\x07\xab\xcd")
	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab, 0xcd}, box.Raw)

	buf, err := mp4.EncodeToBytes(box)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
}

func TestEncodeStream(t *testing.T) {
	moov := testMovie()
	want, err := mp4.EncodeToBytes(moov)
	require.NoError(t, err)

	var out bytes.Buffer
	enc := mp4.NewEncoder(&out)
	require.NoError(t, enc.Encode(moov))
	assert.Equal(t, want, out.Bytes())
	assert.EqualValues(t, len(want), enc.Offset())
}
