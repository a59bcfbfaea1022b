package mp4_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mp4 "github.com/tetsuo/mp4box"
)

// onlyReader hides the io.Seeker of the wrapped reader.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func testFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := mp4.NewEncoder(&buf)
	for _, b := range []*mp4.Box{
		{Type: mp4.TypeFtyp, Payload: &mp4.Ftyp{MajorBrand: brand("isom"), CompatibleBrands: [][4]byte{brand("isom")}}},
		testMovie(),
		{Type: mp4.TypeMdat, Payload: &mp4.Mdat{Data: bytes.Repeat([]byte{0xaa}, 100)}},
		{Type: mp4.TypeFree, Raw: []byte("tail")},
	} {
		require.NoError(t, enc.Encode(b))
	}
	return buf.Bytes()
}

func TestDecoder(t *testing.T) {
	data := testFile(t)

	dec := mp4.NewDecoder(bytes.NewReader(data))
	boxes, err := dec.DecodeAll()
	require.NoError(t, err)
	require.Len(t, boxes, 4)
	assert.EqualValues(t, len(data), dec.Offset())

	want, err := mp4.DecodeAll(data)
	require.NoError(t, err)
	for i := range boxes {
		assert.Equal(t, want[i].Type, boxes[i].Type)
		assert.Equal(t, want[i].Offset, boxes[i].Offset)
		assert.Equal(t, want[i].Size, boxes[i].Size)
	}
	assert.Len(t, boxes[2].Payload.(*mp4.Mdat).Data, 100)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderSkipMdat(t *testing.T) {
	data := testFile(t)

	for name, r := range map[string]io.Reader{
		"seeker": bytes.NewReader(data),
		"reader": onlyReader{bytes.NewReader(data)},
	} {
		t.Run(name, func(t *testing.T) {
			dec := mp4.NewDecoder(r)
			dec.SkipMdat = true
			boxes, err := dec.DecodeAll()
			require.NoError(t, err)
			require.Len(t, boxes, 4)

			mdat := boxes[2].Payload.(*mp4.Mdat)
			assert.Nil(t, mdat.Data)
			assert.EqualValues(t, 100, mdat.ContentLength)
			assert.EqualValues(t, 108, boxes[2].Size)
			assert.Equal(t, []byte("tail"), boxes[3].Raw)

			// A skipped mdat re-encodes as zeros of the same length.
			var out bytes.Buffer
			require.NoError(t, mp4.NewEncoder(&out).Encode(boxes[2]))
			assert.Equal(t, append([]byte("\x00\x00\x00\x6cmdat"), make([]byte, 100)...), out.Bytes())
		})
	}
}

func TestDecoderTruncated(t *testing.T) {
	data := testFile(t)

	tests := []struct {
		name string
		cut  int
	}{
		{"header", 20 + 3}, // ftyp is 20 bytes
		{"body", len(data) - 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := mp4.NewDecoder(bytes.NewReader(data[:tt.cut]))
			_, err := dec.DecodeAll()
			assert.ErrorIs(t, err, mp4.ErrTruncatedInput)
		})
	}

	dec := mp4.NewDecoder(bytes.NewReader(data[:len(data)-50]))
	dec.SkipMdat = true
	_, err := dec.DecodeAll()
	assert.ErrorIs(t, err, mp4.ErrTruncatedInput)

	dec = mp4.NewDecoder(bytes.NewReader([]byte("\x00\x00\x00\x02free")))
	_, err = dec.Next()
	assert.ErrorIs(t, err, mp4.ErrInvalidLength)
}

func TestDecoderStrict(t *testing.T) {
	data := append(append([]byte{}, ftypBytes...), "\x00\x00\x00\x0czzzzabcd"...)

	boxes, err := mp4.NewDecoder(bytes.NewReader(data)).DecodeAll()
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, []byte("abcd"), boxes[1].Raw)

	dec := mp4.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	boxes, err = dec.DecodeAll()
	assert.ErrorIs(t, err, mp4.ErrUnknownBoxType)
	assert.Len(t, boxes, 1)

	// Unknown boxes nested in a container are rejected too.
	nested := []byte("\x00\x00\x00\x14moov\x00\x00\x00\x0czzzzabcd")
	dec = mp4.NewDecoder(bytes.NewReader(nested))
	dec.Strict = true
	_, err = dec.Next()
	assert.True(t, errors.Is(err, mp4.ErrUnknownBoxType), "got %v", err)
}

func TestDecoderSizeZero(t *testing.T) {
	data := append(append([]byte{}, ftypBytes...), "\x00\x00\x00\x00mdatpayload"...)
	boxes, err := mp4.NewDecoder(onlyReader{bytes.NewReader(data)}).DecodeAll()
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.EqualValues(t, 15, boxes[1].Size)
	assert.Equal(t, []byte("payload"), boxes[1].Payload.(*mp4.Mdat).Data)
}

func TestEncoderSeekable(t *testing.T) {
	want := testFile(t)

	path := filepath.Join(t.TempDir(), "out.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	src, err := mp4.DecodeAll(want)
	require.NoError(t, err)

	enc := mp4.NewEncoder(f)
	for _, b := range src {
		require.NoError(t, enc.Encode(b))
	}
	assert.EqualValues(t, len(want), enc.Offset())
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Offsets were rewritten to the positions in the new stream.
	assert.Equal(t, src[0].End, src[1].Offset)
	assert.Equal(t, src[1].Offset+int64(src[1].Size), src[1].End)
}

func TestEncoderPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	got := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(r)
		got <- data
	}()

	moov := &mp4.Box{Type: mp4.TypeMoov, Children: []*mp4.Box{
		{Type: mp4.TypeMvhd, Payload: &mp4.Mvhd{Timescale: 1000, NextTrackID: 1}},
	}}
	want, err := mp4.EncodeToBytes(moov)
	require.NoError(t, err)

	enc := mp4.NewEncoder(w)
	require.NoError(t, enc.Encode(moov))
	require.NoError(t, w.Close())

	assert.Equal(t, want, <-got)
	assert.EqualValues(t, len(want), enc.Offset())
}

func TestEncoderRejectsMismatchedPayload(t *testing.T) {
	var out bytes.Buffer
	err := mp4.NewEncoder(&out).Encode(&mp4.Box{Type: mp4.TypeMoov, Children: []*mp4.Box{
		{Type: mp4.TypeMvhd, Payload: &mp4.Mfhd{}},
	}})
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
	assert.Zero(t, out.Len())
}
