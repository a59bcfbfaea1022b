package mp4_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mp4 "github.com/tetsuo/mp4box"
)

var testKID = uuid.MustParse("337b9643-21b6-4355-9e59-3eccb46c7ef7")

func TestTencVector(t *testing.T) {
	raw := []byte("\x00\x00\x00 tenc\x00\x00\x00\x00\x00\x00\x01\x083{\x96C!\xb6CU\x9eY>\xcc\xb4l~\xf7")

	box, err := mp4.Decode(raw, 0, len(raw))
	require.NoError(t, err)
	assert.EqualValues(t, 32, box.End)
	assert.Equal(t, &mp4.Tenc{
		DefaultIsProtected:     1,
		DefaultPerSampleIVSize: 8,
		DefaultKID:             testKID,
	}, box.Payload)

	buf, err := mp4.EncodeToBytes(&mp4.Box{Type: mp4.TypeTenc, Payload: &mp4.Tenc{
		DefaultIsProtected:     1,
		DefaultPerSampleIVSize: 8,
		DefaultKID:             testKID,
	}})
	require.NoError(t, err)
	assert.Equal(t, raw, buf)

	bad := append([]byte{}, raw...)
	bad[12] = 1
	_, err = mp4.Decode(bad, 0, len(bad))
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
}

func TestTencConstantIV(t *testing.T) {
	box := &mp4.Box{Type: mp4.TypeTenc, Version: 1, Payload: &mp4.Tenc{
		DefaultCryptByteBlock: 1,
		DefaultSkipByteBlock:  9,
		DefaultIsProtected:    1,
		DefaultKID:            testKID,
		DefaultConstantIV:     []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}}
	got, buf := roundTrip(t, box)
	assert.Len(t, buf, 32+1+16)
	assert.Equal(t, box.Payload, got.Payload)
}

func TestPIFFTrackEncryption(t *testing.T) {
	box := &mp4.Box{
		Type:         mp4.TypeUUID,
		ExtendedType: mp4.PIFFTrackEncryption,
		Payload: &mp4.Tenc{
			DefaultIsProtected:     1,
			DefaultPerSampleIVSize: 8,
			DefaultKID:             testKID,
		},
	}
	got, buf := roundTrip(t, box)
	assert.Len(t, buf, 48)
	assert.Equal(t, box.Payload, got.Payload)
	assert.True(t, mp4.IsFullBox(mp4.TypeTenc))
}

func TestWebVTTVectors(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"\x00\x00\x00\x27iden2 - this is the second subtitle", &mp4.Iden{CueID: "2 - this is the second subtitle"}},
		{"\x00\x00\x00\x1aiden1 - first subtitle", &mp4.Iden{CueID: "1 - first subtitle"}},
		{"\x00\x00\x003sttgline:10% position:50% size:48% align:center", &mp4.Sttg{Settings: "line:10% position:50% size:48% align:center"}},
		{"\x00\x00\x002sttgline:75% position:20% size:2em align:right", &mp4.Sttg{Settings: "line:75% position:20% size:2em align:right"}},
		{"\x00\x00\x00\x13payl[chuckling]", &mp4.Payl{CueText: "[chuckling]"}},
		{"\x00\x00\x00*paylI have a bad feeling about- [boom]", &mp4.Payl{CueText: "I have a bad feeling about- [boom]"}},
		{"\x00\x00\x00\x0evttCWEBVTT", &mp4.VttC{Config: "WEBVTT"}},
		{"\x00\x00\x00>vttCWEBVTT with a text header\n\nSTYLE\n::cue {\ncolor: red;\n}", &mp4.VttC{Config: "WEBVTT with a text header\n\nSTYLE\n::cue {\ncolor: red;\n}"}},
		{"\x00\x00\x00\x14vlabsource_label", &mp4.Vlab{SourceLabel: "source_label"}},
		{"\x00\x00\x00\x1cvlab1234 \n test_label \n\n", &mp4.Vlab{SourceLabel: "1234 \n test_label \n\n"}},
	}
	for _, tt := range tests {
		raw := []byte(tt.raw)
		t.Run(string(raw[4:8]), func(t *testing.T) {
			box, err := mp4.Decode(raw, 0, len(raw))
			require.NoError(t, err)
			assert.EqualValues(t, len(raw), box.End)
			assert.Equal(t, tt.want, box.Payload)

			buf, err := mp4.EncodeToBytes(&mp4.Box{Type: box.Type, Payload: tt.want})
			require.NoError(t, err)
			assert.Equal(t, raw, buf)
		})
	}
}

func TestWebVTTCue(t *testing.T) {
	cue := &mp4.Box{Type: mp4.TypeVttc, Children: []*mp4.Box{
		{Type: mp4.TypeVsid, Payload: &mp4.Vsid{SourceID: 3}},
		{Type: mp4.TypeIden, Payload: &mp4.Iden{CueID: "1"}},
		{Type: mp4.TypeCtim, Payload: &mp4.Ctim{CueCurrentTime: "00:00:01.000"}},
		{Type: mp4.TypePayl, Payload: &mp4.Payl{CueText: "hello"}},
		{Type: mp4.TypeVtta, Payload: &mp4.Vtta{CueAdditionalText: "NOTE x"}},
	}}
	got, _ := roundTrip(t, cue)
	require.Len(t, got.Children, 5)
	assert.Equal(t, &mp4.Vsid{SourceID: 3}, got.Children[0].Payload)
	assert.Equal(t, &mp4.Vtta{CueAdditionalText: "NOTE x"}, got.Children[4].Payload)
}

func TestSampleTableRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		box  *mp4.Box
		size int
	}{
		{"stts", &mp4.Box{Type: mp4.TypeStts, Payload: &mp4.Stts{Entries: []mp4.STTSEntry{{Count: 3, Duration: 10}, {Count: 2, Duration: 20}}}}, 32},
		{"stss", &mp4.Box{Type: mp4.TypeStss, Payload: &mp4.Stss{Entries: []uint32{1, 4}}}, 24},
		{"stsc", &mp4.Box{Type: mp4.TypeStsc, Payload: &mp4.Stsc{Entries: []mp4.STSCEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionID: 1}}}}, 28},
		{"stco", &mp4.Box{Type: mp4.TypeStco, Payload: &mp4.Stco{Entries: []uint32{0x100, 0x200}}}, 24},
		{"co64", &mp4.Box{Type: mp4.TypeCo64, Payload: &mp4.Co64{Entries: []uint64{1 << 33}}}, 24},
		{"stsz explicit", &mp4.Box{Type: mp4.TypeStsz, Payload: &mp4.Stsz{SampleCount: 3, Entries: []uint32{5, 6, 7}}}, 32},
		{"stsz uniform", &mp4.Box{Type: mp4.TypeStsz, Payload: &mp4.Stsz{SampleSize: 188, SampleCount: 1000}}, 20},
		{"stz2 4-bit", &mp4.Box{Type: mp4.TypeStz2, Payload: &mp4.Stz2{FieldSize: 4, Entries: []uint32{1, 15, 7}}}, 22},
		{"stz2 8-bit", &mp4.Box{Type: mp4.TypeStz2, Payload: &mp4.Stz2{FieldSize: 8, Entries: []uint32{200, 3}}}, 22},
		{"stz2 16-bit", &mp4.Box{Type: mp4.TypeStz2, Payload: &mp4.Stz2{FieldSize: 16, Entries: []uint32{1000, 65535}}}, 24},
		{"stdp", &mp4.Box{Type: mp4.TypeStdp, Payload: &mp4.Stdp{Priorities: []uint16{1, 2}}}, 16},
		{"ctts v0", &mp4.Box{Type: mp4.TypeCtts, Payload: &mp4.Ctts{Entries: []mp4.CTTSEntry{{Count: 1, CompositionOffset: 3000}}}}, 24},
		{"btrt", &mp4.Box{Type: mp4.TypeBtrt, Payload: &mp4.Btrt{BufferSizeDB: 1, MaxBitrate: 2, AvgBitrate: 3}}, 20},
		{"trex", &mp4.Box{Type: mp4.TypeTrex, Payload: &mp4.Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1, DefaultSampleFlags: mp4.SampleFlags{NonSync: true}}}, 32},
		{"mehd", &mp4.Box{Type: mp4.TypeMehd, Payload: &mp4.Mehd{FragmentDuration: 9000}}, 16},
		{"mfhd", &mp4.Box{Type: mp4.TypeMfhd, Payload: &mp4.Mfhd{SequenceNumber: 9}}, 16},
		{"frma", &mp4.Box{Type: mp4.TypeFrma, Payload: &mp4.Frma{DataFormat: mp4.TypeAvc1}}, 12},
		{"smhd", &mp4.Box{Type: mp4.TypeSmhd, Payload: &mp4.Smhd{Balance: -1}}, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, buf := roundTrip(t, tt.box)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.box.Payload, got.Payload)
		})
	}
}

func TestStz2Malformed(t *testing.T) {
	raw := []byte("\x00\x00\x00\x14stz2\x00\x00\x00\x00\x00\x00\x00\x05\x00\x00\x00\x00")
	_, err := mp4.Decode(raw, 0, len(raw))
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)

	raw = []byte("\x00\x00\x00\x14stz2\x00\x00\x00\x00\x01\x00\x00\x08\x00\x00\x00\x00")
	_, err = mp4.Decode(raw, 0, len(raw))
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
}

func TestHostileEntryCount(t *testing.T) {
	raw := []byte("\x00\x00\x00\x10stco\x00\x00\x00\x00\xff\xff\xff\xff")
	_, err := mp4.Decode(raw, 0, len(raw))
	assert.ErrorIs(t, err, mp4.ErrTruncatedInput)

	// 4-bit stz2 fields: the rounded-up byte count must not wrap to zero.
	raw = []byte("\x00\x00\x00\x14stz2\x00\x00\x00\x00\x00\x00\x00\x04\xff\xff\xff\xff")
	_, err = mp4.Decode(raw, 0, len(raw))
	assert.ErrorIs(t, err, mp4.ErrTruncatedInput)

	raw = []byte("\x00\x00\x00\x14trun\x00\x00\x00\x00\xff\xff\xff\xff\x00\x00\x00\x00")
	_, err = mp4.Decode(raw, 0, len(raw))
	assert.ErrorIs(t, err, mp4.ErrMalformedBox)
}

func TestMovieRoundTrip(t *testing.T) {
	moov := testMovie()
	got, _ := roundTrip(t, moov)

	stsd, err := mp4.First(got, mp4.TypeStsd)
	require.NoError(t, err)
	require.Len(t, stsd.Children, 1)
	entry := stsd.Children[0]
	assert.Equal(t, mp4.TypeAvc1, entry.Type)
	assert.Equal(t, &mp4.VisualSampleEntry{
		DataReferenceIndex: 1,
		Width:              640,
		Height:             360,
		HResolution:        0x480000,
		VResolution:        0x480000,
		FrameCount:         1,
		CompressorName:     "mp4box",
		Depth:              0x18,
	}, entry.Payload)

	avcC, ok := entry.Child(mp4.TypeAvcC).Payload.(*mp4.AvcC)
	require.True(t, ok)
	assert.Equal(t, "64001f", avcC.Codec())
	assert.Equal(t, [][]byte{{0x67, 0x64, 0x00, 0x1f}}, avcC.SPS)
	assert.Equal(t, [][]byte{{0x68, 0xee}}, avcC.PPS)

	mdhd, err := mp4.First(got, mp4.TypeMdhd)
	require.NoError(t, err)
	assert.Equal(t, "und", mdhd.Payload.(*mp4.Mdhd).Language)

	hdlr, err := mp4.First(got, mp4.TypeHdlr)
	require.NoError(t, err)
	assert.Equal(t, "VideoHandler", hdlr.Payload.(*mp4.Hdlr).Name)

	url, err := mp4.First(got, mp4.TypeURL)
	require.NoError(t, err)
	assert.True(t, url.Payload.(*mp4.URL).SelfContained())
}

func TestAudioSampleEntry(t *testing.T) {
	esds := mp4.NewEsds(1, 0x40, 0x05, 0, 128000, 128000, []byte{0x12, 0x10})
	entry := &mp4.Box{
		Type:     mp4.TypeMp4a,
		Payload:  &mp4.AudioSampleEntry{DataReferenceIndex: 1, ChannelCount: 2, SampleSize: 16, SampleRate: 44100 << 16},
		Children: []*mp4.Box{{Type: mp4.TypeEsds, Payload: esds}},
	}
	got, _ := roundTrip(t, entry)
	a := got.Payload.(*mp4.AudioSampleEntry)
	assert.EqualValues(t, 44100, a.SampleRateHz())
	assert.EqualValues(t, 2, a.ChannelCount)

	e, ok := got.Child(mp4.TypeEsds).Payload.(*mp4.Esds)
	require.True(t, ok)
	assert.EqualValues(t, 0x40, e.ObjectTypeIndication)
	assert.Equal(t, []byte{0x12, 0x10}, e.DecoderSpecificInfo)
	assert.Equal(t, "40.2", e.MimeCodec)
}

func TestSencRoundTrip(t *testing.T) {
	t.Run("iv only", func(t *testing.T) {
		senc := &mp4.Senc{Samples: []mp4.SencSample{
			{IV: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
			{IV: []byte{9, 10, 11, 12, 13, 14, 15, 16}},
		}}
		got, _ := roundTrip(t, &mp4.Box{Type: mp4.TypeSenc, Payload: senc})
		assert.EqualValues(t, 0, got.Flags)
		assert.Equal(t, senc, got.Payload)
	})
	t.Run("subsamples", func(t *testing.T) {
		senc := &mp4.Senc{HasSubsamples: true, Samples: []mp4.SencSample{
			{IV: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Subsamples: []mp4.SubsampleEntry{{BytesOfClearData: 5, BytesOfProtectedData: 100}}},
			{IV: []byte{8, 7, 6, 5, 4, 3, 2, 1}, Subsamples: []mp4.SubsampleEntry{{BytesOfClearData: 7, BytesOfProtectedData: 20}, {BytesOfClearData: 1, BytesOfProtectedData: 2}}},
		}}
		got, _ := roundTrip(t, &mp4.Box{Type: mp4.TypeSenc, Payload: senc})
		assert.EqualValues(t, mp4.SencUseSubsampleEncryption, got.Flags)
		assert.Equal(t, senc, got.Payload)
	})
	t.Run("override", func(t *testing.T) {
		senc := &mp4.Senc{
			Override: &mp4.SencOverride{AlgorithmID: 1, IVSize: 16, KID: testKID},
			Samples:  []mp4.SencSample{{IV: make([]byte, 16)}},
		}
		got, _ := roundTrip(t, &mp4.Box{Type: mp4.TypeSenc, Payload: senc})
		assert.EqualValues(t, mp4.SencOverrideTrackEncryption, got.Flags)
		assert.Equal(t, senc, got.Payload)
	})
}

func TestSchmAndSinf(t *testing.T) {
	sinf := &mp4.Box{Type: mp4.TypeSinf, Children: []*mp4.Box{
		{Type: mp4.TypeFrma, Payload: &mp4.Frma{DataFormat: mp4.TypeAvc1}},
		{Type: mp4.TypeSchm, Payload: &mp4.Schm{SchemeType: brand("cenc"), SchemeVersion: 0x10000}},
		{Type: mp4.TypeSchi, Children: []*mp4.Box{
			{Type: mp4.TypeTenc, Payload: &mp4.Tenc{DefaultIsProtected: 1, DefaultPerSampleIVSize: 8, DefaultKID: testKID}},
		}},
	}}
	got, _ := roundTrip(t, sinf)
	schm := got.Child(mp4.TypeSchm)
	assert.EqualValues(t, 0, schm.Flags)

	withURI := &mp4.Box{Type: mp4.TypeSchm, Payload: &mp4.Schm{SchemeType: brand("cbcs"), HasSchemeURI: true, SchemeURI: "urn:x"}}
	got, _ = roundTrip(t, withURI)
	assert.EqualValues(t, 1, got.Flags)
	assert.Equal(t, withURI.Payload, got.Payload)
}

func TestSidxRoundTrip(t *testing.T) {
	sidx := &mp4.Sidx{
		ReferenceID: 1,
		Timescale:   90000,
		FirstOffset: 1 << 33,
		References: []mp4.SidxReference{
			{ReferencedSize: 1000, SubsegmentDuration: 180000, StartsWithSAP: true, SAPType: 1},
			{ReferenceType: true, ReferencedSize: 50, SubsegmentDuration: 90000, SAPDeltaTime: 7},
		},
	}
	got, _ := roundTrip(t, &mp4.Box{Type: mp4.TypeSidx, Payload: sidx})
	assert.EqualValues(t, 1, got.Version)
	assert.Equal(t, sidx, got.Payload)
}

func TestMdat(t *testing.T) {
	got, buf := roundTrip(t, &mp4.Box{Type: mp4.TypeMdat, Payload: &mp4.Mdat{Data: []byte("media")}})
	assert.Len(t, buf, 13)
	assert.Equal(t, []byte("media"), got.Payload.(*mp4.Mdat).Data)
	assert.EqualValues(t, 5, got.Payload.(*mp4.Mdat).ContentLength)
}
