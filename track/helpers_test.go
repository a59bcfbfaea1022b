package track_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	mp4 "github.com/tetsuo/mp4box"
	"github.com/tetsuo/mp4box/track"
)

var quiet = track.WithLogger(slog.New(slog.DiscardHandler))

func brand(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}

// reload encodes b and decodes it again, so sizes, offsets and derived
// header fields are those a parser would see.
func reload(t *testing.T, b *mp4.Box) *mp4.Box {
	t.Helper()
	buf, err := mp4.EncodeToBytes(b)
	require.NoError(t, err)
	out, err := mp4.Decode(buf, 0, len(buf))
	require.NoError(t, err)
	return out
}

// videoStbl holds five samples: durations 10,10,10,20,20, a constant
// composition offset of 20, sync samples 1 and 4, and chunks of 2, 2 and 1
// samples.
func videoStbl() *mp4.Box {
	return &mp4.Box{Type: mp4.TypeStbl, Children: []*mp4.Box{
		{Type: mp4.TypeStsd, Payload: &mp4.Stsd{}, Children: []*mp4.Box{
			{Type: mp4.TypeAvc1, Payload: &mp4.VisualSampleEntry{DataReferenceIndex: 1, Width: 640, Height: 360}, Children: []*mp4.Box{
				{Type: mp4.TypeAvcC, Payload: &mp4.AvcC{
					ConfigurationVersion: 1,
					Profile:              0x64,
					Level:                0x1f,
					LengthSizeMinusOne:   3,
					SPS:                  [][]byte{{0x67, 0x64, 0x00, 0x1f}},
					PPS:                  [][]byte{{0x68, 0xee}},
				}},
			}},
		}},
		{Type: mp4.TypeStts, Payload: &mp4.Stts{Entries: []mp4.STTSEntry{{Count: 3, Duration: 10}, {Count: 2, Duration: 20}}}},
		{Type: mp4.TypeCtts, Payload: &mp4.Ctts{Entries: []mp4.CTTSEntry{{Count: 5, CompositionOffset: 20}}}},
		{Type: mp4.TypeStss, Payload: &mp4.Stss{Entries: []uint32{1, 4}}},
		{Type: mp4.TypeStsc, Payload: &mp4.Stsc{Entries: []mp4.STSCEntry{
			{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionID: 1},
			{FirstChunk: 3, SamplesPerChunk: 1, SampleDescriptionID: 1},
		}}},
		{Type: mp4.TypeStsz, Payload: &mp4.Stsz{Entries: []uint32{5, 6, 7, 8, 9}}},
		{Type: mp4.TypeStco, Payload: &mp4.Stco{Entries: []uint32{0x100, 0x200, 0x300}}},
	}}
}

func trak(id uint32, handler string, timescale uint32, elst []mp4.ElstEntry, stbl *mp4.Box) *mp4.Box {
	b := &mp4.Box{Type: mp4.TypeTrak, Children: []*mp4.Box{
		{Type: mp4.TypeTkhd, Flags: mp4.TrackEnabled | mp4.TrackInMovie, Payload: &mp4.Tkhd{TrackID: id, Width: 640 << 16, Height: 360 << 16}},
	}}
	if elst != nil {
		b.Children = append(b.Children, &mp4.Box{Type: mp4.TypeEdts, Children: []*mp4.Box{
			{Type: mp4.TypeElst, Payload: &mp4.Elst{Entries: elst}},
		}})
	}
	b.Children = append(b.Children, &mp4.Box{Type: mp4.TypeMdia, Children: []*mp4.Box{
		{Type: mp4.TypeMdhd, Payload: &mp4.Mdhd{Timescale: timescale, Duration: 70, Language: "und"}},
		{Type: mp4.TypeHdlr, Payload: &mp4.Hdlr{HandlerType: brand(handler), Name: "Handler"}},
		{Type: mp4.TypeMinf, Children: []*mp4.Box{stbl}},
	}})
	return b
}

// movie returns a moov with one video track (ID 1, timescale 100) under a
// movie timescale of 1000, and trex defaults for that track.
func movie(elst []mp4.ElstEntry, trex *mp4.Trex) *mp4.Box {
	if trex == nil {
		trex = &mp4.Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1}
	}
	return &mp4.Box{Type: mp4.TypeMoov, Children: []*mp4.Box{
		{Type: mp4.TypeMvhd, Payload: &mp4.Mvhd{Timescale: 1000, Duration: 700, Rate: 0x10000, Volume: 0x100, NextTrackID: 2}},
		trak(1, "vide", 100, elst, videoStbl()),
		{Type: mp4.TypeMvex, Children: []*mp4.Box{
			{Type: mp4.TypeTrex, Payload: trex},
		}},
	}}
}
