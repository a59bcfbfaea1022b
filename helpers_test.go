package mp4_test

import mp4 "github.com/tetsuo/mp4box"

// testMovie builds a moov with one AVC video track of five samples in three
// chunks, an edit list and an mvex.
func testMovie() *mp4.Box {
	avc1 := &mp4.Box{
		Type: mp4.TypeAvc1,
		Payload: &mp4.VisualSampleEntry{
			DataReferenceIndex: 1,
			Width:              640,
			Height:             360,
			CompressorName:     "mp4box",
		},
		Children: []*mp4.Box{
			{Type: mp4.TypeAvcC, Payload: &mp4.AvcC{
				ConfigurationVersion: 1,
				Profile:              0x64,
				Level:                0x1f,
				LengthSizeMinusOne:   3,
				SPS:                  [][]byte{{0x67, 0x64, 0x00, 0x1f}},
				PPS:                  [][]byte{{0x68, 0xee}},
			}},
			{Type: mp4.TypeBtrt, Payload: &mp4.Btrt{MaxBitrate: 1000, AvgBitrate: 800}},
		},
	}

	stbl := &mp4.Box{Type: mp4.TypeStbl, Children: []*mp4.Box{
		{Type: mp4.TypeStsd, Payload: &mp4.Stsd{}, Children: []*mp4.Box{avc1}},
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

	trak := &mp4.Box{Type: mp4.TypeTrak, Children: []*mp4.Box{
		{Type: mp4.TypeTkhd, Flags: mp4.TrackEnabled | mp4.TrackInMovie, Payload: &mp4.Tkhd{
			TrackID:  1,
			Duration: 70,
			Matrix:   [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
			Width:    640 << 16,
			Height:   360 << 16,
		}},
		{Type: mp4.TypeEdts, Children: []*mp4.Box{
			{Type: mp4.TypeElst, Payload: &mp4.Elst{Entries: []mp4.ElstEntry{
				{EditDuration: 70, MediaTime: 20, MediaRateInteger: 1},
			}}},
		}},
		{Type: mp4.TypeMdia, Children: []*mp4.Box{
			{Type: mp4.TypeMdhd, Payload: &mp4.Mdhd{Timescale: 100, Duration: 70, Language: "und"}},
			{Type: mp4.TypeHdlr, Payload: &mp4.Hdlr{HandlerType: brand("vide"), Name: "VideoHandler"}},
			{Type: mp4.TypeMinf, Children: []*mp4.Box{
				{Type: mp4.TypeVmhd, Payload: &mp4.Vmhd{}},
				{Type: mp4.TypeDinf, Children: []*mp4.Box{
					{Type: mp4.TypeDref, Payload: &mp4.Dref{}, Children: []*mp4.Box{
						{Type: mp4.TypeURL, Payload: &mp4.URL{}},
					}},
				}},
				stbl,
			}},
		}},
	}}

	return &mp4.Box{Type: mp4.TypeMoov, Children: []*mp4.Box{
		{Type: mp4.TypeMvhd, Payload: &mp4.Mvhd{
			Timescale:   1000,
			Duration:    700,
			Rate:        0x10000,
			Volume:      0x100,
			Matrix:      [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
			NextTrackID: 2,
		}},
		trak,
		{Type: mp4.TypeMvex, Children: []*mp4.Box{
			{Type: mp4.TypeTrex, Payload: &mp4.Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1}},
		}},
	}}
}
