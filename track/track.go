// Package track reconstructs per-sample timing and byte positions from
// decoded MP4 box trees, for both progressive and fragmented files.
package track

import (
	mp4 "github.com/tetsuo/mp4box"
)

// TrackKind distinguishes video, audio and text tracks.
type TrackKind int

const (
	TrackOther TrackKind = iota
	TrackVideo
	TrackAudio
	TrackText
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackText:
		return "text"
	}
	return "other"
}

// Sample represents a single media sample. Times are in the track timescale.
//
// Progressive samples carry Chunk and Offset (absolute file position).
// Fragment samples carry OffsetMoof and OffsetMdat, and Flags unless
// WithoutFlags was given.
type Sample struct {
	TrackID                uint32
	Number                 uint32 // 1-based
	Timescale              uint32
	DecodeTime             int64
	CompositionTime        int64
	PresentationTime       int64
	Duration               uint32
	Size                   uint32
	SampleDescriptionIndex uint32
	IsSync                 bool

	Chunk  uint32
	Offset int64

	OffsetMoof int64
	OffsetMdat int64
	Flags      *mp4.SampleFlags
}

// PTS returns the presentation timestamp.
func (s Sample) PTS() int64 { return s.PresentationTime }

// Track holds metadata for one track parsed from a moov box.
type Track struct {
	ID          uint32
	Kind        TrackKind
	HandlerType string
	TimeScale   uint32
	Duration    uint64
	Language    string

	Width        uint16
	Height       uint16
	ChannelCount uint16
	SampleRate   uint32

	Samples       []Sample
	SampleDescIdx uint32

	// Trak is the decoded trak box the track was read from.
	Trak *mp4.Box

	codec string
}

// Codec returns the MIME codec string (e.g. "avc1.64001e", "mp4a.40.2").
func (t *Track) Codec() string { return t.codec }

// SampleEntry returns the first sample entry of the track's stsd, or nil.
func (t *Track) SampleEntry() *mp4.Box {
	stsd, err := mp4.First(t.Trak, mp4.TypeStsd)
	if err != nil || len(stsd.Children) == 0 {
		return nil
	}
	return stsd.Children[0]
}

// FindTrack returns the track with the given ID, or nil.
func FindTrack(tracks []*Track, id uint32) *Track {
	for _, t := range tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Tracks reads every trak of a decoded moov box together with its
// progressive samples. Tracks whose sample tables cannot be expanded are
// left out; the failure is logged by ProgressiveSamples.
func Tracks(moov *mp4.Box, opts ...Option) ([]*Track, error) {
	if moov == nil || moov.Type != mp4.TypeMoov {
		return nil, newOptions(opts).fail(ErrNoMovieBox)
	}

	var tracks []*Track
	for _, trak := range moov.ChildList(mp4.TypeTrak) {
		t := parseTrak(trak)
		if t == nil {
			continue
		}
		samples, err := ProgressiveSamples(trak, moov, opts...)
		if err != nil {
			continue
		}
		t.Samples = samples
		if len(samples) > 0 {
			t.SampleDescIdx = samples[len(samples)-1].SampleDescriptionIndex
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func parseTrak(trak *mp4.Box) *Track {
	tkhd, err := payload[*mp4.Tkhd](trak, mp4.TypeTkhd)
	if err != nil || tkhd.TrackID == 0 {
		return nil
	}
	t := &Track{
		ID:     tkhd.TrackID,
		Trak:   trak,
		Width:  uint16(tkhd.Width >> 16),
		Height: uint16(tkhd.Height >> 16),
	}
	if mdhd, err := payload[*mp4.Mdhd](trak, mp4.TypeMdhd); err == nil {
		t.TimeScale = mdhd.Timescale
		t.Duration = mdhd.Duration
		t.Language = mdhd.Language
	}
	if hdlr, err := payload[*mp4.Hdlr](trak, mp4.TypeHdlr); err == nil {
		t.HandlerType = string(hdlr.HandlerType[:])
	}
	switch t.HandlerType {
	case "vide":
		t.Kind = TrackVideo
	case "soun":
		t.Kind = TrackAudio
	case "text", "subt", "sbtl":
		t.Kind = TrackText
	}

	if entry := t.SampleEntry(); entry != nil {
		t.codec = codecString(entry)
		switch e := entry.Payload.(type) {
		case *mp4.VisualSampleEntry:
			t.Width = e.Width
			t.Height = e.Height
		case *mp4.AudioSampleEntry:
			t.ChannelCount = e.ChannelCount
			t.SampleRate = e.SampleRateHz()
		}
	}
	return t
}

// codecString builds the RFC 6381 codec parameter for a sample entry.
// Protected entries report their original format from frma.
func codecString(entry *mp4.Box) string {
	format := entry.Type
	if frma, err := payload[*mp4.Frma](entry, mp4.TypeFrma); err == nil {
		format = frma.DataFormat
	}
	s := format.String()
	switch format {
	case mp4.TypeAvc1, mp4.TypeAvc3:
		if avcC, err := payload[*mp4.AvcC](entry, mp4.TypeAvcC); err == nil {
			s += "." + avcC.Codec()
		}
	case mp4.TypeMp4a:
		if esds, err := payload[*mp4.Esds](entry, mp4.TypeEsds); err == nil && esds.MimeCodec != "" {
			s += "." + esds.MimeCodec
		}
	}
	return s
}

// TrackSampleStats holds aggregated stats for samples belonging to one track.
type TrackSampleStats struct {
	TrackID     uint32
	TimeScale   uint32
	Duration    uint64
	EarliestPTS int64
	SampleCount int
}

// CollectTrackSampleStats aggregates sample count, duration, and earliest PTS
// per track. The returned slice contains only tracks that have at least one sample.
func CollectTrackSampleStats(dst []TrackSampleStats, tracks []*Track, samples []Sample) []TrackSampleStats {
	if cap(dst) < len(tracks) {
		dst = make([]TrackSampleStats, len(tracks))
	} else {
		dst = dst[:len(tracks)]
	}

	for i, t := range tracks {
		dst[i] = TrackSampleStats{
			TrackID:   t.ID,
			TimeScale: t.TimeScale,
		}
	}

	for i := range samples {
		s := &samples[i]
		for j := range dst {
			if dst[j].TrackID != s.TrackID {
				continue
			}
			st := &dst[j]
			st.SampleCount++
			st.Duration += uint64(s.Duration)
			if pts := s.PTS(); st.SampleCount == 1 || pts < st.EarliestPTS {
				st.EarliestPTS = pts
			}
			break
		}
	}

	out := dst[:0]
	for i := range dst {
		if dst[i].SampleCount > 0 {
			out = append(out, dst[i])
		}
	}
	return out
}
