// Package summary reports the headline properties of a decoded MP4 file.
package summary

import (
	"fmt"
	"math"

	"github.com/deepch/vdk/codec/aacparser"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/deepch/vdk/codec/h265parser"

	mp4 "github.com/tetsuo/mp4box"
)

// Summary describes a file.
type Summary struct {
	Filename          string  `json:"filename" yaml:"filename"`
	FileSize          int64   `json:"filesize" yaml:"filesize"`
	Brand             string  `json:"brand" yaml:"brand"`
	CreationTime      uint64  `json:"creation_time,omitempty" yaml:"creation_time,omitempty"`
	ModificationTime  uint64  `json:"modification_time,omitempty" yaml:"modification_time,omitempty"`
	DurationSecs      float64 `json:"duration_secs,omitempty" yaml:"duration_secs,omitempty"`
	Bitrate           int64   `json:"bitrate_bps,omitempty" yaml:"bitrate_bps,omitempty"`
	ContainsMoov      bool    `json:"contains_moov" yaml:"contains_moov"`
	ContainsFragments bool    `json:"contains_fragments" yaml:"contains_fragments"`
	Tracks            []Track `json:"tracks,omitempty" yaml:"tracks,omitempty"`
}

// Track describes one trak.
type Track struct {
	TrackID       uint32  `json:"track_id" yaml:"track_id"`
	MediaType     string  `json:"media_type" yaml:"media_type"`
	CodecType     string  `json:"codec_type" yaml:"codec_type"`
	DurationSecs  float64 `json:"duration_secs,omitempty" yaml:"duration_secs,omitempty"`
	Bitrate       int64   `json:"bitrate_bps,omitempty" yaml:"bitrate_bps,omitempty"`
	Width         int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height        int     `json:"height,omitempty" yaml:"height,omitempty"`
	FrameRate     float64 `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	ChannelCount  int     `json:"channel_count,omitempty" yaml:"channel_count,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	CompressionID int16   `json:"compression_id,omitempty" yaml:"compression_id,omitempty"`
}

// Summarize builds a summary from the top-level boxes of a file.
func Summarize(name string, fileSize int64, boxes []*mp4.Box) (*Summary, error) {
	s := &Summary{Filename: name, FileSize: fileSize}

	var moov *mp4.Box
	brandFound := false
	for _, b := range boxes {
		switch b.Type {
		case mp4.TypeFtyp, mp4.TypeStyp:
			if f, ok := b.Payload.(*mp4.Ftyp); ok && !brandFound {
				s.Brand = string(f.MajorBrand[:])
				brandFound = true
			}
		case mp4.TypeMoov:
			if moov == nil {
				moov = b
			}
		case mp4.TypeMoof:
			s.ContainsFragments = true
		}
	}
	if !brandFound {
		return nil, fmt.Errorf("%w: no ftyp or styp in %s", mp4.ErrNotFound, name)
	}
	if moov == nil {
		return s, nil
	}
	s.ContainsMoov = true

	mvhdBox, err := mp4.First(moov, mp4.TypeMvhd)
	if err != nil {
		return nil, err
	}
	mvhd, ok := mvhdBox.Payload.(*mp4.Mvhd)
	if !ok {
		return nil, fmt.Errorf("%w: mvhd has no payload", mp4.ErrMalformedBox)
	}
	s.CreationTime = mvhd.CreationTime
	s.ModificationTime = mvhd.ModificationTime
	if mvhd.Timescale > 0 {
		s.DurationSecs = math.RoundToEven(float64(mvhd.Duration) / float64(mvhd.Timescale))
		if s.DurationSecs > 0 {
			s.Bitrate = int64(math.RoundToEven(8 * float64(fileSize) / s.DurationSecs))
		}
	}

	for _, trak := range moov.ChildList(mp4.TypeTrak) {
		t, err := summarizeTrak(trak)
		if err != nil {
			return nil, err
		}
		s.Tracks = append(s.Tracks, t)
	}
	return s, nil
}

func summarizeTrak(trak *mp4.Box) (Track, error) {
	var t Track
	tkhd, err := first[*mp4.Tkhd](trak, mp4.TypeTkhd)
	if err != nil {
		return t, err
	}
	mdhd, err := first[*mp4.Mdhd](trak, mp4.TypeMdhd)
	if err != nil {
		return t, err
	}
	hdlr, err := first[*mp4.Hdlr](trak, mp4.TypeHdlr)
	if err != nil {
		return t, err
	}
	t.TrackID = tkhd.TrackID

	sampleCount, trakSize := sampleTotals(trak)
	if mdhd.Timescale > 0 && mdhd.Duration > 0 && mdhd.Duration < math.MaxUint32 {
		t.DurationSecs = math.RoundToEven(float64(mdhd.Duration) / float64(mdhd.Timescale))
		if trakSize > 0 && t.DurationSecs > 0 {
			t.Bitrate = int64(math.RoundToEven(8 * float64(trakSize) / t.DurationSecs))
		}
	}

	stsd, err := mp4.First(trak, mp4.TypeStsd)
	if err != nil {
		return t, err
	}
	if len(stsd.Children) == 0 {
		return t, fmt.Errorf("%w: stsd of track %d has no entries", mp4.ErrMalformedBox, t.TrackID)
	}
	entry := stsd.Children[0]
	t.CodecType = entry.Type.String()

	switch handler := string(hdlr.HandlerType[:]); handler {
	case "vide":
		t.MediaType = "video"
		if v, ok := entry.Payload.(*mp4.VisualSampleEntry); ok {
			t.Width, t.Height = int(v.Width), int(v.Height)
		}
		if w, h, ok := pictureSize(entry); ok {
			t.Width, t.Height = w, h
		}
		if sampleCount > 0 && mdhd.Duration > 0 && mdhd.Duration < math.MaxUint32 {
			rate := float64(sampleCount) * float64(mdhd.Timescale) / float64(mdhd.Duration)
			t.FrameRate = math.RoundToEven(rate*100) / 100
		}
	case "soun":
		t.MediaType = "audio"
		if a, ok := entry.Payload.(*mp4.AudioSampleEntry); ok {
			t.ChannelCount = int(a.ChannelCount)
			t.SampleRate = int(a.SampleRateHz())
			t.CompressionID = a.CompressionID
		}
		if rate, channels, ok := audioConfig(entry); ok {
			t.SampleRate, t.ChannelCount = rate, channels
		}
	default:
		t.MediaType = handler
	}
	return t, nil
}

// sampleTotals returns the sample count and total sample bytes of a trak.
func sampleTotals(trak *mp4.Box) (count int, size uint64) {
	if stsz, err := first[*mp4.Stsz](trak, mp4.TypeStsz); err == nil {
		if stsz.SampleSize > 0 {
			return int(stsz.SampleCount), uint64(stsz.SampleSize) * uint64(stsz.SampleCount)
		}
		for _, e := range stsz.Entries {
			size += uint64(e)
		}
		return len(stsz.Entries), size
	}
	if stz2, err := first[*mp4.Stz2](trak, mp4.TypeStz2); err == nil {
		for _, e := range stz2.Entries {
			size += uint64(e)
		}
		return len(stz2.Entries), size
	}
	return 0, 0
}

// pictureSize decodes the codec configuration record of an AVC or HEVC
// sample entry. The SPS holds the coded size after cropping, which can
// differ from the sample entry's width and height.
func pictureSize(entry *mp4.Box) (w, h int, ok bool) {
	if avcC, err := first[*mp4.AvcC](entry, mp4.TypeAvcC); err == nil && len(avcC.Record) > 0 {
		cd, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(avcC.Record)
		if err == nil {
			return cd.Width(), cd.Height(), true
		}
	}
	if hvcC, err := first[*mp4.HvcC](entry, mp4.TypeHvcC); err == nil && len(hvcC.Record) > 0 {
		cd, err := h265parser.NewCodecDataFromAVCDecoderConfRecord(hvcC.Record)
		if err == nil {
			return cd.Width(), cd.Height(), true
		}
	}
	return 0, 0, false
}

// audioConfig reads the AudioSpecificConfig carried in esds. Its sample rate
// and channel layout are authoritative over the sample entry fields.
func audioConfig(entry *mp4.Box) (sampleRate, channels int, ok bool) {
	esds, err := first[*mp4.Esds](entry, mp4.TypeEsds)
	if err != nil || len(esds.DecoderSpecificInfo) == 0 {
		return 0, 0, false
	}
	cd, err := aacparser.NewCodecDataFromMPEG4AudioConfigBytes(esds.DecoderSpecificInfo)
	if err != nil {
		return 0, 0, false
	}
	return cd.SampleRate(), cd.ChannelLayout().Count(), true
}

func first[T any](root *mp4.Box, t mp4.BoxType) (T, error) {
	var zero T
	b, err := mp4.First(root, t)
	if err != nil {
		return zero, err
	}
	p, ok := b.Payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has no payload", mp4.ErrMalformedBox, t)
	}
	return p, nil
}
