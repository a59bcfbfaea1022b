package track

import (
	"fmt"

	mp4 "github.com/tetsuo/mp4box"
)

// defaults is the per-sample fallback resolved from trex and then tfhd.
type defaults struct {
	sampleDescriptionIndex uint32
	duration               uint32
	size                   uint32
	flags                  mp4.SampleFlags
	baseDataOffset         uint64
}

// FragmentSamples derives the samples of one movie fragment. moof must hold
// exactly one traf whose tfhd uses default-base-is-moof addressing.
//
// OffsetMoof is relative to the first byte of the moof. OffsetMdat is
// OffsetMoof minus the moof size, i.e. relative to the byte that follows
// the moof.
func FragmentSamples(moov, moof *mp4.Box, opts ...Option) ([]Sample, error) {
	o := newOptions(opts)
	if moof == nil {
		return nil, o.fail(ErrNoFragmentBox)
	}
	if moov == nil {
		return nil, o.fail(ErrNoMovieBox)
	}
	mvhd, err := payload[*mp4.Mvhd](moov, mp4.TypeMvhd)
	if err != nil {
		return nil, o.fail(fmt.Errorf("%w: %w", ErrMalformedTrack, err))
	}

	trafs := moof.ChildList(mp4.TypeTraf)
	switch {
	case len(trafs) == 0:
		return nil, o.fail(ErrNoTrafFound, "moof_offset", moof.Offset)
	case len(trafs) > 1:
		return nil, o.fail(ErrMultipleTrafUnsupported, "moof_offset", moof.Offset, "trafs", len(trafs))
	}
	traf := trafs[0]

	tfhd, err := payload[*mp4.Tfhd](traf, mp4.TypeTfhd)
	if err != nil {
		return nil, o.fail(fmt.Errorf("%w: %w", ErrMissingTfhd, err), "moof_offset", moof.Offset)
	}
	tfdt, err := payload[*mp4.Tfdt](traf, mp4.TypeTfdt)
	if err != nil {
		return nil, o.fail(fmt.Errorf("%w: %w", ErrMissingTfdt, err), "moof_offset", moof.Offset)
	}
	if tfhd.DurationIsEmpty {
		o.logger.Debug("track: fragment duration is empty", "track_id", tfhd.TrackID)
		return []Sample{}, nil
	}
	if !tfhd.DefaultBaseIsMoof {
		return nil, o.fail(ErrUnsupportedBaseDataOffsetMode, "track_id", tfhd.TrackID)
	}

	trak := findTrak(moov, tfhd.TrackID)
	if trak == nil {
		return nil, o.fail(fmt.Errorf("%w: %d", ErrTrackIDNotFound, tfhd.TrackID), "track_id", tfhd.TrackID)
	}
	var timescale uint32
	if mdhd, err := payload[*mp4.Mdhd](trak, mp4.TypeMdhd); err == nil {
		timescale = mdhd.Timescale
	}
	var shift int64
	if elst, err := payload[*mp4.Elst](trak, mp4.TypeElst); err == nil {
		if shift, err = editShift(elst, timescale, mvhd.Timescale); err != nil {
			return nil, o.fail(err, "track_id", tfhd.TrackID, "entries", len(elst.Entries))
		}
	}

	d := resolveDefaults(moov, tfhd)

	truns := traf.ChildList(mp4.TypeTrun)
	if len(truns) == 0 {
		return nil, o.fail(ErrMissingTrun, "track_id", tfhd.TrackID)
	}

	var samples []Sample
	decodeTime := int64(tfdt.BaseMediaDecodeTime)
	offsetMoof := int64(d.baseDataOffset)
	offsetMdat := int64(d.baseDataOffset) - int64(moof.Size)
	for i, b := range truns {
		trun, ok := b.Payload.(*mp4.Trun)
		if !ok {
			return nil, o.fail(fmt.Errorf("%w: trun %d has no payload", ErrMissingTrun, i), "track_id", tfhd.TrackID)
		}
		// A later trun without a data offset continues where the previous one ended.
		if trun.HasDataOffset {
			offsetMoof = int64(d.baseDataOffset) + int64(trun.DataOffset)
			offsetMdat = offsetMoof - int64(moof.Size)
		}
		for j, ts := range trun.Samples {
			s := Sample{
				TrackID:                tfhd.TrackID,
				Number:                 uint32(len(samples) + 1),
				Timescale:              timescale,
				DecodeTime:             decodeTime,
				CompositionTime:        decodeTime,
				Duration:               d.duration,
				Size:                   d.size,
				SampleDescriptionIndex: d.sampleDescriptionIndex,
				OffsetMoof:             offsetMoof,
				OffsetMdat:             offsetMdat,
			}
			flags := d.flags
			if trun.HasSampleDuration {
				s.Duration = ts.Duration
			}
			if trun.HasSampleSize {
				s.Size = ts.Size
			}
			if trun.HasSampleCompositionTimeOffset {
				s.CompositionTime = decodeTime + ts.CompositionTimeOffset
			}
			if trun.HasSampleFlags {
				flags = ts.Flags
			}
			if i == 0 && j == 0 && trun.HasFirstSampleFlags {
				flags = trun.FirstSampleFlags
			}
			s.PresentationTime = s.CompositionTime + shift
			s.IsSync = flags.IsSync()
			if !o.suppressFlags {
				s.Flags = &flags
			}
			samples = append(samples, s)

			decodeTime += int64(s.Duration)
			offsetMoof += int64(s.Size)
			offsetMdat += int64(s.Size)
		}
	}
	if samples == nil {
		samples = []Sample{}
	}
	return samples, nil
}

// resolveDefaults merges the trex defaults of the fragment's track with the
// tfhd overrides, each field independently.
func resolveDefaults(moov *mp4.Box, tfhd *mp4.Tfhd) defaults {
	var d defaults
	for trexBox := range mp4.Find(moov, mp4.TypeTrex) {
		trex, ok := trexBox.Payload.(*mp4.Trex)
		if !ok || trex.TrackID != tfhd.TrackID {
			continue
		}
		d.sampleDescriptionIndex = trex.DefaultSampleDescriptionIndex
		d.duration = trex.DefaultSampleDuration
		d.size = trex.DefaultSampleSize
		d.flags = trex.DefaultSampleFlags
	}
	if tfhd.HasSampleDescriptionIndex {
		d.sampleDescriptionIndex = tfhd.SampleDescriptionIndex
	}
	if tfhd.HasDefaultSampleDuration {
		d.duration = tfhd.DefaultSampleDuration
	}
	if tfhd.HasDefaultSampleSize {
		d.size = tfhd.DefaultSampleSize
	}
	if tfhd.HasDefaultSampleFlags {
		d.flags = tfhd.DefaultSampleFlags
	}
	if tfhd.HasBaseDataOffset {
		d.baseDataOffset = tfhd.BaseDataOffset
	}
	return d
}

func findTrak(moov *mp4.Box, trackID uint32) *mp4.Box {
	for _, trak := range moov.ChildList(mp4.TypeTrak) {
		if tkhd, err := payload[*mp4.Tkhd](trak, mp4.TypeTkhd); err == nil && tkhd.TrackID == trackID {
			return trak
		}
	}
	return nil
}
