package track

import (
	"fmt"
	"math/big"

	mp4 "github.com/tetsuo/mp4box"
)

// ProgressiveSamples derives the samples of a non-fragmented track from its
// sample table. moov supplies the movie timescale for edit list scaling and
// may be nil, in which case the track timescale is used and a warning is
// logged.
//
// Decode times accumulate from the first delta, so the first sample's decode
// time is the first stts delta rather than zero.
func ProgressiveSamples(trak, moov *mp4.Box, opts ...Option) ([]Sample, error) {
	o := newOptions(opts)
	if trak == nil {
		return nil, o.fail(fmt.Errorf("%w: no trak", ErrMalformedTrack))
	}

	mdhd, err := payload[*mp4.Mdhd](trak, mp4.TypeMdhd)
	if err != nil {
		return nil, o.fail(fmt.Errorf("%w: %w", ErrMalformedTrack, err))
	}
	trackID := trackIDOf(trak)

	movieTimescale := mdhd.Timescale
	if moov == nil {
		o.logger.Warn("track: no moov, using the track timescale as movie timescale",
			"track_id", trackID, "timescale", mdhd.Timescale)
	} else {
		mvhd, err := payload[*mp4.Mvhd](moov, mp4.TypeMvhd)
		if err != nil {
			return nil, o.fail(fmt.Errorf("%w: %w", ErrMalformedTrack, err), "track_id", trackID)
		}
		movieTimescale = mvhd.Timescale
	}

	stbl, err := mp4.First(trak, mp4.TypeStbl)
	if err != nil {
		return nil, o.fail(fmt.Errorf("%w: %w", ErrMalformedTrack, err), "track_id", trackID)
	}

	tables, err := loadSampleTables(stbl)
	if err != nil {
		return nil, o.fail(err, "track_id", trackID)
	}

	var shift int64
	if elst, err := payload[*mp4.Elst](trak, mp4.TypeElst); err == nil {
		if shift, err = editShift(elst, mdhd.Timescale, movieTimescale); err != nil {
			return nil, o.fail(err, "track_id", trackID, "entries", len(elst.Entries))
		}
	}

	samples, err := tables.expand(trackID, mdhd.Timescale, shift)
	if err != nil {
		return nil, o.fail(err, "track_id", trackID)
	}
	return samples, nil
}

// sampleTables holds the stbl children needed to expand a track.
type sampleTables struct {
	sizes   []uint32
	uniform uint32
	count   int
	stts    *mp4.Stts
	ctts    *mp4.Ctts
	stsc    *mp4.Stsc
	stss    *mp4.Stss
	chunks  []uint64
}

func loadSampleTables(stbl *mp4.Box) (*sampleTables, error) {
	t := &sampleTables{}

	if b := stbl.Child(mp4.TypeStsz); b != nil {
		stsz, ok := b.Payload.(*mp4.Stsz)
		if !ok {
			return nil, fmt.Errorf("%w: stsz has no payload", ErrMalformedTrack)
		}
		t.count = int(stsz.SampleCount)
		if stsz.SampleSize != 0 {
			t.uniform = stsz.SampleSize
		} else {
			if len(stsz.Entries) < t.count {
				return nil, fmt.Errorf("%w: stsz lists %d sizes for %d samples", ErrMalformedTrack, len(stsz.Entries), t.count)
			}
			t.sizes = stsz.Entries
		}
	} else if b := stbl.Child(mp4.TypeStz2); b != nil {
		stz2, ok := b.Payload.(*mp4.Stz2)
		if !ok {
			return nil, fmt.Errorf("%w: stz2 has no payload", ErrMalformedTrack)
		}
		t.count = len(stz2.Entries)
		t.sizes = stz2.Entries
	} else {
		return nil, fmt.Errorf("%w: stbl has neither stsz nor stz2", ErrMalformedTrack)
	}

	var err error
	if t.stts, err = payload[*mp4.Stts](stbl, mp4.TypeStts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrack, err)
	}
	if t.stsc, err = payload[*mp4.Stsc](stbl, mp4.TypeStsc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrack, err)
	}
	t.ctts, _ = payload[*mp4.Ctts](stbl, mp4.TypeCtts)
	t.stss, _ = payload[*mp4.Stss](stbl, mp4.TypeStss)

	if stco, err := payload[*mp4.Stco](stbl, mp4.TypeStco); err == nil {
		t.chunks = make([]uint64, len(stco.Entries))
		for i, v := range stco.Entries {
			t.chunks[i] = uint64(v)
		}
	} else if co64, err := payload[*mp4.Co64](stbl, mp4.TypeCo64); err == nil {
		t.chunks = co64.Entries
	} else {
		return nil, fmt.Errorf("%w: stbl has neither stco nor co64", ErrMalformedTrack)
	}
	return t, nil
}

func (t *sampleTables) size(i int) uint32 {
	if t.sizes == nil {
		return t.uniform
	}
	return t.sizes[i]
}

func (t *sampleTables) expand(trackID, timescale uint32, shift int64) ([]Sample, error) {
	if t.count == 0 {
		return []Sample{}, nil
	}
	// The sample count is untrusted; stts must cover it before allocating.
	covered := 0
	for _, e := range t.stts.Entries {
		covered += int(min(e.Count, uint32(t.count-covered)))
		if covered == t.count {
			break
		}
	}
	if covered < t.count {
		return nil, fmt.Errorf("%w: stts covers %d of %d samples", ErrMalformedTrack, covered, t.count)
	}
	samples := make([]Sample, t.count)

	// stts: cumulative decode time, run-length expanded.
	n := 0
	var decodeTime int64
	for _, e := range t.stts.Entries {
		for range e.Count {
			if n == t.count {
				break
			}
			decodeTime += int64(e.Duration)
			samples[n].DecodeTime = decodeTime
			samples[n].Duration = e.Duration
			n++
		}
	}

	for i := range samples {
		samples[i].CompositionTime = samples[i].DecodeTime
	}
	if t.ctts != nil {
		n = 0
		for _, e := range t.ctts.Entries {
			for range e.Count {
				if n == t.count {
					break
				}
				samples[n].CompositionTime = samples[n].DecodeTime + e.CompositionOffset
				n++
			}
		}
	}

	// stsc: walk chunks from the first entry's first_chunk, moving to the next
	// entry when the chunk number reaches its first_chunk.
	entries := t.stsc.Entries
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty stsc", ErrMalformedTrack)
	}
	chunk := entries[0].FirstChunk
	cur := 0
	for n = 0; n < t.count; {
		e := entries[cur]
		if e.SamplesPerChunk == 0 && cur == len(entries)-1 {
			return nil, fmt.Errorf("%w: stsc entry %d has no samples", ErrMalformedTrack, cur)
		}
		if chunk == 0 || int(chunk) > len(t.chunks) {
			return nil, fmt.Errorf("%w: chunk %d outside %d chunk offsets", ErrMalformedTrack, chunk, len(t.chunks))
		}
		for range e.SamplesPerChunk {
			if n == t.count {
				break
			}
			samples[n].Chunk = chunk
			samples[n].SampleDescriptionIndex = e.SampleDescriptionID
			n++
		}
		chunk++
		if cur < len(entries)-1 && entries[cur+1].FirstChunk == chunk {
			cur++
		}
	}

	// Offsets accumulate inside a chunk and restart when the chunk offset
	// changes.
	var inChunk int64
	for i := range samples {
		s := &samples[i]
		chunkOffset := int64(t.chunks[s.Chunk-1])
		s.TrackID = trackID
		s.Number = uint32(i + 1)
		s.Timescale = timescale
		s.Size = t.size(i)
		s.Offset = chunkOffset + inChunk
		s.PresentationTime = s.CompositionTime + shift
		s.IsSync = t.stss == nil
		inChunk += int64(s.Size)
		if i+1 < len(samples) && t.chunks[samples[i+1].Chunk-1] != t.chunks[s.Chunk-1] {
			inChunk = 0
		}
	}
	if t.stss != nil {
		for _, num := range t.stss.Entries {
			if num >= 1 && int(num) <= len(samples) {
				samples[num-1].IsSync = true
			}
		}
	}
	return samples, nil
}

// editShift reduces an edit list to one presentation shift in track
// timescale units. Only an empty list, a single shift, or an empty edit
// followed by a shift are supported. The edit offset is in movie timescale
// units and is scaled by trackTimescale/movieTimescale, truncating toward
// zero.
func editShift(elst *mp4.Elst, trackTimescale, movieTimescale uint32) (int64, error) {
	off := new(big.Int)
	switch len(elst.Entries) {
	case 0:
		return 0, nil
	case 1:
		if elst.Entries[0].MediaTime == -1 {
			return 0, fmt.Errorf("%w: single empty edit", ErrUnsupportedEditList)
		}
		off.SetInt64(elst.Entries[0].MediaTime).Neg(off)
	case 2:
		if elst.Entries[0].MediaTime != -1 {
			return 0, fmt.Errorf("%w: two edits without a leading empty edit", ErrUnsupportedEditList)
		}
		if elst.Entries[1].MediaTime == -1 {
			return 0, fmt.Errorf("%w: two empty edits", ErrUnsupportedEditList)
		}
		off.SetUint64(elst.Entries[0].EditDuration).Sub(off, big.NewInt(elst.Entries[1].MediaTime))
	default:
		return 0, fmt.Errorf("%w: %d entries", ErrUnsupportedEditList, len(elst.Entries))
	}

	if movieTimescale != 0 {
		off.Mul(off, new(big.Int).SetUint64(uint64(trackTimescale)))
		off.Quo(off, new(big.Int).SetUint64(uint64(movieTimescale)))
	}
	if !off.IsInt64() {
		return 0, fmt.Errorf("%w: edit shift %s overflows", ErrMalformedTrack, off)
	}
	return off.Int64(), nil
}

// payload returns the typed payload of the first box of type t under root.
func payload[T any](root *mp4.Box, t mp4.BoxType) (T, error) {
	var zero T
	b, err := mp4.First(root, t)
	if err != nil {
		return zero, err
	}
	p, ok := b.Payload.(T)
	if !ok {
		return zero, fmt.Errorf("%s at offset %d has no decoded payload", t, b.Offset)
	}
	return p, nil
}

func trackIDOf(trak *mp4.Box) uint32 {
	if tkhd, err := payload[*mp4.Tkhd](trak, mp4.TypeTkhd); err == nil {
		return tkhd.TrackID
	}
	return 0
}
