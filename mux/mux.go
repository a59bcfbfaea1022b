// Package mux combines single-track fragmented MP4 inputs into one
// multi-track fragmented output.
package mux

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	mp4 "github.com/tetsuo/mp4box"
)

var (
	// ErrNoInitSegment is returned when an input stream has no moov before
	// its end, or a mapping names a stream whose header was never added.
	ErrNoInitSegment = errors.New("no init segment")
	// ErrTrackNotFound is returned when a mapping names a track that the
	// stream's moov does not contain.
	ErrTrackNotFound = errors.New("track not found")
)

// Mapping routes one input track to one output track.
type Mapping struct {
	Stream int
	Track  uint32
	Output uint32
}

type fragment struct {
	moof *mp4.Box
	mdat *mp4.Box
}

// Muxer writes an init segment built from the moov boxes of several inputs,
// then their moof/mdat pairs interleaved by fragment sequence number.
//
// Decoded boxes handed to the Muxer are modified in place when track IDs are
// remapped.
type Muxer struct {
	enc    *mp4.Encoder
	logger *slog.Logger

	ftyp      *mp4.Box
	moovs     map[int]*mp4.Box
	mappings  []Mapping
	fragments map[uint32]map[int][]fragment // sequence number -> stream -> pairs
}

// Option configures a Muxer.
type Option func(*Muxer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Muxer) { m.logger = l }
}

// New returns a muxer writing to w.
func New(w io.Writer, opts ...Option) *Muxer {
	m := &Muxer{
		enc:       mp4.NewEncoder(w),
		logger:    slog.Default(),
		moovs:     make(map[int]*mp4.Box),
		fragments: make(map[uint32]map[int][]fragment),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map routes track of input stream to output track ID. Without any Map call,
// track 1 of each stream becomes output track 1, 2, ... in stream order.
func (m *Muxer) Map(stream int, track, output uint32) {
	m.mappings = append(m.mappings, Mapping{Stream: stream, Track: track, Output: output})
}

// AddHeader reads boxes from r up to and including the moov. The first ftyp
// seen across all streams is kept for the output.
func (m *Muxer) AddHeader(r io.Reader, stream int) error {
	dec := mp4.NewDecoder(r)
	for {
		box, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: stream %d", ErrNoInitSegment, stream)
		}
		if err != nil {
			return fmt.Errorf("stream %d header: %w", stream, err)
		}
		switch box.Type {
		case mp4.TypeFtyp:
			if m.ftyp == nil {
				m.ftyp = box
			}
		case mp4.TypeMoov:
			m.moovs[stream] = box
			return nil
		default:
			m.logger.Debug("mux: discarding box before moov", "type", box.Type, "stream", stream)
		}
	}
}

// AddContent reads moof/mdat pairs from r until its end. sidx, styp and
// other boxes between fragments are dropped.
func (m *Muxer) AddContent(r io.Reader, stream int) error {
	dec := mp4.NewDecoder(r)
	for {
		box, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream %d content: %w", stream, err)
		}
		if box.Type != mp4.TypeMoof {
			continue
		}
		mdat, err := dec.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("stream %d content: %w", stream, err)
		}
		if mdat == nil || mdat.Type != mp4.TypeMdat {
			return fmt.Errorf("%w: moof at offset %d in stream %d is not followed by mdat", mp4.ErrMalformedBox, box.Offset, stream)
		}

		var seq uint32
		if b := box.Child(mp4.TypeMfhd); b != nil {
			if mfhd, ok := b.Payload.(*mp4.Mfhd); ok {
				seq = mfhd.SequenceNumber
			}
		}
		if m.fragments[seq] == nil {
			m.fragments[seq] = make(map[int][]fragment)
		}
		m.fragments[seq][stream] = append(m.fragments[seq][stream], fragment{moof: box, mdat: mdat})
	}
}

func (m *Muxer) resolvedMappings() []Mapping {
	if len(m.mappings) > 0 {
		return m.mappings
	}
	streams := make([]int, 0, len(m.moovs))
	for sid := range m.moovs {
		streams = append(streams, sid)
	}
	slices.Sort(streams)
	out := make([]Mapping, len(streams))
	for i, sid := range streams {
		out[i] = Mapping{Stream: sid, Track: 1, Output: uint32(i + 1)}
	}
	return out
}

// WriteHeader writes the ftyp and a moov holding the mvhd of the first
// mapped stream, an mvex with one trex per output track and the remapped
// trak boxes.
func (m *Muxer) WriteHeader() error {
	mappings := slices.SortedFunc(slices.Values(m.resolvedMappings()), func(a, b Mapping) int {
		return cmp.Compare(a.Output, b.Output)
	})
	if len(mappings) == 0 {
		return fmt.Errorf("%w: no input headers", ErrNoInitSegment)
	}

	var mvhd *mp4.Box
	var traks, trexes []*mp4.Box
	for _, mp := range mappings {
		moov, ok := m.moovs[mp.Stream]
		if !ok {
			return fmt.Errorf("%w: stream %d", ErrNoInitSegment, mp.Stream)
		}
		m.logger.Info("mux: building output track", "output", mp.Output, "stream", mp.Stream, "track", mp.Track)

		trak, err := findTrak(moov, mp.Track)
		if err != nil {
			return fmt.Errorf("stream %d: %w", mp.Stream, err)
		}
		trak.Child(mp4.TypeTkhd).Payload.(*mp4.Tkhd).TrackID = mp.Output
		traks = append(traks, trak)

		if mvhd == nil {
			if mvhd, err = mp4.First(moov, mp4.TypeMvhd); err != nil {
				return fmt.Errorf("stream %d: %w", mp.Stream, err)
			}
		}
		trexes = append(trexes, trexFor(moov, mp))
	}
	if p, ok := mvhd.Payload.(*mp4.Mvhd); ok {
		p.NextTrackID = uint32(len(mappings) + 1)
	}

	mvex := &mp4.Box{
		Type: mp4.TypeMvex,
		Children: append([]*mp4.Box{
			{Type: mp4.TypeMehd, Payload: &mp4.Mehd{}},
		}, trexes...),
	}
	moov := &mp4.Box{
		Type:     mp4.TypeMoov,
		Children: append([]*mp4.Box{mvhd, mvex}, traks...),
	}

	if m.ftyp != nil {
		if err := m.enc.Encode(m.ftyp); err != nil {
			return err
		}
	}
	return m.enc.Encode(moov)
}

// WriteContent writes the collected fragments ordered by sequence number,
// then by output track, rewriting each traf's tfhd track ID.
func (m *Muxer) WriteContent() error {
	mappings := slices.SortedFunc(slices.Values(m.resolvedMappings()), func(a, b Mapping) int {
		return cmp.Compare(a.Output, b.Output)
	})
	seqs := make([]uint32, 0, len(m.fragments))
	for seq := range m.fragments {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	for _, seq := range seqs {
		byStream := m.fragments[seq]
		for _, mp := range mappings {
			pairs := byStream[mp.Stream]
			if len(pairs) == 0 {
				m.logger.Warn("mux: no fragment for sequence number", "sequence_number", seq, "stream", mp.Stream)
				continue
			}
			for _, f := range pairs {
				i, ok := mp4.IndexOf(f.moof, mp4.TypeTraf)
				if !ok {
					continue
				}
				tfhdBox := f.moof.Children[i].Child(mp4.TypeTfhd)
				if tfhdBox == nil {
					continue
				}
				tfhd, ok := tfhdBox.Payload.(*mp4.Tfhd)
				if !ok || tfhd.TrackID != mp.Track {
					continue
				}
				tfhd.TrackID = mp.Output
				m.logger.Debug("mux: writing fragment", "sequence_number", seq, "stream", mp.Stream, "track", mp.Track)
				if err := m.enc.Encode(f.moof); err != nil {
					return err
				}
				if err := m.enc.Encode(f.mdat); err != nil {
					return err
				}
			}
		}
	}
	clear(m.fragments)
	return nil
}

func findTrak(moov *mp4.Box, trackID uint32) (*mp4.Box, error) {
	var found []*mp4.Box
	for trak := range mp4.Find(moov, mp4.TypeTrak) {
		tkhd := trak.Child(mp4.TypeTkhd)
		if tkhd == nil {
			continue
		}
		if p, ok := tkhd.Payload.(*mp4.Tkhd); ok && p.TrackID == trackID {
			found = append(found, trak)
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: %d trak boxes with track ID %d", ErrTrackNotFound, len(found), trackID)
	}
	return found[0], nil
}

// trexFor returns the stream's trex for the mapped track with its ID
// rewritten, or a fresh trex when the moov has none.
func trexFor(moov *mp4.Box, mp Mapping) *mp4.Box {
	for trex := range mp4.Find(moov, mp4.TypeTrex) {
		if p, ok := trex.Payload.(*mp4.Trex); ok && p.TrackID == mp.Track {
			p.TrackID = mp.Output
			return trex
		}
	}
	return &mp4.Box{
		Type:    mp4.TypeTrex,
		Payload: &mp4.Trex{TrackID: mp.Output, DefaultSampleDescriptionIndex: 1},
	}
}
