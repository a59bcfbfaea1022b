package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	mp4 "github.com/tetsuo/mp4box"
	"github.com/tetsuo/mp4box/track"
)

// SampleGroup is the sample list of one progressive track or one fragment.
type SampleGroup struct {
	Source     string         `json:"source" yaml:"source"` // "trak" or "moof"
	Offset     int64          `json:"offset" yaml:"offset"`
	TrackID    uint32         `json:"trackId" yaml:"trackId"`
	Samples    []track.Sample `json:"samples" yaml:"samples"`
	Incomplete string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// collectSamples reconstructs samples for every trak of every moov and for
// every moof. A moof uses the nearest preceding moov, or initMoov when the file
// has none before it.
func collectSamples(boxes []*mp4.Box, initMoov *mp4.Box, suppressFlags bool, logger *slog.Logger) []SampleGroup {
	opts := []track.Option{track.WithLogger(logger)}
	if suppressFlags {
		opts = append(opts, track.WithoutFlags())
	}

	var groups []SampleGroup
	moov := initMoov
	for _, b := range boxes {
		switch b.Type {
		case mp4.TypeMoov:
			moov = b
			for _, trak := range b.ChildList(mp4.TypeTrak) {
				g := SampleGroup{Source: "trak", Offset: trak.Offset}
				if tkhd := trak.Child(mp4.TypeTkhd); tkhd != nil {
					if p, ok := tkhd.Payload.(*mp4.Tkhd); ok {
						g.TrackID = p.TrackID
					}
				}
				samples, err := track.ProgressiveSamples(trak, b, opts...)
				if err != nil {
					g.Incomplete = err.Error()
				}
				g.Samples = samples
				groups = append(groups, g)
			}
		case mp4.TypeMoof:
			g := SampleGroup{Source: "moof", Offset: b.Offset}
			samples, err := track.FragmentSamples(moov, b, opts...)
			if err != nil {
				g.Incomplete = err.Error()
			}
			if len(samples) > 0 {
				g.TrackID = samples[0].TrackID
			}
			g.Samples = samples
			groups = append(groups, g)
		}
	}
	return groups
}

func printSamples(w io.Writer, groups []SampleGroup, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(groups); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, g := range groups {
		fmt.Fprintf(w, "[%s] offset=%d trackId=%d samples=%d", g.Source, g.Offset, g.TrackID, len(g.Samples))
		if g.Incomplete != "" {
			fmt.Fprintf(w, " error=%q", g.Incomplete)
		}
		fmt.Fprintln(w)
		for _, s := range g.Samples {
			fmt.Fprintf(w, "  #%d dts=%d cts=%d pts=%d dur=%d size=%d",
				s.Number, s.DecodeTime, s.CompositionTime, s.PresentationTime, s.Duration, s.Size)
			if g.Source == "trak" {
				fmt.Fprintf(w, " chunk=%d offset=%d", s.Chunk, s.Offset)
			} else {
				fmt.Fprintf(w, " offsetMoof=%d offsetMdat=%d", s.OffsetMoof, s.OffsetMdat)
			}
			if s.IsSync {
				fmt.Fprint(w, " sync")
			}
			if s.Flags != nil {
				fmt.Fprintf(w, " flags=0x%08x", s.Flags.Uint32())
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
