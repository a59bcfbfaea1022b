// Command mp4dump reads an MP4 file and prints its box structure, a file
// summary or the reconstructed sample tables.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	mp4 "github.com/tetsuo/mp4box"
	"github.com/tetsuo/mp4box/summary"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.mp4>\n", os.Args[0])
		fs.PrintDefaults()
	}
	cfg, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, fs.Arg(0), os.Stdout, logger); err != nil {
		logger.Error("mp4dump failed", "file", fs.Arg(0), "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, path string, w io.Writer, logger *slog.Logger) error {
	boxes, size, err := decodeFile(path, cfg, logger)
	if err != nil {
		return err
	}
	logger.Debug("decoded file", "file", path, "boxes", len(boxes), "size", size)

	switch {
	case cfg.Summary:
		s, err := summary.Summarize(path, size, boxes)
		if err != nil {
			return err
		}
		return printSummary(w, s, cfg.Format)

	case cfg.Samples:
		var initMoov *mp4.Box
		if cfg.Init != "" {
			initBoxes, _, err := decodeFile(cfg.Init, cfg, logger)
			if err != nil {
				return fmt.Errorf("init segment: %w", err)
			}
			for _, b := range initBoxes {
				if b.Type == mp4.TypeMoov {
					initMoov = b
					break
				}
			}
			if initMoov == nil {
				return fmt.Errorf("init segment %s: %w: moov", cfg.Init, mp4.ErrNotFound)
			}
		}
		return printSamples(w, collectSamples(boxes, initMoov, cfg.SuppressFlags, logger), cfg.Format)
	}
	return printTree(w, buildTree(boxes), cfg.Format)
}

// decodeFile decodes every top-level box of a file. A truncated trailing box
// ends the listing with a warning instead of discarding what was read.
func decodeFile(path string, cfg Config, logger *slog.Logger) ([]*mp4.Box, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	dec := mp4.NewDecoder(f)
	dec.Strict = cfg.Strict
	dec.SkipMdat = cfg.SkipMdat

	var boxes []*mp4.Box
	for {
		box, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return boxes, st.Size(), nil
		}
		if errors.Is(err, mp4.ErrTruncatedInput) && len(boxes) > 0 {
			logger.Warn("mp4dump: trailing box truncated", "file", path, "offset", dec.Offset(), "err", err)
			return boxes, st.Size(), nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%s at offset %d: %w", path, dec.Offset(), err)
		}
		boxes = append(boxes, box)
	}
}

func printSummary(w io.Writer, s *summary.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	}
	fmt.Fprintf(w, "%s size=%d brand=%s moov=%t fragments=%t", s.Filename, s.FileSize, s.Brand, s.ContainsMoov, s.ContainsFragments)
	if s.DurationSecs > 0 {
		fmt.Fprintf(w, " duration=%gs bitrate=%d", s.DurationSecs, s.Bitrate)
	}
	fmt.Fprintln(w)
	for _, t := range s.Tracks {
		fmt.Fprintf(w, "  [track %d] %s codec=%s", t.TrackID, t.MediaType, t.CodecType)
		if t.DurationSecs > 0 {
			fmt.Fprintf(w, " duration=%gs bitrate=%d", t.DurationSecs, t.Bitrate)
		}
		switch t.MediaType {
		case "video":
			fmt.Fprintf(w, " %dx%d fps=%g", t.Width, t.Height, t.FrameRate)
		case "audio":
			fmt.Fprintf(w, " ch=%d sampleRate=%d", t.ChannelCount, t.SampleRate)
		}
		fmt.Fprintln(w)
	}
	return nil
}
