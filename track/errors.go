package track

import (
	"errors"
	"fmt"

	mp4 "github.com/tetsuo/mp4box"
)

var (
	// ErrMalformedTrack is returned when a trak lacks a table the samples
	// cannot be derived without, or the tables disagree with each other.
	ErrMalformedTrack = errors.New("malformed track")

	ErrNoMovieBox    = errors.New("no moov box")
	ErrNoFragmentBox = errors.New("no moof box")
	ErrMissingTfhd   = errors.New("traf has no tfhd")
	ErrMissingTfdt   = errors.New("traf has no tfdt")
	ErrNoTrafFound   = errors.New("moof has no traf")
	ErrMissingTrun   = errors.New("traf has no trun")

	// ErrTrackIDNotFound is returned when no trak in the moov carries the
	// track ID named by the fragment's tfhd.
	ErrTrackIDNotFound = errors.New("track ID not found")
)

// Valid layouts that are not reconstructed. All of them match mp4.ErrUnsupported.
var (
	ErrUnsupportedBaseDataOffsetMode = fmt.Errorf("%w: tfhd without default-base-is-moof", mp4.ErrUnsupported)
	ErrMultipleTrafUnsupported       = fmt.Errorf("%w: more than one traf in a moof", mp4.ErrUnsupported)
	ErrUnsupportedEditList           = fmt.Errorf("%w: edit list", mp4.ErrUnsupported)
)
