package mp4_test

import (
	"io"
	"os"
	"testing"

	mp4 "github.com/tetsuo/mp4box"
	"github.com/tetsuo/mp4box/track"
)

const benchFile = "video-media-samples/big-buck-bunny-480p-30sec.mp4"

func loadTestFile(b *testing.B) []byte {
	b.Helper()
	data, err := os.ReadFile(benchFile)
	if err != nil {
		b.Skipf("test file not available: %v", err)
	}
	return data
}

func BenchmarkDecodeAll(b *testing.B) {
	data := loadTestFile(b)

	b.SetBytes(int64(len(data)))

	for b.Loop() {
		if _, err := mp4.DecodeAll(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecoderSkipMdat(b *testing.B) {
	info, err := os.Stat(benchFile)
	if err != nil {
		b.Skipf("test file not available: %v", err)
	}
	b.SetBytes(info.Size())
	f, err := os.Open(benchFile)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Close()

	for b.Loop() {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			b.Fatal(err)
		}
		dec := mp4.NewDecoder(f)
		dec.SkipMdat = true
		if _, err := dec.DecodeAll(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeMovie(b *testing.B) {
	moov := testMovie()
	buf := make([]byte, mp4.EncodingLength(moov))

	for b.Loop() {
		if _, err := mp4.EncodeToBuf(moov, buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProgressiveSamples(b *testing.B) {
	data := loadTestFile(b)
	boxes, err := mp4.DecodeAll(data)
	if err != nil {
		b.Fatal(err)
	}
	var moov *mp4.Box
	for _, box := range boxes {
		if box.Type == mp4.TypeMoov {
			moov = box
		}
	}
	if moov == nil {
		b.Skip("no moov found")
	}
	traks := moov.ChildList(mp4.TypeTrak)

	for b.Loop() {
		for _, trak := range traks {
			if _, err := track.ProgressiveSamples(trak, moov); err != nil {
				b.Fatal(err)
			}
		}
	}
}
