package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	mp4 "github.com/tetsuo/mp4box"
)

// BoxNode is a box in the tree structure.
type BoxNode struct {
	Type         string         `json:"type" yaml:"type"`
	ExtendedType string         `json:"extendedType,omitempty" yaml:"extendedType,omitempty"`
	Offset       int64          `json:"offset" yaml:"offset"`
	Size         uint64         `json:"size" yaml:"size"`
	Version      *uint8         `json:"version,omitempty" yaml:"version,omitempty"`
	Flags        *uint32        `json:"flags,omitempty" yaml:"flags,omitempty"`
	Info         map[string]any `json:"info,omitempty" yaml:"info,omitempty"`
	DataLength   *int           `json:"dataLength,omitempty" yaml:"dataLength,omitempty"`
	Children     []BoxNode      `json:"children,omitempty" yaml:"children,omitempty"`
}

func buildTree(boxes []*mp4.Box) []BoxNode {
	nodes := make([]BoxNode, 0, len(boxes))
	for _, b := range boxes {
		nodes = append(nodes, buildNode(b))
	}
	return nodes
}

func buildNode(b *mp4.Box) BoxNode {
	node := BoxNode{
		Type:   b.Type.String(),
		Offset: b.Offset,
		Size:   b.Size,
	}
	if b.Type == mp4.TypeUUID {
		node.ExtendedType = b.ExtendedType.String()
	}
	if mp4.IsFullBox(b.Type) {
		v, f := b.Version, b.Flags
		node.Version = &v
		node.Flags = &f
	}
	node.Info = collectBoxInfo(b)
	if len(node.Info) == 0 {
		node.Info = nil
	}
	switch {
	case b.Type == mp4.TypeMdat:
		n := mdatLength(b)
		node.DataLength = &n
	case b.Payload == nil && len(b.Children) == 0 && len(b.Raw) > 0:
		n := len(b.Raw)
		node.DataLength = &n
	}
	if len(b.Children) > 0 {
		node.Children = buildTree(b.Children)
	}
	return node
}

func mdatLength(b *mp4.Box) int {
	if m, ok := b.Payload.(*mp4.Mdat); ok {
		if m.Data != nil {
			return len(m.Data)
		}
		return int(m.ContentLength)
	}
	return len(b.Raw)
}

func brands(bs [][4]byte) []string {
	out := make([]string, len(bs))
	for i, c := range bs {
		out[i] = string(c[:])
	}
	return out
}

func collectBoxInfo(b *mp4.Box) map[string]any {
	info := make(map[string]any)

	switch p := b.Payload.(type) {
	case *mp4.Ftyp:
		info["brand"] = string(p.MajorBrand[:])
		info["version"] = p.MinorVersion
		if len(p.CompatibleBrands) > 0 {
			info["compatible"] = brands(p.CompatibleBrands)
		}

	case *mp4.Mvhd:
		info["timescale"] = p.Timescale
		info["duration"] = p.Duration
		info["nextTrackId"] = p.NextTrackID

	case *mp4.Tkhd:
		info["trackId"] = p.TrackID
		info["duration"] = p.Duration
		info["width"] = p.Width >> 16
		info["height"] = p.Height >> 16

	case *mp4.Mdhd:
		info["timescale"] = p.Timescale
		info["duration"] = p.Duration
		info["language"] = p.Language

	case *mp4.Hdlr:
		info["handlerType"] = string(p.HandlerType[:])
		info["name"] = p.Name

	case *mp4.Stsd, *mp4.Dref:
		info["entries"] = len(b.Children)

	case *mp4.VisualSampleEntry:
		info["width"] = p.Width
		info["height"] = p.Height
		info["compressor"] = p.CompressorName

	case *mp4.AudioSampleEntry:
		info["channelCount"] = p.ChannelCount
		info["sampleSize"] = p.SampleSize
		info["sampleRate"] = p.SampleRateHz()

	case *mp4.AvcC:
		info["codec"] = "avc1." + p.Codec()

	case *mp4.Esds:
		if p.MimeCodec != "" {
			info["codec"] = "mp4a." + p.MimeCodec
		}

	case *mp4.Stsz:
		info["entries"] = p.SampleCount
	case *mp4.Stz2:
		info["entries"] = len(p.Entries)
	case *mp4.Stco:
		info["entries"] = len(p.Entries)
	case *mp4.Stss:
		info["entries"] = len(p.Entries)
	case *mp4.Co64:
		info["entries"] = len(p.Entries)
	case *mp4.Stts:
		info["entries"] = len(p.Entries)
	case *mp4.Ctts:
		info["entries"] = len(p.Entries)
	case *mp4.Stsc:
		info["entries"] = len(p.Entries)
	case *mp4.Elst:
		info["entries"] = len(p.Entries)

	case *mp4.Mehd:
		info["fragmentDuration"] = p.FragmentDuration

	case *mp4.Trex:
		info["trackId"] = p.TrackID

	case *mp4.Mfhd:
		info["sequence"] = p.SequenceNumber

	case *mp4.Tfhd:
		info["trackId"] = p.TrackID

	case *mp4.Tfdt:
		info["baseMediaDecodeTime"] = p.BaseMediaDecodeTime

	case *mp4.Trun:
		info["entries"] = len(p.Samples)
		if p.HasDataOffset {
			info["dataOffset"] = p.DataOffset
		}

	case *mp4.Sidx:
		info["timescale"] = p.Timescale
		info["entries"] = len(p.References)

	case *mp4.Pssh:
		info["systemId"] = p.SystemID.String()
		if len(p.KeyIDs) > 0 {
			info["entries"] = len(p.KeyIDs)
		}

	case *mp4.Tenc:
		info["kid"] = p.DefaultKID.String()

	case *mp4.Senc:
		info["entries"] = len(p.Samples)

	case *mp4.Frma:
		info["codec"] = p.DataFormat.String()

	case *mp4.Schm:
		info["scheme"] = string(p.SchemeType[:])

	case *mp4.Payl:
		info["text"] = p.CueText
	case *mp4.Iden:
		info["text"] = p.CueID
	case *mp4.Sttg:
		info["text"] = p.Settings
	case *mp4.VttC:
		info["text"] = p.Config
	}

	return info
}

// infoKeys is the text print order of Info fields.
var infoKeys = []struct {
	key, label string
}{
	{"brand", "brand"},
	{"version", "ver"},
	{"compatible", "compat"},
	{"timescale", "timescale"},
	{"duration", "duration"},
	{"nextTrackId", "nextTrackId"},
	{"trackId", "trackId"},
	{"width", "width"},
	{"height", "height"},
	{"language", "lang"},
	{"handlerType", "type"},
	{"name", "name"},
	{"entries", "entries"},
	{"fragmentDuration", "fragmentDuration"},
	{"sequence", "seq"},
	{"baseMediaDecodeTime", "baseMediaDecodeTime"},
	{"dataOffset", "dataOffset"},
	{"channelCount", "ch"},
	{"sampleSize", "sampleSize"},
	{"sampleRate", "sampleRate"},
	{"compressor", "compressor"},
	{"codec", "codec"},
	{"systemId", "systemId"},
	{"kid", "kid"},
	{"scheme", "scheme"},
	{"text", "text"},
}

// printTree prints the tree in the specified format
func printTree(w io.Writer, nodes []BoxNode, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(nodes); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, node := range nodes {
		printNodeText(w, node, 0)
	}
	return nil
}

// printNodeText prints a single node in text format
func printNodeText(w io.Writer, node BoxNode, depth int) {
	indent := strings.Repeat("  ", depth)

	fmt.Fprintf(w, "%s[%s] size=%d", indent, node.Type, node.Size)
	if node.ExtendedType != "" {
		fmt.Fprintf(w, " uuid=%s", node.ExtendedType)
	}
	if node.Version != nil {
		fmt.Fprintf(w, " v=%d", *node.Version)
	}
	if node.Flags != nil {
		fmt.Fprintf(w, " flags=0x%06x", *node.Flags)
	}

	sampleEntry := node.Info["compressor"] != nil
	for _, k := range infoKeys {
		val, ok := node.Info[k.key]
		if !ok {
			continue
		}
		switch k.key {
		case "compatible":
			if compat, ok := val.([]string); ok {
				fmt.Fprintf(w, " compat=[%s]", strings.Join(compat, ","))
			}
		case "width", "height":
			// Visual sample entries print WxH at the end.
			if sampleEntry {
				continue
			}
			fmt.Fprintf(w, " %s=%v", k.label, val)
		case "name", "compressor", "text":
			fmt.Fprintf(w, " %s=%q", k.label, val)
		default:
			fmt.Fprintf(w, " %s=%v", k.label, val)
		}
	}
	if sampleEntry {
		fmt.Fprintf(w, " %vx%v", node.Info["width"], node.Info["height"])
	}

	if node.DataLength != nil {
		fmt.Fprintf(w, " dataLen=%d", *node.DataLength)
	}

	fmt.Fprintln(w)

	for _, child := range node.Children {
		printNodeText(w, child, depth+1)
	}
}
