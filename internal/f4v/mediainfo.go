package f4v

import (
	"github.com/cpopescu/streamgraph/internal/tag"
)

// ExtractMediaInfo gathers the audio/video parameters util.ExtractMediaInfo
// produces, walking moov's tracks for their stsd sample entry and mdhd
// duration, and storing moov's own encoded bytes so a later repair or
// re-mux can reuse them without a second decode pass.
func ExtractMediaInfo(moov *Atom) *tag.MediaInfo {
	if moov == nil {
		return nil
	}
	info := &tag.MediaInfo{MoovBlob: Encode(moov, false)}

	mvhd := moov.FindChild("mvhd")
	if mvhd != nil {
		timescale, duration := parseMdhd(mvhd.Body) // mvhd and mdhd share layout
		if timescale > 0 {
			info.DurationMs = scaleToMs(int64(duration), timescale)
		}
	}

	for _, trak := range moov.FindAllChildren("trak") {
		stbl := FindPath(trak, "mdia", "minf", "stbl")
		if stbl == nil {
			continue
		}
		stsd := stbl.FindChild("stsd")
		if stsd == nil {
			continue
		}
		entries, err := stsd.Children()
		if err != nil {
			continue
		}
		for _, e := range entries {
			switch {
			case isVideoSampleEntry(e.Type):
				info.CodecVideo = e.Type
				w, h := avc1Dimensions(e.Preamble())
				if w > 0 {
					info.Width = w
				}
				if h > 0 {
					info.Height = h
				}
			case isAudioSampleEntry(e.Type):
				info.CodecAudio = e.Type
				_, sampleRate := mp4aAudioParams(e.Preamble())
				if sampleRate > 0 {
					info.SampleRate = sampleRate
				}
			}
		}
	}
	return info
}
