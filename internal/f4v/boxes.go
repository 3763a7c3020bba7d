package f4v

import (
	"encoding/binary"
)

// versionFlags splits a versioned atom's first 4 body bytes into version
// and the 24-bit flags field, returning the rest of the body.
func versionFlags(body []byte) (version byte, flags uint32, rest []byte) {
	if len(body) < 4 {
		return 0, 0, nil
	}
	version = body[0]
	flags = uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	return version, flags, body[4:]
}

// sttsEntry is one (sample_count, sample_delta) run from stts.
type sttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

func parseStts(body []byte) []sttsEntry {
	_, _, rest := versionFlags(body)
	if len(rest) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	out := make([]sttsEntry, 0, count)
	for i := uint32(0); i < count && len(rest) >= 8; i++ {
		out = append(out, sttsEntry{
			SampleCount: binary.BigEndian.Uint32(rest[0:4]),
			SampleDelta: binary.BigEndian.Uint32(rest[4:8]),
		})
		rest = rest[8:]
	}
	return out
}

// cttsEntry is one (sample_count, sample_offset) run from ctts.
type cttsEntry struct {
	SampleCount  uint32
	SampleOffset int32
}

func parseCtts(body []byte) []cttsEntry {
	_, _, rest := versionFlags(body)
	if len(rest) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	out := make([]cttsEntry, 0, count)
	for i := uint32(0); i < count && len(rest) >= 8; i++ {
		out = append(out, cttsEntry{
			SampleCount:  binary.BigEndian.Uint32(rest[0:4]),
			SampleOffset: int32(binary.BigEndian.Uint32(rest[4:8])),
		})
		rest = rest[8:]
	}
	return out
}

// parseStsz returns the uniform sample size (nonzero means every sample
// has this size and sizes is empty) or the per-sample size list.
func parseStsz(body []byte) (uniform uint32, sizes []uint32) {
	_, _, rest := versionFlags(body)
	if len(rest) < 8 {
		return 0, nil
	}
	uniform = binary.BigEndian.Uint32(rest[0:4])
	count := binary.BigEndian.Uint32(rest[4:8])
	rest = rest[8:]
	if uniform != 0 {
		return uniform, nil
	}
	sizes = make([]uint32, 0, count)
	for i := uint32(0); i < count && len(rest) >= 4; i++ {
		sizes = append(sizes, binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	return 0, sizes
}

// stscEntry is one (first_chunk, samples_per_chunk, sample_description_id)
// run from stsc.
type stscEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
}

func parseStsc(body []byte) []stscEntry {
	_, _, rest := versionFlags(body)
	if len(rest) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	out := make([]stscEntry, 0, count)
	for i := uint32(0); i < count && len(rest) >= 12; i++ {
		out = append(out, stscEntry{
			FirstChunk:      binary.BigEndian.Uint32(rest[0:4]),
			SamplesPerChunk: binary.BigEndian.Uint32(rest[4:8]),
		})
		rest = rest[12:]
	}
	return out
}

// parseChunkOffsets reads stco (32-bit) or co64 (64-bit) chunk offsets.
func parseChunkOffsets(body []byte, wide bool) []uint64 {
	_, _, rest := versionFlags(body)
	if len(rest) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	out := make([]uint64, 0, count)
	width := 4
	if wide {
		width = 8
	}
	for i := uint32(0); i < count && len(rest) >= width; i++ {
		if wide {
			out = append(out, binary.BigEndian.Uint64(rest[0:8]))
		} else {
			out = append(out, uint64(binary.BigEndian.Uint32(rest[0:4])))
		}
		rest = rest[width:]
	}
	return out
}

// parseStss returns the 1-based sync (keyframe) sample numbers.
func parseStss(body []byte) []uint32 {
	_, _, rest := versionFlags(body)
	if len(rest) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count && len(rest) >= 4; i++ {
		out = append(out, binary.BigEndian.Uint32(rest[0:4]))
		rest = rest[4:]
	}
	return out
}

// parseMdhd returns the track timescale (units/second) and duration in
// those units.
func parseMdhd(body []byte) (timescale uint32, duration uint64) {
	version, _, rest := versionFlags(body)
	if version == 1 {
		if len(rest) < 28 {
			return 0, 0
		}
		timescale = binary.BigEndian.Uint32(rest[16:20])
		duration = binary.BigEndian.Uint64(rest[20:28])
		return
	}
	if len(rest) < 16 {
		return 0, 0
	}
	timescale = binary.BigEndian.Uint32(rest[8:12])
	duration = uint64(binary.BigEndian.Uint32(rest[12:16]))
	return
}

// parseHdlr returns the handler type ("vide", "soun", ...).
func parseHdlr(body []byte) string {
	_, _, rest := versionFlags(body)
	if len(rest) < 8 {
		return ""
	}
	return string(rest[4:8])
}

// isVideoSampleEntry/isAudioSampleEntry classify an stsd entry atom.
func isVideoSampleEntry(typ string) bool {
	switch typ {
	case "avc1", "mp4v", "h264", "hvc1":
		return true
	}
	return false
}

func isAudioSampleEntry(typ string) bool {
	switch typ {
	case "mp4a", "mp3 ", "ac-3":
		return true
	}
	return false
}

// avc1Dimensions extracts width/height from an avc1 sample entry's
// preamble (offsets per ISO/IEC 14496-12 VisualSampleEntry).
func avc1Dimensions(preamble []byte) (width, height int) {
	if len(preamble) < 28 {
		return 0, 0
	}
	width = int(binary.BigEndian.Uint16(preamble[24:26]))
	height = int(binary.BigEndian.Uint16(preamble[26:28]))
	return
}

// mp4aAudioParams extracts channel count and sample rate from an mp4a
// sample entry's preamble (AudioSampleEntry layout).
func mp4aAudioParams(preamble []byte) (channels int, sampleRate int) {
	if len(preamble) < 28 {
		return 0, 0
	}
	channels = int(binary.BigEndian.Uint16(preamble[16:18]))
	sampleRateFixed := binary.BigEndian.Uint32(preamble[24:28])
	sampleRate = int(sampleRateFixed >> 16)
	return
}
