package f4v

import "sort"

// FrameHeader describes one sample's position and timing, independent of
// its payload bytes.
type FrameHeader struct {
	Offset        int64 // absolute byte offset of the sample in the file
	Size          uint32
	DecodingTsMs  int64
	CompositionMs int64
	DurationMs    int64
	SampleIndex   uint32 // 0-based, per track
	IsVideo       bool
	IsKeyframe    bool
}

// Frame pairs a FrameHeader with its sample bytes.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// BuildFrameIndex walks moov's tracks and returns every sample's
// FrameHeader, ordered by presentation (composition) timestamp — the
// order the Decoder's seek methods search. Use SortByOffset for the
// offset-ordered list IO uses to read mdat linearly.
func BuildFrameIndex(moov *Atom) ([]FrameHeader, error) {
	if moov == nil || moov.Type != "moov" {
		return nil, newDecodeError("moov", "nil or wrong-type moov atom")
	}
	var all []FrameHeader
	for _, trak := range moov.FindAllChildren("trak") {
		frames, err := buildTrackFrames(trak)
		if err != nil {
			return nil, err
		}
		all = append(all, frames...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CompositionMs < all[j].CompositionMs
	})
	return all, nil
}

// SortByOffset returns a copy of frames ordered by file offset, the order
// the Decoder actually reads mdat bytes in.
func SortByOffset(frames []FrameHeader) []FrameHeader {
	out := append([]FrameHeader(nil), frames...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func buildTrackFrames(trak *Atom) ([]FrameHeader, error) {
	mdia := trak.FindChild("mdia")
	if mdia == nil {
		return nil, nil
	}
	mdhd := mdia.FindChild("mdhd")
	if mdhd == nil {
		return nil, nil
	}
	timescale, _ := parseMdhd(mdhd.Body)
	if timescale == 0 {
		timescale = 1000
	}
	hdlrType := parseHdlr(firstChild(mdia, "hdlr"))

	minf := mdia.FindChild("minf")
	if minf == nil {
		return nil, nil
	}
	stbl := minf.FindChild("stbl")
	if stbl == nil {
		return nil, nil
	}

	isVideo := hdlrType == "vide"

	stsz := stbl.FindChild("stsz")
	if stsz == nil {
		return nil, nil
	}
	uniformSize, sizes := parseStsz(stsz.Body)

	stsc := stbl.FindChild("stsc")
	var chunkOffsets []uint64
	if co := stbl.FindChild("stco"); co != nil {
		chunkOffsets = parseChunkOffsets(co.Body, false)
	} else if co := stbl.FindChild("co64"); co != nil {
		chunkOffsets = parseChunkOffsets(co.Body, true)
	}
	var stscEntries []stscEntry
	if stsc != nil {
		stscEntries = parseStsc(stsc.Body)
	}

	stts := stbl.FindChild("stts")
	var sttsEntries []sttsEntry
	if stts != nil {
		sttsEntries = parseStts(stts.Body)
	}

	var cttsEntries []cttsEntry
	if ctts := stbl.FindChild("ctts"); ctts != nil {
		cttsEntries = parseCtts(ctts.Body)
	}

	syncSamples := map[uint32]bool{}
	hasStss := false
	if stss := stbl.FindChild("stss"); stss != nil {
		hasStss = true
		for _, n := range parseStss(stss.Body) {
			syncSamples[n] = true
		}
	}

	sampleCount := len(sizes)
	if uniformSize != 0 {
		sampleCount = totalSampleCount(sttsEntries)
	}
	if sampleCount == 0 {
		return nil, nil
	}

	offsets := sampleOffsets(chunkOffsets, stscEntries, sampleCount, uniformSize, sizes)
	decodingTs := sampleDecodingTimestamps(sttsEntries, sampleCount)
	compositionOffsets := sampleCompositionOffsets(cttsEntries, sampleCount)

	out := make([]FrameHeader, sampleCount)
	for i := 0; i < sampleCount; i++ {
		size := uniformSize
		if size == 0 && i < len(sizes) {
			size = sizes[i]
		}
		decMs := scaleToMs(decodingTs[i], timescale)
		durMs := int64(0)
		if i+1 < len(decodingTs) {
			durMs = scaleToMs(decodingTs[i+1], timescale) - decMs
		}
		compMs := decMs + scaleToMs(int64(compositionOffsets[i]), timescale)
		keyframe := !hasStss || syncSamples[uint32(i+1)] || !isVideo

		out[i] = FrameHeader{
			Offset:        int64(offsets[i]),
			Size:          size,
			DecodingTsMs:  decMs,
			CompositionMs: compMs,
			DurationMs:    durMs,
			SampleIndex:   uint32(i),
			IsVideo:       isVideo,
			IsKeyframe:    keyframe,
		}
	}
	return out, nil
}

func firstChild(parent *Atom, typ string) []byte {
	c := parent.FindChild(typ)
	if c == nil {
		return nil
	}
	return c.Body
}

func totalSampleCount(entries []sttsEntry) int {
	n := 0
	for _, e := range entries {
		n += int(e.SampleCount)
	}
	return n
}

func scaleToMs(units int64, timescale uint32) int64 {
	if timescale == 0 {
		return units
	}
	return units * 1000 / int64(timescale)
}

// sampleDecodingTimestamps expands stts's (count, delta) runs into one
// cumulative decoding timestamp (in track timescale units) per sample.
func sampleDecodingTimestamps(entries []sttsEntry, sampleCount int) []int64 {
	out := make([]int64, 0, sampleCount)
	var ts int64
	for _, e := range entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			out = append(out, ts)
			ts += int64(e.SampleDelta)
		}
	}
	for len(out) < sampleCount {
		out = append(out, ts)
	}
	return out
}

// sampleCompositionOffsets expands ctts's runs, defaulting to zero offset
// when ctts is absent (the common case for audio or B-frame-free video).
func sampleCompositionOffsets(entries []cttsEntry, sampleCount int) []int32 {
	out := make([]int32, 0, sampleCount)
	for _, e := range entries {
		for i := uint32(0); i < e.SampleCount; i++ {
			out = append(out, e.SampleOffset)
		}
	}
	for len(out) < sampleCount {
		out = append(out, 0)
	}
	return out
}

// sampleOffsets resolves each sample's absolute file offset by walking
// stsc's (first_chunk, samples_per_chunk) runs against the chunk offset
// table, accumulating sample sizes within each chunk.
func sampleOffsets(chunkOffsets []uint64, stsc []stscEntry, sampleCount int, uniformSize uint32, sizes []uint32) []uint64 {
	out := make([]uint64, sampleCount)
	if len(chunkOffsets) == 0 {
		return out
	}
	if len(stsc) == 0 {
		stsc = []stscEntry{{FirstChunk: 1, SamplesPerChunk: uint32(sampleCount)}}
	}

	sampleIdx := 0
	for runIdx, run := range stsc {
		lastChunk := uint32(len(chunkOffsets))
		if runIdx+1 < len(stsc) {
			lastChunk = stsc[runIdx+1].FirstChunk - 1
		}
		for chunk := run.FirstChunk; chunk <= lastChunk && int(chunk) <= len(chunkOffsets); chunk++ {
			offset := chunkOffsets[chunk-1]
			for s := uint32(0); s < run.SamplesPerChunk && sampleIdx < sampleCount; s++ {
				size := uniformSize
				if size == 0 && sampleIdx < len(sizes) {
					size = sizes[sampleIdx]
				}
				out[sampleIdx] = offset
				offset += uint64(size)
				sampleIdx++
			}
		}
	}
	return out
}
