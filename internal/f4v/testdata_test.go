package f4v

import "encoding/binary"

// box prepends a plain 8-byte (size, type) header to body, the same
// framing Encode produces for a non-extended atom. Kept separate from
// Encode so these tests build their fixtures independently of the code
// under test.
func box(typ string, body []byte) []byte {
	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], padType(typ))
	return append(out, body...)
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

// buildMdhd returns a version-0 mdhd body with the given timescale.
func buildMdhd(timescale uint32) []byte {
	body := make([]byte, 0, 24)
	body = append(body, 0, 0, 0, 0) // version + flags
	body = append(body, u32(0)...)  // creation time
	body = append(body, u32(0)...)  // modification time
	body = append(body, u32(timescale)...)
	body = append(body, u32(1000)...) // duration
	body = append(body, u16(0)...)    // language
	body = append(body, u16(0)...)    // pre_defined
	return body
}

func buildHdlr(handlerType string) []byte {
	body := make([]byte, 0, 24)
	body = append(body, 0, 0, 0, 0) // version + flags
	body = append(body, u32(0)...)  // pre_defined
	body = append(body, []byte(handlerType)...)
	body = append(body, make([]byte, 12)...) // reserved
	body = append(body, 0)                   // name, empty c-string
	return body
}

func buildAvc1(width, height uint16) []byte {
	body := make([]byte, 78)
	binary.BigEndian.PutUint16(body[24:26], width)
	binary.BigEndian.PutUint16(body[26:28], height)
	return body
}

func buildStsd(entry []byte) []byte {
	body := make([]byte, 0, 8+len(entry))
	body = append(body, 0, 0, 0, 0) // version + flags
	body = append(body, u32(1)...)  // entry count
	body = append(body, entry...)
	return body
}

func buildStts(sampleCount, sampleDelta uint32) []byte {
	body := make([]byte, 0, 16)
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(1)...) // one run
	body = append(body, u32(sampleCount)...)
	body = append(body, u32(sampleDelta)...)
	return body
}

func buildStsz(sizes []uint32) []byte {
	body := make([]byte, 0, 12+4*len(sizes))
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(0)...) // uniform size 0 => per-sample sizes follow
	body = append(body, u32(uint32(len(sizes)))...)
	for _, s := range sizes {
		body = append(body, u32(s)...)
	}
	return body
}

func buildStsc(firstChunk, samplesPerChunk uint32) []byte {
	body := make([]byte, 0, 20)
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(1)...)
	body = append(body, u32(firstChunk)...)
	body = append(body, u32(samplesPerChunk)...)
	body = append(body, u32(1)...) // sample description index
	return body
}

func buildStco(offsets []uint32) []byte {
	body := make([]byte, 0, 8+4*len(offsets))
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(uint32(len(offsets)))...)
	for _, o := range offsets {
		body = append(body, u32(o)...)
	}
	return body
}

// syntheticFile builds a minimal single-track video F4V file with two
// samples in one chunk, returning the full bytes plus each frame's
// payload for assertions. stco's chunk offset is computed so it points
// exactly at the frame bytes inside mdat.
func syntheticFile() (file []byte, frame0, frame1 []byte) {
	frame0 = []byte{0xAA, 0xAA, 0xAA, 0xAA}
	frame1 = []byte{0xBB, 0xBB, 0xBB}

	ftyp := box("ftyp", []byte("isom"))

	stsd := box("stsd", buildStsd(box("avc1", buildAvc1(640, 360))))
	stts := box("stts", buildStts(2, 33))
	stsz := box("stsz", buildStsz([]uint32{uint32(len(frame0)), uint32(len(frame1))}))
	stsc := box("stsc", buildStsc(1, 2))
	// placeholder offset, patched below once mdat's position is known.
	stco := box("stco", buildStco([]uint32{0}))
	stbl := box("stbl", concatAll(stsd, stts, stsz, stsc, stco))
	minf := box("minf", stbl)
	mdhd := box("mdhd", buildMdhd(1000))
	hdlr := box("hdlr", buildHdlr("vide"))
	mdia := box("mdia", concatAll(mdhd, hdlr, minf))
	trak := box("trak", mdia)
	moov := box("moov", trak)

	mdatBody := append(append([]byte{}, frame0...), frame1...)
	mdat := box("mdat", mdatBody)

	prefix := len(ftyp) + len(moov)
	mdatBodyStart := uint32(prefix + 8) // + mdat's own 8-byte header

	// stco sits at a fixed, known offset inside moov: patch its single
	// entry in place rather than rebuilding the whole tree.
	stcoOffsetPos := findStcoValuePos(moov)
	binary.BigEndian.PutUint32(moov[stcoOffsetPos:stcoOffsetPos+4], mdatBodyStart)

	file = concatAll(ftyp, moov, mdat)
	return file, frame0, frame1
}

func concatAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// findStcoValuePos locates the byte offset, within moovBytes, of stco's
// single chunk-offset value (its body's bytes 8:12, after the 8-byte
// atom header and the 8-byte version/flags+count preamble).
func findStcoValuePos(moovBytes []byte) int {
	idx := indexOf(moovBytes, []byte("stco"))
	// idx points at the 4-byte type field; the header's size field
	// precedes it by 4 bytes, so the body starts 4 bytes after idx.
	bodyStart := idx + 4
	return bodyStart + 8
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
