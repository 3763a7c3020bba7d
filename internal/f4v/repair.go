package f4v

import (
	"fmt"
	"io"
	"os"
)

// FixResult mirrors util::FixResult: whether a file needed repair at all.
type FixResult int

const (
	FixAlreadyOK FixResult = iota
	FixDone
	FixError
)

func (r FixResult) String() string {
	switch r {
	case FixAlreadyOK:
		return "already-ok"
	case FixDone:
		return "fixed"
	default:
		return "error"
	}
}

// FixFileStructure reads every top-level atom of an F4V file, and if mdat
// precedes moov rewrites the file so moov comes first, patching every
// stco/co64 chunk offset by the exact distance mdat itself shifts (moov's
// own encoded size) — the HTTP progressive-download requirement that moov
// must be available before the player can start reading samples.
func FixFileStructure(inPath, outPath string, alwaysFix bool) (FixResult, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return FixError, fmt.Errorf("f4v: repair read: %w", err)
	}

	atoms, err := decodeAtomSequence(data)
	if err != nil {
		return FixError, fmt.Errorf("f4v: repair decode: %w", err)
	}

	moovIdx, mdatIdx := -1, -1
	for i, a := range atoms {
		if a.Type == "moov" && moovIdx < 0 {
			moovIdx = i
		}
		if a.Type == "mdat" && mdatIdx < 0 {
			mdatIdx = i
		}
	}
	if moovIdx < 0 || mdatIdx < 0 {
		return FixError, fmt.Errorf("f4v: repair: missing moov or mdat atom")
	}

	if moovIdx < mdatIdx && !alwaysFix {
		return FixAlreadyOK, copyFile(inPath, outPath)
	}

	moov := atoms[moovIdx]

	// stco/co64 offsets point into mdat, not at moov, so what matters is
	// how far mdat itself moves. When moov already precedes mdat nothing
	// moves (an explicit re-fix just re-serializes the same layout). When
	// mdat precedes moov, relocating moov to sit immediately before mdat
	// pushes mdat later by exactly moov's encoded size — every other atom
	// keeps its relative position.
	var delta int64
	if moovIdx > mdatIdx {
		delta = int64(MeasureSize(moov, moov.Extended))
	}

	if delta != 0 {
		patchChunkOffsets(moov, delta)
	}

	out := make([]byte, 0, len(data))
	for i, a := range atoms {
		if i == moovIdx && moovIdx > mdatIdx {
			continue // emitted just before mdat below
		}
		if i == mdatIdx && moovIdx > mdatIdx {
			out = append(out, Encode(moov, moov.Extended)...)
		}
		out = append(out, Encode(a, a.Extended)...)
	}

	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return FixError, fmt.Errorf("f4v: repair write: %w", err)
	}
	return FixDone, nil
}

// patchChunkOffsets rewrites every stco/co64 entry inside moov's retained
// body bytes by delta, operating directly on the byte slices so the
// surrounding atom framing (sizes, types) is untouched.
func patchChunkOffsets(moov *Atom, delta int64) {
	children, err := moov.Children()
	if err != nil {
		return
	}
	for _, trak := range children {
		if trak.Type != "trak" {
			continue
		}
		stbl := FindPath(trak, "mdia", "minf", "stbl")
		if stbl == nil {
			continue
		}
		stblChildren, err := stbl.Children()
		if err != nil {
			continue
		}
		for _, box := range stblChildren {
			switch box.Type {
			case "stco":
				patchStco(box, delta, false)
			case "co64":
				patchStco(box, delta, true)
			}
		}
	}
}

// patchStco rewrites the offsets embedded in an stco/co64 body in place.
// body layout: version+flags(4) count(4) then count * (4 or 8 byte offset).
func patchStco(box *Atom, delta int64, wide bool) {
	body := box.Body
	if len(body) < 8 {
		return
	}
	count := int(be32(body[4:8]))
	width := 4
	if wide {
		width = 8
	}
	pos := 8
	for i := 0; i < count && pos+width <= len(body); i++ {
		if wide {
			v := be64(body[pos : pos+8])
			putBE64(body[pos:pos+8], uint64(int64(v)+delta))
		} else {
			v := be32(body[pos : pos+4])
			putBE32(body[pos:pos+4], uint32(int64(v)+delta))
		}
		pos += width
	}
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putBE64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
