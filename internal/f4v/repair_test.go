package f4v

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// disorderedSyntheticFile builds a [ftyp][mdat][moov] file directly, with
// stco's chunk offset computed to correctly point at mdat's body in THIS
// (disordered) layout — the structure FixFileStructure is meant to detect
// and repair by moving moov ahead of mdat and patching stco accordingly.
func disorderedSyntheticFile() (file []byte, frame0, frame1 []byte) {
	file, frame0, frame1 = syntheticFile()
	atoms, err := decodeAtomSequence(file)
	if err != nil {
		panic(err)
	}
	var ftyp, moov, mdat *Atom
	for _, a := range atoms {
		switch a.Type {
		case "ftyp":
			ftyp = a
		case "moov":
			moov = a
		case "mdat":
			mdat = a
		}
	}

	// Re-point stco at mdat's body position in the [ftyp][mdat][moov]
	// layout: right after ftyp + mdat's own header.
	mdatBodyStart := uint32(len(Encode(ftyp, false)) + 8)
	moovBytes := Encode(moov, false)
	pos := findStcoValuePos(moovBytes)
	binary.BigEndian.PutUint32(moovBytes[pos:pos+4], mdatBodyStart)
	fixedMoov, _, err := decodeAtom(moovBytes)
	if err != nil {
		panic(err)
	}

	file = concatAll(Encode(ftyp, false), Encode(mdat, false), Encode(fixedMoov, false))
	return file, frame0, frame1
}

func TestFixFileStructureReordersAndPatchesOffsets(t *testing.T) {
	disordered, frame0, frame1 := disorderedSyntheticFile()

	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.f4v")
	outPath := filepath.Join(dir, "out.f4v")
	if err := os.WriteFile(inPath, disordered, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	result, err := FixFileStructure(inPath, outPath, false)
	if err != nil {
		t.Fatalf("FixFileStructure: %v", err)
	}
	if result != FixDone {
		t.Fatalf("result = %v, want FixDone", result)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	atoms, err := decodeAtomSequence(out)
	if err != nil {
		t.Fatalf("decodeAtomSequence(out): %v", err)
	}
	moovIdx, mdatIdx := -1, -1
	for i, a := range atoms {
		if a.Type == "moov" {
			moovIdx = i
		}
		if a.Type == "mdat" {
			mdatIdx = i
		}
	}
	if moovIdx < 0 || mdatIdx < 0 || moovIdx > mdatIdx {
		t.Fatalf("expected moov before mdat after repair, got order %v/%v", moovIdx, mdatIdx)
	}

	moov := atoms[moovIdx]
	frames, err := BuildFrameIndex(moov)
	if err != nil {
		t.Fatalf("BuildFrameIndex(repaired moov): %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames in repaired file, got %d", len(frames))
	}
	got0 := out[frames[0].Offset : frames[0].Offset+int64(frames[0].Size)]
	got1 := out[frames[1].Offset : frames[1].Offset+int64(frames[1].Size)]
	if !bytes.Equal(got0, frame0) {
		t.Fatalf("repaired frame0 offset points at wrong bytes: got %v want %v", got0, frame0)
	}
	if !bytes.Equal(got1, frame1) {
		t.Fatalf("repaired frame1 offset points at wrong bytes: got %v want %v", got1, frame1)
	}
}

func TestFixFileStructureAlreadyOK(t *testing.T) {
	file, _, _ := syntheticFile()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.f4v")
	outPath := filepath.Join(dir, "out.f4v")
	if err := os.WriteFile(inPath, file, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	result, err := FixFileStructure(inPath, outPath, false)
	if err != nil {
		t.Fatalf("FixFileStructure: %v", err)
	}
	if result != FixAlreadyOK {
		t.Fatalf("result = %v, want FixAlreadyOK", result)
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(out, file) {
		t.Fatal("expected already-ok repair to copy the file through unchanged")
	}
}
