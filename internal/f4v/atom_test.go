package f4v

import (
	"bytes"
	"testing"
)

func TestAtomRoundTrip(t *testing.T) {
	file, _, _ := syntheticFile()

	atoms, err := decodeAtomSequence(file)
	if err != nil {
		t.Fatalf("decodeAtomSequence: %v", err)
	}
	if len(atoms) != 3 {
		t.Fatalf("expected 3 top-level atoms, got %d", len(atoms))
	}
	if atoms[0].Type != "ftyp" || atoms[1].Type != "moov" || atoms[2].Type != "mdat" {
		t.Fatalf("unexpected atom order: %v %v %v", atoms[0].Type, atoms[1].Type, atoms[2].Type)
	}

	var out bytes.Buffer
	for _, a := range atoms {
		out.Write(Encode(a, a.Extended))
	}
	if !bytes.Equal(out.Bytes(), file) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", out.Len(), len(file))
	}
}

func TestAtomChildrenAndFindPath(t *testing.T) {
	file, _, _ := syntheticFile()
	atoms, err := decodeAtomSequence(file)
	if err != nil {
		t.Fatalf("decodeAtomSequence: %v", err)
	}
	moov := atoms[1]

	mdhd := FindPath(moov, "trak", "mdia", "mdhd")
	if mdhd == nil {
		t.Fatal("expected to find mdhd via FindPath")
	}
	timescale, _ := parseMdhd(mdhd.Body)
	if timescale != 1000 {
		t.Fatalf("timescale = %d, want 1000", timescale)
	}

	stbl := FindPath(moov, "trak", "mdia", "minf", "stbl")
	if stbl == nil {
		t.Fatal("expected to find stbl via FindPath")
	}
	if len(stbl.FindAllChildren("stco")) != 1 {
		t.Fatalf("expected exactly one stco child")
	}
}

func TestExtendedHeaderEncodeDecode(t *testing.T) {
	a := &Atom{Type: "free", Body: []byte{1, 2, 3, 4}}
	encoded := Encode(a, true)
	decoded, hlen, err := decodeAtom(encoded)
	if err != nil {
		t.Fatalf("decodeAtom: %v", err)
	}
	if !decoded.Extended {
		t.Fatal("expected decoded atom to report Extended=true")
	}
	if hlen != len(encoded) {
		t.Fatalf("hlen = %d, want %d", hlen, len(encoded))
	}
	if !bytes.Equal(decoded.Body, a.Body) {
		t.Fatalf("body mismatch after extended round trip")
	}
}
