// Package f4v implements the ISO-BMFF-style atom codec for the F4V
// container, grounded on whisperstreamlib/f4v: a byte-exact
// atom decoder/encoder, a frame index built from the moov sample tables,
// seek, and the moov-before-mdat structural repair. Every atom retains its
// raw body bytes alongside whatever fields a caller asks to have parsed
// out of it, so an atom nobody recognizes round-trips verbatim and a
// recognized one can still be re-encoded without re-deriving its body
// from typed fields.
package f4v

import (
	"encoding/binary"
	"fmt"
)

const (
	headerLen         = 8  // 4-byte size + 4-byte type
	extendedHeaderLen = 16 // + 8-byte real size
)

// containerTypes lists the atom types whose body is a plain sequence of
// subatoms with no fixed preamble.
var containerTypes = map[string]bool{
	"moov": true, "trak": true, "mdia": true, "minf": true,
	"stbl": true, "dinf": true, "edts": true, "udta": true,
	"meta": true, "wave": true,
}

// preambleLen gives the fixed-field byte count preceding the subatom list
// for atoms that mix payload fields with children (container-versioned
// atoms). stsd's preamble is its own 8-byte
// version/flags/entry-count header; its entries (avc1, mp4a, ...) are
// then parsed as ordinary atoms.
var preambleLen = map[string]int{
	"stsd": 8,
	"avc1": 78,
	"mp4a": 28,
}

// Atom is one node of the decoded atom tree. Body holds the exact bytes
// that followed the header in the source stream; the Children method
// decodes the subatoms of container types from Body on each call, for the
// frame indexer and repair tool to see inside.
type Atom struct {
	Type     string
	Size     uint64 // total size including header
	Extended bool   // true if a 64-bit size field was used
	Body     []byte // raw body bytes (preamble + children bytes for containers)
}

// HeaderLen returns how many bytes this atom's header occupies.
func (a *Atom) HeaderLen() int {
	if a.Extended {
		return extendedHeaderLen
	}
	return headerLen
}

// IsContainer reports whether Body is (wholly or partly) a subatom
// sequence, per the container/container-versioned atom model.
func (a *Atom) IsContainer() bool {
	if containerTypes[a.Type] {
		return true
	}
	_, ok := preambleLen[a.Type]
	return ok
}

// Preamble returns the fixed-field bytes preceding the subatom list, for
// container-versioned atoms; empty for plain containers and leaf atoms.
func (a *Atom) Preamble() []byte {
	n := preambleLen[a.Type]
	if n > len(a.Body) {
		n = len(a.Body)
	}
	return a.Body[:n]
}

// Children decodes and returns the subatom sequence inside Body, skipping
// any preamble. Returns nil for atoms that are not containers.
func (a *Atom) Children() ([]*Atom, error) {
	if !a.IsContainer() {
		return nil, nil
	}
	start := preambleLen[a.Type]
	return decodeAtomSequence(a.Body[start:])
}

// FindChild returns the first direct child of the given type.
func (a *Atom) FindChild(typ string) *Atom {
	children, err := a.Children()
	if err != nil {
		return nil
	}
	for _, c := range children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// FindAllChildren returns every direct child of the given type.
func (a *Atom) FindAllChildren(typ string) []*Atom {
	children, err := a.Children()
	if err != nil {
		return nil
	}
	var out []*Atom
	for _, c := range children {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// FindPath walks a dotted chain of direct-child types, e.g.
// FindPath(moov, "trak", "mdia", "mdhd").
func FindPath(a *Atom, path ...string) *Atom {
	cur := a
	for _, typ := range path {
		if cur == nil {
			return nil
		}
		cur = cur.FindChild(typ)
	}
	return cur
}

// decodeAtomHeader reads one atom header from buf, returning the atom (its
// Body left unpopulated) and the header's byte length, or ErrNoData if buf
// doesn't yet hold a complete header.
func decodeAtomHeader(buf []byte) (*Atom, int, error) {
	if len(buf) < headerLen {
		return nil, 0, ErrNoData
	}
	size32 := binary.BigEndian.Uint32(buf[0:4])
	typ := string(buf[4:8])

	if size32 == 1 {
		if len(buf) < extendedHeaderLen {
			return nil, 0, ErrNoData
		}
		size64 := binary.BigEndian.Uint64(buf[8:16])
		if size64 < extendedHeaderLen {
			return nil, 0, newDecodeError(typ, fmt.Sprintf("extended size %d smaller than header", size64))
		}
		return &Atom{Type: typ, Size: size64, Extended: true}, extendedHeaderLen, nil
	}
	if size32 != 0 && uint64(size32) < headerLen {
		return nil, 0, newDecodeError(typ, fmt.Sprintf("size %d smaller than header", size32))
	}
	return &Atom{Type: typ, Size: uint64(size32)}, headerLen, nil
}

// decodeAtom reads one complete atom (header + body) from buf. size==0
// ("extends to end of stream") atoms are not supported and are reported
// as a DecodeError, here and therefore also in decodeAtomSequence and
// FixFileStructure's whole-file decode.
func decodeAtom(buf []byte) (*Atom, int, error) {
	a, hlen, err := decodeAtomHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if a.Size == 0 {
		return nil, 0, newDecodeError(a.Type, "open-ended (size 0) atoms are not supported")
	}
	total := int(a.Size)
	if len(buf) < total {
		return nil, 0, ErrNoData
	}
	a.Body = buf[hlen:total]
	return a, total, nil
}

// decodeAtomSequence decodes every atom in buf back to back, requiring the
// whole sequence to be present (used for container bodies, which are
// always fully buffered by the time their parent atom was decoded).
func decodeAtomSequence(buf []byte) ([]*Atom, error) {
	var out []*Atom
	for len(buf) > 0 {
		a, n, err := decodeAtom(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		buf = buf[n:]
	}
	return out, nil
}

// Encode writes the atom's header and body verbatim. forceExtended makes
// every atom use the 16-byte extended header even when unnecessary,
// matching the encoder's force_extended_size option.
func Encode(a *Atom, forceExtended bool) []byte {
	total := uint64(len(a.Body))
	extended := forceExtended || total+extendedHeaderLen > 0xFFFFFFFF
	if extended {
		total += extendedHeaderLen
	} else {
		total += headerLen
	}

	out := make([]byte, 0, total)
	if extended {
		var sz [4]byte
		binary.BigEndian.PutUint32(sz[:], 1)
		out = append(out, sz[:]...)
		out = append(out, []byte(padType(a.Type))...)
		var sz64 [8]byte
		binary.BigEndian.PutUint64(sz64[:], total)
		out = append(out, sz64[:]...)
	} else {
		var sz [4]byte
		binary.BigEndian.PutUint32(sz[:], uint32(total))
		out = append(out, sz[:]...)
		out = append(out, []byte(padType(a.Type))...)
	}
	out = append(out, a.Body...)
	return out
}

// MeasureSize returns the exact encoded size (header + body) for a.
func MeasureSize(a *Atom, forceExtended bool) uint64 {
	total := uint64(len(a.Body))
	if forceExtended || total+extendedHeaderLen > 0xFFFFFFFF {
		return total + extendedHeaderLen
	}
	return total + headerLen
}

func padType(typ string) string {
	for len(typ) < 4 {
		typ += " "
	}
	if len(typ) > 4 {
		typ = typ[:4]
	}
	return typ
}
