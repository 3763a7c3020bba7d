package f4v

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cpopescu/streamgraph/internal/elements/f4vflv"
)

const (
	flvTagAudio  = 8
	flvTagVideo  = 9
	flvTagScript = 18
)

// Converter turns decoded F4V frames into FLV-wire tag bytes, implementing
// f4vflv.Converter (the F4V-to-FLV conversion interface). Each returned byte
// slice is a complete FLV tag: the 11-byte tag header, the codec-specific
// body, and the trailing 4-byte PreviousTagSize field, so consecutive
// results concatenate directly onto an FLV byte stream (whose leading
// "FLV" file header and first zero PreviousTagSize0 a wire serializer
// writes once, on Initialize).
type Converter struct{}

// NewConverter returns an f4vflv.ConverterFactory building a Converter;
// the converter carries no per-stream state so one instance is reused.
func NewConverter() f4vflv.ConverterFactory {
	c := &Converter{}
	return func() f4vflv.Converter { return c }
}

func (c *Converter) ConvertFrame(payload f4vflv.F4VFramePayload, timestampMs int64) ([][]byte, error) {
	fp, ok := payload.(*FramePayload)
	if !ok {
		return nil, fmt.Errorf("f4v: converter requires a *FramePayload, got %T", payload)
	}
	fh := fp.Frame.Header

	var body bytes.Buffer
	var tagType byte
	if fh.IsVideo {
		tagType = flvTagVideo
		frameType := byte(2) // inter frame
		if fh.IsKeyframe {
			frameType = 1
		}
		body.WriteByte(frameType<<4 | 7) // codec id 7 = AVC
		body.WriteByte(1)                // AVC NALU packet
		writeInt24(&body, int32(fh.CompositionMs-fh.DecodingTsMs))
	} else {
		tagType = flvTagAudio
		body.WriteByte(10<<4 | 3<<2 | 1<<1 | 1) // AAC, 44kHz, 16-bit, stereo
		body.WriteByte(1)                        // raw AAC packet
	}
	body.Write(fp.Frame.Payload)

	return [][]byte{buildFlvTag(tagType, timestampMs, body.Bytes())}, nil
}

func (c *Converter) CreateCuePoint(payload f4vflv.F4VFramePayload, cuePointNumber int64) []byte {
	fp, ok := payload.(*FramePayload)
	if !ok {
		return nil
	}
	var amf bytes.Buffer
	writeAMF0String(&amf, "onCuePoint")
	writeAMF0EcmaArray(&amf, map[string]amfValue{
		"name":       {kind: amfString, str: fmt.Sprintf("cue-%d", cuePointNumber)},
		"time":       {kind: amfNumber, num: float64(fp.Frame.Header.CompositionMs) / 1000.0},
		"type":       {kind: amfString, str: "navigation"},
		"cuePointNum": {kind: amfNumber, num: float64(cuePointNumber)},
	})
	return buildFlvTag(flvTagScript, fp.Frame.Header.CompositionMs, amf.Bytes())
}

// buildFlvTag prepends the 11-byte FLV tag header and appends the 4-byte
// PreviousTagSize trailer around body.
func buildFlvTag(tagType byte, timestampMs int64, body []byte) []byte {
	out := make([]byte, 0, 11+len(body)+4)
	out = append(out, tagType)
	out = appendInt24(out, int32(len(body)))
	ts := uint32(timestampMs) & 0x00FFFFFF
	out = appendInt24(out, int32(ts))
	out = append(out, byte(uint32(timestampMs)>>24)) // timestamp extended (top byte)
	out = appendInt24(out, 0)                        // stream id, always 0
	out = append(out, body...)
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], uint32(11+len(body)))
	return append(out, trailer[:]...)
}

func appendInt24(b []byte, v int32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

func writeInt24(buf *bytes.Buffer, v int32) {
	buf.Write([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
}

// --- a minimal AMF0 encoder, just enough for onCuePoint metadata tags ---

type amfKind int

const (
	amfNumber amfKind = iota
	amfString
)

type amfValue struct {
	kind amfKind
	num  float64
	str  string
}

func writeAMF0String(buf *bytes.Buffer, s string) {
	buf.WriteByte(0x02) // AMF0 string marker
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func writeAMF0EcmaArray(buf *bytes.Buffer, fields map[string]amfValue) {
	buf.WriteByte(0x08) // AMF0 ECMA array marker
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(fields)))
	buf.Write(count[:])
	for k, v := range fields {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(k)))
		buf.Write(l[:])
		buf.WriteString(k)
		switch v.kind {
		case amfNumber:
			buf.WriteByte(0x00)
			var n [8]byte
			binary.BigEndian.PutUint64(n[:], math.Float64bits(v.num))
			buf.Write(n[:])
		case amfString:
			writeAMF0String(buf, v.str)
		}
	}
	buf.Write([]byte{0x00, 0x00, 0x09}) // empty-key + object-end marker
}
