package f4v

import (
	"testing"
)

func TestConvertKeyframeToFlvTag(t *testing.T) {
	fp := &FramePayload{Frame: Frame{
		Header: FrameHeader{
			DecodingTsMs:  1000,
			CompositionMs: 1000,
			IsVideo:       true,
			IsKeyframe:    true,
		},
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}}

	conv := NewConverter()()
	tags, err := conv.ConvertFrame(fp, 1000)
	if err != nil {
		t.Fatalf("ConvertFrame: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("expected 1 FLV tag, got %d", len(tags))
	}
	out := tags[0]

	if len(out) < 11+4 {
		t.Fatalf("FLV tag too short: %d bytes", len(out))
	}
	if out[0] != flvTagVideo {
		t.Fatalf("tag type = %d, want %d (video)", out[0], flvTagVideo)
	}
	bodySize := int(out[1])<<16 | int(out[2])<<8 | int(out[3])
	if bodySize != len(out)-11-4 {
		t.Fatalf("encoded body size = %d, want %d", bodySize, len(out)-11-4)
	}
	body := out[11 : 11+bodySize]
	frameTypeAndCodec := body[0]
	if frameTypeAndCodec>>4 != 1 {
		t.Fatalf("expected keyframe frame type (1), got %d", frameTypeAndCodec>>4)
	}
	if frameTypeAndCodec&0x0F != 7 {
		t.Fatalf("expected AVC codec id (7), got %d", frameTypeAndCodec&0x0F)
	}
	payload := body[5:]
	if string(payload) != string(fp.Frame.Payload) {
		t.Fatalf("payload mismatch: got %v want %v", payload, fp.Frame.Payload)
	}

	trailer := out[len(out)-4:]
	trailerVal := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if trailerVal != uint32(len(out)-4) {
		t.Fatalf("PreviousTagSize = %d, want %d", trailerVal, len(out)-4)
	}
}

func TestConvertInterFrameMarksNonKeyframe(t *testing.T) {
	fp := &FramePayload{Frame: Frame{
		Header:  FrameHeader{IsVideo: true, IsKeyframe: false},
		Payload: []byte{0x01},
	}}
	conv := NewConverter()()
	tags, err := conv.ConvertFrame(fp, 0)
	if err != nil {
		t.Fatalf("ConvertFrame: %v", err)
	}
	body := tags[0][11:]
	if body[0]>>4 != 2 {
		t.Fatalf("expected inter-frame type (2), got %d", body[0]>>4)
	}
}

func TestCreateCuePointProducesScriptTag(t *testing.T) {
	fp := &FramePayload{Frame: Frame{
		Header: FrameHeader{CompositionMs: 5000, IsVideo: true, IsKeyframe: true},
	}}
	conv := NewConverter()()
	out := conv.CreateCuePoint(fp, 1)
	if len(out) == 0 {
		t.Fatal("expected non-empty cue point tag")
	}
	if out[0] != flvTagScript {
		t.Fatalf("tag type = %d, want %d (script)", out[0], flvTagScript)
	}
}
