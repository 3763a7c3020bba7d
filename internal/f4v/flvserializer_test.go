package f4v

import (
	"bytes"
	"testing"

	"github.com/cpopescu/streamgraph/internal/elements/f4vflv"
	"github.com/cpopescu/streamgraph/internal/tag"
)

func TestFlvSerializerWritesHeaderThenTags(t *testing.T) {
	var buf bytes.Buffer
	s := NewFlvSerializer()
	if err := s.Initialize(&buf); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), flvFileHeader) {
		t.Fatalf("expected FLV file header to be written first")
	}

	flvTag := tag.New(tag.KindVideoFrame, 0, ^tag.Mask(0), 0, 0, &f4vflv.FlvPayload{Data: []byte{1, 2, 3}})
	if err := s.Serialize(flvTag, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("expected FlvPayload bytes to be appended verbatim")
	}
}

func TestFlvSerializerCuePointTable(t *testing.T) {
	var buf bytes.Buffer
	s := NewFlvSerializer()
	cueTag := tag.New(tag.KindCuePoint, tag.AttrIsMetadata, ^tag.Mask(0), 0, 0, &CuePointPayload{
		Offsets: map[int64]int64{1000: 4096, 2000: 8192},
	})
	if err := s.Serialize(cueTag, &buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty cue point table bytes")
	}
}
