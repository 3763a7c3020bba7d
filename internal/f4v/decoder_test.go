package f4v

import (
	"bytes"
	"testing"

	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

func TestDecoderSplitStreaming(t *testing.T) {
	file, frame0, frame1 := syntheticFile()
	d := NewDecoder(logging.NewLogger())

	var got []*tag.Tag
	// Feed the file in small chunks to exercise the ErrNoData / partial
	// buffering path rather than handing over the whole file at once.
	const chunk = 7
	for i := 0; i < len(file); i += chunk {
		end := i + chunk
		if end > len(file) {
			end = len(file)
		}
		tags, err := d.Split(file[i:end], 0)
		if err != nil {
			t.Fatalf("Split at %d: %v", i, err)
		}
		got = append(got, tags...)
	}

	var videoFrames []*tag.Tag
	var sawMediaInfo bool
	for _, tg := range got {
		switch tg.Kind {
		case tag.KindMediaInfo:
			sawMediaInfo = true
			mi := tg.Payload.(*tag.MediaInfoPayload).Info
			if mi.Width != 640 || mi.Height != 360 {
				t.Fatalf("unexpected media info: %+v", mi)
			}
		case tag.KindVideoFrame:
			videoFrames = append(videoFrames, tg)
		}
	}
	if !sawMediaInfo {
		t.Fatal("expected a MediaInfo tag to be emitted after moov")
	}
	if len(videoFrames) != 2 {
		t.Fatalf("expected 2 video frame tags, got %d", len(videoFrames))
	}

	p0 := videoFrames[0].Payload.(*FramePayload)
	p1 := videoFrames[1].Payload.(*FramePayload)
	if !bytes.Equal(p0.Frame.Payload, frame0) {
		t.Fatalf("frame0 payload mismatch: got %v want %v", p0.Frame.Payload, frame0)
	}
	if !bytes.Equal(p1.Frame.Payload, frame1) {
		t.Fatalf("frame1 payload mismatch: got %v want %v", p1.Frame.Payload, frame1)
	}
	if !p0.IsKeyframe() || !p1.IsKeyframe() {
		t.Fatal("expected both decoded frames to report as keyframes")
	}
}

func TestDecoderClearResetsState(t *testing.T) {
	file, _, _ := syntheticFile()
	d := NewDecoder(logging.NewLogger())
	if _, err := d.Split(file, 0); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if d.MediaInfo() == nil {
		t.Fatal("expected MediaInfo to be populated before Clear")
	}
	d.Clear()
	if d.MediaInfo() != nil {
		t.Fatal("expected MediaInfo to be nil after Clear")
	}
	if len(d.Frames()) != 0 {
		t.Fatal("expected Frames to be empty after Clear")
	}
}

func TestGenerateCuePointTableTag(t *testing.T) {
	file, _, _ := syntheticFile()
	d := NewDecoder(logging.NewLogger())
	if _, err := d.Split(file, 0); err != nil {
		t.Fatalf("Split: %v", err)
	}
	cue := d.GenerateCuePointTableTag()
	if cue == nil {
		t.Fatal("expected a non-nil cue point tag")
	}
	payload := cue.Payload.(*CuePointPayload)
	if len(payload.Offsets) != 2 {
		t.Fatalf("expected 2 cue points (both frames are keyframes), got %d", len(payload.Offsets))
	}
}
