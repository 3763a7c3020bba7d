// Package keyframe implements the keyframe-extraction filter element,
// grounded on keyframe_element.cc: drops interframes (and
// optionally audio), and thins video keyframes to a minimum spacing.
package keyframe

import (
	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "keyframe"

// Element is a keyframe-extraction filter instance.
type Element struct {
	filterbase.Base
	msBetweenVideoFrames int64
	dropAudio            bool
}

// New constructs a keyframe extractor reading from mediaFiltered.
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string, msBetweenVideoFrames int64, dropAudio bool) *Element {
	e := &Element{msBetweenVideoFrames: msBetweenVideoFrames, dropAudio: dropAudio}
	e.Base = filterbase.Base{
		ClassNameV:    ClassName,
		NameV:         name,
		Mapper:        mapper,
		Logger:        logger,
		MediaFiltered: mediaFiltered,
	}
	e.Base.CreateData = e.createCallbackData
	return e
}

type callbackData struct {
	msBetweenVideoFrames int64
	dropAudio            bool
	lastKeyframeTs       int64
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	if t.Kind == tag.KindEOS || t.Kind == tag.KindSourceStarted || t.Kind == tag.KindSourceEnded {
		return []*tag.Tag{t}
	}

	if t.IsAudio() && c.dropAudio {
		return nil
	}

	if t.IsVideo() && !t.CanResync() {
		return nil
	}

	if t.IsVideo() && t.CanResync() && timestampMs-c.lastKeyframeTs < c.msBetweenVideoFrames {
		return nil
	}

	if t.IsVideo() {
		c.lastKeyframeTs = timestampMs
	}
	return []*tag.Tag{t}
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{msBetweenVideoFrames: e.msBetweenVideoFrames, dropAudio: e.dropAudio}
}

var _ graph.Element = (*Element)(nil)
