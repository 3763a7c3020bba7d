// Package normalizing implements the timestamp-normalizing filter element,
// grounded on normalizing_element.h: rearranges incoming
// tag timestamps into non-decreasing order as seen by each client, the way
// clients expect after a source switch or a discontinuity upstream.
package normalizing

import (
	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "normalizing"

// Element rewrites each request's view of time to be non-decreasing,
// applying a write-ahead cushion so a late-arriving interframe can still be
// delivered in order rather than rejected.
type Element struct {
	filterbase.Base
	flowControlWriteAheadMs      int64
	flowControlExtraWriteAheadMs int64
}

// New constructs a normalizing element reading from mediaFiltered.
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string, flowControlWriteAheadMs, flowControlExtraWriteAheadMs int64) *Element {
	e := &Element{
		flowControlWriteAheadMs:      flowControlWriteAheadMs,
		flowControlExtraWriteAheadMs: flowControlExtraWriteAheadMs,
	}
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
	writeAheadMs      int64
	extraWriteAheadMs int64

	haveBase  bool
	baseTs    int64
	lastOutTs int64
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	switch t.Kind {
	case tag.KindSourceStarted, tag.KindEOS:
		c.haveBase = false
		return []*tag.Tag{t}
	}

	if !c.haveBase {
		// Rebase so the new source resumes at the last delivered
		// timestamp (or at writeAheadMs for the very first tag).
		c.haveBase = true
		resume := c.lastOutTs
		if resume < c.writeAheadMs {
			resume = c.writeAheadMs
		}
		c.baseTs = timestampMs + c.writeAheadMs - resume
	}

	normalized := timestampMs - c.baseTs + c.writeAheadMs
	if normalized < c.lastOutTs-c.extraWriteAheadMs {
		// Too far out of order even with the extra cushion: drop rather
		// than present time moving backwards to the client.
		return nil
	}
	if normalized < c.lastOutTs {
		normalized = c.lastOutTs
	}
	c.lastOutTs = normalized

	out := t.Clone()
	out.TimestampMs = normalized
	return []*tag.Tag{out}
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{
		writeAheadMs:      e.flowControlWriteAheadMs,
		extraWriteAheadMs: e.flowControlExtraWriteAheadMs,
	}
}

var _ graph.Element = (*Element)(nil)
