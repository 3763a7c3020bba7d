// Package splitting implements the splitting filter element,
// grounded on splitting_element.h: turns raw byte-bearing tags into
// fully-typed media tags by handing them to a pluggable Splitter (the F4V
// codec package supplies one; others may plug in their own container
// parser the same way).
package splitting

import (
	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "splitting"

// RawPayload is the bytes-in-flight payload a splitting element consumes;
// upstream elements (aiofile, httpclient) produce tags carrying it.
type RawPayload struct {
	Data []byte
}

func (r *RawPayload) Clone() tag.Payload {
	clone := make([]byte, len(r.Data))
	copy(clone, r.Data)
	return &RawPayload{Data: clone}
}

// Splitter incrementally demuxes raw bytes into typed tags. Implementations
// are not required to be safe for concurrent use; the filtering base serial
// calls one splitter instance per request.
type Splitter interface {
	// Split appends bytes to the splitter's internal buffer and returns
	// every complete tag it can now produce, in order.
	Split(data []byte, timestampMs int64) ([]*tag.Tag, error)
}

// SplitterFactory creates a fresh Splitter for one request.
type SplitterFactory func() Splitter

// Element is a splitting filter instance.
type Element struct {
	filterbase.Base
	newSplitter SplitterFactory
	maxTagSize  int
	logger      logging.Logger
}

// New constructs a splitting element reading raw tags from mediaFiltered.
// maxTagSize caps the bytes buffered per raw tag before it is dropped with
// a warning (0 disables the cap).
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string, newSplitter SplitterFactory, maxTagSize int) *Element {
	e := &Element{newSplitter: newSplitter, maxTagSize: maxTagSize, logger: logger}
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
	splitter   Splitter
	maxTagSize int
	logger     logging.Logger
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	raw, ok := t.Payload.(*RawPayload)
	if !ok {
		return []*tag.Tag{t}
	}
	if c.maxTagSize > 0 && len(raw.Data) > c.maxTagSize {
		if c.logger != nil {
			c.logger.WithField("size", len(raw.Data)).Warn("splitting element: raw tag exceeds max size, dropped")
		}
		return nil
	}
	out, err := c.splitter.Split(raw.Data, timestampMs)
	if err != nil {
		if c.logger != nil {
			c.logger.WithError(err).Warn("splitting element: split failed")
		}
		return nil
	}
	return out
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{splitter: e.newSplitter(), maxTagSize: e.maxTagSize, logger: e.logger}
}

var _ graph.Element = (*Element)(nil)
