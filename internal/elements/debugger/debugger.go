// Package debugger implements the pass-through logging filter element,
// grounded on debugger_element.h: logs every tag that flows
// through it and forwards it unchanged.
package debugger

import (
	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "debugger"

// Element logs and forwards every tag it sees, unmodified.
type Element struct {
	filterbase.Base
	logger logging.Logger
}

// New constructs a debugger element reading from mediaFiltered.
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string) *Element {
	e := &Element{logger: logger}
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
	name   string
	logger logging.Logger
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	if c.logger != nil {
		c.logger.WithField("media", c.name).WithField("ts", timestampMs).Info(t.Kind.String())
	}
	return []*tag.Tag{t}
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{name: e.NameV, logger: e.logger}
}

var _ graph.Element = (*Element)(nil)
