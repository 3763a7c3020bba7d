package f4v

import (
	"github.com/cpopescu/streamgraph/internal/elements/splitting"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// NewSplitterFactory returns a splitting.SplitterFactory that builds a
// fresh Decoder per request, the F4V codec's plug-in point into the
// splitting filter element.
func NewSplitterFactory(logger logging.Logger) splitting.SplitterFactory {
	return func() splitting.Splitter {
		return NewDecoder(logger)
	}
}

var _ splitting.Splitter = (*Decoder)(nil)
