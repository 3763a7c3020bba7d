// Package renamer implements the stream-renaming filter element,
// grounded on stream_renamer_element.cc: rewrites the source
// stream name and path carried by SourceStarted/SourceEnded tags through a
// regular expression substitution.
package renamer

import (
	"regexp"
	"strings"

	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "stream_renamer"

// SourceChange is the payload carried by SourceStarted/SourceEnded tags:
// the originating element name and the full mapper path it was reached
// through, both subject to rewriting by this element.
type SourceChange struct {
	SourceName string
	Path       string
}

func (s *SourceChange) Clone() tag.Payload {
	clone := *s
	return &clone
}

// Element rewrites source names matching Pattern, substituting Replace
// (Go regexp replacement syntax, e.g. "$1-renamed").
type Element struct {
	filterbase.Base
	re      *regexp.Regexp
	replace string
	logger  logging.Logger
}

// New constructs a stream renamer reading from mediaFiltered. pattern is
// compiled with regexp.Compile; an invalid pattern returns a nil element
// (the caller's spec-loading path should validate before calling New).
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered, pattern, replace string) (*Element, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e := &Element{re: re, replace: replace, logger: logger}
	e.Base = filterbase.Base{
		ClassNameV:    ClassName,
		NameV:         name,
		Mapper:        mapper,
		Logger:        logger,
		MediaFiltered: mediaFiltered,
	}
	e.Base.CreateData = e.createCallbackData
	return e, nil
}

type callbackData struct {
	re      *regexp.Regexp
	replace string
	logger  logging.Logger
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	if t.Kind != tag.KindSourceStarted && t.Kind != tag.KindSourceEnded {
		return []*tag.Tag{t}
	}
	sc, ok := t.Payload.(*SourceChange)
	if !ok {
		return []*tag.Tag{t}
	}
	if !c.re.MatchString(sc.SourceName) {
		if c.logger != nil {
			c.logger.WithField("source", sc.SourceName).Warn("stream renamer: no pattern match")
		}
		return []*tag.Tag{t}
	}
	newName := c.re.ReplaceAllString(sc.SourceName, c.replace)
	newPath := strings.ReplaceAll(sc.Path, sc.SourceName, newName)

	out := t.Clone()
	out.Payload = &SourceChange{SourceName: newName, Path: newPath}
	return []*tag.Tag{out}
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{re: e.re, replace: e.replace, logger: e.logger}
}

var _ graph.Element = (*Element)(nil)
