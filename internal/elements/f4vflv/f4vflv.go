// Package f4vflv implements the F4V-to-FLV conversion filter element,
// grounded on f4v_to_flv_converter_element.cc: converts
// F4V-container frame tags into FLV-wire tags, inserting a cue point ahead
// of every keyframe.
package f4vflv

import (
	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "f4v_to_flv_converter"

// F4VFramePayload is carried by frame tags produced by the F4V codec; the
// splitting element (fed by an F4V Splitter) is the typical upstream.
type F4VFramePayload interface {
	tag.Payload
	IsKeyframe() bool
}

// FlvPayload is the wire-ready FLV tag body this element produces.
type FlvPayload struct {
	Data []byte
}

func (p *FlvPayload) Clone() tag.Payload {
	clone := make([]byte, len(p.Data))
	copy(clone, p.Data)
	return &FlvPayload{Data: clone}
}

// Converter turns one F4V frame payload into zero or more FLV tag byte
// bodies (usually one, occasionally more for composite frames) and
// produces cue-point bodies for keyframes. The F4V codec package supplies
// the concrete implementation; this element only depends on the interface.
type Converter interface {
	ConvertFrame(payload F4VFramePayload, timestampMs int64) ([][]byte, error)
	CreateCuePoint(payload F4VFramePayload, cuePointNumber int64) []byte
}

// ConverterFactory creates a fresh Converter per request (a converter may
// carry per-stream codec configuration state, e.g. AVC decoder config).
type ConverterFactory func() Converter

// Element converts F4V frame tags flowing through mediaFiltered into FLV
// tags.
type Element struct {
	filterbase.Base
	newConverter ConverterFactory
	logger       logging.Logger
}

// New constructs an f4v-to-flv converter reading from mediaFiltered.
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string, newConverter ConverterFactory) *Element {
	e := &Element{newConverter: newConverter, logger: logger}
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
	converter      Converter
	cuePointNumber int64
	logger         logging.Logger
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	if t.Kind == tag.KindComposed {
		// Composed (multiplexed) tags are not unpacked here; demuxing
		// belongs to the splitting element upstream of this one.
		return nil
	}

	payload, ok := t.Payload.(F4VFramePayload)
	if !ok {
		return []*tag.Tag{t}
	}

	bodies, err := c.converter.ConvertFrame(payload, timestampMs)
	if err != nil {
		if c.logger != nil {
			c.logger.WithError(err).Warn("f4v_to_flv_converter: conversion failed")
		}
		return nil
	}

	var out []*tag.Tag
	if payload.IsKeyframe() {
		cueBody := c.converter.CreateCuePoint(payload, c.cuePointNumber)
		c.cuePointNumber++
		cue := tag.New(tag.KindCuePoint, tag.AttrIsMetadata, t.FlavourMask, timestampMs, 0, &FlvPayload{Data: cueBody})
		out = append(out, cue)
	}
	for _, b := range bodies {
		flv := tag.New(t.Kind, t.Attrs, t.FlavourMask, t.TimestampMs, t.DurationMs, &FlvPayload{Data: b})
		out = append(out, flv)
	}
	return out
}

func (c *callbackData) Unregister(req *graph.Request) bool { return true }

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return &callbackData{converter: e.newConverter(), logger: e.logger}
}

var _ graph.Element = (*Element)(nil)
