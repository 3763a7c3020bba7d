// Package dropping implements the dropping filter element,
// grounded on dropping_element.cc/.h: independent accept/drop period state
// machines per flavour for audio and video.
package dropping

import (
	"math"

	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "dropping"

// Params are the dropping period parameters.
type Params struct {
	AudioAcceptMs        int64
	AudioDropMs          int64
	VideoAcceptMs        int64
	VideoDropMs          int64
	VideoGraceKeyframes  int32
}

// Element is a dropping filter instance.
type Element struct {
	filterbase.Base
	params    Params
	bootstrap bootstrapState
}

// New constructs a dropping element reading from mediaFiltered.
func New(name string, mapper *graph.Mapper, logger logging.Logger, mediaFiltered string, p Params) *Element {
	e := &Element{params: p}
	e.Base = filterbase.Base{
		ClassNameV:    ClassName,
		NameV:         name,
		Mapper:        mapper,
		Logger:        logger,
		MediaFiltered: mediaFiltered,
	}
	e.Base.CreateData = e.createCallbackData
	e.Base.OnUpstreamTag = e.onUpstreamTag
	return e
}

// perFlavourDropper is a per-flavour, per-request instance of the
// accept/drop state machine (StreamDroppingUtil in the original).
type perFlavourDropper struct {
	p Params

	videoGraceSent    int32
	firstAudio        bool
	firstVideo        bool
	videoKeyframeSent bool
	droppingVideo     bool
	nextSwitchVideo   int64
	audioKeyframeSent bool
	droppingAudio     bool
	nextSwitchAudio   int64
}

func newPerFlavourDropper(p Params) *perFlavourDropper {
	return &perFlavourDropper{
		p:               p,
		firstAudio:      true,
		firstVideo:      true,
		nextSwitchVideo: p.VideoAcceptMs,
		nextSwitchAudio: p.AudioAcceptMs,
	}
}

// filter mirrors StreamDroppingUtil::Filter: returns true to forward.
func (d *perFlavourDropper) filter(t *tag.Tag, timestampMs int64) bool {
	if t.Kind == tag.KindSourceStarted {
		if d.droppingVideo {
			d.nextSwitchVideo = timestampMs
		}
		if d.droppingAudio {
			d.nextSwitchAudio = timestampMs
		}
	}

	if t.Kind == tag.KindComposed {
		return false
	}

	if d.firstAudio {
		d.firstAudio = false
		d.droppingAudio = d.p.AudioAcceptMs <= 0
		if d.p.AudioDropMs > 0 {
			d.nextSwitchAudio = timestampMs + d.p.AudioAcceptMs
		} else {
			d.nextSwitchAudio = math.MaxInt64
		}
	}
	if d.firstVideo {
		if d.p.VideoGraceKeyframes <= d.videoGraceSent {
			d.firstVideo = false
			d.droppingVideo = d.p.VideoAcceptMs <= 0
			if d.p.VideoDropMs > 0 {
				d.nextSwitchVideo = timestampMs + d.p.VideoAcceptMs
			} else {
				d.nextSwitchVideo = math.MaxInt64
			}
		}
	}

	toDrop := false

	if t.IsVideo() {
		if d.firstVideo {
			if t.CanResync() {
				d.videoGraceSent++
			}
			return true
		}
		if timestampMs >= d.nextSwitchVideo {
			if d.droppingVideo && d.p.VideoAcceptMs > 0 {
				if t.CanResync() {
					d.videoKeyframeSent = true
					d.droppingVideo = false
					d.nextSwitchVideo = timestampMs + d.p.VideoAcceptMs
				}
			} else if !d.droppingVideo && d.videoKeyframeSent {
				d.droppingVideo = true
				d.videoKeyframeSent = false
				d.nextSwitchVideo = timestampMs + d.p.VideoDropMs
			}
		}
		if t.CanResync() && !d.droppingVideo {
			d.videoKeyframeSent = true
		}
		if d.droppingVideo {
			toDrop = true
		}
	} else if t.IsAudio() {
		if timestampMs >= d.nextSwitchAudio {
			if d.droppingAudio && d.p.AudioAcceptMs > 0 {
				if t.CanResync() {
					d.audioKeyframeSent = true
					d.droppingAudio = false
					d.nextSwitchAudio = timestampMs + d.p.AudioAcceptMs
				}
			} else if !d.droppingAudio && d.audioKeyframeSent {
				d.droppingAudio = true
				d.audioKeyframeSent = false
				d.nextSwitchAudio = timestampMs + d.p.AudioDropMs
			}
		}
		if t.CanResync() && !d.droppingAudio {
			d.audioKeyframeSent = true
		}
		if d.droppingAudio {
			toDrop = true
		}
	}

	return !toDrop
}

// callbackData is the per-request CallbackData; it lazily creates one
// perFlavourDropper per flavour the request sees tags on.
type callbackData struct {
	params   Params
	droppers map[tag.Flavour]*perFlavourDropper
}

func newCallbackData(p Params) *callbackData {
	return &callbackData{params: p, droppers: make(map[tag.Flavour]*perFlavourDropper)}
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	if t.Kind == tag.KindEOS {
		return []*tag.Tag{t}
	}

	var keep tag.Mask
	tag.Each(t.FlavourMask, func(f tag.Flavour) {
		d, ok := c.droppers[f]
		if !ok {
			d = newPerFlavourDropper(c.params)
			c.droppers[f] = d
		}
		if d.filter(t, timestampMs) {
			keep |= 1 << uint(f)
		}
	})
	if keep == 0 {
		return nil
	}
	return []*tag.Tag{t.WithFlavourMask(keep)}
}

func (c *callbackData) Unregister(req *graph.Request) bool {
	c.droppers = make(map[tag.Flavour]*perFlavourDropper)
	return true
}

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	return newCallbackData(e.params)
}

// bootstrap holds the last forwarded keyframe per flavour, replayed to new
// clients.
type bootstrapState struct {
	keyframes [tag.MaxFlavours]*tag.Tag
}

func (e *Element) onUpstreamTag(t *tag.Tag, timestampMs int64) *tag.Tag {
	if t.Kind == tag.KindSourceEnded {
		e.clearBootstrap()
	}
	if t.IsVideo() && t.CanResync() {
		tag.Each(t.FlavourMask, func(f tag.Flavour) {
			e.bootstrap.keyframes[f] = t
		})
	}
	return t
}

func (e *Element) clearBootstrap() {
	for i := range e.bootstrap.keyframes {
		e.bootstrap.keyframes[i] = nil
	}
}

// AddRequest additionally replays the bootstrap keyframe for every
// requested flavour at the time the request joins.
func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	if !e.Base.AddRequest(path, req, cb) {
		return false
	}
	tag.Each(req.Caps.FlavourMask, func(f tag.Flavour) {
		if kf := e.bootstrap.keyframes[f]; kf != nil {
			cb(kf, 0)
		}
	})
	return true
}

var _ graph.Element = (*Element)(nil)
