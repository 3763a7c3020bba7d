// Package switching implements the policy-driven multiplexer element,
// grounded on switching_element.h: exactly one upstream at a
// time, fanned out per flavour to many downstream clients.
package switching

import (
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "switching"

const (
	tagTimeoutRegistrationGraceMs = 1000
	registerMinIntervalMs         = 3000
)

// state is the switching element's lifecycle state.
type state int

const (
	stateIdle state = iota
	stateRegistered
	stateSwitching
	stateClosing
)

// Policy is the subset of policy.Policy the switching element drives; kept
// local to avoid an import cycle with internal/policy (which depends on
// graph.Switchable, which this element implements).
type Policy interface {
	Initialize() bool
	NotifyTag(t *tag.Tag, timestampMs int64) bool
	NotifyEos() bool
	Close()
}

// bootstrapSet is what a newly joining client is replayed, per flavour,
// before live tags.
type bootstrapSet struct {
	keyframe *tag.Tag
	mediaInfo *tag.Tag
	metadata *tag.Tag
}

// Element is a switching element instance.
type Element struct {
	nameV  string
	mapper *graph.Mapper
	loop   *loop.Loop
	logger logging.Logger

	caps              tag.Capabilities
	tagTimeoutMs      int64
	writeAheadMs      int64
	mediaOnlyWhenUsed bool

	policy Policy

	st                  state
	currentMedia        string
	mediaNameToRegister string
	internalReq         *graph.Request

	bootstraps [tag.MaxFlavours]bootstrapSet
	distrib    [tag.MaxFlavours]*distributor

	haveTagTimeoutAlarm          bool
	tagTimeoutAlarm              loop.AlarmID
	lastTagTimeoutRegistrationMs int64

	haveRegisterAlarm bool
	registerAlarm     loop.AlarmID
	lastRegisterMs    int64

	closeDone graph.DoneCallback
}

// New constructs a switching element. SetPolicy must be called once,
// before Initialize, since policies are constructed with a reference back
// to their driven element.
func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, caps tag.Capabilities, tagTimeoutMs, writeAheadMs int64, mediaOnlyWhenUsed bool) *Element {
	e := &Element{
		nameV:             name,
		mapper:            mapper,
		loop:              lp,
		logger:            logger,
		caps:              caps,
		tagTimeoutMs:      tagTimeoutMs,
		writeAheadMs:      writeAheadMs,
		mediaOnlyWhenUsed: mediaOnlyWhenUsed,
		st:                stateIdle,
	}
	for i := range e.distrib {
		e.distrib[i] = newDistributor()
	}
	return e
}

// SetPolicy attaches the policy driving this element's source selection.
func (e *Element) SetPolicy(p Policy) { e.policy = p }

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.nameV }

func (e *Element) Initialize() bool {
	if e.policy == nil {
		return false
	}
	if !e.mediaOnlyWhenUsed {
		return e.policy.Initialize()
	}
	return true
}

// CurrentMedia reports the upstream media this element is currently
// registered against.
func (e *Element) CurrentMedia() string { return e.currentMedia }

// CountClients returns the total number of downstream clients across all
// flavours.
func (e *Element) CountClients() int {
	n := 0
	for _, d := range e.distrib {
		n += d.count()
	}
	return n
}

// SwitchCurrentMedia is the policy-facing entry point: register upstream
// on mediaName, replacing whatever was registered before.
func (e *Element) SwitchCurrentMedia(mediaName string, info *graph.Info, forceSwitch bool) bool {
	if e.st == stateClosing {
		return false
	}
	if mediaName == e.currentMedia && !forceSwitch {
		return true
	}
	e.unregister(true, false)
	e.mediaNameToRegister = mediaName
	if !e.mediaOnlyWhenUsed || e.CountClients() > 0 {
		e.register(mediaName)
	}
	return true
}

func (e *Element) register(mediaName string) {
	now := e.loop.Now().UnixMilli()
	if e.lastRegisterMs != 0 && now-e.lastRegisterMs < registerMinIntervalMs {
		if e.haveRegisterAlarm {
			e.loop.UnregisterAlarm(e.registerAlarm)
		}
		delay := time.Duration(registerMinIntervalMs-(now-e.lastRegisterMs)) * time.Millisecond
		e.registerAlarm = e.loop.RegisterAlarm(delay, func() { e.register(mediaName) })
		e.haveRegisterAlarm = true
		return
	}

	req := graph.NewRequest("switching:"+e.nameV, e.caps, graph.Info{})
	if !e.mapper.AddRequest(mediaName, req, e.processTag) {
		if e.logger != nil {
			e.logger.WithField("media", mediaName).Warn("switching element: failed to register upstream")
		}
		e.st = stateSwitching
		return
	}
	e.internalReq = req
	e.currentMedia = mediaName
	e.st = stateRegistered
	e.lastRegisterMs = now
	e.maybeReregisterTagTimeout(true)
}

// unregister tears down the current upstream registration. sendSourceEnded
// controls whether downstream clients are told the source ended (false
// when Close is about to send them a harder EOS anyway).
func (e *Element) unregister(sendSourceEnded, sendFlush bool) {
	if e.internalReq == nil {
		return
	}
	e.mapper.RemoveRequest(e.currentMedia, e.internalReq)
	e.internalReq = nil
	if e.haveTagTimeoutAlarm {
		e.loop.UnregisterAlarm(e.tagTimeoutAlarm)
		e.haveTagTimeoutAlarm = false
	}
	if sendSourceEnded {
		ended := tag.New(tag.KindSourceEnded, 0, ^tag.Mask(0), 0, 0, nil)
		e.broadcast(ended, 0)
	}
	if sendFlush {
		flush := tag.New(tag.KindFlush, 0, ^tag.Mask(0), 0, 0, nil)
		e.broadcast(flush, 0)
	}
	e.currentMedia = ""
	e.st = stateIdle
}

func (e *Element) maybeReregisterTagTimeout(force bool) bool {
	if e.tagTimeoutMs <= 0 {
		return false
	}
	now := e.loop.Now().UnixMilli()
	if !force && e.lastTagTimeoutRegistrationMs+tagTimeoutRegistrationGraceMs > now {
		return false
	}
	e.lastTagTimeoutRegistrationMs = now
	if e.haveTagTimeoutAlarm {
		e.loop.UnregisterAlarm(e.tagTimeoutAlarm)
	}
	e.tagTimeoutAlarm = e.loop.RegisterAlarm(time.Duration(e.tagTimeoutMs)*time.Millisecond, e.tagReceiveTimeout)
	e.haveTagTimeoutAlarm = true
	return true
}

func (e *Element) tagReceiveTimeout() {
	e.haveTagTimeoutAlarm = false
	e.st = stateSwitching
	if e.policy != nil {
		e.policy.NotifyEos()
	}
}

func (e *Element) streamEnded() {
	e.st = stateSwitching
	if e.policy != nil {
		e.policy.NotifyEos()
	}
}

func (e *Element) processTag(t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS || t.Kind == tag.KindSourceEnded {
		e.streamEnded()
		return
	}
	e.maybeReregisterTagTimeout(false)
	e.updateBootstrap(t)
	if e.policy != nil {
		e.policy.NotifyTag(t, timestampMs)
	}
	e.broadcast(t, timestampMs)
}

func (e *Element) updateBootstrap(t *tag.Tag) {
	tag.Each(t.FlavourMask, func(f tag.Flavour) {
		switch {
		case t.IsVideo() && t.CanResync():
			e.bootstraps[f].keyframe = t
		case t.Kind == tag.KindMediaInfo:
			e.bootstraps[f].mediaInfo = t
		case t.IsMetadata():
			e.bootstraps[f].metadata = t
		}
	})
}

func (e *Element) broadcast(t *tag.Tag, timestampMs int64) {
	tag.Each(t.FlavourMask, func(f tag.Flavour) {
		d := e.distrib[f]
		for req, cb := range d.clients {
			narrowed := t.WithFlavourMask(t.FlavourMask.Intersect(req.Caps.FlavourMask))
			cb(narrowed, timestampMs)
		}
	})
}

func (e *Element) replayBootstrap(req *graph.Request, cb graph.ProcessingCallback) {
	tag.Each(req.Caps.FlavourMask, func(f tag.Flavour) {
		b := e.bootstraps[f]
		if b.mediaInfo != nil {
			cb(b.mediaInfo.WithFlavourMask(1<<uint(f)), 0)
		}
		if b.keyframe != nil {
			cb(b.keyframe.WithFlavourMask(1<<uint(f)), 0)
		}
		if b.metadata != nil {
			cb(b.metadata.WithFlavourMask(1<<uint(f)), 0)
		}
	})
}

func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	if e.st == stateClosing {
		return false
	}
	wasUnused := e.CountClients() == 0
	tag.Each(req.Caps.FlavourMask, func(f tag.Flavour) {
		e.distrib[f].add(req, cb)
	})
	e.replayBootstrap(req, cb)
	if e.mediaOnlyWhenUsed && wasUnused && e.mediaNameToRegister != "" && e.internalReq == nil {
		e.register(e.mediaNameToRegister)
	}
	return true
}

func (e *Element) RemoveRequest(req *graph.Request) {
	for i := range e.distrib {
		e.distrib[i].remove(req)
	}
	if e.mediaOnlyWhenUsed && e.CountClients() == 0 {
		e.unregister(false, false)
	}
}

func (e *Element) HasMedia(path string) bool {
	return e.mapper.HasMedia(e.currentMedia)
}

func (e *Element) ListMedia(dir string) []string {
	return e.mapper.ListMedia(dir)
}

func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	return e.mapper.DescribeMedia(e.currentMedia, cb)
}

func (e *Element) Close(done graph.DoneCallback) {
	e.st = stateClosing
	e.unregister(false, false)
	eos := tag.New(tag.KindEOS, 0, ^tag.Mask(0), 0, 0, nil)
	for i := range e.distrib {
		mask := tag.Mask(1) << uint(i)
		for req, cb := range e.distrib[i].clients {
			cb(eos.WithFlavourMask(mask.Intersect(req.Caps.FlavourMask)), 0)
		}
		e.distrib[i] = newDistributor()
	}
	if e.policy != nil {
		e.policy.Close()
	}
	if done != nil {
		done()
	}
}

var _ graph.Switchable = (*Element)(nil)
