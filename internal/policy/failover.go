package policy

import (
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const FailoverClassName = "failover_policy"

const (
	tagTimeoutRegistrationGraceMs = 500
	retryOpenMediaMs              = 2500
	failoverReopenDelayMs         = 100
)

// FailoverConfig configures a FailoverPolicy: play MainMedia whenever it is
// alive, fall back to FailoverMedia when it stalls or disconnects.
type FailoverConfig struct {
	MainMedia                        string
	FailoverMedia                    string
	MainMediaTagsReceivedSwitchLimit int64
	FailoverTimeout                  time.Duration
	ChangeToMainOnlyOnSwitch         bool
}

// FailoverPolicy defaults to MainMedia, and switches to FailoverMedia when
// no tag arrives from it within FailoverTimeout; it switches back once
// MainMedia has proven itself alive for MainMediaTagsReceivedSwitchLimit
// tags, grounded on failover_policy.cc.
type FailoverPolicy struct {
	name   string
	elem   DrivenElement
	mapper *graph.Mapper
	loop   *loop.Loop
	logger logging.Logger
	cfg    FailoverConfig

	currentMedia          string
	mainMediaTagsReceived int64

	internalReq        *graph.Request
	registered         bool
	tagTimeoutAlarm    loop.AlarmID
	haveTagTimeout     bool
	openMediaAlarm     loop.AlarmID
	haveOpenMediaAlarm bool

	lastTagTimeoutRegistrationMs int64
}

// NewFailover constructs a failover policy. elem is the switching element
// this policy drives.
func NewFailover(name string, elem DrivenElement, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg FailoverConfig) *FailoverPolicy {
	return &FailoverPolicy{
		name:   name,
		elem:   elem,
		mapper: mapper,
		loop:   lp,
		logger: logger,
		cfg:    cfg,
	}
}

func (p *FailoverPolicy) ClassName() string { return FailoverClassName }
func (p *FailoverPolicy) Name() string      { return p.name }

func (p *FailoverPolicy) Initialize() bool {
	p.openMedia()
	return true
}

func (p *FailoverPolicy) Reset() {}

func (p *FailoverPolicy) Close() {
	p.closeMedia()
	if p.haveTagTimeout {
		p.loop.UnregisterAlarm(p.tagTimeoutAlarm)
		p.haveTagTimeout = false
	}
	if p.haveOpenMediaAlarm {
		p.loop.UnregisterAlarm(p.openMediaAlarm)
		p.haveOpenMediaAlarm = false
	}
}

func (p *FailoverPolicy) maybeReregisterTagTimeout(force bool, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	now := p.loop.Now().UnixMilli()
	if !force && p.lastTagTimeoutRegistrationMs+tagTimeoutRegistrationGraceMs >= now {
		return false
	}
	p.lastTagTimeoutRegistrationMs = now
	if p.haveTagTimeout {
		p.loop.UnregisterAlarm(p.tagTimeoutAlarm)
	}
	p.tagTimeoutAlarm = p.loop.RegisterAlarm(timeout, p.tagReceiveTimeout)
	p.haveTagTimeout = true
	return true
}

func (p *FailoverPolicy) openMedia() {
	req := graph.NewRequest("failover-policy:"+p.name, tag.Capabilities{AnyKind: true, FlavourMask: ^tag.Mask(0)}, graph.Info{})
	if !p.mapper.AddRequest(p.cfg.MainMedia, req, p.processMainTag) {
		if p.logger != nil {
			p.logger.WithField("media", p.cfg.MainMedia).Warn("failover policy: failed to register on main media")
		}
		p.openMediaAlarm = p.loop.RegisterAlarm(retryOpenMediaMs*time.Millisecond, p.openMedia)
		p.haveOpenMediaAlarm = true
		return
	}
	p.internalReq = req
	p.registered = true
	p.maybeReregisterTagTimeout(true, p.cfg.FailoverTimeout)
	if p.currentMedia != p.cfg.MainMedia {
		p.currentMedia = p.cfg.MainMedia
		p.elem.SwitchCurrentMedia(p.cfg.MainMedia, nil, false)
	}
}

func (p *FailoverPolicy) closeMedia() {
	if !p.registered {
		return
	}
	p.mapper.RemoveRequest(p.cfg.MainMedia, p.internalReq)
	p.internalReq = nil
	p.registered = false
}

func (p *FailoverPolicy) tagReceiveTimeout() {
	p.mainMediaTagsReceived = 0
	p.currentMedia = p.cfg.FailoverMedia
	p.elem.SwitchCurrentMedia(p.cfg.FailoverMedia, nil, false)
}

func (p *FailoverPolicy) NotifyEos() bool {
	if p.currentMedia != p.cfg.MainMedia && p.mainMediaTagsReceived > p.cfg.MainMediaTagsReceivedSwitchLimit {
		p.currentMedia = p.cfg.MainMedia
		p.elem.SwitchCurrentMedia(p.cfg.MainMedia, nil, false)
	} else {
		p.elem.SwitchCurrentMedia(p.currentMedia, nil, false)
	}
	return true
}

func (p *FailoverPolicy) NotifyTag(t *tag.Tag, timestampMs int64) bool {
	if p.currentMedia != p.cfg.MainMedia && t.Kind == tag.KindSourceStarted &&
		p.mainMediaTagsReceived > p.cfg.MainMediaTagsReceivedSwitchLimit {
		p.currentMedia = p.cfg.MainMedia
		p.elem.SwitchCurrentMedia(p.cfg.MainMedia, nil, false)
	}
	return true
}

func (p *FailoverPolicy) processMainTag(t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS {
		p.closeMedia()
		p.openMediaAlarm = p.loop.RegisterAlarm(failoverReopenDelayMs*time.Millisecond, p.openMedia)
		p.haveOpenMediaAlarm = true
		p.mainMediaTagsReceived = 0
		return
	}
	p.maybeReregisterTagTimeout(false, p.cfg.FailoverTimeout)
	p.mainMediaTagsReceived++
	if p.currentMedia != p.cfg.MainMedia &&
		p.mainMediaTagsReceived > p.cfg.MainMediaTagsReceivedSwitchLimit &&
		!p.cfg.ChangeToMainOnlyOnSwitch {
		p.currentMedia = p.cfg.MainMedia
		p.elem.SwitchCurrentMedia(p.cfg.MainMedia, nil, false)
	}
}

var _ Policy = (*FailoverPolicy)(nil)
