package policy

import (
	"context"

	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const OnCommandClassName = "on_command_policy"

// OnCommandConfig configures an OnCommandPolicy.
type OnCommandConfig struct {
	DefaultMedia string
	IsTempPolicy bool
}

// OnCommandPolicy has exactly one default media but can be switched to any
// other media reachable from the driven element's mapper via an RPC
// command, grounded on policy.h's OnCommandPolicy.
type OnCommandPolicy struct {
	name   string
	elem   DrivenElement
	keeper statekeeper.Keeper
	logger logging.Logger
	cfg    OnCommandConfig

	defaultMedia string
	currentMedia string
	nextMedia    string
}

// NewOnCommand constructs an on-command policy.
func NewOnCommand(name string, elem DrivenElement, keeper statekeeper.Keeper, logger logging.Logger, cfg OnCommandConfig) *OnCommandPolicy {
	return &OnCommandPolicy{
		name: name, elem: elem, keeper: keeper, logger: logger, cfg: cfg,
		defaultMedia: cfg.DefaultMedia,
	}
}

func (p *OnCommandPolicy) ClassName() string { return OnCommandClassName }
func (p *OnCommandPolicy) Name() string      { return p.name }

func (p *OnCommandPolicy) Initialize() bool {
	p.loadState()
	p.saveState()
	if p.currentMedia == "" {
		p.currentMedia = p.defaultMedia
	}
	if p.currentMedia == "" {
		return true
	}
	return p.elem.SwitchCurrentMedia(p.currentMedia, nil, true)
}

func (p *OnCommandPolicy) Reset() {
	p.currentMedia = ""
	p.nextMedia = ""
	p.saveState()
}

func (p *OnCommandPolicy) Close() {
	if p.cfg.IsTempPolicy {
		p.keeper.Clear(context.Background(), p.name)
	}
}

func (p *OnCommandPolicy) NotifyTag(t *tag.Tag, timestampMs int64) bool { return true }

func (p *OnCommandPolicy) NotifyEos() bool {
	if p.nextMedia != "" {
		p.currentMedia = p.nextMedia
		p.nextMedia = ""
	}
	target := p.currentMedia
	if target == "" {
		target = p.defaultMedia
	}
	if target == "" {
		return true
	}
	p.saveState()
	return p.elem.SwitchCurrentMedia(target, nil, true)
}

// PlayMedia switches to media at once when alsoSwitch is set, remembering
// it as the current media; otherwise it queues media to play at the next
// EOS. setAsDefault also makes media the default.
func (p *OnCommandPolicy) PlayMedia(media string, setAsDefault, alsoSwitch bool) bool {
	if !p.elem.HasMedia(media) {
		return false
	}
	if setAsDefault {
		p.defaultMedia = media
	}
	if alsoSwitch {
		p.currentMedia = media
		p.saveState()
		return p.elem.SwitchCurrentMedia(media, nil, true)
	}
	p.nextMedia = media
	p.saveState()
	return true
}

// DefaultMedia reports the current default media, for RPC reporting.
func (p *OnCommandPolicy) DefaultMedia() string { return p.defaultMedia }

// OnCommandPlayInfo is GetPlayInfo's RPC-facing snapshot.
type OnCommandPlayInfo struct {
	Current      string
	Next         string
	DefaultMedia string
}

// GetPlayInfo reports the current/next/default media.
func (p *OnCommandPolicy) GetPlayInfo() OnCommandPlayInfo {
	return OnCommandPlayInfo{Current: p.currentMedia, Next: p.nextMedia, DefaultMedia: p.defaultMedia}
}

func (p *OnCommandPolicy) loadState() {
	if p.keeper == nil {
		return
	}
	kv, err := p.keeper.GetKeyValues(context.Background(), p.name, "")
	if err != nil {
		return
	}
	if v, ok := kv["default_media"]; ok {
		p.defaultMedia = v
	}
	if v, ok := kv["current_media"]; ok {
		p.currentMedia = v
	}
	if v, ok := kv["next_media"]; ok {
		p.nextMedia = v
	}
}

func (p *OnCommandPolicy) saveState() {
	if p.keeper == nil {
		return
	}
	txn := p.keeper.Begin(p.name)
	txn.SetValue("default_media", p.defaultMedia)
	txn.SetValue("current_media", p.currentMedia)
	txn.SetValue("next_media", p.nextMedia)
	txn.Commit(context.Background())
}

var _ Policy = (*OnCommandPolicy)(nil)
