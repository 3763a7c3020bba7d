package policy

import (
	"context"
	"strconv"

	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const PlaylistClassName = "playlist_policy"

// PlaylistConfig configures a PlaylistPolicy.
type PlaylistConfig struct {
	Playlist     []string
	LoopPlaylist bool
	IsTempPolicy bool
}

// PlaylistPolicy plays a fixed ordered list, advancing on every EOS,
// looping back to the start if LoopPlaylist is set, grounded on
// policy.h's PlaylistPolicy.
type PlaylistPolicy struct {
	name   string
	elem   DrivenElement
	keeper statekeeper.Keeper
	logger logging.Logger
	cfg    PlaylistConfig

	crt            int
	nextToPlay     int
	nextNextToPlay int
}

// NewPlaylist constructs a playlist policy.
func NewPlaylist(name string, elem DrivenElement, keeper statekeeper.Keeper, logger logging.Logger, cfg PlaylistConfig) *PlaylistPolicy {
	return &PlaylistPolicy{
		name: name, elem: elem, keeper: keeper, logger: logger, cfg: cfg,
		crt: -1, nextToPlay: -1, nextNextToPlay: -1,
	}
}

func (p *PlaylistPolicy) ClassName() string { return PlaylistClassName }
func (p *PlaylistPolicy) Name() string      { return p.name }

func (p *PlaylistPolicy) Initialize() bool {
	p.loadState()
	p.saveState()
	return p.GoToNext()
}

func (p *PlaylistPolicy) Reset() {
	p.crt = -1
	p.nextToPlay = -1
	p.nextNextToPlay = -1
	p.saveState()
}

func (p *PlaylistPolicy) Close() {
	if p.cfg.IsTempPolicy {
		p.keeper.Clear(context.Background(), p.name)
	}
}

func (p *PlaylistPolicy) NotifyTag(t *tag.Tag, timestampMs int64) bool { return true }
func (p *PlaylistPolicy) NotifyEos() bool                              { return p.GoToNext() }

func (p *PlaylistPolicy) GoToNext() bool {
	if len(p.cfg.Playlist) == 0 {
		if p.logger != nil {
			p.logger.WithField("policy", p.name).Error("playlist policy has empty playlist")
		}
		return false
	}
	if p.nextToPlay >= 0 && p.nextToPlay < len(p.cfg.Playlist) {
		p.crt = p.nextToPlay
		if p.nextNextToPlay >= 0 && p.nextNextToPlay < len(p.cfg.Playlist) {
			p.nextToPlay = p.nextNextToPlay
			p.nextNextToPlay = -1
		} else {
			p.nextToPlay = -1
		}
	} else {
		p.crt++
		if p.crt >= len(p.cfg.Playlist) {
			if !p.cfg.LoopPlaylist {
				p.saveState()
				return false
			}
			p.crt = 0
		}
	}
	p.saveState()
	ok := p.elem.SwitchCurrentMedia(p.cfg.Playlist[p.crt], nil, true)
	if !ok && p.logger != nil {
		p.logger.WithField("media", p.cfg.Playlist[p.crt]).Warn("playlist policy: cannot switch, ending playlist")
	}
	return ok
}

func (p *PlaylistPolicy) GoToPrev() bool {
	if len(p.cfg.Playlist) == 0 {
		if p.logger != nil {
			p.logger.WithField("policy", p.name).Error("playlist policy has empty playlist")
		}
		return false
	}
	p.crt--
	if p.crt < 0 {
		if !p.cfg.LoopPlaylist {
			p.saveState()
			return false
		}
		p.crt = len(p.cfg.Playlist) - 1
	}
	p.saveState()
	return p.elem.SwitchCurrentMedia(p.cfg.Playlist[p.crt], nil, true)
}

func (p *PlaylistPolicy) AddToPlay(media string) bool {
	for i, m := range p.cfg.Playlist {
		if m == media {
			p.nextToPlay = i
			p.saveState()
			return true
		}
	}
	return false
}

// Playlist returns the configured playlist, for RPC reporting.
func (p *PlaylistPolicy) Playlist() []string { return p.cfg.Playlist }

// PlayInfo is GetPlayInfo's RPC-facing snapshot.
type PlayInfo struct {
	Current      string
	CurrentIndex int
	NextIndex    int
	Loop         bool
}

// GetPlayInfo reports what is currently playing and what plays next.
func (p *PlaylistPolicy) GetPlayInfo() PlayInfo {
	info := PlayInfo{CurrentIndex: p.crt, NextIndex: p.nextToPlay, Loop: p.cfg.LoopPlaylist}
	if p.crt >= 0 && p.crt < len(p.cfg.Playlist) {
		info.Current = p.cfg.Playlist[p.crt]
	}
	return info
}

// SetPlaylist replaces the playlist at runtime.
func (p *PlaylistPolicy) SetPlaylist(playlist []string, loop bool) {
	p.cfg.Playlist = playlist
	p.cfg.LoopPlaylist = loop
	p.crt = -1
	p.nextToPlay = -1
	p.nextNextToPlay = -1
	p.saveState()
}

func (p *PlaylistPolicy) loadState() {
	if p.keeper == nil {
		return
	}
	kv, err := p.keeper.GetKeyValues(context.Background(), p.name, "")
	if err != nil {
		return
	}
	if v, ok := kv["crt"]; ok {
		p.crt, _ = strconv.Atoi(v)
	}
	if v, ok := kv["next_to_play"]; ok {
		p.nextToPlay, _ = strconv.Atoi(v)
	}
}

func (p *PlaylistPolicy) saveState() {
	if p.keeper == nil {
		return
	}
	txn := p.keeper.Begin(p.name)
	txn.SetValue("crt", strconv.Itoa(p.crt))
	txn.SetValue("next_to_play", strconv.Itoa(p.nextToPlay))
	txn.Commit(context.Background())
}

var _ Policy = (*PlaylistPolicy)(nil)
var _ Commandable = (*PlaylistPolicy)(nil)
