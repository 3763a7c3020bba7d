package policy

import (
	"context"
	"strconv"
	"time"

	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const TimedPlaylistClassName = "timed_playlist_policy"

// EmptyPolicy decides what TimedPlaylistPolicy does once a slot's media
// ends before its allotted time is up.
type EmptyPolicy int

const (
	// PolicyReplay replays the same playlist entry until the slot's time expires.
	PolicyReplay EmptyPolicy = iota
	// PolicyNext immediately advances to the next playlist entry.
	PolicyNext
	// PolicyWait plays nothing until the slot's time expires.
	PolicyWait
)

// TimedPlaylistEntry is one playlist slot: play Media for Duration.
type TimedPlaylistEntry struct {
	Duration time.Duration
	Media    string
}

// TimedPlaylistConfig configures a TimedPlaylistPolicy.
type TimedPlaylistConfig struct {
	Playlist     []TimedPlaylistEntry
	EmptyPolicy  EmptyPolicy
	LoopPlaylist bool
	IsTempPolicy bool
}

// TimedPlaylistPolicy plays each playlist entry for its configured
// duration, advancing on a timer rather than solely on EOS, grounded on
// policy.h's TimedPlaylistPolicy.
type TimedPlaylistPolicy struct {
	name   string
	elem   DrivenElement
	loop   *loop.Loop
	keeper statekeeper.Keeper
	logger logging.Logger
	cfg    TimedPlaylistConfig

	crt            int
	nextToPlay     int
	nextNextToPlay int
	lastSwitchTime time.Time

	haveAlarm bool
	alarm     loop.AlarmID
}

// NewTimedPlaylist constructs a timed playlist policy.
func NewTimedPlaylist(name string, elem DrivenElement, lp *loop.Loop, keeper statekeeper.Keeper, logger logging.Logger, cfg TimedPlaylistConfig) *TimedPlaylistPolicy {
	return &TimedPlaylistPolicy{
		name: name, elem: elem, loop: lp, keeper: keeper, logger: logger, cfg: cfg,
		crt: -1, nextToPlay: -1, nextNextToPlay: -1,
	}
}

func (p *TimedPlaylistPolicy) ClassName() string { return TimedPlaylistClassName }
func (p *TimedPlaylistPolicy) Name() string      { return p.name }

func (p *TimedPlaylistPolicy) Initialize() bool {
	p.loadState()
	p.saveState()
	return p.GoToNext()
}

func (p *TimedPlaylistPolicy) Reset() {
	p.crt = -1
	p.nextToPlay = -1
	p.nextNextToPlay = -1
	p.lastSwitchTime = time.Time{}
	p.saveState()
}

func (p *TimedPlaylistPolicy) Close() {
	if p.haveAlarm {
		p.loop.UnregisterAlarm(p.alarm)
		p.haveAlarm = false
	}
	if p.cfg.IsTempPolicy {
		p.keeper.Clear(context.Background(), p.name)
	}
}

func (p *TimedPlaylistPolicy) NotifyTag(t *tag.Tag, timestampMs int64) bool { return true }

func (p *TimedPlaylistPolicy) NotifyEos() bool {
	switch p.cfg.EmptyPolicy {
	case PolicyReplay:
		// Restart the entry without re-arming the slot's alarm.
		return p.elem.SwitchCurrentMedia(p.cfg.Playlist[p.crt].Media, nil, true)
	case PolicyNext:
		return p.GoToNext()
	default:
		return true
	}
}

func (p *TimedPlaylistPolicy) GoToNext() bool {
	if len(p.cfg.Playlist) == 0 {
		if p.logger != nil {
			p.logger.WithField("policy", p.name).Error("timed playlist policy has empty playlist")
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
	return p.playCurrent()
}

func (p *TimedPlaylistPolicy) GoToPrev() bool {
	if len(p.cfg.Playlist) == 0 {
		if p.logger != nil {
			p.logger.WithField("policy", p.name).Error("timed playlist policy has empty playlist")
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
	return p.playCurrent()
}

func (p *TimedPlaylistPolicy) AddToPlay(media string) bool {
	for i, e := range p.cfg.Playlist {
		if e.Media == media {
			p.nextToPlay = i
			p.saveState()
			return true
		}
	}
	return false
}

func (p *TimedPlaylistPolicy) playCurrent() bool {
	entry := p.cfg.Playlist[p.crt]
	ok := p.elem.SwitchCurrentMedia(entry.Media, nil, true)
	if !ok && p.logger != nil {
		p.logger.WithField("media", entry.Media).Error("timed playlist policy: invalid playlist entry")
	}

	now := p.loop.Now()
	var delay time.Duration
	if !p.lastSwitchTime.IsZero() && now.After(p.lastSwitchTime) {
		elapsed := now.Sub(p.lastSwitchTime)
		delay = entry.Duration - elapsed
		if delay < 0 {
			delay = 0
		}
	} else {
		delay = entry.Duration
	}
	if p.haveAlarm {
		p.loop.UnregisterAlarm(p.alarm)
	}
	p.alarm = p.loop.RegisterAlarm(delay, p.next)
	p.haveAlarm = true
	p.lastSwitchTime = now

	p.saveState()
	p.lastSwitchTime = time.Time{} // does not count toward the next switch
	return ok
}

func (p *TimedPlaylistPolicy) next() { p.GoToNext() }

// TimedPlaylistPlayInfo is GetPlayInfo's RPC-facing snapshot.
type TimedPlaylistPlayInfo struct {
	Current      string
	CurrentIndex int
	NextIndex    int
	Loop         bool
}

// GetPlayInfo reports what is currently playing and what plays next.
func (p *TimedPlaylistPolicy) GetPlayInfo() TimedPlaylistPlayInfo {
	info := TimedPlaylistPlayInfo{CurrentIndex: p.crt, NextIndex: p.nextToPlay, Loop: p.cfg.LoopPlaylist}
	if p.crt >= 0 && p.crt < len(p.cfg.Playlist) {
		info.Current = p.cfg.Playlist[p.crt].Media
	}
	return info
}

// Playlist returns the configured entries, for RPC reporting.
func (p *TimedPlaylistPolicy) Playlist() []TimedPlaylistEntry { return p.cfg.Playlist }

// SetPlaylist replaces the playlist at runtime.
func (p *TimedPlaylistPolicy) SetPlaylist(playlist []TimedPlaylistEntry, loop bool) {
	p.cfg.Playlist = playlist
	p.cfg.LoopPlaylist = loop
	p.crt = -1
	p.nextToPlay = -1
	p.nextNextToPlay = -1
	p.saveState()
}

func (p *TimedPlaylistPolicy) loadState() {
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

func (p *TimedPlaylistPolicy) saveState() {
	if p.keeper == nil {
		return
	}
	txn := p.keeper.Begin(p.name)
	txn.SetValue("crt", strconv.Itoa(p.crt))
	txn.SetValue("next_to_play", strconv.Itoa(p.nextToPlay))
	txn.Commit(context.Background())
}

var _ Policy = (*TimedPlaylistPolicy)(nil)
var _ Commandable = (*TimedPlaylistPolicy)(nil)
