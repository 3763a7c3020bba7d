package policy

import (
	"context"
	"math/rand"
	"strconv"
	"strings"

	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const RandomClassName = "random_policy"

const (
	randomKeyHistory = "history"
)

// RandomConfig configures a RandomPolicy.
type RandomConfig struct {
	IsTempPolicy   bool
	MaxHistorySize int
}

// RandomPolicy picks a uniformly random media from the driven element's
// media listing each time the current source ends, grounded on
// policy.h's RandomPolicy.
type RandomPolicy struct {
	name    string
	elem    DrivenElement
	keeper  statekeeper.Keeper
	logger  logging.Logger
	cfg     RandomConfig

	available  []string
	nextToPlay []string
	history    []string
	current    string
}

// NewRandom constructs a random policy. keeper persists play history under
// name as its namespace.
func NewRandom(name string, elem DrivenElement, keeper statekeeper.Keeper, logger logging.Logger, cfg RandomConfig) *RandomPolicy {
	return &RandomPolicy{name: name, elem: elem, keeper: keeper, logger: logger, cfg: cfg}
}

func (p *RandomPolicy) ClassName() string { return RandomClassName }
func (p *RandomPolicy) Name() string      { return p.name }

func (p *RandomPolicy) Initialize() bool {
	p.loadState()
	p.saveState()
	return p.GoToNext()
}

func (p *RandomPolicy) Reset() {
	p.nextToPlay = nil
	p.history = nil
	p.saveState()
}

func (p *RandomPolicy) Close() {
	if p.cfg.IsTempPolicy {
		p.keeper.Clear(context.Background(), p.name)
	}
}

func (p *RandomPolicy) NotifyTag(t *tag.Tag, timestampMs int64) bool { return true }

func (p *RandomPolicy) NotifyEos() bool { return p.GoToNext() }

func (p *RandomPolicy) GoToNext() bool {
	if len(p.available) == 0 {
		p.available = p.elem.ListMedia("")
		if len(p.available) == 0 {
			return false
		}
	}

	if len(p.nextToPlay) == 0 {
		p.current = p.available[rand.Intn(len(p.available))]
	} else {
		p.current = p.nextToPlay[0]
		p.nextToPlay = p.nextToPlay[1:]
	}
	if !p.elem.SwitchCurrentMedia(p.current, nil, true) {
		p.current = ""
		return false
	}
	p.history = append(p.history, p.current)
	if len(p.history) > p.cfg.MaxHistorySize {
		p.history = p.history[1:]
	}
	p.saveState()
	return true
}

func (p *RandomPolicy) GoToPrev() bool {
	if len(p.history) == 0 {
		return false
	}
	p.current = p.history[len(p.history)-1]
	ok := p.elem.SwitchCurrentMedia(p.current, nil, true)
	p.history = p.history[:len(p.history)-1]
	p.saveState()
	return ok
}

func (p *RandomPolicy) AddToPlay(media string) bool {
	if !p.elem.HasMedia(media) {
		return false
	}
	p.nextToPlay = append(p.nextToPlay, media)
	p.saveState()
	return true
}

func (p *RandomPolicy) loadState() {
	if p.keeper == nil {
		return
	}
	kv, err := p.keeper.GetKeyValues(context.Background(), p.name, randomKeyHistory+".")
	if err != nil {
		return
	}
	n := 0
	if v, ok := kv[randomKeyHistory+".count"]; ok {
		n, _ = strconv.Atoi(v)
	}
	for i := 0; i < n; i++ {
		if v, ok := kv[randomKeyHistory+"."+strconv.Itoa(i)]; ok {
			p.history = append(p.history, v)
		}
	}
}

func (p *RandomPolicy) saveState() {
	if p.keeper == nil {
		return
	}
	txn := p.keeper.Begin(p.name)
	txn.SetValue(randomKeyHistory+".count", strconv.Itoa(len(p.history)))
	for i, m := range p.history {
		txn.SetValue(randomKeyHistory+"."+strconv.Itoa(i), m)
	}
	txn.SetValue("current", p.current)
	txn.SetValue("next_to_play", strings.Join(p.nextToPlay, ","))
	txn.Commit(context.Background())
}

var _ Policy = (*RandomPolicy)(nil)
var _ Commandable = (*RandomPolicy)(nil)
