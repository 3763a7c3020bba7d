package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/switching"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/policy"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// PolicyRegistry builds policies from their JSON specs and attaches them to
// the switching element they drive, looked up by name in the mapper. Unlike
// elements, policies have no shared registry of their own, so this type also
// keeps the built policies indexed by name for later RPC lookups.
type PolicyRegistry struct {
	mapper *graph.Mapper
	lp     *loop.Loop
	keeper statekeeper.Keeper
	logger logging.Logger

	byName map[string]policy.Policy
}

func NewPolicyRegistry(mapper *graph.Mapper, lp *loop.Loop, keeper statekeeper.Keeper, logger logging.Logger) *PolicyRegistry {
	return &PolicyRegistry{mapper: mapper, lp: lp, keeper: keeper, logger: logger, byName: make(map[string]policy.Policy)}
}

// Lookup returns a previously built policy by name.
func (r *PolicyRegistry) Lookup(name string) (policy.Policy, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// drivenElement resolves elementName to the switching element it must name,
// returning an error a handler can surface directly to the caller.
func (r *PolicyRegistry) drivenElement(elementName string) (*switching.Element, error) {
	e, ok := r.mapper.Lookup(elementName)
	if !ok {
		return nil, fmt.Errorf("rpc: element %q not registered", elementName)
	}
	sw, ok := e.(*switching.Element)
	if !ok {
		return nil, fmt.Errorf("rpc: element %q is not a switching element", elementName)
	}
	return sw, nil
}

// Build constructs the named policy kind, attaches it to its driven
// switching element via SetPolicy, and runs Initialize.
func (r *PolicyRegistry) Build(kind, name string, raw json.RawMessage) (policy.Policy, error) {
	switch kind {
	case policy.PlaylistClassName:
		var p PlaylistParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		elem, err := r.drivenElement(p.Element)
		if err != nil {
			return nil, err
		}
		cfg := policy.PlaylistConfig{Playlist: p.Playlist, LoopPlaylist: p.LoopPlaylist, IsTempPolicy: p.IsTempPolicy}
		pol := policy.NewPlaylist(name, elem, r.keeper, r.logger, cfg)
		elem.SetPolicy(pol)
		if !pol.Initialize() {
			return nil, fmt.Errorf("rpc: playlist policy %q failed to initialize", name)
		}
		r.byName[name] = pol
		return pol, nil

	case policy.TimedPlaylistClassName:
		var p TimedPlaylistParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		elem, err := r.drivenElement(p.Element)
		if err != nil {
			return nil, err
		}
		entries := make([]policy.TimedPlaylistEntry, len(p.Playlist))
		for i, e := range p.Playlist {
			entries[i] = policy.TimedPlaylistEntry{Media: e.Media, Duration: time.Duration(e.DurationMs) * time.Millisecond}
		}
		emptyPolicy, err := parseEmptyPolicy(p.EmptyPolicy)
		if err != nil {
			return nil, err
		}
		cfg := policy.TimedPlaylistConfig{
			Playlist: entries, EmptyPolicy: emptyPolicy,
			LoopPlaylist: p.LoopPlaylist, IsTempPolicy: p.IsTempPolicy,
		}
		pol := policy.NewTimedPlaylist(name, elem, r.lp, r.keeper, r.logger, cfg)
		elem.SetPolicy(pol)
		if !pol.Initialize() {
			return nil, fmt.Errorf("rpc: timed playlist policy %q failed to initialize", name)
		}
		r.byName[name] = pol
		return pol, nil

	case policy.OnCommandClassName:
		var p OnCommandParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		elem, err := r.drivenElement(p.Element)
		if err != nil {
			return nil, err
		}
		cfg := policy.OnCommandConfig{DefaultMedia: p.DefaultMedia, IsTempPolicy: p.IsTempPolicy}
		pol := policy.NewOnCommand(name, elem, r.keeper, r.logger, cfg)
		elem.SetPolicy(pol)
		if !pol.Initialize() {
			return nil, fmt.Errorf("rpc: on-command policy %q failed to initialize", name)
		}
		r.byName[name] = pol
		return pol, nil

	case policy.RandomClassName:
		var p RandomParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		elem, err := r.drivenElement(p.Element)
		if err != nil {
			return nil, err
		}
		cfg := policy.RandomConfig{IsTempPolicy: p.IsTempPolicy, MaxHistorySize: p.MaxHistorySize}
		pol := policy.NewRandom(name, elem, r.keeper, r.logger, cfg)
		elem.SetPolicy(pol)
		if !pol.Initialize() {
			return nil, fmt.Errorf("rpc: random policy %q failed to initialize", name)
		}
		r.byName[name] = pol
		return pol, nil

	case policy.FailoverClassName:
		var p FailoverParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		elem, err := r.drivenElement(p.Element)
		if err != nil {
			return nil, err
		}
		cfg := policy.FailoverConfig{
			MainMedia: p.MainMedia, FailoverMedia: p.FailoverMedia,
			MainMediaTagsReceivedSwitchLimit: p.MainMediaTagsReceivedSwitchLimit,
			FailoverTimeout:                  time.Duration(p.FailoverTimeoutMs) * time.Millisecond,
			ChangeToMainOnlyOnSwitch:         p.ChangeToMainOnlyOnSwitch,
		}
		pol := policy.NewFailover(name, elem, r.mapper, r.lp, r.logger, cfg)
		elem.SetPolicy(pol)
		if !pol.Initialize() {
			return nil, fmt.Errorf("rpc: failover policy %q failed to initialize", name)
		}
		r.byName[name] = pol
		return pol, nil

	default:
		return nil, fmt.Errorf("rpc: unknown policy kind %q", kind)
	}
}

func parseEmptyPolicy(s string) (policy.EmptyPolicy, error) {
	switch s {
	case "", "replay":
		return policy.PolicyReplay, nil
	case "next":
		return policy.PolicyNext, nil
	case "wait":
		return policy.PolicyWait, nil
	default:
		return 0, fmt.Errorf("rpc: unknown empty_policy %q", s)
	}
}
