// Package resolver implements the caching remote-resolving element,
// grounded on remote_resolver_element.h: resolves a media
// name to a local play sequence via a remote gRPC call
// (internal/rpc/resolverpb), caches the result for a bounded time, and
// plays the sequence's entries back to back (looping if the resolution
// says so), advancing on every upstream EOS.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/rpc/resolverpb"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/cache"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "remote_resolver"

// defaultMaxCacheEntries bounds the resolve-spec cache when Config doesn't
// set one, so a misbehaving upstream with unbounded media names can't grow
// this element's memory without limit.
const defaultMaxCacheEntries = 10000

// errNoClients means the element was configured with no resolver targets.
var errNoClients = errors.New("remote_resolver: no resolver clients configured")

// Config mirrors RemoteResolverElement's constructor parameters.
type Config struct {
	CacheExpiration  time.Duration
	MaxCacheEntries  int
	Clients          []*resolverpb.ResolverClient // tried in order, for retries
	NumRetries       int
	RequestTimeout   time.Duration
	LocalLookupFirst bool
	DefaultCaps      tag.Capabilities
}

// resolveSpec is the in-process shape of a resolverpb.ResolveReply, kept
// separate from the wire type so caching/playback logic doesn't reach
// into the RPC package's types directly.
type resolveSpec struct {
	ToPlay []string
	Loop   bool
}

// Element is a caching remote-resolving source. The resolve-spec cache is
// pkg/cache.Cache, which collapses concurrent cache-miss lookups for the
// same media through golang.org/x/sync/singleflight so two requests that
// arrive together never issue duplicate RPCs.
type Element struct {
	name   string
	mapper *graph.Mapper
	lp     *loop.Loop
	logger logging.Logger
	cfg    Config

	resolveCache *cache.Cache

	mu      sync.Mutex
	active  map[*graph.Request]*playState
	closing bool
}

type playState struct {
	req      *graph.Request
	cb       graph.ProcessingCallback
	media    string
	toPlay   []string
	loop     bool
	index    int
	cancel   context.CancelFunc
}

func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg Config) *Element {
	if cfg.CacheExpiration <= 0 {
		cfg.CacheExpiration = time.Minute
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = defaultMaxCacheEntries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	e := &Element{
		name:   name,
		mapper: mapper,
		lp:     lp,
		logger: logger,
		cfg:    cfg,
		active: make(map[*graph.Request]*playState),
	}
	e.resolveCache = cache.New(cache.Options{
		TTL:        cfg.CacheExpiration,
		MaxEntries: cfg.MaxCacheEntries,
	}, cache.MetricsHooks{})
	return e
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }

func (e *Element) Initialize() bool { return true }

func (e *Element) AddRequest(media string, req *graph.Request, cb graph.ProcessingCallback) bool {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	if e.cfg.LocalLookupFirst && e.mapper.AddRequest(media, req, cb) {
		return true
	}

	if v, cached := e.resolveCache.Peek(media); cached {
		return e.startPlaySequence(req, cb, media, v.(resolveSpec))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps := &playState{req: req, cb: cb, media: media, cancel: cancel}
	e.mu.Lock()
	e.active[req] = ps
	e.mu.Unlock()
	go e.runLookup(ctx, media, req, cb)
	return true
}

// loadSpec is the resolveCache.Loader: it performs the real resolve RPC,
// retrying across configured clients. Concurrent runLookup calls for the
// same media key collapse into a single in-flight loadSpec call via the
// cache's internal singleflight group.
func (e *Element) loadSpec(ctx context.Context, media string) (interface{}, bool, error) {
	n := len(e.cfg.Clients)
	if n == 0 {
		return nil, false, errNoClients
	}
	retries := e.cfg.NumRetries
	if retries < 1 {
		retries = 1
	}
	var spec resolveSpec
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		client := e.cfg.Clients[attempt%n]
		spec, err = e.callResolve(ctx, client, media)
		if err == nil {
			return spec, true, nil
		}
	}
	return nil, false, err
}

func (e *Element) runLookup(ctx context.Context, media string, req *graph.Request, cb graph.ProcessingCallback) {
	val, ok, err := e.resolveCache.Get(ctx, media, e.loadSpec)
	if !ok {
		if e.logger != nil {
			e.logger.WithError(err).WithField("media", media).Warn("remote_resolver: lookup failed")
		}
		e.mu.Lock()
		delete(e.active, req)
		e.mu.Unlock()
		cb(tag.New(tag.KindEOS, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
		return
	}

	spec := val.(resolveSpec)
	e.mu.Lock()
	delete(e.active, req)
	e.mu.Unlock()

	e.lp.RunInLoop(func() { e.startPlaySequence(req, cb, media, spec) })
}

func (e *Element) callResolve(ctx context.Context, client *resolverpb.ResolverClient, media string) (resolveSpec, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	reply, err := client.ResolveMedia(ctx, media)
	if err != nil {
		return resolveSpec{}, err
	}
	return resolveSpec{ToPlay: reply.ToPlay, Loop: reply.Loop}, nil
}

func (e *Element) startPlaySequence(req *graph.Request, cb graph.ProcessingCallback, media string, spec resolveSpec) bool {
	if len(spec.ToPlay) == 0 {
		cb(tag.New(tag.KindEOS, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
		return false
	}
	ps := &playState{req: req, cb: cb, media: media, toPlay: spec.ToPlay, loop: spec.Loop, index: 0}
	e.mu.Lock()
	e.active[req] = ps
	e.mu.Unlock()
	return e.playCurrent(ps)
}

func (e *Element) playCurrent(ps *playState) bool {
	if ps.index >= len(ps.toPlay) {
		if ps.loop {
			ps.index = 0
		} else {
			ps.cb(tag.New(tag.KindEOS, 0, ps.req.Caps.FlavourMask, 0, 0, nil), 0)
			e.mu.Lock()
			delete(e.active, ps.req)
			e.mu.Unlock()
			return false
		}
	}
	target := ps.toPlay[ps.index]
	if !e.mapper.AddRequest(target, ps.req, func(t *tag.Tag, ts int64) { e.processTag(ps, t, ts) }) {
		if e.logger != nil {
			e.logger.WithField("target", target).Warn("remote_resolver: cannot play sequence entry")
		}
		ps.index++
		return e.playCurrent(ps)
	}
	return true
}

func (e *Element) processTag(ps *playState, t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS || t.Kind == tag.KindSourceEnded {
		ps.index++
		e.continuePlaySequence(ps)
		return
	}
	ps.cb(t, timestampMs)
}

func (e *Element) continuePlaySequence(ps *playState) {
	e.mapper.RemoveRequest(ps.toPlay[(ps.index-1+len(ps.toPlay))%len(ps.toPlay)], ps.req)
	e.playCurrent(ps)
}

func (e *Element) RemoveRequest(req *graph.Request) {
	e.mu.Lock()
	ps, ok := e.active[req]
	if ok {
		delete(e.active, req)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if ps.cancel != nil {
		ps.cancel()
	}
	if len(ps.toPlay) > 0 && ps.index < len(ps.toPlay) {
		e.mapper.RemoveRequest(ps.toPlay[ps.index], req)
	}
}

func (e *Element) HasMedia(path string) bool {
	return true
}

func (e *Element) ListMedia(dir string) []string {
	return e.mapper.ListMedia(dir)
}

func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	return e.mapper.DescribeMedia(path, cb)
}

func (e *Element) Close(done graph.DoneCallback) {
	e.mu.Lock()
	e.closing = true
	active := make([]*playState, 0, len(e.active))
	for _, ps := range e.active {
		active = append(active, ps)
	}
	e.active = make(map[*graph.Request]*playState)
	e.mu.Unlock()
	for _, ps := range active {
		if ps.cancel != nil {
			ps.cancel()
		}
		ps.cb(tag.New(tag.KindEOS, 0, ps.req.Caps.FlavourMask, 0, 0, nil), 0)
	}
	if done != nil {
		done()
	}
}

var _ graph.Element = (*Element)(nil)
