// Package filterbase implements FilteringElement, the reusable base every
// filtering element (dropping, keyframe, normalizing, renamer, f4vflv,
// splitting, debugger) builds on, grounded on dropping_element.cc/.h.
package filterbase

import (
	"sync"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// CallbackData is the per-request filtering state a concrete filter
// creates via its Factory. FilterTag decides to forward, drop, replace, or
// emit multiple tags for one incoming upstream tag.
type CallbackData interface {
	FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag
	// Unregister runs once, when the owning request is removed. Base
	// ignores the returned value.
	Unregister(req *graph.Request) bool
}

// Factory creates a CallbackData for a newly added request targeting
// media. Returning nil refuses the request (e.g. the element only ever
// serves one fixed upstream media name and media doesn't match it).
type Factory func(media string, req *graph.Request) CallbackData

type reqEntry struct {
	cb       graph.ProcessingCallback
	data     CallbackData
	orphaned bool
}

// Base is the shared per-request bookkeeping every filtering element
// embeds. A concrete filter supplies a Factory and optionally overrides
// OnUpstreamTag for bootstrap/EOS housekeeping beyond per-request
// filtering (e.g. dropping's bootstrap replay).
type Base struct {
	ClassNameV string
	NameV      string
	Mapper     *graph.Mapper
	Logger     logging.Logger

	// MediaFiltered is the single upstream media name this element reads
	// from, empty if the element accepts any requested media name as its
	// own upstream (subclasses that need per-request upstreams, like
	// httpclient, don't use Base's upstream registration at all).
	MediaFiltered string
	CreateData    Factory

	// OnUpstreamTag is called once per upstream tag before fan-out, so a
	// subclass can run bootstrap/EOS bookkeeping that spans all requests
	// (e.g. dropping's last-keyframe bootstrap). Tags are never mutated in
	// place; return the tag to forward (a modified copy is allowed) or nil
	// to suppress upstream-tag fan-out entirely.
	OnUpstreamTag func(t *tag.Tag, timestampMs int64) *tag.Tag

	mu         sync.Mutex
	reqs       map[*graph.Request]*reqEntry
	iterating  bool
	registered bool
	closing    bool
	internalReq *graph.Request
}

func (b *Base) ClassName() string { return b.ClassNameV }
func (b *Base) Name() string      { return b.NameV }

func (b *Base) Initialize() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reqs == nil {
		b.reqs = make(map[*graph.Request]*reqEntry)
	}
	return true
}

// AddRequest registers req, creating its CallbackData via Factory and
// registering this element's single upstream on the first request if
// MediaFiltered is set.
func (b *Base) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return false
	}
	if b.reqs == nil {
		b.reqs = make(map[*graph.Request]*reqEntry)
	}
	data := b.CreateData(path, req)
	if data == nil {
		b.mu.Unlock()
		return false
	}
	b.reqs[req] = &reqEntry{cb: cb, data: data}
	needsRegister := b.MediaFiltered != "" && !b.registered
	if needsRegister {
		b.registered = true
		b.internalReq = graph.NewRequest("internal:"+b.NameV, req.Caps, graph.Info{})
	}
	b.mu.Unlock()

	if needsRegister {
		if !b.Mapper.AddRequest(b.MediaFiltered, b.internalReq, b.processUpstreamTag) {
			b.mu.Lock()
			b.registered = false
			b.internalReq = nil
			b.mu.Unlock()
			if b.Logger != nil {
				b.Logger.WithField("element", b.NameV).Warn("filtering element failed to register upstream")
			}
		}
	}
	return true
}

// RemoveRequest tolerates concurrent structural change: if called while
// fan-out is iterating the request table, the entry is flagged orphaned
// and swept at the end of the current iteration instead of deleted
// in-place.
func (b *Base) RemoveRequest(req *graph.Request) {
	b.mu.Lock()
	entry, ok := b.reqs[req]
	if !ok {
		b.mu.Unlock()
		return
	}
	if b.iterating {
		entry.orphaned = true
		b.mu.Unlock()
		return
	}
	delete(b.reqs, req)
	empty := len(b.reqs) == 0
	b.mu.Unlock()

	entry.data.Unregister(req)

	if empty && b.registered {
		b.mu.Lock()
		b.registered = false
		ir := b.internalReq
		b.internalReq = nil
		b.mu.Unlock()
		if ir != nil {
			b.Mapper.RemoveRequest(b.MediaFiltered, ir)
		}
	}
}

// processUpstreamTag is the callback registered against the upstream
// media; it runs OnUpstreamTag once, then fans the result through every
// request's FilterTag, narrowing flavour masks per request.
func (b *Base) processUpstreamTag(t *tag.Tag, timestampMs int64) {
	if b.OnUpstreamTag != nil {
		t = b.OnUpstreamTag(t, timestampMs)
		if t == nil {
			return
		}
	}
	b.fanOut(t, timestampMs)
}

func (b *Base) fanOut(t *tag.Tag, timestampMs int64) {
	b.mu.Lock()
	b.iterating = true
	entries := make([]*reqEntry, 0, len(b.reqs))
	reqs := make([]*graph.Request, 0, len(b.reqs))
	for r, e := range b.reqs {
		entries = append(entries, e)
		reqs = append(reqs, r)
	}
	b.mu.Unlock()

	for i, e := range entries {
		if e.orphaned {
			continue
		}
		req := reqs[i]
		out := e.data.FilterTag(t, timestampMs)
		for _, ot := range out {
			narrowed := ot.WithFlavourMask(ot.FlavourMask.Intersect(req.Caps.FlavourMask))
			e.cb(narrowed, timestampMs)
		}
	}

	b.mu.Lock()
	b.iterating = false
	for r, e := range b.reqs {
		if e.orphaned {
			delete(b.reqs, r)
		}
	}
	b.mu.Unlock()
}

// Deliver pushes a tag that did not arrive from the shared upstream (a
// subclass-owned per-request source, e.g. httpclient) to one request only.
func (b *Base) Deliver(req *graph.Request, t *tag.Tag, timestampMs int64) {
	b.mu.Lock()
	entry, ok := b.reqs[req]
	b.mu.Unlock()
	if !ok {
		return
	}
	narrowed := t.WithFlavourMask(t.FlavourMask.Intersect(req.Caps.FlavourMask))
	entry.cb(narrowed, timestampMs)
}

func (b *Base) HasMedia(path string) bool {
	if b.MediaFiltered != "" {
		return b.Mapper.HasMedia(b.MediaFiltered)
	}
	return b.Mapper.HasMedia(path)
}

func (b *Base) ListMedia(dir string) []string {
	if b.MediaFiltered != "" {
		return nil
	}
	return b.Mapper.ListMedia(dir)
}

func (b *Base) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	target := path
	if b.MediaFiltered != "" {
		target = b.MediaFiltered
	}
	return b.Mapper.DescribeMedia(target, cb)
}

// Close sends a forced EOS to every live request, then invokes done once
// the request table drains.
func (b *Base) Close(done graph.DoneCallback) {
	b.mu.Lock()
	b.closing = true
	reqs := make([]*graph.Request, 0, len(b.reqs))
	entries := make([]*reqEntry, 0, len(b.reqs))
	for r, e := range b.reqs {
		reqs = append(reqs, r)
		entries = append(entries, e)
	}
	b.mu.Unlock()

	for i, r := range reqs {
		eos := tag.New(tag.KindEOS, 0, r.Caps.FlavourMask, 0, 0, nil)
		entries[i].cb(eos, 0)
	}

	b.mu.Lock()
	for _, r := range reqs {
		delete(b.reqs, r)
	}
	registered := b.registered
	b.registered = false
	ir := b.internalReq
	b.internalReq = nil
	b.mu.Unlock()

	if registered && ir != nil {
		b.Mapper.RemoveRequest(b.MediaFiltered, ir)
	}

	if done != nil {
		done()
	}
}

// RequestCount reports the number of live requests, for tests and metrics.
func (b *Base) RequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}
