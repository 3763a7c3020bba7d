// Package loadbalance implements the round-robin fan-out element,
// grounded on load_balancing_element.cc: each request is
// handed to the next sub-element in rotation, falling through to the
// following one if registration fails, and SourceStarted/SourceEnded tags
// are rewritten to carry this element's own name instead of the chosen
// sub-element's.
//
// The round-robin selection itself mirrors the node-rotation idiom of the
// teacher's own api_balancing/internal/balancer/balancer.go.
package loadbalance

import (
	"strings"
	"sync"

	"github.com/cpopescu/streamgraph/internal/elements/renamer"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "load_balancing"

// Element load-balances requests across a fixed list of sub-element names.
type Element struct {
	name        string
	mapper      *graph.Mapper
	logger      logging.Logger
	subElements []string

	mu          sync.Mutex
	nextElement int
	reqs        map[*graph.Request]*reqState

	closing     bool
	closeDone   graph.DoneCallback
}

type reqState struct {
	callback    graph.ProcessingCallback
	chosen      string
	eosReceived bool
}

func New(name string, mapper *graph.Mapper, logger logging.Logger, subElements []string) *Element {
	return &Element{
		name:        name,
		mapper:      mapper,
		logger:      logger,
		subElements: append([]string(nil), subElements...),
		reqs:        make(map[*graph.Request]*reqState),
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }

func (e *Element) Initialize() bool { return len(e.subElements) > 0 }

func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing || len(e.subElements) == 0 {
		return false
	}
	rs := &reqState{callback: cb}
	e.reqs[req] = rs

	n := len(e.subElements)
	for i := 0; i < n; i++ {
		idx := e.nextElement + i
		if idx >= n {
			idx -= n
		}
		candidate := e.subElements[idx]
		rs.chosen = candidate
		full := candidate + "/" + path
		if e.mapper.AddRequest(full, req, func(t *tag.Tag, ts int64) { e.processTag(rs, t, ts) }) {
			if e.logger != nil {
				e.logger.WithField("target", full).Info("load_balancing: redirected")
			}
			e.nextElement = idx + 1
			if e.nextElement >= n {
				e.nextElement = 0
			}
			return true
		}
		if e.logger != nil {
			e.logger.WithField("target", full).Warn("load_balancing: cannot add, trying next")
		}
	}
	delete(e.reqs, req)
	return false
}

func (e *Element) processTag(rs *reqState, t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS {
		if rs.eosReceived {
			return
		}
		rs.eosReceived = true
	}
	if (t.Kind == tag.KindSourceStarted || t.Kind == tag.KindSourceEnded) {
		if sc, ok := t.Payload.(*renamer.SourceChange); ok {
			subName, subRest := splitFirst(sc.SourceName)
			if subName == rs.chosen {
				out := t.Clone()
				out.Payload = &renamer.SourceChange{
					SourceName: joinMedia(e.name, subRest),
					Path:       joinMedia(e.name, afterFirst(sc.Path)),
				}
				rs.callback(out, timestampMs)
				return
			}
		}
	}
	rs.callback(t, timestampMs)
}

func splitFirst(s string) (head, rest string) {
	i := strings.IndexByte(s, '/')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func afterFirst(s string) string {
	_, rest := splitFirst(s)
	return rest
}

func joinMedia(a, b string) string {
	if b == "" {
		return a
	}
	return a + "/" + b
}

func (e *Element) RemoveRequest(req *graph.Request) {
	e.mu.Lock()
	rs, ok := e.reqs[req]
	if !ok {
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Warn("load_balancing: cannot find request to remove")
		}
		return
	}
	delete(e.reqs, req)
	target := rs.chosen
	empty := len(e.reqs) == 0
	done := e.closeDone
	if empty {
		e.closeDone = nil
	}
	e.mu.Unlock()

	e.mapper.RemoveRequest(target+"/", req)
	if empty && done != nil {
		done()
	}
}

func (e *Element) HasMedia(path string) bool {
	for _, sub := range e.subElements {
		if e.mapper.HasMedia(sub + "/" + path) {
			return true
		}
	}
	return false
}

func (e *Element) ListMedia(dir string) []string {
	var out []string
	for _, sub := range e.subElements {
		for _, m := range e.mapper.ListMedia(sub + "/" + dir) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	for _, sub := range e.subElements {
		if e.mapper.DescribeMedia(sub+"/"+path, cb) {
			return true
		}
	}
	return false
}

func (e *Element) Close(done graph.DoneCallback) {
	e.mu.Lock()
	e.closing = true
	if len(e.reqs) == 0 {
		e.mu.Unlock()
		if done != nil {
			done()
		}
		return
	}
	e.closeDone = done
	toNotify := make([]*reqState, 0, len(e.reqs))
	for _, rs := range e.reqs {
		if !rs.eosReceived {
			rs.eosReceived = true
			toNotify = append(toNotify, rs)
		}
	}
	e.mu.Unlock()

	eos := tag.New(tag.KindEOS, 0, ^tag.Mask(0), 0, 0, nil)
	for _, rs := range toNotify {
		rs.callback(eos, 0)
	}
	// Each client is responsible for calling RemoveRequest; closeDone fires
	// once e.reqs drains, from RemoveRequest itself.
}

var _ graph.Element = (*Element)(nil)
