// Package httpclient implements the HTTP-sourced media element,
// grounded on http_client_element.h: a named set of remote URLs, each
// fetched and split into tags the same way aiofile splits a local file.
//
// The blocking HTTP read happens off the cooperative loop, on its own
// goroutine, and hands decoded tags back via Loop.RunInLoop — the bridge
// pattern internal/loop's own doc comment calls out for I/O completions.
package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/splitting"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/httpretry"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "http_client"

// Config are the element-wide defaults, grounded on HttpClientElement's
// constructor parameters.
type Config struct {
	PrefillBufferMs    int64
	AdvanceMediaMs      int64
	MaxTagSize          int
	ChunkSize           int
	RequestTimeout      time.Duration
}

// source is one registered remote URL, grounded on HttpClientElementData /
// AddElement's parameters.
type source struct {
	name               string
	url                string
	shouldReopen       bool
	fetchOnlyOnRequest bool
	user, password     string
}

// Element serves one or more remote HTTP URLs as streaming tags.
type Element struct {
	name        string
	mapper      *graph.Mapper
	lp          *loop.Loop
	logger      logging.Logger
	cfg         Config
	newSplitter splitting.SplitterFactory
	httpClient  *http.Client
	executor    *httpretry.Executor // retry-with-backoff + circuit breaker around each source's connect attempt

	mu      sync.Mutex
	sources map[string]*source
	readers map[*graph.Request]*httpReader
	closing bool
}

func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg Config, newSplitter splitting.SplitterFactory) *Element {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Element{
		name:        name,
		mapper:      mapper,
		lp:          lp,
		logger:      logger,
		cfg:         cfg,
		newSplitter: newSplitter,
		httpClient:  &http.Client{Timeout: 0}, // streaming body, no overall deadline
		executor:    httpretry.New(httpretry.DefaultConfig(), logger, name),
		sources:     make(map[string]*source),
		readers:     make(map[*graph.Request]*httpReader),
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }
func (e *Element) Initialize() bool  { return true }

// AddElement registers a new remote URL under name, grounded on
// HttpClientElement::AddElement.
func (e *Element) AddElement(name, url string, shouldReopen, fetchOnlyOnRequest bool, user, password string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sources[name]; exists {
		return false
	}
	e.sources[name] = &source{
		name: name, url: url, shouldReopen: shouldReopen,
		fetchOnlyOnRequest: fetchOnlyOnRequest, user: user, password: password,
	}
	return true
}

// DeleteElement removes a previously registered URL.
func (e *Element) DeleteElement(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sources[name]; !exists {
		return false
	}
	delete(e.sources, name)
	return true
}

// SetElementRemoteUser updates the basic-auth credentials for a source.
func (e *Element) SetElementRemoteUser(name, user, password string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.sources[name]
	if !ok {
		return false
	}
	src.user, src.password = user, password
	return true
}

type httpReader struct {
	elem   *Element
	req    *graph.Request
	cb     graph.ProcessingCallback
	src    *source
	splitter splitting.Splitter
	cancel context.CancelFunc
	offset int64
}

func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return false
	}
	src, ok := e.sources[strings.TrimPrefix(path, "/")]
	e.mu.Unlock()
	if !ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	hr := &httpReader{elem: e, req: req, cb: cb, src: src, splitter: e.newSplitter(), cancel: cancel}
	e.mu.Lock()
	e.readers[req] = hr
	e.mu.Unlock()
	cb(tag.New(tag.KindSourceStarted, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
	go hr.run(ctx)
	return true
}

func (hr *httpReader) run(ctx context.Context) {
	e := hr.elem
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, hr.src.url, nil)
	if err != nil {
		e.finishReader(hr, false)
		return
	}
	if hr.src.user != "" {
		httpReq.SetBasicAuth(hr.src.user, hr.src.password)
	}
	resp, err := e.executor.Do(ctx, func() (*http.Response, error) {
		return e.httpClient.Do(httpReq)
	})
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("url", hr.src.url).Warn("http_client: request failed")
		}
		e.retryOrFinish(hr)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if e.logger != nil {
			e.logger.WithField("status", resp.StatusCode).WithField("url", hr.src.url).Warn("http_client: bad status")
		}
		e.retryOrFinish(hr)
		return
	}

	buf := make([]byte, e.cfg.ChunkSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			hr.offset += int64(n)
			chunk := append([]byte(nil), buf[:n]...)
			tags, splitErr := hr.splitter.Split(chunk, hr.offset)
			if splitErr != nil {
				if e.logger != nil {
					e.logger.WithError(splitErr).Warn("http_client: split failed")
				}
				e.finishReader(hr, false)
				return
			}
			e.lp.RunInLoop(func() {
				for _, t := range tags {
					hr.cb(t.WithFlavourMask(t.FlavourMask.Intersect(hr.req.Caps.FlavourMask)), t.TimestampMs)
				}
			})
		}
		if errors.Is(readErr, io.EOF) {
			e.retryOrFinish(hr)
			return
		}
		if readErr != nil {
			if e.logger != nil {
				e.logger.WithError(readErr).Warn("http_client: read failed")
			}
			e.retryOrFinish(hr)
			return
		}
	}
}

func (e *Element) retryOrFinish(hr *httpReader) {
	if !hr.src.shouldReopen || e.executor.IsOpen() {
		e.finishReader(hr, true)
		return
	}
	e.lp.RunInLoop(func() {
		e.mu.Lock()
		_, stillActive := e.readers[hr.req]
		e.mu.Unlock()
		if !stillActive {
			return
		}
		e.lp.RegisterAlarm(2*time.Second, func() {
			ctx, cancel := context.WithCancel(context.Background())
			hr.cancel = cancel
			go hr.run(ctx)
		})
	})
}

func (e *Element) finishReader(hr *httpReader, clean bool) {
	e.lp.RunInLoop(func() {
		kind := tag.KindSourceEnded
		if !clean {
			kind = tag.KindEOS
		}
		hr.cb(tag.New(kind, 0, hr.req.Caps.FlavourMask, 0, 0, nil), 0)
		e.mu.Lock()
		delete(e.readers, hr.req)
		e.mu.Unlock()
	})
}

func (e *Element) RemoveRequest(req *graph.Request) {
	e.mu.Lock()
	hr, ok := e.readers[req]
	if ok {
		delete(e.readers, req)
	}
	e.mu.Unlock()
	if ok && hr.cancel != nil {
		hr.cancel()
	}
}

func (e *Element) HasMedia(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sources[strings.TrimPrefix(path, "/")]
	return ok
}

func (e *Element) ListMedia(dir string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.sources))
	for name := range e.sources {
		out = append(out, name)
	}
	return out
}

func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	// The original probes the HTTP header on first connect; without an
	// active connection there is nothing to describe yet.
	cb(nil)
	return false
}

func (e *Element) Close(done graph.DoneCallback) {
	e.mu.Lock()
	e.closing = true
	readers := make([]*httpReader, 0, len(e.readers))
	for _, hr := range e.readers {
		readers = append(readers, hr)
	}
	e.readers = make(map[*graph.Request]*httpReader)
	e.mu.Unlock()
	for _, hr := range readers {
		if hr.cancel != nil {
			hr.cancel()
		}
		hr.cb(tag.New(tag.KindEOS, 0, hr.req.Caps.FlavourMask, 0, 0, nil), 0)
	}
	if done != nil {
		done()
	}
}

var _ graph.Element = (*Element)(nil)
