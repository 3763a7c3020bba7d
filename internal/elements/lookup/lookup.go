// Package lookup implements the remote-redirect source element,
// grounded on lookup_element.cc: queries one of several
// lookup servers for a newline-separated list of candidate targets (either
// "http://host/path" URLs or internal mapper paths) and serves the request
// from whichever candidate the round-robin pass reaches first.
package lookup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/httpclient"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/httpretry"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "lookup"

// Config mirrors LookupElement's constructor parameters.
type Config struct {
	LookupServers     []string // base URLs, e.g. "http://lookup1:8080"
	QueryPathFormat    string   // may reference ${RESOURCE}, ${REQ_QUERY}, ${AUTH_QUERY}
	HTTPHeaders        map[string]string
	NumRetries         int
	RequestTimeout     time.Duration
	LocalLookupFirst   bool
}

// Element resolves media through one or more lookup servers, falling back
// to fetching from whatever remote URL (or internal path) the server
// names.
type Element struct {
	name       string
	mapper     *graph.Mapper
	logger     logging.Logger
	cfg        Config
	httpClient *http.Client
	executor   *httpretry.Executor // retry-with-backoff + circuit breaker around each lookup-server call
	fetcher    *httpclient.Element // shared sub-element that performs remote fetches

	mu          sync.Mutex
	nextServer  int
	nextFetchID int64
	cancels     map[*graph.Request]context.CancelFunc
	closing     bool
}

// New constructs a lookup element. fetcher is the http_client sub-element
// used to actually stream a remote URL once located (StartFetch in the
// original).
func New(name string, mapper *graph.Mapper, logger logging.Logger, cfg Config, fetcher *httpclient.Element) *Element {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Element{
		name:       name,
		mapper:     mapper,
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		executor:   httpretry.New(httpretry.DefaultConfig(), logger, name),
		fetcher:    fetcher,
		cancels:    make(map[*graph.Request]context.CancelFunc),
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }
func (e *Element) Initialize() bool  { return e.fetcher.Initialize() }

func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return false
	}
	if _, exists := e.cancels[req]; exists {
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Warn("lookup: cannot serve same request twice")
		}
		return false
	}
	e.mu.Unlock()

	if e.cfg.LocalLookupFirst {
		if e.mapper.AddRequest(path, req, cb) {
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[req] = cancel
	e.mu.Unlock()
	go e.runLookup(ctx, path, req, cb)
	return true
}

func (e *Element) queryPath(media string, req *graph.Request) string {
	repl := strings.NewReplacer(
		"${RESOURCE}", url.QueryEscape(media),
		"${REQ_QUERY}", req.Info.Query,
		"${AUTH_QUERY}", req.Info.Auth,
	)
	return repl.Replace(e.cfg.QueryPathFormat)
}

func (e *Element) runLookup(ctx context.Context, media string, req *graph.Request, cb graph.ProcessingCallback) {
	queryPath := e.queryPath(media, req)

	e.mu.Lock()
	n := len(e.cfg.LookupServers)
	start := e.nextServer
	e.nextServer = (e.nextServer + 1) % max1(n)
	e.mu.Unlock()

	var body []byte
	var lastErr error
	retries := e.cfg.NumRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries && n > 0; attempt++ {
		server := e.cfg.LookupServers[(start+attempt)%n]
		b, err := e.fetchLookupBody(ctx, server, queryPath)
		if err == nil {
			body = b
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil || len(body) == 0 {
		if e.logger != nil && lastErr != nil {
			e.logger.WithError(lastErr).WithField("media", media).Warn("lookup: all lookup servers failed")
		}
		e.finish(req, cb, false)
		return
	}

	candidates := strings.Split(strings.TrimSpace(string(body)), "\n")
	e.mu.Lock()
	startID := 0
	if len(candidates) > 0 {
		startID = int(e.nextFetchID) % len(candidates)
	}
	e.nextFetchID++
	e.mu.Unlock()

	fetchStarted := false
	for i := 0; i < len(candidates) && !fetchStarted; i++ {
		candidate := strings.TrimSpace(candidates[(i+startID)%len(candidates)])
		if candidate == "" {
			continue
		}
		if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
			fetchStarted = e.startFetch(req, cb, candidate)
		} else {
			fetchStarted = e.mapper.AddRequest(candidate, req, cb)
		}
	}
	e.finish(req, cb, fetchStarted)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (e *Element) fetchLookupBody(ctx context.Context, server, queryPath string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+queryPath, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range e.cfg.HTTPHeaders {
		httpReq.Header.Set(k, v)
	}
	resp, err := e.executor.Do(ctx, func() (*http.Response, error) {
		return e.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup: server %s returned status %d", server, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (e *Element) startFetch(req *graph.Request, cb graph.ProcessingCallback, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	e.mu.Lock()
	fname := fmt.Sprintf("fetch_%d", e.nextFetchID)
	e.nextFetchID++
	e.mu.Unlock()

	if !e.fetcher.AddElement(fname, rawURL, false, true, u.User.Username(), "") {
		return false
	}
	if !e.fetcher.AddRequest(fname, req, cb) {
		e.fetcher.DeleteElement(fname)
		return false
	}
	return true
}

// finish removes the request's lookup bookkeeping, sending an EOS if no
// redirect/fetch was started.
func (e *Element) finish(req *graph.Request, cb graph.ProcessingCallback, started bool) {
	e.mu.Lock()
	delete(e.cancels, req)
	e.mu.Unlock()
	if !started {
		cb(tag.New(tag.KindEOS, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
	}
}

func (e *Element) RemoveRequest(req *graph.Request) {
	e.mu.Lock()
	cancel, ok := e.cancels[req]
	if ok {
		delete(e.cancels, req)
	}
	e.mu.Unlock()
	if ok {
		cancel()
		return
	}
	e.fetcher.RemoveRequest(req)
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
	cancels := make([]context.CancelFunc, 0, len(e.cancels))
	for _, c := range e.cancels {
		cancels = append(cancels, c)
	}
	e.cancels = make(map[*graph.Request]context.CancelFunc)
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	e.fetcher.Close(done)
}

var _ graph.Element = (*Element)(nil)
