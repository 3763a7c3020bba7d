// Package httpposter implements the HTTP-sink element,
// grounded on http_poster_element.cc: registers upstream against one
// media, serializes every tag it receives, and streams the bytes out as
// the body of a chunked HTTP POST, retrying the connection and the
// upstream registration independently on failure.
package httpposter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "http_poster"

const minChunkSize = 2048

// Config mirrors HttpPosterElement's constructor parameters.
type Config struct {
	MediaName           string
	URL                 string
	User, Password      string
	MaxBufferSize       int
	DesiredChunkSize    int
	MediaRetryTimeout   time.Duration
	HTTPRetryTimeout    time.Duration
}

// Element posts one media's tag stream to a remote HTTP server.
type Element struct {
	name       string
	mapper     *graph.Mapper
	lp         *loop.Loop
	logger     logging.Logger
	cfg        Config
	serializer tag.Serializer
	httpClient *http.Client

	mu             sync.Mutex
	buf            bytes.Buffer
	droppingAudio  bool
	droppingVideo  bool

	internalReq *graph.Request
	cancel      context.CancelFunc
	closing     bool
}

// New constructs a poster. serializer encodes tags into the wire format
// the remote server expects (FLV, MP3, AAC, raw, ...).
func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg Config, serializer tag.Serializer) *Element {
	if cfg.DesiredChunkSize <= 0 {
		cfg.DesiredChunkSize = 2048
	}
	return &Element{
		name:       name,
		mapper:     mapper,
		lp:         lp,
		logger:     logger,
		cfg:        cfg,
		serializer: serializer,
		httpClient: &http.Client{},
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }

func (e *Element) Initialize() bool {
	e.lp.RegisterAlarm(0, e.startRequest)
	return true
}

// AddRequest/RemoveRequest: the poster exposes no media of its own, per
// HttpPosterElement::AddRequest returning false unconditionally.
func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	return false
}
func (e *Element) RemoveRequest(req *graph.Request) {}
func (e *Element) HasMedia(path string) bool         { return false }
func (e *Element) ListMedia(dir string) []string     { return nil }
func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	cb(nil)
	return false
}

func (e *Element) startRequest() {
	if e.logger != nil {
		e.logger.WithField("url", e.cfg.URL).Info("http_poster: starting post")
	}
	e.internalReq = graph.NewRequest("http_poster:"+e.name, tag.Capabilities{AnyKind: true, FlavourMask: ^tag.Mask(0)}, graph.Info{})
	if !e.mapper.AddRequest(e.cfg.MediaName, e.internalReq, e.processTag) {
		if e.logger != nil {
			e.logger.WithField("media", e.cfg.MediaName).Warn("http_poster: cannot register to media")
		}
		e.internalReq = nil
		e.closeRequest(15 * time.Second)
		return
	}
	if e.serializer != nil {
		e.serializer.Initialize(&e.buf)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	pr, pw := io.Pipe()
	go e.runPost(ctx, pr, pw)
}

func (e *Element) runPost(ctx context.Context, pr *io.PipeReader, pw *io.PipeWriter) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, pr)
	if err != nil {
		pw.CloseWithError(err)
		e.lp.RunInLoop(func() { e.closeRequest(e.cfg.HTTPRetryTimeout) })
		return
	}
	if e.cfg.User != "" {
		httpReq.SetBasicAuth(e.cfg.User, e.cfg.Password)
	}

	go e.pump(ctx, pw)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Warn("http_poster: post failed")
		}
		e.lp.RunInLoop(func() { e.closeRequest(e.cfg.HTTPRetryTimeout) })
		return
	}
	resp.Body.Close()
	e.lp.RunInLoop(func() { e.closeRequest(e.cfg.HTTPRetryTimeout) })
}

// pump drains the serialized-tag buffer into the POST body's pipe,
// approximating ProcessHttp's chunk-sized flow-controlled writes.
func (e *Element) pump(ctx context.Context, pw *io.PipeWriter) {
	for {
		if ctx.Err() != nil {
			pw.Close()
			return
		}
		e.mu.Lock()
		if e.buf.Len() == 0 {
			e.mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			continue
		}
		toSend := e.buf.Len()
		if toSend > e.cfg.DesiredChunkSize {
			toSend = e.cfg.DesiredChunkSize
		}
		chunk := make([]byte, toSend)
		e.buf.Read(chunk)
		e.mu.Unlock()
		if _, err := pw.Write(chunk); err != nil {
			return
		}
	}
}

func (e *Element) processTag(t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS || t.Kind == tag.KindSourceEnded {
		e.closeRequest(e.cfg.MediaRetryTimeout)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.buf.Len() > e.cfg.MaxBufferSize && t.IsDroppable() {
		if t.IsVideo() {
			if !e.droppingVideo && e.logger != nil {
				e.logger.WithField("buffered", e.buf.Len()).Warn("http_poster: out of buffer, dropping video")
			}
			e.droppingVideo = true
		} else if t.IsAudio() {
			if !e.droppingAudio && e.logger != nil {
				e.logger.WithField("buffered", e.buf.Len()).Warn("http_poster: out of buffer, dropping audio")
			}
			e.droppingAudio = true
		}
		return
	}
	if e.droppingVideo && t.IsDroppable() && t.IsVideo() {
		if !t.CanResync() {
			return
		}
		e.droppingVideo = false
	} else if e.droppingAudio && t.IsDroppable() && t.IsAudio() {
		if !t.CanResync() {
			return
		}
		e.droppingAudio = false
	}
	if e.serializer != nil {
		if err := e.serializer.Serialize(t, &e.buf); err != nil && e.logger != nil {
			e.logger.WithError(err).Warn("http_poster: serialize failed")
		}
	}
}

func (e *Element) closeRequest(retryAfter time.Duration) {
	if e.logger != nil {
		e.logger.WithField("retry_ms", retryAfter.Milliseconds()).Info("http_poster: closing post request")
	}
	if e.internalReq != nil {
		e.mapper.RemoveRequest(e.cfg.MediaName, e.internalReq)
		e.internalReq = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Lock()
	e.buf.Reset()
	e.droppingAudio = false
	e.droppingVideo = false
	e.mu.Unlock()

	if e.closing {
		return
	}
	if retryAfter > 0 {
		e.lp.RegisterAlarm(retryAfter, e.startRequest)
	}
}

func (e *Element) Close(done graph.DoneCallback) {
	e.closing = true
	e.closeRequest(0)
	if done != nil {
		done()
	}
}

// String reports the poster's target, for logs and status RPCs.
func (e *Element) String() string {
	return fmt.Sprintf("http_poster(%s -> %s)", e.cfg.MediaName, e.cfg.URL)
}

var _ graph.Element = (*Element)(nil)
