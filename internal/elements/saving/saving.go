// Package saving implements the stream-to-disk sink element,
// grounded on saving_element.h: registers a single internal request
// against one upstream media and serializes every tag it receives into a
// ".part" file on disk, finalizing the file on EOS and reopening the
// upstream after a fixed delay so the element saves continuously. It
// exposes no media of its own; AddRequest always fails.
package saving

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "saving"

// reconnectDelay mirrors SavingElement::kReconnectDelay: how long to wait
// before retrying OpenMedia after a failed or finished save.
const reconnectDelay = 5 * time.Second

// Config mirrors SavingElement's constructor parameters.
type Config struct {
	BaseMediaDir string
	Media        string
	SaveDir      string // relative to BaseMediaDir
}

// Element saves one upstream media's tag stream to BaseMediaDir/SaveDir.
type Element struct {
	name       string
	mapper     *graph.Mapper
	lp         *loop.Loop
	logger     logging.Logger
	cfg        Config
	newSerializer func() tag.Serializer

	mu          sync.Mutex
	internalReq *graph.Request
	serializer  tag.Serializer
	file        *os.File
	partPath    string
	finalPath   string
	closing     bool
}

// New constructs a saving element. newSerializer builds a fresh wire-format
// encoder for each saved file (the same tag.Serializer shape http_poster
// uses); callers typically share one constructor (e.g. an FLV writer).
func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg Config, newSerializer func() tag.Serializer) *Element {
	return &Element{
		name:          name,
		mapper:        mapper,
		lp:            lp,
		logger:        logger,
		cfg:           cfg,
		newSerializer: newSerializer,
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }

func (e *Element) Initialize() bool {
	e.lp.RegisterAlarm(0, e.openMedia)
	return true
}

// AddRequest/ListMedia: the element exposes no media of its own, it is a
// sink only, per SavingElement's "you cannot register by AddRequest".
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

func (e *Element) openMedia() {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	saveDir := filepath.Join(e.cfg.BaseMediaDir, e.cfg.SaveDir)
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("dir", saveDir).Warn("saving: cannot create save directory")
		}
		e.lp.RegisterAlarm(reconnectDelay, e.openMedia)
		return
	}

	stem := sanitizeMediaName(e.cfg.Media)
	finalPath := filepath.Join(saveDir, stem)
	partPath := finalPath + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("path", partPath).Warn("saving: cannot create part file")
		}
		e.lp.RegisterAlarm(reconnectDelay, e.openMedia)
		return
	}

	serializer := e.newSerializer()
	if serializer != nil {
		if err := serializer.Initialize(f); err != nil {
			f.Close()
			os.Remove(partPath)
			if e.logger != nil {
				e.logger.WithError(err).Warn("saving: serializer init failed")
			}
			e.lp.RegisterAlarm(reconnectDelay, e.openMedia)
			return
		}
	}

	req := graph.NewRequest("saving:"+e.name, tag.Capabilities{AnyKind: true, FlavourMask: ^tag.Mask(0)}, graph.Info{})
	if !e.mapper.AddRequest(e.cfg.Media, req, e.processTag) {
		f.Close()
		os.Remove(partPath)
		if e.logger != nil {
			e.logger.WithField("media", e.cfg.Media).Warn("saving: cannot register to media")
		}
		e.lp.RegisterAlarm(reconnectDelay, e.openMedia)
		return
	}

	e.mu.Lock()
	e.internalReq = req
	e.serializer = serializer
	e.file = f
	e.partPath = partPath
	e.finalPath = finalPath
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.WithField("path", partPath).Info("saving: opened media for saving")
	}
}

func (e *Element) processTag(t *tag.Tag, timestampMs int64) {
	if t.Kind == tag.KindEOS || t.Kind == tag.KindSourceEnded {
		e.closeMedia(true)
		return
	}
	e.mu.Lock()
	serializer, file := e.serializer, e.file
	e.mu.Unlock()
	if file == nil || serializer == nil {
		return
	}
	if err := serializer.Serialize(t, file); err != nil && e.logger != nil {
		e.logger.WithError(err).Warn("saving: serialize failed")
	}
}

// closeMedia finalizes the current .part file (renaming it to its final
// name) and, unless the element is shutting down, schedules a reopen.
func (e *Element) closeMedia(reconnect bool) {
	e.mu.Lock()
	req := e.internalReq
	file := e.file
	partPath, finalPath := e.partPath, e.finalPath
	e.internalReq = nil
	e.serializer = nil
	e.file = nil
	closing := e.closing
	e.mu.Unlock()

	if req != nil {
		e.mapper.RemoveRequest(e.cfg.Media, req)
	}
	if file != nil {
		file.Close()
		if partPath != "" {
			if err := os.Rename(partPath, finalPath); err != nil && e.logger != nil {
				e.logger.WithError(err).Warn("saving: cannot finalize saved file")
			}
		}
	}
	if reconnect && !closing {
		e.lp.RegisterAlarm(reconnectDelay, e.openMedia)
	}
}

func (e *Element) Close(done graph.DoneCallback) {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	e.closeMedia(false)
	if done != nil {
		done()
	}
}

// sanitizeMediaName collapses a mapper path into a flat file name, since
// saved media names may contain path separators.
func sanitizeMediaName(media string) string {
	return strings.ReplaceAll(strings.Trim(media, "/"), "/", "_")
}

// String reports the save target, for logs and status RPCs.
func (e *Element) String() string {
	return fmt.Sprintf("saving(%s -> %s/%s)", e.cfg.Media, e.cfg.BaseMediaDir, e.cfg.SaveDir)
}

var _ graph.Element = (*Element)(nil)
