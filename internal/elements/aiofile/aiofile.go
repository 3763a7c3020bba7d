// Package aiofile implements the file-serving source element,
// grounded on aio_file_element.h: reads files under a home directory
// that match a pattern, splitting their bytes into tags for each request.
//
// The original uses Linux AIO plus a shared buffer pool to bound disk
// seeks under concurrent load. Go has no ecosystem AIO library in the
// reference pack to reach for; this is justified stdlib use (os.File,
// paced by internal/loop alarms rather than true async I/O) — see
// DESIGN.md.
package aiofile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/splitting"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/cache"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "aio_file"

// defaultMediaInfoCacheEntries bounds the MediaInfo cache when Config
// doesn't set one.
const defaultMediaInfoCacheEntries = 4096

// mediaInfoCacheTTL is long relative to a server's uptime: a file's
// container metadata doesn't change once written, so this cache is
// bounded by size, not by time. Eviction is first-in first-out: the
// oldest-inserted entry goes first, and a cache hit does not refresh an
// entry's position.
const mediaInfoCacheTTL = 24 * time.Hour

// Config mirrors AioFileElement's constructor parameters.
type Config struct {
	HomeDir                  string
	FilePattern              *regexp.Regexp
	DefaultIndexFile         string
	DataKeyPrefix            string
	DisablePause             bool
	DisableSeek              bool
	DisableDuration          bool
	ChunkSize                int           // bytes read per tick, default 64KiB
	ChunkInterval            time.Duration // pacing between reads, default 0 (as fast as the loop ticks)
	MaxMediaInfoCacheEntries int           // bounds the MediaInfo cache, default 4096
}

// Element serves files from Config.HomeDir as streaming tags.
type Element struct {
	name        string
	mapper      *graph.Mapper
	lp          *loop.Loop
	logger      logging.Logger
	cfg         Config
	newSplitter splitting.SplitterFactory

	// mediaInfoCache is pkg/cache.Cache, giving this element a
	// size-bounded cache with singleflight-deduped misses instead of an
	// unbounded map.
	mediaInfoCache *cache.Cache
	readers        map[*graph.Request]*fileReader

	closing bool
	doneCb  graph.DoneCallback
}

// New constructs an aio_file element. newSplitter supplies the container
// demuxer applied to each file's bytes (the F4V codec's splitter, in
// production wiring).
func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, cfg Config, newSplitter splitting.SplitterFactory) *Element {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	if cfg.MaxMediaInfoCacheEntries <= 0 {
		cfg.MaxMediaInfoCacheEntries = defaultMediaInfoCacheEntries
	}
	return &Element{
		name:        name,
		mapper:      mapper,
		lp:          lp,
		logger:      logger,
		cfg:         cfg,
		newSplitter: newSplitter,
		mediaInfoCache: cache.New(cache.Options{
			TTL:        mediaInfoCacheTTL,
			MaxEntries: cfg.MaxMediaInfoCacheEntries,
		}, cache.MetricsHooks{}),
		readers: make(map[*graph.Request]*fileReader),
	}
}

func (e *Element) ClassName() string { return ClassName }
func (e *Element) Name() string      { return e.name }

func (e *Element) Initialize() bool { return true }

// fileNameFromMedia resolves a media path into an absolute file path,
// grounded on AioFileElement::FileNameFromMedia. The default index file is
// substituted only for an empty media path (the home directory itself);
// paths naming a subdirectory are not rewritten.
func (e *Element) fileNameFromMedia(media string) (string, bool) {
	media = strings.TrimPrefix(media, "/")
	if media == "" && e.cfg.DefaultIndexFile != "" {
		media = e.cfg.DefaultIndexFile
	}
	if e.cfg.FilePattern != nil && !e.cfg.FilePattern.MatchString(media) {
		return "", false
	}
	full := filepath.Join(e.cfg.HomeDir, filepath.FromSlash(media))
	if !strings.HasPrefix(full, filepath.Clean(e.cfg.HomeDir)) {
		return "", false
	}
	return full, true
}

func (e *Element) mediaInfoKey(media string) string {
	if e.cfg.DataKeyPrefix != "" {
		return e.cfg.DataKeyPrefix + media
	}
	return e.name + ":" + media
}

// fileReader drives one request's paced file read, one alarm tick at a
// time, the Go analogue of the original's AioFileReadingStruct.
type fileReader struct {
	elem    *Element
	req     *graph.Request
	cb      graph.ProcessingCallback
	file    *os.File
	splitter splitting.Splitter
	offset  int64
	alarm   loop.AlarmID
}

func (e *Element) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	if e.closing {
		return false
	}
	full, ok := e.fileNameFromMedia(path)
	if !ok {
		return false
	}
	f, err := os.Open(full)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("file", full).Warn("aio_file: open failed")
		}
		return false
	}
	var offset int64
	if !e.cfg.DisableSeek && req.Info.SeekMs > 0 {
		// Byte-accurate seeking requires parsing the container; without a
		// frame index we can only honor a seek request at the byte level
		// when the splitter itself supports it, which none of the current
		// splitters do. Requests with a seek offset still play from the
		// start rather than fail outright.
	}
	fr := &fileReader{
		elem:     e,
		req:      req,
		cb:       cb,
		file:     f,
		splitter: e.newSplitter(),
		offset:   offset,
	}
	e.readers[req] = fr
	cb(tag.New(tag.KindSourceStarted, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
	fr.scheduleNext(e.lp)
	return true
}

func (fr *fileReader) scheduleNext(lp *loop.Loop) {
	fr.alarm = lp.RegisterAlarm(fr.elem.cfg.ChunkInterval, fr.readChunk)
}

func (fr *fileReader) readChunk() {
	e := fr.elem
	if _, stillOpen := e.readers[fr.req]; !stillOpen {
		return
	}
	buf := make([]byte, e.cfg.ChunkSize)
	n, err := fr.file.ReadAt(buf, fr.offset)
	if n > 0 {
		fr.offset += int64(n)
		tags, splitErr := fr.splitter.Split(buf[:n], fr.offset)
		if splitErr != nil {
			if e.logger != nil {
				e.logger.WithError(splitErr).Warn("aio_file: split failed")
			}
			e.finishReader(fr, false)
			return
		}
		for _, t := range tags {
			fr.cb(t.WithFlavourMask(t.FlavourMask.Intersect(fr.req.Caps.FlavourMask)), t.TimestampMs)
		}
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		e.finishReader(fr, true)
		return
	}
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Warn("aio_file: read failed")
		}
		e.finishReader(fr, false)
		return
	}
	fr.scheduleNext(e.lp)
}

func (e *Element) finishReader(fr *fileReader, clean bool) {
	kind := tag.KindSourceEnded
	if !clean {
		kind = tag.KindEOS
	}
	fr.cb(tag.New(kind, 0, fr.req.Caps.FlavourMask, 0, 0, nil), 0)
	fr.file.Close()
	delete(e.readers, fr.req)
}

func (e *Element) RemoveRequest(req *graph.Request) {
	fr, ok := e.readers[req]
	if !ok {
		return
	}
	e.lp.UnregisterAlarm(fr.alarm)
	fr.file.Close()
	delete(e.readers, req)
}

func (e *Element) HasMedia(path string) bool {
	full, ok := e.fileNameFromMedia(path)
	if !ok {
		return false
	}
	_, err := os.Stat(full)
	return err == nil
}

func (e *Element) ListMedia(dir string) []string {
	full, ok := e.fileNameFromMedia(dir)
	if !ok {
		return nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, ent := range entries {
		out = append(out, ent.Name())
	}
	return out
}

func (e *Element) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	full, ok := e.fileNameFromMedia(path)
	if !ok {
		cb(nil)
		return false
	}
	key := e.mediaInfoKey(path)
	val, ok, err := e.mediaInfoCache.Get(context.Background(), key, func(_ context.Context, _ string) (interface{}, bool, error) {
		info, err := probeMediaInfo(full, e.newSplitter())
		if err != nil {
			return nil, false, err
		}
		if e.cfg.DisableDuration {
			info.DurationMs = 0
		}
		return info, true, nil
	})
	if err != nil || !ok {
		cb(nil)
		return false
	}
	cb(val.(*tag.MediaInfo))
	return true
}

// probeMediaInfo reads the leading bytes of a file and hands them to a
// splitter until it produces a KindMediaInfo tag.
func probeMediaInfo(path string, sp splitting.Splitter) (*tag.MediaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 256*1024)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	tags, err := sp.Split(buf[:n], 0)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.Kind == tag.KindMediaInfo {
			if mi, ok := t.Payload.(*tag.MediaInfoPayload); ok {
				return mi.Info, nil
			}
		}
	}
	return nil, errors.New("aio_file: no media info found in leading bytes")
}

func (e *Element) Close(done graph.DoneCallback) {
	e.closing = true
	for req, fr := range e.readers {
		e.lp.UnregisterAlarm(fr.alarm)
		fr.file.Close()
		fr.cb(tag.New(tag.KindEOS, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
	}
	e.readers = make(map[*graph.Request]*fileReader)
	if done != nil {
		done()
	}
}

var _ graph.Element = (*Element)(nil)
