// Package timesaving implements the resume-position filter element,
// grounded on timesaving_element.cc: remembers, per request
// identity, the last media timestamp a client reached, so a later request
// carrying the same identity resumes from that point instead of the
// media's start. Saved positions older than purgeAge are dropped by a
// periodic sweep.
package timesaving

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/internal/elements/filterbase"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

const ClassName = "timesaving"

// purgeAlarmPeriod and purgeAge mirror kPurgeAlarmPeriodMs/kPurgeTimeMs.
const (
	purgeAlarmPeriod    = 180 * time.Second
	purgeAge            = 600 * time.Second
	defaultSaveInterval = 15 * time.Second
)

// Config mirrors TimeSavingElement's constructor parameters plus the
// save-interval flag.
type Config struct {
	MediaFiltered string
	SaveInterval  time.Duration
}

// Element remembers per-request playback position across reconnects.
type Element struct {
	filterbase.Base
	lp     *loop.Loop
	keeper statekeeper.Keeper
	logger logging.Logger
	cfg    Config

	mu      sync.Mutex
	closing bool
}

func New(name string, mapper *graph.Mapper, lp *loop.Loop, logger logging.Logger, keeper statekeeper.Keeper, cfg Config) *Element {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = defaultSaveInterval
	}
	e := &Element{lp: lp, keeper: keeper, logger: logger, cfg: cfg}
	e.Base = filterbase.Base{
		ClassNameV:    ClassName,
		NameV:         name,
		Mapper:        mapper,
		Logger:        logger,
		MediaFiltered: cfg.MediaFiltered,
	}
	e.Base.CreateData = e.createCallbackData
	return e
}

func (e *Element) Initialize() bool {
	if !e.Base.Initialize() {
		return false
	}
	if e.keeper != nil {
		e.lp.RegisterAlarm(purgeAlarmPeriod, e.purgeKeys)
	}
	return true
}

// timedState is the persisted per-request position: the media timestamp
// last seen and the wall-clock time it was saved at, encoded as
// "mediaMs:utcMs" so PurgeKeys can decode it without a registered codec.
type timedState struct {
	mediaMs int64
	utcMs   int64
}

func (s timedState) encode() string {
	return fmt.Sprintf("%d:%d", s.mediaMs, s.utcMs)
}

func decodeTimedState(s string) (timedState, bool) {
	mediaStr, utcStr, ok := strings.Cut(s, ":")
	if !ok {
		return timedState{}, false
	}
	mediaMs, err1 := strconv.ParseInt(mediaStr, 10, 64)
	utcMs, err2 := strconv.ParseInt(utcStr, 10, 64)
	if err1 != nil || err2 != nil {
		return timedState{}, false
	}
	return timedState{mediaMs: mediaMs, utcMs: utcMs}, true
}

type callbackData struct {
	e        *Element
	key      string
	state    timedState
	lastSave time.Time
}

func (e *Element) createCallbackData(media string, req *graph.Request) filterbase.CallbackData {
	c := &callbackData{e: e, key: req.ID + "/" + media}
	if e.keeper == nil {
		return c
	}
	values, err := e.keeper.GetKeyValues(context.Background(), e.NameV, c.key)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("key", c.key).Warn("timesaving: cannot load state, assuming clean start")
		}
		return c
	}
	raw, ok := values[c.key]
	if !ok {
		return c
	}
	state, ok := decodeTimedState(raw)
	if !ok {
		if e.logger != nil {
			e.logger.WithField("key", c.key).Warn("timesaving: cannot decode saved state")
		}
		return c
	}
	if e.logger != nil {
		e.logger.WithFields(map[string]any{"key": c.key, "media_ms": state.mediaMs}).Info("timesaving: loaded saved position")
	}
	req.Info.SeekMs = state.mediaMs
	c.state = state
	return c
}

func (c *callbackData) FilterTag(t *tag.Tag, timestampMs int64) []*tag.Tag {
	out := []*tag.Tag{t}
	if c.e.keeper == nil {
		return out
	}
	now := c.e.lp.Now()
	if now.Sub(c.lastSave) <= c.e.cfg.SaveInterval {
		return out
	}
	c.state = timedState{mediaMs: timestampMs, utcMs: now.UnixMilli()}
	c.lastSave = now
	txn := c.e.keeper.Begin(c.e.NameV)
	txn.SetValue(c.key, c.state.encode())
	if err := txn.Commit(context.Background()); err != nil && c.e.logger != nil {
		c.e.logger.WithError(err).WithField("key", c.key).Warn("timesaving: failed to save state")
	}
	return out
}

func (c *callbackData) Unregister(req *graph.Request) bool {
	if c.e.keeper == nil {
		return true
	}
	txn := c.e.keeper.Begin(c.e.NameV)
	txn.DeleteValue(c.key)
	if err := txn.Commit(context.Background()); err != nil && c.e.logger != nil {
		c.e.logger.WithError(err).WithField("key", c.key).Warn("timesaving: failed to delete state")
	}
	return true
}

// purgeKeys sweeps every saved position under this element's namespace,
// deleting entries whose save timestamp is older than purgeAge.
func (e *Element) purgeKeys() {
	e.mu.Lock()
	closing := e.closing
	e.mu.Unlock()
	if closing {
		return
	}

	values, err := e.keeper.GetKeyValues(context.Background(), e.NameV, "")
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).Warn("timesaving: purge failed to list keys")
		}
	} else {
		now := e.lp.Now().UnixMilli()
		txn := e.keeper.Begin(e.NameV)
		dirty := false
		purged := 0
		for key, raw := range values {
			state, ok := decodeTimedState(raw)
			if !ok || now-state.utcMs > purgeAge.Milliseconds() {
				txn.DeleteValue(key)
				dirty = true
				purged++
			}
		}
		if dirty {
			if err := txn.Commit(context.Background()); err != nil && e.logger != nil {
				e.logger.WithError(err).Warn("timesaving: purge commit failed")
			}
		}
		if e.logger != nil {
			e.logger.WithField("purged", purged).Debug("timesaving: purged stale positions")
		}
	}

	e.mu.Lock()
	closing = e.closing
	e.mu.Unlock()
	if !closing {
		e.lp.RegisterAlarm(purgeAlarmPeriod, e.purgeKeys)
	}
}

func (e *Element) Close(done graph.DoneCallback) {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	e.Base.Close(done)
}

var _ graph.Element = (*Element)(nil)
