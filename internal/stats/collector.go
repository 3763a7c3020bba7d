package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/cpopescu/streamgraph/pkg/logging"
)

// defaultQueueSize mirrors the original's fixed ProducerConsumerQueue(2000)
// capacity.
const defaultQueueSize = 2000

type connectionEntry struct {
	Begin *ConnectionBegin
	End   *ConnectionEnd
}

type streamEntry struct {
	Begin *StreamBegin
	End   *StreamEnd
}

type mediaEntry struct {
	Begin *MediaBegin
	End   *MediaEnd
}

// Collector is the stats2 StatsCollector translated to Go: StartXxx/EndXxx
// are called from the loop goroutine (the selector, per the original's
// `CHECK(selector_->IsInSelectThread())`), enqueue a copy onto a bounded
// channel for the worker goroutine to broadcast to every StatsSaver, and
// maintain the live in-memory maps GetStreamsStats/GetDetailedMediaStats/
// GetAllStreamIds read from directly.
type Collector struct {
	serverID       string
	serverInstance int64
	logger         logging.Logger

	queue  chan *Event
	savers []StatsSaver
	done   chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	connections map[string]connectionEntry
	streams     map[string]streamEntry
	media       map[string]mediaEntry

	nowFn func() time.Time
}

// New creates a Collector. nowFn defaults to time.Now; tests may override
// it for deterministic duration/bandwidth math.
func New(serverID string, serverInstance int64, savers []StatsSaver, logger logging.Logger) *Collector {
	return &Collector{
		serverID:       serverID,
		serverInstance: serverInstance,
		logger:         logger,
		savers:         savers,
		connections:    make(map[string]connectionEntry),
		streams:        make(map[string]streamEntry),
		media:          make(map[string]mediaEntry),
		nowFn:          time.Now,
	}
}

func (c *Collector) now() int64 {
	if c.nowFn != nil {
		return c.nowFn().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (c *Collector) Start() {
	if c.queue != nil {
		return
	}
	c.queue = make(chan *Event, defaultQueueSize)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.run()
}

// Stop closes the queue, lets the worker deliver every event already
// queued, and waits for it to finish. Registered savers are closed
// afterward. Reporting an event after Stop panics, since the queue is
// closed.
func (c *Collector) Stop() {
	if c.queue == nil {
		return
	}
	close(c.queue)
	c.wg.Wait()
	for _, s := range c.savers {
		if err := s.Close(); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("stats: saver close failed")
		}
	}
}

func (c *Collector) run() {
	defer c.wg.Done()
	for ev := range c.queue {
		for _, s := range c.savers {
			s.Save(ev)
		}
	}
}

// enqueue never blocks: a full queue is logged and the event dropped,
// since stats collection must never stall the data plane.
func (c *Collector) enqueue(ev *Event) {
	ev.ServerID = c.serverID
	ev.ServerInstance = c.serverInstance
	if ev.TimestampUtcMs == 0 {
		ev.TimestampUtcMs = c.now()
	}
	select {
	case c.queue <- ev:
	default:
		if c.logger != nil {
			c.logger.WithField("kind", ev.Kind.String()).Warn("stats: queue full, dropping event")
		}
	}
}

func (c *Collector) StartConnection(begin *ConnectionBegin, end *ConnectionEnd) {
	c.mu.Lock()
	c.connections[begin.ConnectionID] = connectionEntry{Begin: begin, End: end}
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventConnectionBegin, ConnectionBegin: begin})
}

func (c *Collector) EndConnection(end *ConnectionEnd) {
	c.mu.Lock()
	delete(c.connections, end.ConnectionID)
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventConnectionEnd, ConnectionEnd: end})
}

func (c *Collector) StartStream(begin *StreamBegin, end *StreamEnd) {
	c.mu.Lock()
	c.streams[begin.StreamID] = streamEntry{Begin: begin, End: end}
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventStreamBegin, StreamBegin: begin})
}

func (c *Collector) EndStream(end *StreamEnd) {
	c.mu.Lock()
	delete(c.streams, end.StreamID)
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventStreamEnd, StreamEnd: end})
}

func (c *Collector) StartMedia(begin *MediaBegin, end *MediaEnd) {
	c.mu.Lock()
	c.media[begin.MediaID] = mediaEntry{Begin: begin, End: end}
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventMediaBegin, MediaBegin: begin})
}

func (c *Collector) EndMedia(end *MediaEnd) {
	c.mu.Lock()
	delete(c.media, end.MediaID)
	c.mu.Unlock()
	c.enqueue(&Event{Kind: EventMediaEnd, MediaEnd: end})
}

// MediaStreamStats aggregates every active MediaBegin/MediaEnd pair whose
// ContentID matches one requested stream id.
type MediaStreamStats struct {
	Count int

	BandwidthUpAvg, BandwidthUpMin, BandwidthUpMax       float64
	BandwidthDownAvg, BandwidthDownMin, BandwidthDownMax float64
	DurationAvg, DurationMin, DurationMax                float64
}

// StreamsStats is GetStreamsStats's return value: per-id aggregates plus
// a grand total across every requested id.
type StreamsStats struct {
	Count            int
	BandwidthUpAvg   float64
	BandwidthDownAvg float64
	DurationAvg      float64
	Streams          map[string]*MediaStreamStats
}

// GetStreamsStats aggregates live media stats grouped by the requested
// stream (content) ids, computing bandwidth from each media's accumulated
// byte counters over its elapsed lifetime — grounded on
// StatsCollector::GetStreamsStats.
func (c *Collector) GetStreamsStats(streamIDs []string) StreamsStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ret := StreamsStats{Streams: make(map[string]*MediaStreamStats, len(streamIDs))}
	for _, id := range streamIDs {
		ret.Streams[id] = &MediaStreamStats{}
	}

	now := c.now()
	for _, m := range c.media {
		s, ok := ret.Streams[m.Begin.ContentID]
		if !ok {
			continue
		}
		durationSec := float64(now-m.Begin.TimestampUtcMs) / 1000.0
		if durationSec <= 0 {
			durationSec = 1
		}
		bwUp := float64(m.End.BytesUp) / durationSec * 8
		bwDown := float64(m.End.BytesDown) / durationSec * 8

		s.Count++
		s.BandwidthUpAvg += bwUp
		s.BandwidthDownAvg += bwDown
		s.DurationAvg += durationSec
		if s.Count == 1 || bwUp < s.BandwidthUpMin {
			s.BandwidthUpMin = bwUp
		}
		if bwUp > s.BandwidthUpMax {
			s.BandwidthUpMax = bwUp
		}
		if s.Count == 1 || bwDown < s.BandwidthDownMin {
			s.BandwidthDownMin = bwDown
		}
		if bwDown > s.BandwidthDownMax {
			s.BandwidthDownMax = bwDown
		}
		if s.Count == 1 || durationSec < s.DurationMin {
			s.DurationMin = durationSec
		}
		if durationSec > s.DurationMax {
			s.DurationMax = durationSec
		}
	}

	for _, s := range ret.Streams {
		if s.Count == 0 {
			continue
		}
		s.BandwidthUpAvg /= float64(s.Count)
		s.BandwidthDownAvg /= float64(s.Count)
		s.DurationAvg /= float64(s.Count)

		ret.Count += s.Count
		ret.BandwidthUpAvg += s.BandwidthUpAvg
		ret.BandwidthDownAvg += s.BandwidthDownAvg
		ret.DurationAvg += s.DurationAvg
	}
	if n := len(ret.Streams); n > 0 {
		ret.BandwidthUpAvg /= float64(n)
		ret.BandwidthDownAvg /= float64(n)
		ret.DurationAvg /= float64(n)
	}
	return ret
}

// GetAllStreamIds returns every distinct ContentID currently active,
// mapped to how many media entries currently belong to it.
func (c *Collector) GetAllStreamIds() map[string]int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int32)
	for _, m := range c.media {
		out[m.Begin.ContentID]++
	}
	return out
}

// MediaBeginEnd pairs one media's begin snapshot with its live end
// counters, GetDetailedMediaStats's per-id value.
type MediaBeginEnd struct {
	Begin *MediaBegin
	End   *MediaEnd
}

// GetDetailedMediaStats returns a deterministically ordered page (by
// media id) of every active media's begin/end pair.
func (c *Collector) GetDetailedMediaStats(start, limit int) map[string]MediaBeginEnd {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.media))
	for id := range c.media {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]MediaBeginEnd)
	if start < 0 || start >= len(ids) {
		return out
	}
	end := start + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[start:end] {
		m := c.media[id]
		out[id] = MediaBeginEnd{Begin: m.Begin, End: m.End}
	}
	return out
}
