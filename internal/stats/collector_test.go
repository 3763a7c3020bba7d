package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/cpopescu/streamgraph/pkg/logging"
)

type recordingSaver struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *recordingSaver) Save(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSaver) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestCollectorBroadcastsToSavers(t *testing.T) {
	saver := &recordingSaver{}
	c := New("srv-1", 1, []StatsSaver{saver}, logging.NewLogger())
	c.Start()
	defer c.Stop()

	c.StartConnection(&ConnectionBegin{ConnectionID: "c1"}, &ConnectionEnd{ConnectionID: "c1"})
	c.StartStream(&StreamBegin{StreamID: "s1"}, &StreamEnd{StreamID: "s1"})
	c.StartMedia(&MediaBegin{MediaID: "m1", ContentID: "s1"}, &MediaEnd{MediaID: "m1"})
	c.EndMedia(&MediaEnd{MediaID: "m1", BytesDown: 1000})
	c.EndStream(&StreamEnd{StreamID: "s1"})
	c.EndConnection(&ConnectionEnd{ConnectionID: "c1", BytesDown: 2000})

	deadline := time.Now().Add(time.Second)
	for saver.count() < 6 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if saver.count() != 6 {
		t.Fatalf("saver received %d events, want 6", saver.count())
	}
}

func TestEnqueueDropsOnFullQueue(t *testing.T) {
	c := New("srv-1", 1, nil, logging.NewLogger())
	c.queue = make(chan *Event) // unbuffered, never drained: every send beyond this goroutine blocks

	c.enqueue(&Event{Kind: EventStreamBegin, StreamBegin: &StreamBegin{StreamID: "s"}})
	// Must return without blocking even though nothing reads from c.queue.
}

func TestGetStreamsStatsAggregatesByContentID(t *testing.T) {
	c := New("srv-1", 1, nil, logging.NewLogger())
	fakeNow := time.UnixMilli(100_000)
	c.nowFn = func() time.Time { return fakeNow }

	c.media["m1"] = mediaEntry{
		Begin: &MediaBegin{MediaID: "m1", ContentID: "stream-a", TimestampUtcMs: fakeNow.UnixMilli() - 10_000},
		End:   &MediaEnd{MediaID: "m1", BytesDown: 125_000},
	}
	c.media["m2"] = mediaEntry{
		Begin: &MediaBegin{MediaID: "m2", ContentID: "stream-a", TimestampUtcMs: fakeNow.UnixMilli() - 5_000},
		End:   &MediaEnd{MediaID: "m2", BytesDown: 50_000},
	}
	c.media["m3"] = mediaEntry{
		Begin: &MediaBegin{MediaID: "m3", ContentID: "stream-b", TimestampUtcMs: fakeNow.UnixMilli() - 2_000},
		End:   &MediaEnd{MediaID: "m3", BytesDown: 10_000},
	}

	stats := c.GetStreamsStats([]string{"stream-a"})
	a := stats.Streams["stream-a"]
	if a == nil || a.Count != 2 {
		t.Fatalf("expected stream-a to aggregate 2 media entries, got %+v", a)
	}
	if a.BandwidthDownAvg <= 0 {
		t.Fatalf("expected positive average bandwidth, got %v", a.BandwidthDownAvg)
	}
	if _, ok := stats.Streams["stream-b"]; ok {
		t.Fatal("did not request stream-b, should not appear in results")
	}
}

func TestGetAllStreamIdsCountsMediaPerContentID(t *testing.T) {
	c := New("srv-1", 1, nil, logging.NewLogger())
	c.media["m1"] = mediaEntry{Begin: &MediaBegin{MediaID: "m1", ContentID: "stream-a"}, End: &MediaEnd{}}
	c.media["m2"] = mediaEntry{Begin: &MediaBegin{MediaID: "m2", ContentID: "stream-a"}, End: &MediaEnd{}}
	c.media["m3"] = mediaEntry{Begin: &MediaBegin{MediaID: "m3", ContentID: "stream-b"}, End: &MediaEnd{}}

	ids := c.GetAllStreamIds()
	if ids["stream-a"] != 2 || ids["stream-b"] != 1 {
		t.Fatalf("unexpected counts: %+v", ids)
	}
}

func TestGetDetailedMediaStatsPaginates(t *testing.T) {
	c := New("srv-1", 1, nil, logging.NewLogger())
	for _, id := range []string{"a", "b", "c", "d"} {
		c.media[id] = mediaEntry{Begin: &MediaBegin{MediaID: id}, End: &MediaEnd{MediaID: id}}
	}
	page := c.GetDetailedMediaStats(1, 2)
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if _, ok := page["b"]; !ok {
		t.Fatal("expected 'b' in page starting at index 1")
	}
	if _, ok := page["c"]; !ok {
		t.Fatal("expected 'c' in page starting at index 1")
	}

	empty := c.GetDetailedMediaStats(10, 2)
	if len(empty) != 0 {
		t.Fatalf("expected empty page past the end, got %d entries", len(empty))
	}
}
