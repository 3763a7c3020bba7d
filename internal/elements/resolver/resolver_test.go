package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/rpc/resolverpb"
	"github.com/cpopescu/streamgraph/internal/tag"
)

// fakeSource is a minimal graph.Element standing in for whatever media a
// resolved play-sequence entry names; it immediately delivers one frame tag
// and never sends EOS on its own (endAll sends SourceEnded to every live
// request).
type fakeSource struct {
	name string
	cbs  map[*graph.Request]graph.ProcessingCallback
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{name: name, cbs: make(map[*graph.Request]graph.ProcessingCallback)}
}

func (f *fakeSource) ClassName() string { return "fake_source" }
func (f *fakeSource) Name() string      { return f.name }
func (f *fakeSource) Initialize() bool  { return true }
func (f *fakeSource) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	f.cbs[req] = cb
	cb(tag.New(tag.KindVideoFrame, tag.AttrCanResync, 1, 0, 0, nil), 0)
	return true
}
func (f *fakeSource) RemoveRequest(req *graph.Request)           { delete(f.cbs, req) }
func (f *fakeSource) HasMedia(path string) bool                  { return true }
func (f *fakeSource) ListMedia(dir string) []string              { return nil }
func (f *fakeSource) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	cb(nil)
	return true
}
func (f *fakeSource) Close(done graph.DoneCallback) {
	if done != nil {
		done()
	}
}
func (f *fakeSource) endAll() {
	for req, cb := range f.cbs {
		cb(tag.New(tag.KindSourceEnded, 0, req.Caps.FlavourMask, 0, 0, nil), 0)
	}
}

var _ graph.Element = (*fakeSource)(nil)

type countingResolverServer struct {
	mu    chan struct{}
	calls int
	reply *resolverpb.ResolveReply
}

func (s *countingResolverServer) ResolveMedia(ctx context.Context, req *resolverpb.ResolveRequest) (*resolverpb.ResolveReply, error) {
	s.calls++
	return s.reply, nil
}

func dialFakeResolver(t *testing.T, srv resolverpb.ResolverServer) (*resolverpb.ResolverClient, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	resolverpb.RegisterResolverServer(gs, srv)
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return resolverpb.NewResolverClient(conn), func() { conn.Close(); gs.Stop() }
}

func TestAddRequestResolvesAndPlaysSequence(t *testing.T) {
	fake := &countingResolverServer{reply: &resolverpb.ResolveReply{ToPlay: []string{"leaf"}, Loop: false}}
	client, cleanup := dialFakeResolver(t, fake)
	defer cleanup()

	mapper := graph.NewMapper()
	leaf := newFakeSource("leaf")
	mapper.Register(leaf)

	lp := loop.New()
	e := New("r", mapper, lp, nil, Config{
		CacheExpiration: time.Minute,
		Clients:         []*resolverpb.ResolverClient{client},
		NumRetries:      1,
		RequestTimeout:  time.Second,
	})
	e.Initialize()

	received := make(chan *tag.Tag, 4)
	req := graph.NewRequest("client-1", tag.Capabilities{AnyKind: true, FlavourMask: 1}, graph.Info{})
	if !e.AddRequest("k", req, func(t *tag.Tag, ts int64) { received <- t }) {
		t.Fatal("AddRequest returned false")
	}

	go lp.Run()
	defer lp.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fake.calls == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly 1 resolve call, got %d", fake.calls)
	}

	select {
	case tg := <-received:
		if tg.Kind != tag.KindVideoFrame {
			t.Fatalf("expected video frame from leaf, got %v", tg.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sequence playback to start")
	}

	// Second AddRequest within the cache window must not trigger another RPC.
	req2 := graph.NewRequest("client-2", tag.Capabilities{AnyKind: true, FlavourMask: 1}, graph.Info{})
	e.AddRequest("k", req2, func(t *tag.Tag, ts int64) {})
	time.Sleep(50 * time.Millisecond)
	if fake.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second RPC, got %d calls", fake.calls)
	}
}

func TestAddRequestFailsOverToEOSWhenNoClients(t *testing.T) {
	mapper := graph.NewMapper()
	lp := loop.New()
	e := New("r", mapper, lp, nil, Config{RequestTimeout: time.Second})
	e.Initialize()

	received := make(chan *tag.Tag, 1)
	req := graph.NewRequest("client-1", tag.Capabilities{AnyKind: true, FlavourMask: 1}, graph.Info{})
	e.AddRequest("k", req, func(t *tag.Tag, ts int64) { received <- t })

	select {
	case tg := <-received:
		if tg.Kind != tag.KindEOS {
			t.Fatalf("expected EOS, got %v", tg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOS")
	}
}
