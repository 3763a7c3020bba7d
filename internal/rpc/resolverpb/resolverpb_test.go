package resolverpb

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req := &ResolveRequest{Media: "channel/one"}
	data, err := (wireCodec{}).Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var got ResolveRequest
	if err := (wireCodec{}).Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if got.Media != req.Media {
		t.Fatalf("got %+v, want %+v", got, req)
	}

	reply := &ResolveReply{ToPlay: []string{"a", "b", "c"}, Loop: true}
	data, err = (wireCodec{}).Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	var gotReply ResolveReply
	if err := (wireCodec{}).Unmarshal(data, &gotReply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if gotReply.Loop != reply.Loop || len(gotReply.ToPlay) != len(reply.ToPlay) {
		t.Fatalf("got %+v, want %+v", gotReply, reply)
	}
	for i := range reply.ToPlay {
		if gotReply.ToPlay[i] != reply.ToPlay[i] {
			t.Fatalf("entry %d: got %q, want %q", i, gotReply.ToPlay[i], reply.ToPlay[i])
		}
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var b []byte
	// Unknown field 7, varint type, before the real media field.
	const unknownField = 7
	b = append(b, byte(unknownField<<3|0))
	b = append(b, 42)
	b = append(b, byte(1<<3|2))
	b = append(b, 4, 'c', 'l', 'i', 'p')

	var got ResolveRequest
	if err := (wireCodec{}).Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Media != "clip" {
		t.Fatalf("got media %q, want %q", got.Media, "clip")
	}
}

type fakeResolverServer struct {
	reply *ResolveReply
}

func (s *fakeResolverServer) ResolveMedia(ctx context.Context, req *ResolveRequest) (*ResolveReply, error) {
	return s.reply, nil
}

func TestClientServerRoundTripOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterResolverServer(srv, &fakeResolverServer{reply: &ResolveReply{ToPlay: []string{"x", "y"}, Loop: true}})
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	client := NewResolverClient(conn)
	reply, err := client.ResolveMedia(context.Background(), "some/media")
	if err != nil {
		t.Fatalf("ResolveMedia: %v", err)
	}
	if !reply.Loop || len(reply.ToPlay) != 2 || reply.ToPlay[0] != "x" || reply.ToPlay[1] != "y" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
