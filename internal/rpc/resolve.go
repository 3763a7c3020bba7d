package rpc

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cpopescu/streamgraph/internal/rpc/resolverpb"
	"github.com/cpopescu/streamgraph/pkg/grpcutil"
)

// ResolveBackend answers what a named media should resolve to: an ordered
// list of leaf media to play, and whether that list loops.
type ResolveBackend interface {
	ResolveMedia(ctx context.Context, media string) (toPlay []string, loop bool, err error)
	SetResolveSpec(media string, toPlay []string, loop bool)
}

type resolveSpecEntry struct {
	toPlay []string
	loop   bool
}

// MemoryResolveBackend is an in-memory ResolveBackend administered entirely
// through SetResolveSpec; it is the server side of the remote_resolver
// element's gRPC client, and is also reachable directly over HTTP.
type MemoryResolveBackend struct {
	mu    sync.RWMutex
	specs map[string]resolveSpecEntry
}

func NewMemoryResolveBackend() *MemoryResolveBackend {
	return &MemoryResolveBackend{specs: make(map[string]resolveSpecEntry)}
}

func (b *MemoryResolveBackend) ResolveMedia(ctx context.Context, media string) ([]string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.specs[media]
	if !ok {
		return nil, false, status.Errorf(codes.NotFound, "no resolve spec for media %q", media)
	}
	return entry.toPlay, entry.loop, nil
}

func (b *MemoryResolveBackend) SetResolveSpec(media string, toPlay []string, loop bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs[media] = resolveSpecEntry{toPlay: toPlay, loop: loop}
}

var _ ResolveBackend = (*MemoryResolveBackend)(nil)

// resolverServerAdapter exposes a ResolveBackend as a resolverpb.ResolverServer,
// the gRPC-facing counterpart of the remote_resolver element's client.
type resolverServerAdapter struct {
	backend ResolveBackend
}

// NewResolverServer wraps backend as the gRPC service remote resolver
// clients dial into.
func NewResolverServer(backend ResolveBackend) resolverpb.ResolverServer {
	return &resolverServerAdapter{backend: backend}
}

func (a *resolverServerAdapter) ResolveMedia(ctx context.Context, req *resolverpb.ResolveRequest) (*resolverpb.ResolveReply, error) {
	toPlay, loop, err := a.backend.ResolveMedia(ctx, req.Media)
	if err != nil {
		return nil, grpcutil.PropagateError(ctx, err, nil)
	}
	return &resolverpb.ResolveReply{ToPlay: toPlay, Loop: loop}, nil
}

var _ resolverpb.ResolverServer = (*resolverServerAdapter)(nil)
