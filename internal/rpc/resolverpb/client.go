package resolverpb

import (
	"context"

	"google.golang.org/grpc"
)

// ResolverClient calls a Resolver service's ResolveMedia method over an
// already-dialed connection.
type ResolverClient struct {
	cc *grpc.ClientConn
}

// NewResolverClient wraps cc. The caller owns cc's lifecycle.
func NewResolverClient(cc *grpc.ClientConn) *ResolverClient {
	return &ResolverClient{cc: cc}
}

// ResolveMedia resolves media to a play sequence.
func (c *ResolverClient) ResolveMedia(ctx context.Context, media string) (*ResolveReply, error) {
	in := &ResolveRequest{Media: media}
	out := new(ResolveReply)
	if err := c.cc.Invoke(ctx, fullMethodResolveMedia, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}
