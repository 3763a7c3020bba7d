// Package resolverpb is the wire contract for the remote resolver element's
// ResolveMedia RPC: a media name in, an ordered play
// sequence out. Messages are encoded with the protobuf wire format via
// google.golang.org/protobuf/encoding/protowire directly rather than
// protoc-gen-go generated types, since no .proto/generated stub is
// available to run through a code generator; the field layout below is
// this package's own protocol, not a transcription of an upstream .proto
// file.
package resolverpb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ResolveRequest carries the media name to resolve.
type ResolveRequest struct {
	Media string
}

// ResolveReply is an ordered play sequence, optionally looping.
type ResolveReply struct {
	ToPlay []string
	Loop   bool
}

const (
	fieldRequestMedia  protowire.Number = 1
	fieldReplyToPlay   protowire.Number = 1
	fieldReplyLoop     protowire.Number = 2
)

func marshalResolveRequest(r *ResolveRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRequestMedia, protowire.BytesType)
	b = protowire.AppendString(b, r.Media)
	return b
}

func unmarshalResolveRequest(data []byte) (*ResolveRequest, error) {
	r := &ResolveRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldRequestMedia:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.Media = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return r, nil
}

func marshalResolveReply(r *ResolveReply) []byte {
	var b []byte
	for _, s := range r.ToPlay {
		b = protowire.AppendTag(b, fieldReplyToPlay, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = protowire.AppendTag(b, fieldReplyLoop, protowire.VarintType)
	var v uint64
	if r.Loop {
		v = 1
	}
	b = protowire.AppendVarint(b, v)
	return b
}

func unmarshalResolveReply(data []byte) (*ResolveReply, error) {
	r := &ResolveReply{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldReplyToPlay:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.ToPlay = append(r.ToPlay, v)
			data = data[m:]
		case fieldReplyLoop:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.Loop = v != 0
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return r, nil
}
