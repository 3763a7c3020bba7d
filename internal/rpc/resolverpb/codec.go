package resolverpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the grpc content-subtype this package's messages travel
// under (negotiated via grpc.CallContentSubtype on the client and matched
// by name, lowercased, against the registered codec on the server).
const codecName = "streamgraph-resolve"

// wireCodec adapts ResolveRequest/ResolveReply to grpc's encoding.Codec,
// standing in for the protoc-generated codec a .proto build would produce.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *ResolveRequest:
		return marshalResolveRequest(m), nil
	case *ResolveReply:
		return marshalResolveReply(m), nil
	default:
		return nil, fmt.Errorf("resolverpb: cannot marshal %T", v)
	}
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *ResolveRequest:
		r, err := unmarshalResolveRequest(data)
		if err != nil {
			return err
		}
		*m = *r
		return nil
	case *ResolveReply:
		r, err := unmarshalResolveReply(data)
		if err != nil {
			return err
		}
		*m = *r
		return nil
	default:
		return fmt.Errorf("resolverpb: cannot unmarshal into %T", v)
	}
}

func (wireCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(wireCodec{})
}
