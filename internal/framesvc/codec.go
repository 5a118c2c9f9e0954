package framesvc

import (
	"fmt"

	"google.golang.org/grpc"
)

// CodecName is the content subtype the frame service speaks. The messages
// follow frames.proto field for field, so any proto client can call it.
const CodecName = "proto"

// wireCodec marshals the service messages with protowire directly. It is
// forced on the server and on Client calls rather than registered, so the
// process-wide proto codec stays untouched.
type wireCodec struct{}

func (wireCodec) Name() string { return CodecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("framesvc codec: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("framesvc codec: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

// CallOption selects the frame service codec on a client call. Client adds it
// to every call.
func CallOption() grpc.CallOption {
	return grpc.ForceCodec(wireCodec{})
}

// ServerOption makes a grpc.Server decode every request with the frame
// service codec, whatever proto content subtype the caller sent.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(wireCodec{})
}
