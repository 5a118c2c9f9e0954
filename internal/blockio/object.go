package blockio

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Small schema-stable structs (calibration info, telemetry samples) are stored
// as deterministic CBOR. Image and point buffers never go through this path.
var (
	objectEnc cbor.EncMode
	objectDec cbor.DecMode
)

func init() {
	var err error
	objectEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("blockio: building object encoder: %v", err))
	}
	objectDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("blockio: building object decoder: %v", err))
	}
}

// MarshalObject encodes v in the compact object encoding.
func MarshalObject(v any) ([]byte, error) {
	b, err := objectEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode object %T: %w", v, err)
	}
	return b, nil
}

// UnmarshalObject decodes b into v. Unknown fields are rejected so that a
// layout drift surfaces as an error instead of silently dropped data.
func UnmarshalObject(b []byte, v any) error {
	if err := objectDec.Unmarshal(b, v); err != nil {
		return Malformed(fmt.Sprintf("%T object", v), "cannot decode", err)
	}
	return nil
}

// AppendObject encodes v and appends it to dst as one block.
func AppendObject(dst []byte, v any) ([]byte, error) {
	b, err := MarshalObject(v)
	if err != nil {
		return dst, err
	}
	return AppendBlock(dst, b), nil
}
