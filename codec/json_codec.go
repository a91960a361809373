package codec

import (
	"encoding/json"
	"fmt"

	"rpcbridge/message"
)

// JSONCodec is the wire format browser clients speak.
// Pros: human-readable, what a browser client speaks natively.
// Cons: payloads are re-scanned on every hop.
type JSONCodec struct{}

func (JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte, env *message.Envelope) error {
	if err := json.Unmarshal(data, env); err != nil {
		return fmt.Errorf("%w: %v", message.ErrMalformed, err)
	}
	return nil
}

func (JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
