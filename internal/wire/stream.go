package wire

import (
	"errors"

	"github.com/meshfleet/meshd/pkg/wire"
)

// DecodeStream repeatedly decodes frames from the front of buf until a
// partial frame or an error is hit. It returns the envelopes decoded, in
// order, and the bytes that were not consumed ("remaining" — either empty
// or a partial final frame). A decode error other than a short buffer
// aborts the loop and is returned alongside whatever was already decoded.
func DecodeStream(codec wire.Codec, buf []byte) ([]wire.Envelope, []byte, error) {
	var envelopes []wire.Envelope
	remaining := buf

	for {
		env, n, err := codec.DecodeFrame(remaining)
		if err != nil {
			if errors.Is(err, wire.ErrShortBuffer) {
				return envelopes, remaining, nil
			}
			return envelopes, remaining, err
		}
		envelopes = append(envelopes, env)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return envelopes, remaining, nil
		}
	}
}
