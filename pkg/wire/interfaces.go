package wire

import "errors"

// Error kinds returned by Codec implementations, per the wire codec
// error table.
var (
	// ErrMessageTooLarge is returned when a frame's serialized body (the
	// encoded envelope, not only its Payload field) exceeds MaxPayloadBytes.
	ErrMessageTooLarge = errors.New("wire: message too large")
	// ErrInvalidEnvelope is returned when a decoded envelope fails the
	// non-empty namespace/type check.
	ErrInvalidEnvelope = errors.New("wire: invalid envelope")
	// ErrCompressedFrameRequiresAsyncPath is returned by the synchronous
	// decode path when a frame's compressed bit is set but no Compressor is
	// configured. Kept allocation-free for deployments that never compress.
	ErrCompressedFrameRequiresAsyncPath = errors.New("wire: compressed frame requires a configured decompressor")
	// ErrShortBuffer is returned by DecodeFrame to signal "not enough bytes
	// yet, ask again once more arrive"; it marks an incomplete frame, not a
	// malformed one.
	ErrShortBuffer = errors.New("wire: short buffer")
	// ErrReservedFlagBits is returned when a frame's reserved flag bits are
	// non-zero.
	ErrReservedFlagBits = errors.New("wire: reserved flag bits must be zero")
)

// Compressor is an optional, injectable (de)compression hook. A nil
// Compressor means "never compress" and disables decoding of compressed
// frames on the synchronous path (see ErrCompressedFrameRequiresAsyncPath).
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Codec encodes envelopes into frames and decodes frames back into
// envelopes. Implementations must round-trip every well-formed envelope up
// to MaxPayloadBytes and must never consume more bytes than they report.
type Codec interface {
	// Encode serializes env using format and prepends the frame header.
	// If a Compressor is configured and the serialized envelope exceeds the
	// codec's compression threshold, the frame is compressed and the
	// compressed-flag bit is set.
	Encode(env Envelope, format Format) ([]byte, error)

	// DecodeFrame attempts to decode exactly one frame from the front of
	// buf. It returns the decoded envelope and the number of bytes consumed.
	// If buf does not yet contain a full frame, it returns ErrShortBuffer
	// and a zero byte count; the caller should buffer more data and retry.
	DecodeFrame(buf []byte) (Envelope, int, error)
}
