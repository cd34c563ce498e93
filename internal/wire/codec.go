// Package wire implements the frame codec declared by pkg/wire.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/meshfleet/meshd/pkg/wire"
)

const (
	headerLen = 5 // 4-byte length + 1-byte flags

	flagCompressed byte = 1 << 0
	flagFormatMask byte = 0b0000_0110 // bits 1-2
	flagFormatJSON byte = 0b0000_0010
	flagReserved   byte = 0b1111_1000 // bits 3-7 must be zero
)

// DefaultCompressionThreshold disables compression by default ("never"),
// matching the spec's stated default.
const DefaultCompressionThreshold = -1

// FrameCodec is the concrete wire.Codec implementation. It is stateless and
// safe for concurrent use by multiple goroutines.
type FrameCodec struct {
	compressor  wire.Compressor
	threshold   int // compress when serialized size exceeds this; <0 disables
}

// NewFrameCodec creates a codec with no compressor configured (compression
// disabled).
func NewFrameCodec() *FrameCodec {
	return &FrameCodec{threshold: DefaultCompressionThreshold}
}

// WithCompressor returns a copy of the codec that compresses payloads
// larger than threshold bytes using c.
func (fc *FrameCodec) WithCompressor(c wire.Compressor, threshold int) *FrameCodec {
	return &FrameCodec{compressor: c, threshold: threshold}
}

type jsonEnvelope struct {
	Namespace string    `json:"namespace"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode implements wire.Codec.
func (fc *FrameCodec) Encode(env wire.Envelope, format wire.Format) ([]byte, error) {
	var body []byte
	var err error
	switch format {
	case wire.FormatJSON:
		body, err = json.Marshal(jsonEnvelope{
			Namespace: env.Namespace,
			Type:      env.Type,
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
		})
	default:
		body = encodeBinary(env)
	}
	if err != nil {
		return nil, err
	}

	flags := byte(0)
	if format == wire.FormatJSON {
		flags |= flagFormatJSON
	}

	if fc.compressor != nil && fc.threshold >= 0 && len(body) > fc.threshold {
		compressed, cerr := fc.compressor.Compress(body)
		if cerr != nil {
			return nil, cerr
		}
		body = compressed
		flags |= flagCompressed
	}

	if len(body) > wire.MaxPayloadBytes {
		return nil, wire.ErrMessageTooLarge
	}

	frame := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	frame[4] = flags
	copy(frame[headerLen:], body)
	return frame, nil
}

// DecodeFrame implements wire.Codec.
func (fc *FrameCodec) DecodeFrame(buf []byte) (wire.Envelope, int, error) {
	if len(buf) < headerLen {
		return wire.Envelope{}, 0, wire.ErrShortBuffer
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	flags := buf[4]

	if flags&flagReserved != 0 {
		return wire.Envelope{}, 0, wire.ErrReservedFlagBits
	}
	if length > wire.MaxPayloadBytes {
		return wire.Envelope{}, 0, wire.ErrMessageTooLarge
	}

	total := headerLen + int(length)
	if len(buf) < total {
		return wire.Envelope{}, 0, wire.ErrShortBuffer
	}

	body := buf[headerLen:total]

	if flags&flagCompressed != 0 {
		if fc.compressor == nil {
			return wire.Envelope{}, 0, wire.ErrCompressedFrameRequiresAsyncPath
		}
		decompressed, err := fc.compressor.Decompress(body)
		if err != nil {
			return wire.Envelope{}, 0, err
		}
		body = decompressed
	}

	var env wire.Envelope
	var err error
	if flags&flagFormatMask == flagFormatJSON {
		env, err = decodeJSON(body)
	} else {
		env, err = decodeBinary(body)
	}
	if err != nil {
		return wire.Envelope{}, 0, err
	}

	if env.Namespace == "" || env.Type == "" {
		return wire.Envelope{}, 0, wire.ErrInvalidEnvelope
	}

	return env, total, nil
}

func encodeBinary(env wire.Envelope) []byte {
	ns := []byte(env.Namespace)
	typ := []byte(env.Type)

	size := 2 + len(ns) + 2 + len(typ) + 8 + 4 + len(env.Payload)
	buf := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint16(buf[off:], uint16(len(ns)))
	off += 2
	off += copy(buf[off:], ns)

	binary.BigEndian.PutUint16(buf[off:], uint16(len(typ)))
	off += 2
	off += copy(buf[off:], typ)

	binary.BigEndian.PutUint64(buf[off:], uint64(env.Timestamp.UnixNano()))
	off += 8

	binary.BigEndian.PutUint32(buf[off:], uint32(len(env.Payload)))
	off += 4
	copy(buf[off:], env.Payload)

	return buf
}

func decodeBinary(buf []byte) (wire.Envelope, error) {
	off := 0
	readStr := func() (string, bool) {
		if len(buf) < off+2 {
			return "", false
		}
		n := int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		if len(buf) < off+n {
			return "", false
		}
		s := string(buf[off : off+n])
		off += n
		return s, true
	}

	ns, ok := readStr()
	if !ok {
		return wire.Envelope{}, wire.ErrInvalidEnvelope
	}
	typ, ok := readStr()
	if !ok {
		return wire.Envelope{}, wire.ErrInvalidEnvelope
	}
	if len(buf) < off+8 {
		return wire.Envelope{}, wire.ErrInvalidEnvelope
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:]))).UTC()
	off += 8

	if len(buf) < off+4 {
		return wire.Envelope{}, wire.ErrInvalidEnvelope
	}
	plen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+plen {
		return wire.Envelope{}, wire.ErrInvalidEnvelope
	}
	payload := make([]byte, plen)
	copy(payload, buf[off:off+plen])

	return wire.Envelope{Namespace: ns, Type: typ, Payload: payload, Timestamp: ts}, nil
}

func decodeJSON(buf []byte) (wire.Envelope, error) {
	var je jsonEnvelope
	if err := json.Unmarshal(buf, &je); err != nil {
		return wire.Envelope{}, err
	}
	return wire.Envelope{
		Namespace: je.Namespace,
		Type:      je.Type,
		Payload:   je.Payload,
		Timestamp: je.Timestamp,
	}, nil
}

var _ wire.Codec = (*FrameCodec)(nil)
