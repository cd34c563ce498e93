// Package wire defines the envelope and frame codec shared by every
// connection in the mesh.
//
// This package defines the core abstractions for the wire codec component:
//   - Envelope: the {namespace, type, payload} unit carried by one frame
//   - Codec: encode/decode between an Envelope and a length-prefixed frame
//
// The interfaces use Go idioms:
//   - explicit error returns following Go conventions
//   - byte slices instead of streams for the (small, in-memory) frame body
//   - no exported mutable state; Envelope values are copied on construction
package wire
