// Package frame encodes and decodes RFC 6455 WebSocket frames.
//
// Only the subset of the protocol used by the relay is supported: every frame
// is treated as a complete message (fragmentation is not reassembled), client
// frames must be masked, and server frames are always sent unmasked.
//
// Decoding is available both over an in-memory buffer (Decode) and over a
// blocking stream (Reader). Encoding always produces the minimal length field.
package frame
