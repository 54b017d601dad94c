// Package codec implements the compact binary wire format shared with the
// ingestion backend.
//
// Every message starts with the same prefix:
//
//	kind      1 byte
//	timestamp uvarint, milliseconds since the unix epoch
//	length    uvarint, payload byte count
//	payload   length bytes
//
// Payload fields are written in declaration order as uvarints (unsigned),
// zigzag varints (signed), single bytes (bool) or uvarint-length-prefixed
// strings. A batch is a BatchMeta message followed by the batched messages,
// concatenated without further framing.
package codec
