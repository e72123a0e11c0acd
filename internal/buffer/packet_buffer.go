// Package buffer reassembles a TCP byte stream, which may arrive in
// arbitrarily sized and arbitrarily split chunks, into discrete
// length-prefixed messages.
package buffer

import (
	"encoding/binary"
	"fmt"

	"github.com/udisondev/l2mitmproxy/internal/constants"
)

// FramingError reports a length prefix outside the legal range
// (spec §7: length < 4 or > the implementation limit is fatal for the
// connection that produced it).
type FramingError struct {
	Length int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("buffer: invalid message length %d", e.Length)
}

// PacketBuffer accumulates plaintext bytes written by the stream layer and
// yields exactly the sequence of messages those bytes encode, regardless
// of how the writes were chunked. It is not safe for concurrent use; one
// PacketBuffer belongs to exactly one Connection direction.
type PacketBuffer struct {
	data []byte
}

// New returns an empty PacketBuffer.
func New() *PacketBuffer {
	return &PacketBuffer{}
}

// Write appends bytes to the internal queue. It never blocks and never
// parses; framing happens lazily in Read.
func (b *PacketBuffer) Write(p []byte) {
	b.data = append(b.data, p...)
}

// Read detaches and returns the next complete message, if one is fully
// buffered. ok is false when fewer than 2 bytes are buffered, or when the
// length prefix names a message the buffer hasn't fully received yet —
// in either case the caller should Write more data and retry.
//
// Read returns a FramingError (via err) the moment a length prefix is
// found to be out of range; the connection that owns this buffer must
// treat that as fatal and stop calling Read.
func (b *PacketBuffer) Read() (message []byte, ok bool, err error) {
	if len(b.data) < constants.HeaderSize {
		return nil, false, nil
	}

	length := int(binary.LittleEndian.Uint16(b.data[:constants.HeaderSize]))
	if length < constants.MinMessageLen || length > constants.MaxMessageLen {
		return nil, false, &FramingError{Length: length}
	}

	if len(b.data) < length {
		return nil, false, nil
	}

	message = make([]byte, length)
	copy(message, b.data[:length])
	b.data = b.data[length:]
	return message, true, nil
}

// Pending reports how many bytes are buffered but not yet yielded as a
// message; a non-zero value means a message is only partly received.
func (b *PacketBuffer) Pending() int {
	return len(b.data)
}
