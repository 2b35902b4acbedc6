package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// PrefixSize is the size of the big-endian length prefix of every frame.
	PrefixSize = 4
	// ChunkSize is the read buffer size used when assembling payloads.
	ChunkSize = 4096
	// MaxFrameSize bounds the payload allocation for a single frame.
	MaxFrameSize = 256 << 20
)

// ErrTransport is returned when a connection fails mid-message or delivers
// bytes that cannot be turned into a message.
var ErrTransport = errors.New("transport error")

// WriteFrame writes payload to w preceded by its 4-byte big-endian length.
// Prefix and payload go out in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrTransport, len(payload), MaxFrameSize)
	}
	buf := make([]byte, PrefixSize, PrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrTransport, err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload.
//
// It blocks until the full prefix and then the full payload have arrived,
// assembling them across as many partial reads as the stream needs.
// A stream that ends cleanly before any prefix byte returns io.EOF; a
// stream that ends or fails anywhere later returns an error wrapping
// ErrTransport.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read length prefix: %w", ErrTransport, err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrTransport, size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: read payload (%d bytes): %w", ErrTransport, size, err)
	}
	return payload, nil
}
