package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerSize = 4

	// MaxFrameSize caps a single payload.
	MaxFrameSize = 64 << 20
)

// WriteFrame writes payload behind a 4-byte big-endian length. The length
// counts the header itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(headerSize+len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size < headerSize {
		return nil, fmt.Errorf("%w: length %d", ErrBadFrame, size)
	}
	if size-headerSize > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
