package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// MaxMessageSize bounds a single framed message. Objects larger than
	// this cannot be pushed to peers.
	MaxMessageSize = 64 << 20

	// lengthPrefixSize is the size of the big-endian frame length.
	lengthPrefixSize = 4
)

// writeMessage writes data as one [len:4][payload] frame.
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), MaxMessageSize)
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	bufs := net.Buffers{prefix[:], data}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readMessage reads one frame written by writeMessage.
func readMessage(r io.Reader) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}
