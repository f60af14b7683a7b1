// Package zipnfs implements the server-side RPC plumbing: record-marking
// framing shared by the adapter and the client driver, and the procedure
// dispatch layer on top of the handlers.
package zipnfs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mark-i-m/zippynfs/internal/bytesize"
	"github.com/mark-i-m/zippynfs/internal/logger"
)

// MaxFragmentSize is the maximum allowed RPC fragment size. The response
// payload budget is 4000 bytes, so one fragment comfortably carries any
// legal message plus headers.
const MaxFragmentSize = 1 << 20 // 1MB

// FragmentHeader is a parsed record-marking fragment header.
//
// The header is 4 bytes:
//   - Bit 31: last-fragment flag (1 = last)
//   - Bits 0-30: fragment length in bytes
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads and parses the 4-byte fragment header.
//
// EOF errors are returned directly (not wrapped) so callers can detect a
// normal client disconnect.
func ReadFragmentHeader(r io.Reader) (*FragmentHeader, error) {
	var buf [4]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return nil, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return &FragmentHeader{
		IsLast: (header & 0x80000000) != 0,
		Length: header & 0x7FFFFFFF,
	}, nil
}

// ValidateFragmentSize checks the fragment length against MaxFragmentSize.
// This prevents memory exhaustion from malicious or corrupt headers.
func ValidateFragmentSize(length uint32, clientAddr string) error {
	if length > MaxFragmentSize {
		logger.Warn("Fragment size exceeds maximum",
			"size", bytesize.ByteSize(length),
			"max", bytesize.ByteSize(MaxFragmentSize),
			logger.KeyClientIP, clientAddr)
		return fmt.Errorf("fragment too large: %d bytes", length)
	}
	return nil
}

// ReadMessage reads a message of the given length.
func ReadMessage(r io.Reader, length uint32) ([]byte, error) {
	message := make([]byte, length)
	if _, err := io.ReadFull(r, message); err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return message, nil
}

// WriteFrame writes one message as a single last-fragment record.
func WriteFrame(w io.Writer, message []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(message))|0x80000000)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write fragment header: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write fragment body: %w", err)
	}
	return nil
}

// ReadFrame reads one complete message, concatenating fragments up to the
// last-fragment marker.
func ReadFrame(r io.Reader, clientAddr string) ([]byte, error) {
	var message []byte
	for {
		header, err := ReadFragmentHeader(r)
		if err != nil {
			return nil, err
		}
		if err := ValidateFragmentSize(header.Length, clientAddr); err != nil {
			return nil, err
		}
		if uint32(len(message))+header.Length > MaxFragmentSize {
			return nil, fmt.Errorf("message exceeds %d bytes", MaxFragmentSize)
		}

		fragment, err := ReadMessage(r, header.Length)
		if err != nil {
			return nil, err
		}
		message = append(message, fragment...)

		if header.IsLast {
			return message, nil
		}
	}
}
