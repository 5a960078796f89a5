// Package protocol implements the wire format exchanged between
// connected peers: a fixed-size frame header followed by a payload
// whose shape depends on the message type, and the six message kinds
// exchanged by the file center and download manager.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageType identifies the kind of payload following a frame
// header, matching the six message types in connection_hub's wire
// format.
type MessageType uint32

const (
	MessageEncryption MessageType = iota
	MessageFileDict
	MessageFileModified
	MessageFileAdded
	MessageBlockRequest
	MessageBlock
)

func (t MessageType) String() string {
	switch t {
	case MessageEncryption:
		return "ENCRYPTION"
	case MessageFileDict:
		return "FILE_DICT"
	case MessageFileModified:
		return "FILE_MODIFIED"
	case MessageFileAdded:
		return "FILE_ADDED"
	case MessageBlockRequest:
		return "BLOCK_REQUEST"
	case MessageBlock:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

// FrameHeader precedes every payload on the wire: an 8-byte payload
// size followed by a 4-byte message type, both big-endian.
type FrameHeader struct {
	Size uint64
	Type MessageType
}

const FrameHeaderLength = 12

// WriteFrameHeader writes h to w.
func WriteFrameHeader(w io.Writer, h FrameHeader) error {
	var buf [FrameHeaderLength]byte
	binary.BigEndian.PutUint64(buf[0:8], h.Size)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Type))
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "protocol: write frame header")
}

// ReadFrameHeader reads a FrameHeader from r.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var buf [FrameHeaderLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FrameHeader{}, errors.Wrap(err, "protocol: read frame header")
	}
	return FrameHeader{
		Size: binary.BigEndian.Uint64(buf[0:8]),
		Type: MessageType(binary.BigEndian.Uint32(buf[8:12])),
	}, nil
}

// WriteFrame writes a complete frame (header + payload) to w.
func WriteFrame(w io.Writer, t MessageType, payload []byte) error {
	if err := WriteFrameHeader(w, FrameHeader{Size: uint64(len(payload)), Type: t}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return errors.Wrap(err, "protocol: write frame payload")
}

// ReadFrame reads a complete frame (header + payload) from r.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	h, err := ReadFrameHeader(r)
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "protocol: read frame payload")
	}
	return h.Type, payload, nil
}
