package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/calmh/xdr"
	"github.com/pkg/errors"
)

// EncryptionLevel announces whether a peer wants its outbound traffic
// encrypted. Negotiated once per connection, before FILE_DICT.
type EncryptionLevel uint32

const (
	EncryptionDisabled EncryptionLevel = iota
	EncryptionEnabled
)

// MarshalXDR encodes an ENCRYPTION message payload.
func (e EncryptionLevel) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteUint32(uint32(e))
	return buf.Bytes(), xw.Error()
}

// UnmarshalEncryptionLevel decodes an ENCRYPTION message payload.
func UnmarshalEncryptionLevel(bs []byte) (EncryptionLevel, error) {
	xr := xdr.NewReader(bytes.NewReader(bs))
	e := EncryptionLevel(xr.ReadUint32())
	return e, xr.Error()
}

// FileInfoMessage is the FILE_ADDED / FILE_MODIFIED payload: the name
// of the file that changed and its new metadata. Unlike FILE_DICT,
// this layout is pinned to the wire rather than implementation-private:
// an 8-byte path length, the path itself, then the FileInfo fields.
type FileInfoMessage struct {
	Name string
	Info FileInfo
}

func (m FileInfoMessage) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(len(m.Name)))
	buf.WriteString(m.Name)
	xw := xdr.NewWriter(&buf)
	if err := m.Info.encodeXDR(xw); err != nil {
		return nil, err
	}
	return buf.Bytes(), xw.Error()
}

func UnmarshalFileInfoMessage(bs []byte) (FileInfoMessage, error) {
	name, rest, err := readLengthPrefixed(bs)
	if err != nil {
		return FileInfoMessage{}, err
	}
	m := FileInfoMessage{Name: name}
	xr := xdr.NewReader(bytes.NewReader(rest))
	if err := m.Info.decodeXDR(xr); err != nil {
		return FileInfoMessage{}, err
	}
	return m, xr.Error()
}

// BlockRequestMessage is the BLOCK_REQUEST payload: asks the peer
// holding the named file to send back one specific block. The path
// carries no length field of its own; the frame's payload size bounds
// it.
type BlockRequestMessage struct {
	BlockNum uint64
	Name     string
}

func (m BlockRequestMessage) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, m.BlockNum)
	buf.WriteString(m.Name)
	return buf.Bytes(), nil
}

func UnmarshalBlockRequestMessage(bs []byte) (BlockRequestMessage, error) {
	blockNum, rest, err := readUint64(bs)
	if err != nil {
		return BlockRequestMessage{}, err
	}
	return BlockRequestMessage{BlockNum: blockNum, Name: string(rest)}, nil
}

// BlockMessage is the BLOCK payload: one block's raw content, in
// answer to a BlockRequestMessage. Layout: 8-byte block index, 8-byte
// path length, path bytes, then the block's raw bytes with no length
// field of its own (the frame's payload size bounds it).
type BlockMessage struct {
	BlockNum uint64
	Name     string
	Data     []byte
}

func (m BlockMessage) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, m.BlockNum)
	writeUint64(&buf, uint64(len(m.Name)))
	buf.WriteString(m.Name)
	buf.Write(m.Data)
	return buf.Bytes(), nil
}

func UnmarshalBlockMessage(bs []byte) (BlockMessage, error) {
	blockNum, rest, err := readUint64(bs)
	if err != nil {
		return BlockMessage{}, err
	}
	name, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return BlockMessage{}, err
	}
	return BlockMessage{BlockNum: blockNum, Name: name, Data: rest}, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(bs []byte) (uint64, []byte, error) {
	if len(bs) < 8 {
		return 0, nil, errors.New("protocol: payload too short for a uint64 field")
	}
	return binary.BigEndian.Uint64(bs[:8]), bs[8:], nil
}

// readLengthPrefixed reads an 8-byte big-endian length followed by
// that many bytes of string data, returning the remainder.
func readLengthPrefixed(bs []byte) (string, []byte, error) {
	n, rest, err := readUint64(bs)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, errors.New("protocol: payload too short for its length-prefixed field")
	}
	return string(rest[:n]), rest[n:], nil
}
