package protocol

import (
	"bytes"

	"github.com/calmh/xdr"
)

// FileInfo is the per-file metadata the file center tracks and
// advertises: modification time, the time of the last update
// broadcast to peers, and the number of fixed-size blocks the file is
// split into for transfer.
type FileInfo struct {
	Mtime        int64
	LastModified int64
	NumBlocks    uint64
}

func (f FileInfo) encodeXDR(xw *xdr.Writer) error {
	xw.WriteUint64(uint64(f.Mtime))
	xw.WriteUint64(uint64(f.LastModified))
	xw.WriteUint64(f.NumBlocks)
	return xw.Error()
}

func (f *FileInfo) decodeXDR(xr *xdr.Reader) error {
	f.Mtime = int64(xr.ReadUint64())
	f.LastModified = int64(xr.ReadUint64())
	f.NumBlocks = xr.ReadUint64()
	return xr.Error()
}

// MarshalXDR encodes f to its wire representation.
func (f FileInfo) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.encodeXDR(xdr.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalXDR decodes f from its wire representation.
func (f *FileInfo) UnmarshalXDR(bs []byte) error {
	return f.decodeXDR(xdr.NewReader(bytes.NewReader(bs)))
}

// FileDict is the full snapshot of a peer's known files, sent once at
// connection establishment so the download manager can detect files
// it does not yet have.
type FileDict map[string]FileInfo

// MarshalXDR encodes d as a length-prefixed sequence of (name, info)
// pairs.
func (d FileDict) MarshalXDR() ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	xw.WriteUint32(uint32(len(d)))
	for name, info := range d {
		xw.WriteString(name)
		if err := info.encodeXDR(xw); err != nil {
			return nil, err
		}
	}
	if err := xw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFileDict decodes a FileDict previously encoded with MarshalXDR.
func UnmarshalFileDict(bs []byte) (FileDict, error) {
	xr := xdr.NewReader(bytes.NewReader(bs))
	n := xr.ReadUint32()
	d := make(FileDict, n)
	for i := uint32(0); i < n; i++ {
		name := xr.ReadString()
		var info FileInfo
		if err := info.decodeXDR(xr); err != nil {
			return nil, err
		}
		d[name] = info
	}
	if err := xr.Error(); err != nil {
		return nil, err
	}
	return d, nil
}
