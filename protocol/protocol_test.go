package protocol

import (
	"bytes"
	"reflect"
	"testing"
	"testing/quick"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	f := func(size uint64, typ uint32) bool {
		var buf bytes.Buffer
		h := FrameHeader{Size: size, Type: MessageType(typ)}
		if err := WriteFrameHeader(&buf, h); err != nil {
			t.Error(err)
			return false
		}
		h2, err := ReadFrameHeader(&buf)
		if err != nil {
			t.Error(err)
			return false
		}
		return h == h2
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestWriteReadFrame(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some block content")
	if err := WriteFrame(&buf, MessageBlock, payload); err != nil {
		t.Fatal(err)
	}
	typ, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != MessageBlock {
		t.Errorf("type = %v, want %v", typ, MessageBlock)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestFileInfoRoundTrip(t *testing.T) {
	f := func(mtime, lastModified int64, numBlocks uint64) bool {
		fi := FileInfo{Mtime: mtime, LastModified: lastModified, NumBlocks: numBlocks}
		bs, err := fi.MarshalXDR()
		if err != nil {
			t.Error(err)
			return false
		}
		var fi2 FileInfo
		if err := fi2.UnmarshalXDR(bs); err != nil {
			t.Error(err)
			return false
		}
		return fi == fi2
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestFileDictRoundTrip(t *testing.T) {
	d := FileDict{
		"foo.txt":     {Mtime: 1, LastModified: 1, NumBlocks: 1},
		"bar/baz.bin": {Mtime: 2, LastModified: 3, NumBlocks: 7},
	}
	bs, err := d.MarshalXDR()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := UnmarshalFileDict(bs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d, d2) {
		t.Errorf("FileDict round trip mismatch:\n%#v\n%#v", d, d2)
	}
}

func TestEncryptionLevelRoundTrip(t *testing.T) {
	for _, e := range []EncryptionLevel{EncryptionDisabled, EncryptionEnabled} {
		bs, err := e.MarshalXDR()
		if err != nil {
			t.Fatal(err)
		}
		got, err := UnmarshalEncryptionLevel(bs)
		if err != nil {
			t.Fatal(err)
		}
		if got != e {
			t.Errorf("got %v, want %v", got, e)
		}
	}
}

func TestFileInfoMessageRoundTrip(t *testing.T) {
	f := func(name string, mtime, lastModified int64, numBlocks uint64) bool {
		m := FileInfoMessage{Name: name, Info: FileInfo{Mtime: mtime, LastModified: lastModified, NumBlocks: numBlocks}}
		bs, err := m.MarshalXDR()
		if err != nil {
			t.Error(err)
			return false
		}
		m2, err := UnmarshalFileInfoMessage(bs)
		if err != nil {
			t.Error(err)
			return false
		}
		return m == m2
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestBlockRequestMessageRoundTrip(t *testing.T) {
	f := func(blockNum uint64, name string) bool {
		m := BlockRequestMessage{BlockNum: blockNum, Name: name}
		bs, err := m.MarshalXDR()
		if err != nil {
			t.Error(err)
			return false
		}
		m2, err := UnmarshalBlockRequestMessage(bs)
		if err != nil {
			t.Error(err)
			return false
		}
		return m == m2
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestBlockMessageRoundTrip(t *testing.T) {
	f := func(blockNum uint64, name string, data []byte) bool {
		m := BlockMessage{BlockNum: blockNum, Name: name, Data: data}
		bs, err := m.MarshalXDR()
		if err != nil {
			t.Error(err)
			return false
		}
		m2, err := UnmarshalBlockMessage(bs)
		if err != nil {
			t.Error(err)
			return false
		}
		return m2.BlockNum == m.BlockNum && m2.Name == m.Name && bytes.Equal(m2.Data, m.Data)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
