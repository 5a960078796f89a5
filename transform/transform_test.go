package transform

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestGzipRoundTrip(t *testing.T) {
	c := NewGzipCompressor(6)
	fn := func(data []byte) bool {
		compressed, err := c.Compress(data)
		if err != nil {
			t.Error(err)
			return false
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Error(err)
			return false
		}
		return bytes.Equal(data, decompressed)
	}
	if err := quick.Check(fn, nil); err != nil {
		t.Error(err)
	}
}

func TestGzipActuallyCompresses(t *testing.T) {
	c := NewGzipCompressor(6)
	data := bytes.Repeat([]byte("twodrive"), 4096)
	compressed, err := c.Compress(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(data) {
		t.Errorf("expected compression to shrink repetitive data, %d >= %d", len(compressed), len(data))
	}
}

func TestAESRoundTrip(t *testing.T) {
	c := NewAESCipher()
	fn := func(data []byte) bool {
		encrypted, err := c.Encrypt(data)
		if err != nil {
			t.Error(err)
			return false
		}
		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Error(err)
			return false
		}
		return bytes.Equal(data, decrypted)
	}
	if err := quick.Check(fn, nil); err != nil {
		t.Error(err)
	}
}

func TestAESPrependsFixedIV(t *testing.T) {
	c := NewAESCipher()
	encrypted, err := c.Encrypt([]byte("hello, peer"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encrypted[:16], iv) {
		t.Errorf("expected encrypted payload to be prefixed with the fixed IV")
	}
}

func TestAESDecryptRejectsShortInput(t *testing.T) {
	c := NewAESCipher()
	if _, err := c.Decrypt([]byte("short")); err == nil {
		t.Error("expected error decrypting input shorter than one block")
	}
}

func TestPKCS7PadUnpad(t *testing.T) {
	fn := func(data []byte) bool {
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			return false
		}
		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			t.Error(err)
			return false
		}
		return bytes.Equal(data, unpadded)
	}
	if err := quick.Check(fn, nil); err != nil {
		t.Error(err)
	}
}
