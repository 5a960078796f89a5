package main

import (
	"bytes"
	"testing"
	"time"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	var opts Options
	if err := loadConfig(map[string]string{}, &opts); err != nil {
		t.Fatal(err)
	}
	if opts.Compression != true {
		t.Errorf("Compression = %v, want true (default)", opts.Compression)
	}
	if opts.ScanInterval != time.Second {
		t.Errorf("ScanInterval = %v, want 1s", opts.ScanInterval)
	}
	if opts.ShareDir != "./share/" {
		t.Errorf("ShareDir = %q, want ./share/", opts.ShareDir)
	}
}

func TestLoadConfigOverridesFromIni(t *testing.T) {
	m := map[string]string{
		"peers":          "10.0.0.2:23456, 10.0.0.3:23456",
		"encryption":     "true",
		"max-send-kbps":  "512",
		"scan-interval":  "5s",
	}
	var opts Options
	if err := loadConfig(m, &opts); err != nil {
		t.Fatal(err)
	}
	if !opts.Encryption {
		t.Error("Encryption = false, want true")
	}
	if opts.MaxSendKBps != 512 {
		t.Errorf("MaxSendKBps = %d, want 512", opts.MaxSendKBps)
	}
	if opts.ScanInterval != 5*time.Second {
		t.Errorf("ScanInterval = %v, want 5s", opts.ScanInterval)
	}
	want := []string{"10.0.0.2:23456", "10.0.0.3:23456"}
	if len(opts.PeerList) != len(want) {
		t.Fatalf("PeerList = %v, want %v", opts.PeerList, want)
	}
	for i, p := range want {
		if opts.PeerList[i] != p {
			t.Errorf("PeerList[%d] = %q, want %q", i, opts.PeerList[i], p)
		}
	}
}

func TestReadIniRoundTripsWriteConfig(t *testing.T) {
	opts := Options{
		PeerList:    []string{"10.0.0.2:23456"},
		Compression: true,
		MaxSendKBps: 100,
		ShareDir:    "./share/",
		TempDir:     "./temp/",
	}
	var buf bytes.Buffer
	writeConfig(&buf, opts)

	m, err := readIni(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if m["max-send-kbps"] != "100" {
		t.Errorf("max-send-kbps = %q, want 100", m["max-send-kbps"])
	}
	if m["share-dir"] != "./share/" {
		t.Errorf("share-dir = %q, want ./share/", m["share-dir"])
	}
}
