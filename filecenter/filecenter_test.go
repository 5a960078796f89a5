package filecenter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/logger"
	"github.com/twodrive/twodrive/protocol"
)

type fakeBroadcaster struct {
	sent []protocol.MessageType
}

func (f *fakeBroadcaster) Broadcast(t protocol.MessageType, payload []byte) {
	f.sent = append(f.sent, t)
}

type fakePeer struct {
	on       bool
	received []protocol.BlockMessage
}

func (p *fakePeer) IsOn() bool      { return p.on }
func (p *fakePeer) QueueSize() int  { return 0 }
func (p *fakePeer) Send(t protocol.MessageType, payload []byte) {
	m, err := protocol.UnmarshalBlockMessage(payload)
	if err != nil {
		panic(err)
	}
	p.received = append(p.received, m)
}

func newTestCenter(t *testing.T) (*Center, *fakeBroadcaster) {
	t.Helper()
	root := t.TempDir()
	bc := &fakeBroadcaster{}
	log := logger.New().NewFacility("filecenter", "")
	c := New(filepath.Join(root, "share"), filepath.Join(root, "file_info"), time.Second, time.Second, bc, log, events.NewLogger())
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	return c, bc
}

func TestGCDDiscoversNewFile(t *testing.T) {
	c, bc := newTestCenter(t)

	if err := os.WriteFile(filepath.Join(c.shareDir, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !c.Has("hello.txt") && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if !c.Has("hello.txt") {
		t.Fatal("gcd did not discover hello.txt in time")
	}

	if len(bc.sent) == 0 || bc.sent[0] != protocol.MessageFileAdded {
		t.Errorf("expected a FILE_ADDED broadcast, got %v", bc.sent)
	}

	if _, err := os.Stat(filepath.Join(c.infoDir, "hello.txt")); err != nil {
		t.Errorf("expected file info to be persisted: %v", err)
	}
}

func TestReaderServesRequestedBlock(t *testing.T) {
	c, _ := newTestCenter(t)

	content := []byte("the quick brown fox")
	if err := os.WriteFile(filepath.Join(c.shareDir, "doc.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.AddFile("doc.txt", time.Now().Unix()); err != nil {
		t.Fatal(err)
	}

	entry, ok := c.Entry("doc.txt")
	if !ok {
		t.Fatal("expected doc.txt to be tracked")
	}

	peer := &fakePeer{on: true}
	entry.Reader.Request(0, peer)

	deadline := time.Now().Add(2 * time.Second)
	for len(peer.received) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(peer.received) != 1 {
		t.Fatalf("expected one block delivered, got %d", len(peer.received))
	}
	if string(peer.received[0].Data) != string(content) {
		t.Errorf("block content = %q, want %q", peer.received[0].Data, content)
	}
}

func TestReaderDropsRequestForOfflinePeer(t *testing.T) {
	c, _ := newTestCenter(t)
	if err := os.WriteFile(filepath.Join(c.shareDir, "doc.txt"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.AddFile("doc.txt", time.Now().Unix()); err != nil {
		t.Fatal(err)
	}
	entry, _ := c.Entry("doc.txt")

	peer := &fakePeer{on: false}
	entry.Reader.Request(0, peer)

	time.Sleep(100 * time.Millisecond)
	if len(peer.received) != 0 {
		t.Errorf("expected no blocks delivered to an offline peer, got %d", len(peer.received))
	}
}
