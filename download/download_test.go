package download

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/twodrive/twodrive/actor"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/logger"
	"github.com/twodrive/twodrive/protocol"
)

type fakeOutbox struct {
	on       bool
	requests []protocol.BlockRequestMessage
}

func (o *fakeOutbox) IsOn() bool { return o.on }
func (o *fakeOutbox) Send(t protocol.MessageType, payload []byte) {
	if t != protocol.MessageBlockRequest {
		return
	}
	m, err := protocol.UnmarshalBlockRequestMessage(payload)
	if err != nil {
		panic(err)
	}
	o.requests = append(o.requests, m)
}

type fakePeers struct {
	outboxes map[string]*fakeOutbox
}

func (p *fakePeers) Outbox(peerID string) (PeerOutbox, bool) {
	o, ok := p.outboxes[peerID]
	return o, ok
}

type fakeReader struct{ blocked bool }

func (r *fakeReader) Block()   { r.blocked = true }
func (r *fakeReader) Unblock() { r.blocked = false }

type fakeCenter struct {
	has     map[string]bool
	added   map[string]int64
	updated map[string]int64
	reader  *fakeReader
	gate    *actor.Gate
}

func newFakeCenter() *fakeCenter {
	return &fakeCenter{has: map[string]bool{}, added: map[string]int64{}, updated: map[string]int64{}, reader: &fakeReader{}, gate: actor.NewGate()}
}

func (c *fakeCenter) Has(name string) bool { return c.has[name] }
func (c *fakeCenter) AddFile(name string, lastModified int64) error {
	c.has[name] = true
	c.added[name] = lastModified
	return nil
}
func (c *fakeCenter) UpdateFile(name string, lastModified int64) error {
	c.updated[name] = lastModified
	return nil
}
func (c *fakeCenter) BlockReader(name string) FileReader { return c.reader }
func (c *fakeCenter) Gate() *actor.Gate                  { return c.gate }

func newTestManager(t *testing.T) (*Manager, *fakeCenter, *fakePeers) {
	t.Helper()
	root := t.TempDir()
	peers := &fakePeers{outboxes: map[string]*fakeOutbox{}}
	log := logger.New().NewFacility("download", "")
	m := NewManager(filepath.Join(root, "download_info"), filepath.Join(root, "downloading"), filepath.Join(root, "share"), peers, log, events.NewLogger())
	center := newFakeCenter()
	m.SetFileCenter(center)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	return m, center, peers
}

func TestFileDictStartsNewDownloadAndRequestsAllBlocks(t *testing.T) {
	m, _, peers := newTestManager(t)
	outbox := &fakeOutbox{on: true}
	peers.outboxes["peer1"] = outbox

	info := protocol.FileInfo{Mtime: 1, LastModified: 1, NumBlocks: 3}
	m.HandleFileDict("peer1", protocol.FileDict{"a.txt": info})

	deadline := time.Now().Add(2 * time.Second)
	for len(outbox.requests) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(outbox.requests) != 3 {
		t.Fatalf("expected 3 block requests, got %d", len(outbox.requests))
	}
}

func TestFileDictIgnoresAlreadyKnownFile(t *testing.T) {
	m, center, peers := newTestManager(t)
	center.has["a.txt"] = true
	outbox := &fakeOutbox{on: true}
	peers.outboxes["peer1"] = outbox

	m.HandleFileDict("peer1", protocol.FileDict{"a.txt": {Mtime: 1, LastModified: 1, NumBlocks: 2}})

	time.Sleep(100 * time.Millisecond)
	if len(outbox.requests) != 0 {
		t.Errorf("expected no block requests for an already-known file, got %d", len(outbox.requests))
	}
}

func TestBlockHandlerCompletesDownload(t *testing.T) {
	m, center, peers := newTestManager(t)
	outbox := &fakeOutbox{on: true}
	peers.outboxes["peer1"] = outbox

	info := protocol.FileInfo{Mtime: 1, LastModified: 42, NumBlocks: 2}
	m.HandleFileAdded("peer1", protocol.FileInfoMessage{Name: "b.txt", Info: info})

	deadline := time.Now().Add(2 * time.Second)
	for len(outbox.requests) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	m.HandleBlock("peer1", protocol.BlockMessage{BlockNum: 0, Name: "b.txt", Data: []byte("hello")})
	m.HandleBlock("peer1", protocol.BlockMessage{BlockNum: 1, Name: "b.txt", Data: []byte("world")})

	deadline = time.Now().Add(2 * time.Second)
	for !center.has["b.txt"] && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !center.has["b.txt"] {
		t.Fatal("expected download to complete and register with the file center")
	}
	if center.added["b.txt"] != 42 {
		t.Errorf("added lastModified = %d, want 42", center.added["b.txt"])
	}
}

func TestFileModifiedOnKnownFileStartsPartialUpdate(t *testing.T) {
	m, center, peers := newTestManager(t)
	center.has["c.txt"] = true
	outbox := &fakeOutbox{on: true}
	peers.outboxes["peer1"] = outbox

	info := protocol.FileInfo{Mtime: 5, LastModified: 5, NumBlocks: 1000}
	m.HandleFileModified("peer1", protocol.FileInfoMessage{Name: "c.txt", Info: info})

	deadline := time.Now().Add(2 * time.Second)
	for len(outbox.requests) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(outbox.requests) == 0 {
		t.Fatal("expected a partial update to request at least one sampled block")
	}
}
