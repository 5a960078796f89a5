// Package hub is the connection hub: for each known peer it maintains
// an Inbox (receiving frames and dispatching to handlers) and an
// Outbox (serialising, optionally compressing, optionally encrypting,
// and transmitting frames), plus a Listener that accepts inbound TCP
// connections and (re)binds them to the right peer slot.
//
// Grounded line-for-line on original_source/Code/connection_hub.py.
package hub

import (
	"sync"
	"time"

	"github.com/twodrive/twodrive/download"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/filecenter"
	"github.com/twodrive/twodrive/logger"
	"github.com/twodrive/twodrive/protocol"
	"github.com/twodrive/twodrive/transform"
)

// Port is connection_hub.py's well-known TCP port.
const Port = 23456

// FileCenter is the capability the hub needs from the file center:
// looking up a file's Reader to satisfy a BLOCK_REQUEST, and building
// the FILE_DICT snapshot sent at connection establishment.
type FileCenter interface {
	Entry(name string) (*filecenter.FileEntry, bool)
	FileDictMessage() (protocol.FileDict, error)
}

// DownloadManager is the capability the hub needs from the download
// manager: delivering each of the four message kinds it forwards.
type DownloadManager interface {
	HandleFileDict(peerID string, dict protocol.FileDict)
	HandleFileAdded(peerID string, msg protocol.FileInfoMessage)
	HandleFileModified(peerID string, msg protocol.FileInfoMessage)
	HandleBlock(peerID string, msg protocol.BlockMessage)
}

// PeerSlot is one entry of the peer dictionary: an Outbox always
// exists from startup, an Inbox is populated once a connection from
// that peer has been accepted.
type PeerSlot struct {
	Inbox  *Inbox
	Outbox *Outbox
}

// Hub owns the peer dictionary and wires Inbox/Outbox/Listener
// together. It implements filecenter.Broadcaster and
// download.PeerDirectory so neither package needs to import hub.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*PeerSlot

	center   FileCenter
	manager  DownloadManager
	compress bool
	encrypt  bool

	compressor transform.Compressor
	cipher     transform.Cipher

	maxSendKBps int

	// dialPort is the port an Outbox dials; always Port in production,
	// overridden by tests that spin up a listener on an ephemeral port.
	dialPort int

	log    *logger.Facility
	events *events.Logger
}

// Options configures a Hub at construction time.
type Options struct {
	PeerList    []string
	Encryption  bool
	Compression bool
	MaxSendKBps int
}

// New constructs a Hub. center and manager may be nil at construction
// time and supplied later with SetFileCenter/SetDownloadManager — main.go
// constructs the hub first (the file center and download manager both
// need it as their peer-facing collaborator), then wires it back in.
// Call Start only once both are set.
func New(opts Options, center FileCenter, manager DownloadManager, log *logger.Facility, ev *events.Logger) *Hub {
	h := &Hub{
		peers:       make(map[string]*PeerSlot),
		center:      center,
		manager:     manager,
		compress:    opts.Compression,
		encrypt:     opts.Encryption,
		compressor:  transform.NewGzipCompressor(6),
		cipher:      transform.NewAESCipher(),
		maxSendKBps: opts.MaxSendKBps,
		dialPort:    Port,
		log:         log,
		events:      ev,
	}
	for _, peerIP := range opts.PeerList {
		h.peers[peerIP] = &PeerSlot{Outbox: newOutbox(peerIP, h)}
	}
	return h
}

// SetFileCenter wires the file center in once it has been constructed.
func (h *Hub) SetFileCenter(c FileCenter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.center = c
}

// SetDownloadManager wires the download manager in once it has been
// constructed.
func (h *Hub) SetDownloadManager(m DownloadManager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.manager = m
}

// Start dials every configured peer's Outbox and begins accepting
// inbound connections. Mirrors connection_hub_init.
func (h *Hub) Start() error {
	h.mu.Lock()
	slots := make([]*PeerSlot, 0, len(h.peers))
	for _, slot := range h.peers {
		slots = append(slots, slot)
	}
	h.mu.Unlock()
	for _, slot := range slots {
		go slot.Outbox.run()
	}

	listener := newListener(h)
	go listener.run()
	return nil
}

// Broadcast sends a message to every peer whose outbox is on.
// Satisfies filecenter.Broadcaster.
func (h *Hub) Broadcast(t protocol.MessageType, payload []byte) {
	h.mu.Lock()
	slots := make([]*PeerSlot, 0, len(h.peers))
	for _, slot := range h.peers {
		slots = append(slots, slot)
	}
	h.mu.Unlock()
	for _, slot := range slots {
		if slot.Outbox != nil && slot.Outbox.IsOn() {
			slot.Outbox.Send(t, payload)
		}
	}
}

// Outbox resolves a peer identifier to its outbox. Satisfies
// download.PeerDirectory.
func (h *Hub) Outbox(peerID string) (download.PeerOutbox, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.peers[peerID]
	if !ok || slot.Outbox == nil {
		return nil, false
	}
	return slot.Outbox, true
}

// outboxFor is the filecenter.PeerOutbox-typed counterpart of Outbox,
// used by Inbox when it resolves BLOCK_REQUEST's paired outbox for a
// Reader (filecenter.PeerOutbox also requires QueueSize, which
// download.PeerOutbox does not).
func (h *Hub) outboxFor(peerID string) (filecenter.PeerOutbox, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.peers[peerID]
	if !ok || slot.Outbox == nil {
		return nil, false
	}
	return slot.Outbox, true
}

func (h *Hub) slotFor(peerID string) *PeerSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.peers[peerID]
	if !ok {
		slot = &PeerSlot{}
		h.peers[peerID] = slot
	}
	return slot
}

func (h *Hub) setInbox(peerID string, in *Inbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.peers[peerID]
	if !ok {
		slot = &PeerSlot{}
		h.peers[peerID] = slot
	}
	slot.Inbox = in
}

func (h *Hub) setOutbox(peerID string, out *Outbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.peers[peerID]
	if !ok {
		slot = &PeerSlot{}
		h.peers[peerID] = slot
	}
	slot.Outbox = out
}

// dialRetryInterval bounds connection_hub.py's tight busy-retry loop
// to something that doesn't spin a CPU core at 100%.
const dialRetryInterval = 200 * time.Millisecond

// outboxBurstBytes sizes the rate limiter's burst to comfortably
// exceed one filecenter.BlockSize BLOCK frame.
const outboxBurstBytes = 32 * 1024 * 1024

// boolFlag is a mutex-guarded bool, used for the on/encrypted flags
// Inbox and Outbox flip from different goroutines (the hub's owning
// goroutine and the connection's own read/write loop).
type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (f *boolFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

func (f *boolFlag) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v = v
}
