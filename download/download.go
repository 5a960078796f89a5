// Package download implements the download manager: it tracks every
// file a peer has announced that this instance does not yet have (or
// has announced as modified), requests blocks for it, and hands
// completed transfers to the file center.
//
// Grounded line-for-line on original_source/Code/download_manager.py.
package download

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/twodrive/twodrive/actor"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/logger"
	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

// BlockStatus tracks one block of a download in flight.
type BlockStatus int

const (
	BlockToDownload BlockStatus = iota
	BlockDownloading
	BlockDownloaded
	BlockToPartialUpdate
	BlockPartialUpdating
	BlockPartialUpdated
)

// partialUpdateFraction matches new_partial_update's 0.2% of a modified
// file's blocks, taken from the start of the file, re-fetched on each
// FILE_MODIFIED.
const partialUpdateFraction = 0.002

// PeerOutbox is the capability the download manager needs to ask a
// peer for a block. Declared narrowly (rather than importing hub) for
// the same reason as filecenter.PeerOutbox.
type PeerOutbox interface {
	IsOn() bool
	Send(t protocol.MessageType, payload []byte)
}

// PeerDirectory resolves a peer identifier to its outbox.
type PeerDirectory interface {
	Outbox(peerID string) (PeerOutbox, bool)
}

// FileCenter is the capability the download manager needs from the
// file center to know what's already shared and to adopt a completed
// transfer. Declared narrowly to avoid an import cycle (filecenter
// does not need to know about download).
type FileCenter interface {
	Has(name string) bool
	AddFile(name string, lastModified int64) error
	UpdateFile(name string, lastModified int64) error
	BlockReader(name string) FileReader
	Gate() *actor.Gate
}

// FileReader is the subset of filecenter.Reader the download manager
// uses to pause block service while it overwrites a file in place.
type FileReader interface {
	Block()
	Unblock()
}

type downloadEntry struct {
	info       protocol.FileInfo
	blockInfo  []BlockStatus
	mu         sync.Mutex
}

// Manager is the download dictionary plus its actor loop.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*downloadEntry
	queue    *actor.Queue

	infoDir        string
	downloadingDir string
	shareDir       string

	// center is nil until SetFileCenter is called; main.go constructs
	// the file center and the Manager first and then wires the center
	// in through fileCenterAdapter.
	center FileCenter
	peers  PeerDirectory

	log    *logger.Facility
	events *events.Logger
}

// inboundMessage is queued by the hub's Inbox and drained by the
// manager's single actor loop, matching DownloadManager.run's
// (peer_ip, message_type, message) tuple.
type inboundMessage struct {
	peerID string
	typ    protocol.MessageType
	body   interface{}
}

// NewManager constructs a Manager persisting state under infoDir and
// staging incoming blocks under downloadingDir; completed downloads
// and partial updates are delivered into shareDir.
func NewManager(infoDir, downloadingDir, shareDir string, peers PeerDirectory, log *logger.Facility, ev *events.Logger) *Manager {
	return &Manager{
		entries:        make(map[string]*downloadEntry),
		queue:          actor.NewQueue(),
		infoDir:        infoDir,
		downloadingDir: downloadingDir,
		shareDir:       shareDir,
		peers:          peers,
		log:            log,
		events:         ev,
	}
}

// SetFileCenter wires the file center in once both it and the
// download manager have been constructed.
func (m *Manager) SetFileCenter(c FileCenter) {
	m.center = c
}

// Start loads persisted download state and begins the actor loop.
func (m *Manager) Start() error {
	if err := os.MkdirAll(m.infoDir, 0755); err != nil {
		return errors.Wrap(err, "download: create download info dir")
	}
	if err := os.MkdirAll(m.downloadingDir, 0755); err != nil {
		return errors.Wrap(err, "download: create downloading dir")
	}
	if err := m.loadDownloadInfo(""); err != nil {
		return err
	}
	go m.run()
	return nil
}

// HandleFileDict processes a peer's FILE_DICT snapshot.
func (m *Manager) HandleFileDict(peerID string, dict protocol.FileDict) {
	m.queue.Put(inboundMessage{peerID: peerID, typ: protocol.MessageFileDict, body: dict})
}

// HandleFileAdded processes a FILE_ADDED announcement.
func (m *Manager) HandleFileAdded(peerID string, msg protocol.FileInfoMessage) {
	m.queue.Put(inboundMessage{peerID: peerID, typ: protocol.MessageFileAdded, body: msg})
}

// HandleFileModified processes a FILE_MODIFIED announcement.
func (m *Manager) HandleFileModified(peerID string, msg protocol.FileInfoMessage) {
	m.queue.Put(inboundMessage{peerID: peerID, typ: protocol.MessageFileModified, body: msg})
}

// HandleBlock processes a received block.
func (m *Manager) HandleBlock(peerID string, msg protocol.BlockMessage) {
	m.queue.Put(inboundMessage{peerID: peerID, typ: protocol.MessageBlock, body: msg})
}

func (m *Manager) run() {
	for {
		item := <-m.queue.Out()
		msg := item.(inboundMessage)
		switch msg.typ {
		case protocol.MessageFileDict:
			m.fileDictHandler(msg.peerID, msg.body.(protocol.FileDict))
		case protocol.MessageFileAdded:
			fm := msg.body.(protocol.FileInfoMessage)
			m.fileAddedHandler(msg.peerID, fm.Name, fm.Info)
		case protocol.MessageFileModified:
			fm := msg.body.(protocol.FileInfoMessage)
			m.fileModifiedHandler(msg.peerID, fm.Name, fm.Info)
		case protocol.MessageBlock:
			bm := msg.body.(protocol.BlockMessage)
			m.blockHandler(bm.BlockNum, bm.Name, bm.Data)
		}
		m.checkDownloadComplete()
	}
}

// fileDictHandler mirrors file_dict_handler. It does not perform
// modify-detection for files already known locally (Open Question #2
// in DESIGN.md): a FILE_DICT entry for an already-shared file is
// always ignored.
func (m *Manager) fileDictHandler(peerID string, dict protocol.FileDict) {
	for name, info := range dict {
		if m.center.Has(name) {
			continue
		}
		m.mu.Lock()
		entry, started := m.entries[name]
		m.mu.Unlock()
		if !started {
			m.newDownload(peerID, name, info)
			continue
		}
		entry.mu.Lock()
		hasToPartial := containsStatus(entry.blockInfo, BlockToPartialUpdate)
		hasToDownload := containsStatus(entry.blockInfo, BlockToDownload)
		entry.mu.Unlock()
		switch {
		case hasToPartial:
			m.continuePartialUpdate(peerID, name)
		case hasToDownload:
			m.continueDownload(peerID, name)
		}
	}
}

func (m *Manager) fileAddedHandler(peerID, name string, info protocol.FileInfo) {
	if m.center.Has(name) {
		return
	}
	m.mu.Lock()
	_, started := m.entries[name]
	m.mu.Unlock()
	if started {
		return
	}
	m.newDownload(peerID, name, info)
}

func (m *Manager) fileModifiedHandler(peerID, name string, info protocol.FileInfo) {
	if m.center.Has(name) {
		m.newPartialUpdate(peerID, name, info)
		return
	}
	m.fileAddedHandler(peerID, name, info)
}

func (m *Manager) blockHandler(blockNum uint64, name string, block []byte) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		m.log.Warnf("download: block handler: no such downloading file: %s", name)
		return
	}

	entry.mu.Lock()
	if int(blockNum) >= len(entry.blockInfo) {
		entry.mu.Unlock()
		m.log.Warnf("download: block handler: block %d out of range for %s", blockNum, name)
		return
	}
	status := entry.blockInfo[blockNum]
	entry.mu.Unlock()

	if status != BlockDownloading && status != BlockPartialUpdating {
		return
	}

	if err := m.writeBlockFile(name, blockNum, block); err != nil {
		m.log.Warnf("download: write block %d of %s: %v", blockNum, name, err)
		return
	}
	metrics.BlocksTransferred.Inc()

	next := BlockDownloaded
	if status == BlockPartialUpdating {
		next = BlockPartialUpdated
	}
	m.updateBlockStatus(name, blockNum, next)
}

func containsStatus(blockInfo []BlockStatus, s BlockStatus) bool {
	for _, b := range blockInfo {
		if b == s {
			return true
		}
	}
	return false
}

func (m *Manager) writeBlockFile(name string, blockNum uint64, data []byte) error {
	path := blockPath(m.downloadingDir, name, blockNum)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func blockPath(downloadingDir, name string, blockNum uint64) string {
	return filepath.Join(downloadingDir, name) + "_block" + strconv.FormatUint(blockNum, 10)
}

// newDownload mirrors new_download: every block starts DOWNLOADING and
// is requested immediately.
func (m *Manager) newDownload(peerID, name string, info protocol.FileInfo) {
	blockInfo := make([]BlockStatus, info.NumBlocks)
	for i := range blockInfo {
		blockInfo[i] = BlockDownloading
	}
	m.addEntry(name, info, blockInfo)

	for b := uint64(0); b < info.NumBlocks; b++ {
		m.sendBlockRequest(peerID, b, name)
	}
}

// newPartialUpdate mirrors new_partial_update: every block starts
// DOWNLOADED (assumed already correct), and the leading
// ceil(NumBlocks*0.002) blocks are re-requested as PARTIAL_UPDATING.
func (m *Manager) newPartialUpdate(peerID, name string, info protocol.FileInfo) {
	numPartial := uint64(math.Ceil(float64(info.NumBlocks) * partialUpdateFraction))

	blockInfo := make([]BlockStatus, info.NumBlocks)
	for i := range blockInfo {
		blockInfo[i] = BlockDownloaded
	}
	m.addEntry(name, info, blockInfo)

	for b := uint64(0); b < numPartial && b < info.NumBlocks; b++ {
		m.updateBlockStatus(name, b, BlockPartialUpdating)
		m.sendBlockRequest(peerID, b, name)
	}
}

func (m *Manager) continueDownload(peerID, name string) {
	m.mu.Lock()
	entry := m.entries[name]
	m.mu.Unlock()

	entry.mu.Lock()
	toSend := make([]uint64, 0)
	for i, s := range entry.blockInfo {
		if s == BlockToDownload {
			entry.blockInfo[i] = BlockDownloading
			toSend = append(toSend, uint64(i))
		}
	}
	entry.mu.Unlock()

	for _, b := range toSend {
		m.sendBlockRequest(peerID, b, name)
	}
	m.persist(name)
}

func (m *Manager) continuePartialUpdate(peerID, name string) {
	m.mu.Lock()
	entry := m.entries[name]
	m.mu.Unlock()

	entry.mu.Lock()
	toSend := make([]uint64, 0)
	for i, s := range entry.blockInfo {
		if s == BlockToPartialUpdate {
			entry.blockInfo[i] = BlockPartialUpdating
			toSend = append(toSend, uint64(i))
		}
	}
	entry.mu.Unlock()

	for _, b := range toSend {
		m.sendBlockRequest(peerID, b, name)
	}
	m.persist(name)
}

func (m *Manager) sendBlockRequest(peerID string, blockNum uint64, name string) {
	outbox, ok := m.peers.Outbox(peerID)
	if !ok || !outbox.IsOn() {
		return
	}
	payload, err := protocol.BlockRequestMessage{BlockNum: blockNum, Name: name}.MarshalXDR()
	if err != nil {
		m.log.Warnf("download: encode block request for %s: %v", name, err)
		return
	}
	outbox.Send(protocol.MessageBlockRequest, payload)
}

func (m *Manager) addEntry(name string, info protocol.FileInfo, blockInfo []BlockStatus) {
	entry := &downloadEntry{info: info, blockInfo: blockInfo}
	m.mu.Lock()
	m.entries[name] = entry
	m.mu.Unlock()
	metrics.ActiveDownloads.Inc()
	m.persist(name)
	m.events.Log(events.DownloadStarted, name)
}

func (m *Manager) updateBlockStatus(name string, blockNum uint64, status BlockStatus) {
	m.mu.Lock()
	entry := m.entries[name]
	m.mu.Unlock()
	entry.mu.Lock()
	entry.blockInfo[blockNum] = status
	entry.mu.Unlock()
	m.persist(name)
}
