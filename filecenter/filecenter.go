// Package filecenter tracks the files a TwoDrive instance shares: a
// scanner (Grand Central Dispatch) that discovers new files under the
// share directory, and a per-file Reader actor that serves block
// reads to peers and watches its file for local modification.
//
// Grounded line-for-line on original_source/Code/file_center.py;
// see DESIGN.md for the mapping from its threading/Queue idioms to
// this package's actor/channel idioms.
package filecenter

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/twodrive/twodrive/actor"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/logger"
	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

// BlockSize is the fixed size a file is sliced into for transfer.
const BlockSize = 20 * 1024 * 1024

// PeerOutbox is the capability an Outbox exposes to a Reader so it can
// deliver requested blocks without filecenter importing the hub
// package (which itself depends on filecenter to look up a Reader).
type PeerOutbox interface {
	IsOn() bool
	QueueSize() int
	Send(t protocol.MessageType, payload []byte)
}

// Broadcaster delivers a file-added/file-modified announcement to
// every connected peer. Implemented by hub.Hub.
type Broadcaster interface {
	Broadcast(t protocol.MessageType, payload []byte)
}

// FileEntry pairs a tracked file's metadata with the Reader actor
// serving it.
type FileEntry struct {
	Info   protocol.FileInfo
	Reader *Reader
}

// Center is the file dictionary plus the scanner that populates it.
type Center struct {
	mu    sync.Mutex
	files map[string]*FileEntry

	shareDir string
	infoDir  string

	scanInterval   time.Duration
	modifyInterval time.Duration

	broadcaster Broadcaster
	log         *logger.Facility
	events      *events.Logger

	gcd *GCD
}

// New constructs a Center rooted at shareDir, persisting file metadata
// under infoDir. Call Start to begin scanning. A zero scanInterval or
// modifyInterval falls back to a one-second default.
func New(shareDir, infoDir string, scanInterval, modifyInterval time.Duration, broadcaster Broadcaster, log *logger.Facility, ev *events.Logger) *Center {
	if scanInterval <= 0 {
		scanInterval = time.Second
	}
	if modifyInterval <= 0 {
		modifyInterval = time.Second
	}
	c := &Center{
		files:          make(map[string]*FileEntry),
		shareDir:       shareDir,
		infoDir:        infoDir,
		scanInterval:   scanInterval,
		modifyInterval: modifyInterval,
		broadcaster:    broadcaster,
		log:            log,
		events:         ev,
	}
	c.gcd = newGCD(c)
	return c
}

// Start loads persisted file metadata, dispatches a Reader for each
// known file, and starts the scanner.
func (c *Center) Start() error {
	if err := os.MkdirAll(c.shareDir, 0755); err != nil {
		return errors.Wrap(err, "filecenter: create share dir")
	}
	if err := os.MkdirAll(c.infoDir, 0755); err != nil {
		return errors.Wrap(err, "filecenter: create info dir")
	}
	if err := c.loadFileInfo(""); err != nil {
		return err
	}
	go c.gcd.run()
	return nil
}

// Has reports whether name is already tracked.
func (c *Center) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[name]
	return ok
}

// Entry returns the tracked entry for name, if any.
func (c *Center) Entry(name string) (*FileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.files[name]
	return e, ok
}

// Gate exposes the scanner's pause gate so the download manager can
// hold off new-file discovery while it moves a completed download
// into the share directory.
func (c *Center) Gate() *actor.Gate {
	return c.gcd.gate
}

// BlockReader returns the Reader tracking name, so a caller can hold
// its Block/Unblock gate while splicing re-fetched blocks into the
// live file during a partial update. It returns the concrete *Reader;
// main.go's fileCenterAdapter converts it to download.FileReader.
func (c *Center) BlockReader(name string) *Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.files[name]
	if !ok {
		return nil
	}
	return entry.Reader
}

// AddFile registers a file that a completed download has just placed
// in the share directory: it computes fresh mtime metadata, persists
// it, starts a Reader, and broadcasts FILE_ADDED. Mirrors
// file_center.py's add_file, except
// the GCD-pause/file-move sequencing is the caller's responsibility
// (the download manager holds Gate() for the duration of the move).
func (c *Center) AddFile(name string, lastModified int64) error {
	info, err := c.statFileInfo(name, lastModified)
	if err != nil {
		return err
	}
	c.addLocked(name, info, true, true)
	return nil
}

// UpdateFile refreshes metadata for an already-tracked file after a
// partial update has overwritten it in place. Mirrors update_file.
func (c *Center) UpdateFile(name string, lastModified int64) error {
	c.mu.Lock()
	entry, ok := c.files[name]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("filecenter: update_file: unknown file %q", name)
	}

	mtime, err := fileMtime(c.shareDir, name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	entry.Info.Mtime = mtime
	entry.Info.LastModified = lastModified
	c.mu.Unlock()

	return c.writeFileInfo(name)
}

func (c *Center) statFileInfo(name string, lastModified int64) (protocol.FileInfo, error) {
	mtime, err := fileMtime(c.shareDir, name)
	if err != nil {
		return protocol.FileInfo{}, err
	}
	numBlocks, err := numBlocks(c.shareDir, name)
	if err != nil {
		return protocol.FileInfo{}, err
	}
	return protocol.FileInfo{Mtime: mtime, LastModified: lastModified, NumBlocks: numBlocks}, nil
}

// addLocked registers name with info, optionally persisting and
// broadcasting. Grounded on file_dict_add.
func (c *Center) addLocked(name string, info protocol.FileInfo, write, broadcast bool) {
	reader := newReader(name, c)

	c.mu.Lock()
	c.files[name] = &FileEntry{Info: info, Reader: reader}
	c.mu.Unlock()
	metrics.FilesInCenter.Inc()

	if write {
		if err := c.writeFileInfo(name); err != nil {
			c.log.Warnf("filecenter: write file info for %s: %v", name, err)
		}
	}

	go reader.run()

	if broadcast {
		c.broadcastFileInfo(name, protocol.MessageFileAdded)
	}
	c.events.Log(events.FileAdded, name)
}

// broadcastFileInfo sends the current FileInfo for name to every peer
// under the given message type. Grounded on broadcast_file_added and
// broadcast_file_modified, which are identical except for message
// type.
func (c *Center) broadcastFileInfo(name string, t protocol.MessageType) {
	c.mu.Lock()
	entry, ok := c.files[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	payload, err := protocol.FileInfoMessage{Name: name, Info: entry.Info}.MarshalXDR()
	if err != nil {
		c.log.Warnf("filecenter: encode file info message for %s: %v", name, err)
		return
	}
	c.broadcaster.Broadcast(t, payload)
}

// FileDictMessage builds the FILE_DICT snapshot sent to a peer at
// connection establishment. Mirrors file_dict_outbox_message.
func (c *Center) FileDictMessage() (protocol.FileDict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dict := make(protocol.FileDict, len(c.files))
	for name, entry := range c.files {
		dict[name] = entry.Info
	}
	return dict, nil
}

// loadFileInfo reads persisted metadata under infoDir and dispatches a
// Reader for each entry, without rewriting the file or broadcasting.
// Mirrors file_info_read.
func (c *Center) loadFileInfo(location string) error {
	dir := filepath.Join(c.infoDir, location)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "filecenter: read file info dir")
	}
	for _, entry := range entries {
		name := filepath.Join(location, entry.Name())
		if entry.IsDir() {
			if err := c.loadFileInfo(name); err != nil {
				return err
			}
			continue
		}
		info, err := readFileInfo(filepath.Join(c.infoDir, name))
		if err != nil {
			return errors.Wrapf(err, "filecenter: read file info for %s", name)
		}
		c.addLocked(name, info, false, false)
		c.log.Infof("file info read: %s | %+v", name, info)
	}
	return nil
}

// writeFileInfo persists the metadata for name to infoDir. Mirrors
// file_info_write.
func (c *Center) writeFileInfo(name string) error {
	c.mu.Lock()
	entry, ok := c.files[name]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("filecenter: write file info: unknown file %q", name)
	}

	path := filepath.Join(c.infoDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "filecenter: create file info dir")
	}
	if err := writeFileInfo(path, entry.Info); err != nil {
		return err
	}
	c.log.Infof("file info wrote: %s | %+v", name, entry.Info)
	return nil
}

func readFileInfo(path string) (protocol.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.FileInfo{}, err
	}
	defer f.Close()
	var info protocol.FileInfo
	if err := gob.NewDecoder(f).Decode(&info); err != nil {
		return protocol.FileInfo{}, err
	}
	return info, nil
}

func writeFileInfo(path string, info protocol.FileInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(info)
}

func fileMtime(shareDir, name string) (int64, error) {
	fi, err := os.Stat(filepath.Join(shareDir, name))
	if err != nil {
		return 0, errors.Wrap(err, "filecenter: stat")
	}
	return fi.ModTime().Unix(), nil
}

// numBlocks computes how many fixed-size blocks name is sliced into.
// Mirrors get_num_blocks.
func numBlocks(shareDir, name string) (uint64, error) {
	fi, err := os.Stat(filepath.Join(shareDir, name))
	if err != nil {
		return 0, errors.Wrap(err, "filecenter: stat")
	}
	return uint64(math.Ceil(float64(fi.Size()) / float64(BlockSize))), nil
}

// waitForPermission matches file_center.py's wait_for_permission: a
// best-effort check that the file isn't still being copied into
// place, by retrying Open while it fails with a permission error (any
// other error returns at once). Called before every block read and
// every modification check.
func waitForPermission(shareDir, name string) {
	for {
		f, err := os.Open(filepath.Join(shareDir, name))
		if err == nil {
			f.Close()
			return
		}
		if !os.IsPermission(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func relName(location, name string) string {
	if location == "" {
		return name
	}
	return strings.TrimSuffix(location, "/") + "/" + name
}
