package filecenter

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/twodrive/twodrive/actor"
	"github.com/twodrive/twodrive/buffers"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/protocol"
)

// maxOutboxQueue matches file_center.py's "if outbox too busy, put
// task back to queue" threshold of 5.
const maxOutboxQueue = 5

// readRequest asks a Reader to serve one block back to peer.
type readRequest struct {
	blockNum uint64
	peer     PeerOutbox
}

// Reader is the per-file actor: it serves block reads to peers and
// periodically checks whether its file has changed on disk. Grounded
// on file_center.py's FileReader.
type Reader struct {
	name   string
	center *Center
	queue  *actor.Queue
	gate   *actor.Gate
}

func newReader(name string, c *Center) *Reader {
	return &Reader{
		name:   name,
		center: c,
		queue:  actor.NewQueue(),
		gate:   actor.NewGate(),
	}
}

// Block pauses this Reader, used while the file it serves is being
// overwritten in place by a partial update.
func (r *Reader) Block() { r.gate.Block() }

// Unblock resumes this Reader after the overwrite completes.
func (r *Reader) Unblock() { r.gate.Unblock() }

// Request enqueues a block read for later delivery to peer.
func (r *Reader) Request(blockNum uint64, peer PeerOutbox) {
	r.queue.Put(readRequest{blockNum: blockNum, peer: peer})
}

func (r *Reader) run() {
	ticker := time.NewTicker(r.center.modifyInterval)
	defer ticker.Stop()
	for {
		r.gate.Wait()
		select {
		case item := <-r.queue.Out():
			r.handle(item.(readRequest))
		case <-ticker.C:
			r.checkModify()
		}
	}
}

func (r *Reader) handle(req readRequest) {
	if !req.peer.IsOn() {
		// peer's outbox has been recycled (reconnect or shutdown); drop.
		return
	}
	if req.peer.QueueSize() > maxOutboxQueue {
		// give the peer's outbox a chance to drain before retrying.
		r.queue.Put(req)
		return
	}

	block, err := r.readBlock(req.blockNum)
	if err != nil {
		r.center.log.Warnf("filecenter: read block %d of %s: %v", req.blockNum, r.name, err)
		return
	}

	payload, err := protocol.BlockMessage{BlockNum: req.blockNum, Name: r.name, Data: block}.MarshalXDR()
	buffers.Put(block)
	if err != nil {
		r.center.log.Warnf("filecenter: encode block message for %s: %v", r.name, err)
		return
	}
	req.peer.Send(protocol.MessageBlock, payload)
}

// readBlock pulls a pooled buffer for the block rather than allocating
// fresh 20 MiB on every request; handle returns it to the pool once
// MarshalXDR has copied its contents into the frame payload.
func (r *Reader) readBlock(blockNum uint64) ([]byte, error) {
	waitForPermission(r.center.shareDir, r.name)

	f, err := os.Open(filepath.Join(r.center.shareDir, r.name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(blockNum)*BlockSize, 0); err != nil {
		return nil, err
	}
	buf := buffers.Get(BlockSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		buffers.Put(buf)
		return nil, err
	}
	return buf[:n], nil
}

// checkModify mirrors FileReader.check_modify: if the on-disk mtime
// no longer matches the tracked FileInfo, bump it and broadcast
// FILE_MODIFIED. A deleted file is logged and left in place, per the
// Non-goal on deletion handling.
func (r *Reader) checkModify() {
	waitForPermission(r.center.shareDir, r.name)

	mtime, err := fileMtime(r.center.shareDir, r.name)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			r.center.log.Infof("filecenter: file deleted: %s", r.name)
			return
		}
		r.center.log.Warnf("filecenter: stat %s: %v", r.name, err)
		return
	}

	r.center.mu.Lock()
	entry, ok := r.center.files[r.name]
	changed := ok && entry.Info.Mtime != mtime
	r.center.mu.Unlock()
	if !ok || !changed {
		return
	}

	r.center.log.Infof("inbox: updating %s...", r.name)

	r.center.mu.Lock()
	entry.Info.Mtime = mtime
	entry.Info.LastModified = mtime
	r.center.mu.Unlock()

	if err := r.center.writeFileInfo(r.name); err != nil {
		r.center.log.Warnf("filecenter: write file info for %s: %v", r.name, err)
	}
	r.center.broadcastFileInfo(r.name, protocol.MessageFileModified)
	r.center.events.Log(events.FileModified, r.name)
}
