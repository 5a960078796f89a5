package download

import (
	"io"
	"os"
	"path/filepath"

	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

// checkDownloadComplete mirrors check_download_complete: run after
// every handled message, it looks for entries with no more blocks to
// fetch and hands them to the file center.
func (m *Manager) checkDownloadComplete() {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.mu.Lock()
		entry, ok := m.entries[name]
		m.mu.Unlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		pending := containsStatus(entry.blockInfo, BlockToDownload) ||
			containsStatus(entry.blockInfo, BlockDownloading) ||
			containsStatus(entry.blockInfo, BlockToPartialUpdate) ||
			containsStatus(entry.blockInfo, BlockPartialUpdating)
		hasPartialUpdated := containsStatus(entry.blockInfo, BlockPartialUpdated)
		info := entry.info
		blockInfo := append([]BlockStatus(nil), entry.blockInfo...)
		entry.mu.Unlock()
		if pending {
			continue
		}

		// Open Question #1 (DESIGN.md): absence of PARTIAL_UPDATED is
		// what selects the fresh-download adoption path, even though a
		// brand new download's blockInfo never contains it either way.
		if !hasPartialUpdated {
			if err := m.assembleFreshDownload(name, info, blockInfo); err != nil {
				m.log.Warnf("download: assemble %s: %v", name, err)
				continue
			}
		} else {
			if err := m.assemblePartialUpdate(name, info, blockInfo); err != nil {
				m.log.Warnf("download: partial update %s: %v", name, err)
				continue
			}
		}

		m.mu.Lock()
		delete(m.entries, name)
		m.mu.Unlock()
		metrics.ActiveDownloads.Dec()
		m.removePersisted(name)
	}
}

// assembleFreshDownload mirrors check_download_complete's downloaded
// branch: concatenate every block into the staging path, hand the
// whole file to the file center, then remove the staged blocks.
func (m *Manager) assembleFreshDownload(name string, info protocol.FileInfo, blockInfo []BlockStatus) error {
	stagedPath := filepath.Join(m.downloadingDir, name)
	if err := os.MkdirAll(filepath.Dir(stagedPath), 0755); err != nil {
		return err
	}

	out, err := os.Create(stagedPath)
	if err != nil {
		return err
	}
	for b := range blockInfo {
		if err := appendBlock(out, m.downloadingDir, name, uint64(b)); err != nil {
			out.Close()
			return err
		}
	}
	out.Close()

	// Hold the scanner's gate for the move-into-share-tree + FileEntry
	// registration sequence, so a scan tick can't rediscover this path
	// mid-adoption and register it a second time as user-authored.
	gate := m.center.Gate()
	gate.Block()
	if err := deliver(stagedPath, name, m.shareDir); err != nil {
		gate.Unblock()
		return err
	}
	err = m.center.AddFile(name, info.LastModified)
	gate.Unblock()
	if err != nil {
		return err
	}

	for b := range blockInfo {
		os.Remove(blockPath(m.downloadingDir, name, uint64(b)))
	}
	m.events.Log(events.DownloadCompleted, name)
	return nil
}

// assemblePartialUpdate mirrors check_download_complete's
// partial-updated branch: move the live file aside, splice in the
// re-fetched blocks, deliver it back, then remove the staged blocks
// that were actually used.
func (m *Manager) assemblePartialUpdate(name string, info protocol.FileInfo, blockInfo []BlockStatus) error {
	reader := m.center.BlockReader(name)
	reader.Block()
	defer reader.Unblock()

	shareDir := m.shareDir
	livePath := filepath.Join(shareDir, name)
	stagedPath := filepath.Join(m.downloadingDir, name)

	if err := os.MkdirAll(filepath.Dir(stagedPath), 0755); err != nil {
		return err
	}
	if err := os.Rename(livePath, stagedPath); err != nil {
		return err
	}

	f, err := os.OpenFile(stagedPath, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	for b, status := range blockInfo {
		if status != BlockPartialUpdated {
			break
		}
		if err := overwriteBlock(f, m.downloadingDir, name, uint64(b)); err != nil {
			f.Close()
			return err
		}
	}
	f.Close()

	if err := deliver(stagedPath, name, shareDir); err != nil {
		return err
	}
	if err := m.center.UpdateFile(name, info.LastModified); err != nil {
		return err
	}

	for b, status := range blockInfo {
		if status != BlockPartialUpdated {
			break
		}
		os.Remove(blockPath(m.downloadingDir, name, uint64(b)))
	}
	m.events.Log(events.PartialUpdateCompleted, name)
	return nil
}

func appendBlock(dst *os.File, downloadingDir, name string, blockNum uint64) error {
	src, err := os.Open(blockPath(downloadingDir, name, blockNum))
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

func overwriteBlock(dst *os.File, downloadingDir, name string, blockNum uint64) error {
	src, err := os.Open(blockPath(downloadingDir, name, blockNum))
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// deliver moves the assembled file from its staging path into the
// share directory. Mirrors download_manager.py's deliver.
func deliver(stagedPath, name, shareDir string) error {
	dst := filepath.Join(shareDir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(stagedPath, dst)
}
