package download

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

// persistedEntry is the on-disk shape of a downloadEntry, gob-encoded
// in place of download_manager.py's pickled (file_info, block_info)
// tuple.
type persistedEntry struct {
	Info      protocol.FileInfo
	BlockInfo []BlockStatus
}

// persist writes the current state of name's entry to infoDir.
// Mirrors download_info_write.
func (m *Manager) persist(name string) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	pe := persistedEntry{Info: entry.info, BlockInfo: append([]BlockStatus(nil), entry.blockInfo...)}
	entry.mu.Unlock()

	path := filepath.Join(m.infoDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		m.log.Warnf("download: create download info dir for %s: %v", name, err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		m.log.Warnf("download: write download info for %s: %v", name, err)
		return
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(pe); err != nil {
		m.log.Warnf("download: encode download info for %s: %v", name, err)
	}
}

func (m *Manager) removePersisted(name string) {
	if err := os.Remove(filepath.Join(m.infoDir, name)); err != nil && !os.IsNotExist(err) {
		m.log.Warnf("download: remove download info for %s: %v", name, err)
	}
}

// loadDownloadInfo mirrors download_dict_read: on startup, any block
// that was mid-transfer when the process last stopped is demoted back
// to its "to fetch" status (DOWNLOADING -> TO_DOWNLOAD, PARTIAL_UPDATING
// -> TO_PARTIAL_UPDATE) so the next FILE_DICT/continue cycle re-requests
// it, rather than waiting forever for a BLOCK that will never arrive.
func (m *Manager) loadDownloadInfo(location string) error {
	dir := filepath.Join(m.infoDir, location)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "download: read download info dir")
	}
	for _, e := range entries {
		name := filepath.Join(location, e.Name())
		if e.IsDir() {
			if err := m.loadDownloadInfo(name); err != nil {
				return err
			}
			continue
		}

		pe, err := readPersistedEntry(filepath.Join(m.infoDir, name))
		if err != nil {
			return errors.Wrapf(err, "download: read download info for %s", name)
		}
		for i, s := range pe.BlockInfo {
			switch s {
			case BlockDownloading:
				pe.BlockInfo[i] = BlockToDownload
			case BlockPartialUpdating:
				pe.BlockInfo[i] = BlockToPartialUpdate
			}
		}

		m.mu.Lock()
		m.entries[name] = &downloadEntry{info: pe.Info, blockInfo: pe.BlockInfo}
		m.mu.Unlock()
		metrics.ActiveDownloads.Inc()
	}
	return nil
}

func readPersistedEntry(path string) (persistedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return persistedEntry{}, err
	}
	defer f.Close()
	var pe persistedEntry
	if err := gob.NewDecoder(f).Decode(&pe); err != nil {
		return persistedEntry{}, err
	}
	return pe, nil
}
