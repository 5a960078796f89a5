package filecenter

import (
	"os"
	"path/filepath"
	"time"

	"github.com/twodrive/twodrive/actor"
)

// GCD is the Grand Central Dispatch: it walks the share directory
// looking for files not yet in the file dictionary, and registers
// each one it finds. Pausable via its Gate so a download adoption
// never races a scan of the same directory.
type GCD struct {
	center *Center
	gate   *actor.Gate
}

func newGCD(c *Center) *GCD {
	return &GCD{center: c, gate: actor.NewGate()}
}

func (g *GCD) run() {
	ticker := time.NewTicker(g.center.scanInterval)
	defer ticker.Stop()
	for range ticker.C {
		g.gate.Wait()
		if g.gate.Blocked() {
			continue
		}
		g.dispatch("")
	}
}

// dispatch mirrors GrandCentralDispatch.dispatch: a recursive scandir
// walk that skips anything already tracked.
func (g *GCD) dispatch(location string) {
	dir := filepath.Join(g.center.shareDir, location)
	entries, err := os.ReadDir(dir)
	if err != nil {
		g.center.log.Warnf("gcd: scan %s: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if g.gate.Blocked() {
			return
		}
		if entry.IsDir() {
			g.dispatch(relName(location, entry.Name()))
			continue
		}
		name := relName(location, entry.Name())
		if g.center.Has(name) {
			continue
		}
		g.center.log.Infof("gcd: adding file: %s...", name)
		waitForPermission(g.center.shareDir, name)

		mtime, err := fileMtime(g.center.shareDir, name)
		if err != nil {
			g.center.log.Warnf("gcd: stat %s: %v", name, err)
			continue
		}
		info, err := g.center.statFileInfo(name, mtime)
		if err != nil {
			g.center.log.Warnf("gcd: stat %s: %v", name, err)
			continue
		}
		g.center.addLocked(name, info, true, true)
	}
}
