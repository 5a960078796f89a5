// Command twodrive is the process entry point: it loads configuration,
// bootstraps the share/temp directory layout, and wires the file
// center, download manager, and connection hub together.
//
// Grounded on original_source/Code/main.py's get_arguments/main_init
// sequence, using github.com/urfave/cli for flag parsing the way the
// teacher's own cmd/syncthing/cli/main.go does.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/twodrive/twodrive/download"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/filecenter"
	"github.com/twodrive/twodrive/hub"
	"github.com/twodrive/twodrive/logger"
)

// fileCenterAdapter bridges filecenter.Center's concrete *filecenter.Reader
// return type to download.FileCenter's BlockReader(name string) FileReader
// signature. filecenter never imports download (it would create a cycle
// back through hub), so this narrow adapter lives here instead, where
// both packages are already imported together.
type fileCenterAdapter struct {
	*filecenter.Center
}

func (a fileCenterAdapter) BlockReader(name string) download.FileReader {
	r := a.Center.BlockReader(name)
	if r == nil {
		return nil
	}
	return r
}

func main() {
	app := cli.NewApp()
	app.Name = "twodrive"
	app.Usage = "peer-to-peer directory synchronization"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "ip",
			Usage: "comma-separated list of peer ip addresses",
		},
		cli.StringFlag{
			Name:  "encryption",
			Usage: "enable encryption [yes | no]",
		},
		cli.StringFlag{
			Name:  "config",
			Value: "twodrive.ini",
			Usage: "path to an optional ini config file",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "twodrive:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	opts, err := buildOptions(c)
	if err != nil {
		return err
	}

	log := logger.Default
	mainFacility := log.NewFacility("main", "")
	mainFacility.Infof("peer_list: %v", opts.PeerList)
	mainFacility.Infof("encryption: %v", opts.Encryption)

	dirs := []string{
		opts.ShareDir,
		filepath.Join(opts.TempDir, "file_info"),
		filepath.Join(opts.TempDir, "download_info"),
		filepath.Join(opts.TempDir, "downloading"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	ev := events.Default

	// The file center and connection hub each need the other (the
	// center broadcasts through the hub; the hub looks up readers
	// through the center), so the hub is constructed first with no file
	// center or download manager, the center is constructed pointing
	// back at the hub as its Broadcaster, and both are then handed to
	// the hub with SetFileCenter/SetDownloadManager.
	h := hub.New(hub.Options{
		PeerList:    opts.PeerList,
		Encryption:  opts.Encryption,
		Compression: opts.Compression,
		MaxSendKBps: opts.MaxSendKBps,
	}, nil, nil, log.NewFacility("hub", ""), ev)

	center := filecenter.New(
		opts.ShareDir,
		filepath.Join(opts.TempDir, "file_info"),
		opts.ScanInterval,
		opts.ModifyInterval,
		h,
		log.NewFacility("filecenter", ""),
		ev,
	)

	manager := download.NewManager(
		filepath.Join(opts.TempDir, "download_info"),
		filepath.Join(opts.TempDir, "downloading"),
		opts.ShareDir,
		h,
		log.NewFacility("download", ""),
		ev,
	)
	manager.SetFileCenter(fileCenterAdapter{center})

	h.SetFileCenter(center)
	h.SetDownloadManager(manager)

	if err := center.Start(); err != nil {
		return fmt.Errorf("start file center: %w", err)
	}
	if err := manager.Start(); err != nil {
		return fmt.Errorf("start download manager: %w", err)
	}
	if err := h.Start(); err != nil {
		return fmt.Errorf("start connection hub: %w", err)
	}

	select {}
}

func buildOptions(c *cli.Context) (Options, error) {
	opts := Options{}
	if err := loadConfig(map[string]string{}, &opts); err != nil {
		return opts, err
	}

	if path := c.String("config"); path != "" {
		if f, err := os.Open(path); err == nil {
			defer f.Close()
			m, err := readIni(f)
			if err != nil {
				return opts, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := loadConfig(m, &opts); err != nil {
				return opts, err
			}
		} else if !os.IsNotExist(err) {
			return opts, err
		}
	}

	if ip := c.String("ip"); ip != "" {
		peers, err := parsePeerIPs(ip)
		if err != nil {
			return opts, err
		}
		opts.PeerList = peers
	}
	if enc := c.String("encryption"); enc != "" {
		opts.Encryption = enc == "yes"
	}

	return opts, nil
}

// parsePeerIPs validates a comma-separated peer list the way
// get_arguments does: each entry must be a dotted-quad IPv4 address.
// The hub dials a fixed well-known port, so only the address is taken.
func parsePeerIPs(arg string) ([]string, error) {
	var peers []string
	for _, raw := range strings.Split(arg, ",") {
		ip := strings.TrimSpace(raw)
		if net.ParseIP(ip) == nil || strings.Contains(ip, ":") {
			return nil, fmt.Errorf("IP format incorrect in: %s", raw)
		}
		peers = append(peers, ip)
	}
	return peers, nil
}
