package aria2

import (
	"context"
	"strings"
	"time"

	"github.com/viperadnan-git/medialoader/internal/core/process"
)

// Daemon implements process.Daemon for a locally managed aria2c.
type Daemon struct {
	downloadDir string
	rpcPort     string
	client      *Client
	trackers    []string
}

func NewDaemon(downloadDir, rpcPort string, client *Client, trackers []string) *Daemon {
	return &Daemon{
		downloadDir: downloadDir,
		rpcPort:     rpcPort,
		client:      client,
		trackers:    trackers,
	}
}

func (d *Daemon) Name() string { return "aria2c" }

func (d *Daemon) Command() (string, []string) {
	args := []string{
		"--enable-rpc",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + d.rpcPort,
		"--rpc-max-request-size=64M",
		"--dir=" + d.downloadDir,
		"--quiet=true",
		"--continue=true",
		"--file-allocation=none",
		// Magnets and .torrent URLs spawn a follow-up download for the payload
		"--follow-torrent=mem",
		"--enable-dht=true",
		"--enable-peer-exchange=true",
		"--bt-enable-lpd=true",
		"--listen-port=6881-6999",
		"--dht-listen-port=6881-6999",
		"--max-connection-per-server=8",
		"--split=8",
		"--min-split-size=10M",
	}
	if d.client.secret != "" {
		args = append(args, "--rpc-secret="+d.client.secret)
	}
	if len(d.trackers) > 0 {
		args = append(args, "--bt-tracker="+strings.Join(d.trackers, ","))
	}
	return "aria2c", args
}

func (d *Daemon) ReadyCheck() process.ReadyProbe {
	return process.ReadyProbe{
		Check: func(ctx context.Context) bool {
			_, err := d.client.GetVersion(ctx)
			return err == nil
		},
		Interval: 200 * time.Millisecond,
		Timeout:  5 * time.Second,
	}
}

func (d *Daemon) Healthy(ctx context.Context) bool {
	_, err := d.client.GetVersion(ctx)
	return err == nil
}
