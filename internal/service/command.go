package service

import (
	"crypto/sha1"
	"fmt"
	"path/filepath"

	"github.com/finchrf/skybridge/internal/config"
)

// LinkID derives the on-air link identifier: the first 24 bits of the
// SHA-1 of the link domain name.
func LinkID(linkDomain string) int {
	sum := sha1.Sum([]byte(linkDomain))
	return int(sum[0])<<16 | int(sum[1])<<8 | int(sum[2])
}

// rxCommand builds the wfb_rx argv. connect is empty for services that
// feed a local proxy port instead of a remote address.
func (b *Builder) rxCommand(cfg *config.ServiceConfig, connectAddr string, connectPort, localPort int, wlans []string) []string {
	argv := []string{
		filepath.Join(b.Settings.Path.BinDir, "wfb_rx"),
		"-p", fmt.Sprint(*cfg.StreamRx),
	}
	if connectAddr != "" {
		argv = append(argv, "-c", connectAddr, "-u", fmt.Sprint(connectPort))
	} else {
		argv = append(argv, "-u", fmt.Sprint(localPort))
	}
	argv = append(argv,
		"-K", filepath.Join(b.Settings.Path.ConfDir, cfg.Keypair),
		"-i", fmt.Sprint(b.LinkID),
	)
	return append(argv, wlans...)
}

// txCommand builds the wfb_tx argv. port 0 asks the worker to allocate
// ephemeral per-NIC input ports and report them on stdout.
func (b *Builder) txCommand(cfg *config.ServiceConfig, port int, wlans []string) []string {
	gi := "long"
	if cfg.ShortGI {
		gi = "short"
	}
	argv := []string{
		filepath.Join(b.Settings.Path.BinDir, "wfb_tx"),
		"-f", cfg.FrameType,
		"-p", fmt.Sprint(*cfg.StreamTx),
		"-u", fmt.Sprint(port),
		"-K", filepath.Join(b.Settings.Path.ConfDir, cfg.Keypair),
		"-B", fmt.Sprint(cfg.Bandwidth),
		"-G", gi,
		"-S", fmt.Sprint(cfg.Stbc),
		"-L", fmt.Sprint(cfg.Ldpc),
		"-M", fmt.Sprint(cfg.MCSIndex),
	}
	if cfg.Mirror {
		argv = append(argv, "-m")
	}
	if cfg.ForceVHT {
		argv = append(argv, "-V")
	}
	if cfg.UseQdisc {
		argv = append(argv, "-Q", "-P", fmt.Sprint(cfg.Fwmark))
	}
	argv = append(argv,
		"-k", fmt.Sprint(cfg.FecK),
		"-n", fmt.Sprint(cfg.FecN),
		"-T", fmt.Sprint(cfg.FecTimeout),
		"-F", fmt.Sprint(cfg.FecDelay),
		"-i", fmt.Sprint(b.LinkID),
		"-R", fmt.Sprint(b.Settings.Common.TxRcvBufSize),
		"-C", fmt.Sprint(cfg.ControlPort),
	)
	return append(argv, wlans...)
}
