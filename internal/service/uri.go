// Package service composes workers and proxies into running services and
// wires them through the antenna selector.
package service

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
)

var (
	connectRe = regexp.MustCompile(`(?i)^connect://([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+):([0-9]+)$`)
	listenRe  = regexp.MustCompile(`(?i)^listen://([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+):([0-9]+)$`)
	serialRe  = regexp.MustCompile(`(?i)^serial:([a-z0-9\-_/]+):([0-9]+)$`)
)

// Peer is a parsed service endpoint URI. Exactly one of the three forms is
// set.
type Peer struct {
	Connect *net.UDPAddr
	Listen  *net.UDPAddr
	Serial  *SerialAddr
}

// SerialAddr is a serial device with its baud rate.
type SerialAddr struct {
	Device string
	Baud   int
}

// ParsePeer parses a `connect://`, `listen://` or `serial:` URI.
func ParsePeer(uri string) (*Peer, error) {
	if m := connectRe.FindStringSubmatch(uri); m != nil {
		addr, err := udpAddr(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return &Peer{Connect: addr}, nil
	}
	if m := listenRe.FindStringSubmatch(uri); m != nil {
		addr, err := udpAddr(m[1], m[2])
		if err != nil {
			return nil, err
		}
		return &Peer{Listen: addr}, nil
	}
	if m := serialRe.FindStringSubmatch(uri); m != nil {
		baud, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("bad baud rate %q", m[2])
		}
		return &Peer{Serial: &SerialAddr{Device: filepath.Join("/dev", m[1]), Baud: baud}}, nil
	}
	return nil, fmt.Errorf("unsupported peer address: %s", uri)
}

func udpAddr(host, port string) (*net.UDPAddr, error) {
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return nil, fmt.Errorf("bad port %q", port)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("bad address %q", host)
	}
	return &net.UDPAddr{IP: ip, Port: p}, nil
}
