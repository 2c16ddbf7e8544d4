package service

import (
	"testing"
)

func TestParsePeerConnect(t *testing.T) {
	p, err := ParsePeer("connect://10.0.0.1:14550")
	if err != nil {
		t.Fatalf("ParsePeer: %v", err)
	}
	if p.Connect == nil || p.Listen != nil || p.Serial != nil {
		t.Fatalf("peer = %+v, want connect only", p)
	}
	if p.Connect.IP.String() != "10.0.0.1" || p.Connect.Port != 14550 {
		t.Errorf("addr = %v", p.Connect)
	}
}

func TestParsePeerListen(t *testing.T) {
	p, err := ParsePeer("listen://0.0.0.0:5600")
	if err != nil {
		t.Fatalf("ParsePeer: %v", err)
	}
	if p.Listen == nil || p.Listen.Port != 5600 {
		t.Errorf("peer = %+v", p)
	}
}

func TestParsePeerSerial(t *testing.T) {
	p, err := ParsePeer("serial:ttyS0:115200")
	if err != nil {
		t.Fatalf("ParsePeer: %v", err)
	}
	if p.Serial == nil {
		t.Fatalf("peer = %+v, want serial", p)
	}
	if p.Serial.Device != "/dev/ttyS0" || p.Serial.Baud != 115200 {
		t.Errorf("serial = %+v", p.Serial)
	}
}

func TestParsePeerRejectsGarbage(t *testing.T) {
	for _, uri := range []string{
		"",
		"udp://1.2.3.4:5",
		"connect://example.com:14550", // hostnames are not in the grammar
		"connect://1.2.3.4",
		"listen://1.2.3.4:notaport",
		"serial:ttyS0",
	} {
		if _, err := ParsePeer(uri); err == nil {
			t.Errorf("ParsePeer(%q) accepted", uri)
		}
	}
}

func TestLinkID(t *testing.T) {
	// First 24 bits of SHA-1 of the link domain.
	if got := LinkID("default"); got != 7669206 {
		t.Errorf("LinkID(default) = %d, want 7669206", got)
	}
	if got := LinkID("mylink"); got != 14215875 {
		t.Errorf("LinkID(mylink) = %d, want 14215875", got)
	}
}
