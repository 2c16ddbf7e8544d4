package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
path:
  bin_dir: /usr/bin
  conf_dir: /etc/skybridge
  log_dir: /var/log/skybridge

common:
  version: "1.0"
  primary: true
  wifi_channel: 161
  wifi_region: BO
  tx_sel_rssi_delta: 3
  tx_sel_counter_rel_delta: 0.1
  tx_sel_counter_abs_delta: 50
  radio_mtu: 1445
  binary_log_file: "%s.log"

base:
  keypair: gs.key
  frame_type: data
  bandwidth: 20
  stbc: 1
  ldpc: 1
  mcs_index: 2
  fec_k: 8
  fec_n: 12
  fec_timeout: 20

gs:
  link_domain: default
  stats_port: 8003
  streams:
    - name: video
      service_type: udp_direct_rx
      profiles: [base]
      stream_rx: 0
      peer: connect://127.0.0.1:5600
    - name: mavlink
      service_type: mavlink
      profiles: [base]
      stream_rx: 16
      stream_tx: 144
      peer: listen://0.0.0.0:14550
      mcs_index: 1
      inject_rssi: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skybridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSections(t *testing.T) {
	s, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Path.BinDir != "/usr/bin" {
		t.Errorf("BinDir = %q", s.Path.BinDir)
	}
	if !s.Common.Primary || s.Common.WifiRegion != "BO" {
		t.Errorf("common = %+v", s.Common)
	}
	ch, err := s.Common.WifiChannel.For("wlan0")
	if err != nil || ch != 161 {
		t.Errorf("channel = %d (%v), want 161", ch, err)
	}

	prof, err := s.Profile("gs")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if prof.LinkDomain != "default" || prof.StatsPort != 8003 {
		t.Errorf("profile = %+v", prof)
	}
}

func TestServicesMergeProfiles(t *testing.T) {
	s, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	services, err := s.Services("gs")
	if err != nil {
		t.Fatalf("Services: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("services = %d, want 2", len(services))
	}

	video := services[0]
	if video.Name != "video" || video.Type != ServiceUDPDirectRx {
		t.Errorf("service = %+v", video)
	}
	// Inherited from the base profile.
	if video.Cfg.Keypair != "gs.key" || video.Cfg.FecK != 8 || video.Cfg.MCSIndex != 2 {
		t.Errorf("cfg = %+v", video.Cfg)
	}
	if video.Cfg.StreamRx == nil || *video.Cfg.StreamRx != 0 {
		t.Errorf("stream_rx = %v", video.Cfg.StreamRx)
	}
	if video.Cfg.StreamTx != nil {
		t.Errorf("stream_tx = %v, want absent", video.Cfg.StreamTx)
	}

	// The stream's own keys override the base.
	mav := services[1]
	if mav.Cfg.MCSIndex != 1 {
		t.Errorf("mcs_index = %d, want stream override 1", mav.Cfg.MCSIndex)
	}
	if !mav.Cfg.InjectRSSI || mav.Cfg.Peer != "listen://0.0.0.0:14550" {
		t.Errorf("cfg = %+v", mav.Cfg)
	}
}

func TestPerNICChannel(t *testing.T) {
	cfg := `
common:
  wifi_channel:
    wlan0: 161
    wlan1: 44
`
	s, err := Load(writeConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch, err := s.Common.WifiChannel.For("wlan1")
	if err != nil || ch != 44 {
		t.Errorf("channel = %d (%v), want 44", ch, err)
	}
	if _, err := s.Common.WifiChannel.For("wlan9"); err == nil {
		t.Errorf("unknown NIC accepted")
	}
}

func TestUnknownProfile(t *testing.T) {
	s, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Services("drone"); err == nil {
		t.Errorf("unknown profile accepted")
	}
}

func TestLoadOverlay(t *testing.T) {
	master := writeConfig(t, sampleConfig)
	local := filepath.Join(filepath.Dir(master), "local.yaml")
	if err := os.WriteFile(local, []byte("common:\n  wifi_region: US\n"), 0644); err != nil {
		t.Fatalf("write local: %v", err)
	}
	s, err := Load(master, local)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Common.WifiRegion != "US" {
		t.Errorf("region = %q, want overlay US", s.Common.WifiRegion)
	}
	// Missing files are tolerated as long as one loads.
	if _, err := Load(master, filepath.Join(filepath.Dir(master), "nope.yaml")); err != nil {
		t.Errorf("missing overlay rejected: %v", err)
	}
}
