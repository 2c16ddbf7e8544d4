// Package config loads the supervisor settings tree from YAML and resolves
// profile stream lists into per-service configurations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Paths locates the worker binaries, key material and log directory.
type Paths struct {
	BinDir  string `yaml:"bin_dir"`
	ConfDir string `yaml:"conf_dir"`
	LogDir  string `yaml:"log_dir"`
}

// Channel is a wifi channel setting: a single number for all NICs or a
// per-NIC mapping.
type Channel struct {
	Default int
	PerNIC  map[string]int
}

// UnmarshalYAML accepts both a scalar channel and a wlan→channel mapping.
func (c *Channel) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&c.Default)
	case yaml.MappingNode:
		return value.Decode(&c.PerNIC)
	default:
		return &yaml.TypeError{Errors: []string{"wifi_channel: expected scalar or mapping"}}
	}
}

// For returns the channel for one NIC.
func (c Channel) For(wlan string) (int, error) {
	if c.PerNIC != nil {
		ch, ok := c.PerNIC[wlan]
		if !ok {
			return 0, fmt.Errorf("no wifi_channel configured for %s", wlan)
		}
		return ch, nil
	}
	return c.Default, nil
}

// Common holds the settings shared by every profile.
type Common struct {
	Version        string  `yaml:"version"`
	Primary        bool    `yaml:"primary"`
	WifiChannel    Channel `yaml:"wifi_channel"`
	WifiRegion     string  `yaml:"wifi_region"`
	WifiTxPower    int     `yaml:"wifi_txpower"` // mBm, 0 leaves driver default
	SetNMUnmanaged bool    `yaml:"set_nm_unmanaged"`

	TempMeasurementInterval float64 `yaml:"temp_measurement_interval"` // seconds

	TxSelRssiDelta       int     `yaml:"tx_sel_rssi_delta"`
	TxSelCounterRelDelta float64 `yaml:"tx_sel_counter_rel_delta"`
	TxSelCounterAbsDelta int     `yaml:"tx_sel_counter_abs_delta"`

	MavlinkErrRate    bool    `yaml:"mavlink_err_rate"`
	MavlinkAggTimeout float64 `yaml:"mavlink_agg_timeout"` // seconds
	TunnelAggTimeout  float64 `yaml:"tunnel_agg_timeout"`  // seconds

	RadioMTU     int `yaml:"radio_mtu"`
	TxRcvBufSize int `yaml:"tx_rcv_buf_size"`

	BinaryLogFile string `yaml:"binary_log_file"` // %s expands to the profile name
	LogFile       string `yaml:"log_file"`
	Debug         bool   `yaml:"debug"`
	MetricsPort   int    `yaml:"metrics_port"` // 0 disables the endpoint
}

func (c *Common) TempInterval() time.Duration {
	return secs(c.TempMeasurementInterval, 10*time.Second)
}

func (c *Common) MavlinkAggDelay() time.Duration {
	return secs(c.MavlinkAggTimeout, 5*time.Millisecond)
}

func (c *Common) TunnelAggDelay() time.Duration {
	return secs(c.TunnelAggTimeout, 5*time.Millisecond)
}

func secs(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// Profile is one named collection of services sharing NIC configuration.
type Profile struct {
	LinkDomain string      `yaml:"link_domain"`
	StatsPort  int         `yaml:"stats_port"`
	Streams    []yaml.Node `yaml:"streams"`
}

// Settings is the full parsed configuration. Profile sections stay raw
// until resolved because stream entries mix them into service configs.
type Settings struct {
	Path   Paths
	Common Common

	Files    []string
	sections map[string]*yaml.Node
}

// Load reads and overlays the given YAML files in order: section keys in
// later files replace earlier ones wholesale.
func Load(files ...string) (*Settings, error) {
	s := &Settings{sections: make(map[string]*yaml.Node)}

	raw := make(map[string]*yaml.Node)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		var top map[string]yaml.Node
		if err := yaml.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
		for k, v := range top {
			v := v
			raw[k] = &v
		}
		s.Files = append(s.Files, file)
	}
	if len(s.Files) == 0 {
		return nil, fmt.Errorf("no config file found in %v", files)
	}

	for name, node := range raw {
		switch name {
		case "path":
			if err := node.Decode(&s.Path); err != nil {
				return nil, fmt.Errorf("config section path: %w", err)
			}
		case "common":
			if err := node.Decode(&s.Common); err != nil {
				return nil, fmt.Errorf("config section common: %w", err)
			}
		default:
			s.sections[name] = node
		}
	}
	return s, nil
}

// Profile decodes a named profile section.
func (s *Settings) Profile(name string) (*Profile, error) {
	node, ok := s.sections[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	var p Profile
	if err := node.Decode(&p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return &p, nil
}

// sectionKeys decodes a named section into an ordered key→node map.
func (s *Settings) sectionKeys(name string) (map[string]*yaml.Node, []string, error) {
	node, ok := s.sections[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown profile %q", name)
	}
	return mappingKeys(node)
}

func mappingKeys(node *yaml.Node) (map[string]*yaml.Node, []string, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected mapping, got %v", node.Kind)
	}
	out := make(map[string]*yaml.Node, len(node.Content)/2)
	var order []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, seen := out[key]; !seen {
			order = append(order, key)
		}
		out[key] = node.Content[i+1]
	}
	return out, order, nil
}
