package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Service types understood by the builder.
const (
	ServiceUDPDirectRx = "udp_direct_rx"
	ServiceUDPDirectTx = "udp_direct_tx"
	ServiceMavlink     = "mavlink"
	ServiceTunnel      = "tunnel"
	ServiceUDPProxy    = "udp_proxy"
)

// ServiceConfig is the merged configuration of one stream: the referenced
// base profiles overlaid by the stream's own keys.
type ServiceConfig struct {
	Peer string `yaml:"peer"`

	StreamRx *int `yaml:"stream_rx"`
	StreamTx *int `yaml:"stream_tx"`

	Keypair   string `yaml:"keypair"`
	FrameType string `yaml:"frame_type"`
	Bandwidth int    `yaml:"bandwidth"`
	ShortGI   bool   `yaml:"short_gi"`
	Stbc      int    `yaml:"stbc"`
	Ldpc      int    `yaml:"ldpc"`
	MCSIndex  int    `yaml:"mcs_index"`
	Mirror    bool   `yaml:"mirror"`
	ForceVHT  bool   `yaml:"force_vht"`
	UseQdisc  bool   `yaml:"use_qdisc"`
	Fwmark    int    `yaml:"fwmark"`

	FecK       int `yaml:"fec_k"`
	FecN       int `yaml:"fec_n"`
	FecTimeout int `yaml:"fec_timeout"` // milliseconds
	FecDelay   int `yaml:"fec_delay"`

	ControlPort int `yaml:"control_port"` // 0 requests an ephemeral port

	// mavlink services
	InjectRSSI     bool   `yaml:"inject_rssi"`
	MavlinkSysID   int    `yaml:"mavlink_sys_id"`
	MavlinkCompID  int    `yaml:"mavlink_comp_id"`
	MavlinkTCPPort int    `yaml:"mavlink_tcp_port"`
	CallOnArm      string `yaml:"call_on_arm"`
	CallOnDisarm   string `yaml:"call_on_disarm"`
	LogMessages    bool   `yaml:"log_messages"`
	OSD            string `yaml:"osd"`

	// tunnel services
	Ifname       string `yaml:"ifname"`
	Ifaddr       string `yaml:"ifaddr"`
	DefaultRoute bool   `yaml:"default_route"`
}

// Service is one resolved stream of a profile.
type Service struct {
	Name string
	Type string
	Cfg  ServiceConfig
}

// Services resolves a profile's stream list. Each stream entry names the
// base profile sections to merge (in order), then its own keys override.
func (s *Settings) Services(profileName string) ([]Service, error) {
	prof, err := s.Profile(profileName)
	if err != nil {
		return nil, err
	}

	var out []Service
	for i := range prof.Streams {
		stream := &prof.Streams[i]
		keys, order, err := mappingKeys(stream)
		if err != nil {
			return nil, fmt.Errorf("profile %s stream %d: %w", profileName, i, err)
		}

		var name, serviceType string
		var bases []string
		if node, ok := keys["name"]; ok {
			node.Decode(&name)
		}
		if node, ok := keys["service_type"]; ok {
			node.Decode(&serviceType)
		}
		if node, ok := keys["profiles"]; ok {
			if err := node.Decode(&bases); err != nil {
				return nil, fmt.Errorf("stream %s: profiles: %w", name, err)
			}
		}
		if name == "" || serviceType == "" {
			return nil, fmt.Errorf("profile %s stream %d: name and service_type are required", profileName, i)
		}

		merged := make(map[string]*yaml.Node)
		var mergedOrder []string
		overlay := func(m map[string]*yaml.Node, order []string) {
			for _, k := range order {
				if k == "name" || k == "service_type" || k == "profiles" || k == "streams" {
					continue
				}
				if _, seen := merged[k]; !seen {
					mergedOrder = append(mergedOrder, k)
				}
				merged[k] = m[k]
			}
		}
		for _, base := range bases {
			baseKeys, baseOrder, err := s.sectionKeys(base)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", name, err)
			}
			overlay(baseKeys, baseOrder)
		}
		overlay(keys, order)

		var cfg ServiceConfig
		if err := buildMapping(merged, mergedOrder).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("stream %s: %w", name, err)
		}
		if cfg.FrameType == "" {
			cfg.FrameType = "data"
		}
		out = append(out, Service{Name: name, Type: serviceType, Cfg: cfg})
	}
	return out, nil
}

func buildMapping(keys map[string]*yaml.Node, order []string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range order {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			keys[k])
	}
	return node
}
