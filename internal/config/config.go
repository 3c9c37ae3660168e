// Package config loads a node or gateway's YAML configuration: addressing,
// modem/channel selection, and (for a gateway) NAT settings. None of this
// is dictated by the acoustic-link protocol itself; it is the scaffolding
// an operator needs to point a built binary at a particular pair of peers.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Modem names the modulation scheme a node uses, selectable per
// deployment rather than hardcoded.
type Modem string

const (
	ModemPSK      Modem = "psk"
	ModemQPSK     Modem = "qpsk"
	ModemLineCode Modem = "linecode"
	ModemOFDM     Modem = "ofdm"
)

// Channel selects the acoustic-vs-wired threshold profile the PHY framer
// and modem use.
type Channel string

const (
	ChannelAcoustic Channel = "acoustic"
	ChannelWired    Channel = "wired"
)

// Node is one node's full configuration.
type Node struct {
	Address     byte    `yaml:"address"`
	Peer        byte    `yaml:"peer"`
	Modem       Modem   `yaml:"modem"`
	Channel     Channel `yaml:"channel"`
	PacketBytes int     `yaml:"packet_bytes"`

	SelfIP       string `yaml:"self_ip"`
	IPCSocketDir string `yaml:"ipc_socket_dir"`

	Gateway *Gateway `yaml:"gateway,omitempty"`
}

// Gateway holds the extra settings a gateway node needs on top of Node:
// the external address it NATs behind, the Athernet subnet it serves, and
// the bypass cookie gating unsolicited inbound ICMP.
type Gateway struct {
	ExternalIP     string `yaml:"external_ip"`
	AthernetCIDR   string `yaml:"athernet_cidr"`
	AthernetPeerIP string `yaml:"athernet_peer_ip"`
	ICMPCookie     string `yaml:"icmp_cookie"`
}

// defaultPacketBytes is the PacketBytes value applied when a config omits
// it. The commands size PHY packets from the modem's BytesPerPacket, not
// from PacketBytes.
const defaultPacketBytes = 256

// defaultICMPCookie is used when a gateway config omits icmp_cookie.
const defaultICMPCookie = "Freiheit"

// Load reads and validates a Node configuration from path.
func Load(path string) (*Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var n Node
	if err := yaml.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	n.applyDefaults()

	if err := n.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &n, nil
}

func (n *Node) applyDefaults() {
	if n.PacketBytes == 0 {
		n.PacketBytes = defaultPacketBytes
	}
	if n.IPCSocketDir == "" {
		n.IPCSocketDir = os.TempDir()
	}
	if n.Gateway != nil && n.Gateway.ICMPCookie == "" {
		n.Gateway.ICMPCookie = defaultICMPCookie
	}
}

func (n *Node) validate() error {
	if n.Address == 0 || n.Address == 255 {
		return fmt.Errorf("address %d is reserved, must be in (0, 255)", n.Address)
	}
	if n.Peer == 0 || n.Peer == 255 {
		return fmt.Errorf("peer %d is reserved, must be in (0, 255)", n.Peer)
	}
	if n.Peer == n.Address {
		return fmt.Errorf("peer %d must differ from this node's own address", n.Peer)
	}

	switch n.Modem {
	case ModemPSK, ModemQPSK, ModemLineCode, ModemOFDM:
	default:
		return fmt.Errorf("unknown modem %q", n.Modem)
	}

	switch n.Channel {
	case ChannelAcoustic, ChannelWired:
	default:
		return fmt.Errorf("unknown channel %q", n.Channel)
	}

	if net.ParseIP(n.SelfIP) == nil {
		return fmt.Errorf("self_ip %q is not a valid IP address", n.SelfIP)
	}

	if n.Gateway != nil {
		return n.Gateway.validate()
	}

	return nil
}

func (g *Gateway) validate() error {
	if net.ParseIP(g.ExternalIP) == nil {
		return fmt.Errorf("gateway external_ip %q is not a valid IP address", g.ExternalIP)
	}
	if net.ParseIP(g.AthernetPeerIP) == nil {
		return fmt.Errorf("gateway athernet_peer_ip %q is not a valid IP address", g.AthernetPeerIP)
	}
	if _, _, err := net.ParseCIDR(g.AthernetCIDR); err != nil {
		return fmt.Errorf("gateway athernet_cidr %q: %w", g.AthernetCIDR, err)
	}
	return nil
}
