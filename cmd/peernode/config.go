package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/makramibrahim/cpp-ethereum/p2p"
)

// fileConfig is the TOML-decoded shape of the config file. It stays
// separate from hostdb.Config so the on-disk format can evolve
// without touching the p2p-facing types.
type fileConfig struct {
	NodeIDHex       string   `toml:"node_id"`
	ClientVersion   string   `toml:"client_version"`
	ProtocolVersion uint     `toml:"protocol_version"`
	ListenAddr      string   `toml:"listen_addr"`
	LocalAddresses  []string `toml:"local_addresses"`
	LocalNetworking bool     `toml:"local_networking"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		ClientVersion:   "peernode/0.1.0",
		ProtocolVersion: 2,
		ListenAddr:      "0.0.0.0:30303",
		LocalNetworking: false,
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) nodeID() (p2p.NodeID, error) {
	var id p2p.NodeID
	if c.NodeIDHex == "" {
		return id, nil
	}
	raw, err := hex.DecodeString(c.NodeIDHex)
	if err != nil {
		return id, fmt.Errorf("node_id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("node_id: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (c fileConfig) localAddresses() []net.IP {
	out := make([]net.IP, 0, len(c.LocalAddresses))
	for _, s := range c.LocalAddresses {
		if ip := net.ParseIP(s); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func (c fileConfig) listenPort() uint16 {
	_, portStr, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return 0
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return port
}
