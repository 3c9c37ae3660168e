package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadNodeConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
address: 1
peer: 2
modem: psk
channel: wired
self_ip: 10.0.0.1
`)

	n, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultPacketBytes, n.PacketBytes)
	assert.Equal(t, os.TempDir(), n.IPCSocketDir)
	assert.Nil(t, n.Gateway)
}

func TestLoadGatewayConfigAppliesICMPCookieDefault(t *testing.T) {
	path := writeConfig(t, `
address: 1
peer: 2
modem: qpsk
channel: acoustic
self_ip: 10.0.0.1
gateway:
  external_ip: 203.0.113.1
  athernet_cidr: 10.0.0.0/24
  athernet_peer_ip: 10.0.0.2
`)

	n, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, n.Gateway)
	assert.Equal(t, defaultICMPCookie, n.Gateway.ICMPCookie)
}

func TestLoadRejectsReservedAddress(t *testing.T) {
	path := writeConfig(t, `
address: 0
peer: 2
modem: psk
channel: wired
self_ip: 10.0.0.1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsSamePeerAsAddress(t *testing.T) {
	path := writeConfig(t, `
address: 5
peer: 5
modem: psk
channel: wired
self_ip: 10.0.0.1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidGatewayCIDR(t *testing.T) {
	path := writeConfig(t, `
address: 1
peer: 2
modem: psk
channel: wired
self_ip: 10.0.0.1
gateway:
  external_ip: 203.0.113.1
  athernet_cidr: not-a-cidr
  athernet_peer_ip: 10.0.0.2
`)

	_, err := Load(path)
	assert.Error(t, err)
}
