package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	return path
}

var testKey = hex.EncodeToString(make([]byte, 32))

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Node.DataPath)
	assert.Equal(t, ":9000", cfg.advertise())
	assert.Equal(t, 30*time.Second, cfg.Cache.Containers)

	nm, err := cfg.initialNetMap()
	require.NoError(t, err)
	assert.Nil(t, nm)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
node:
  data: /var/lib/strata
  quic: 0.0.0.0:7000
  advertise: 10.0.0.1:7000
  attributes:
    Country: DE
    Capacity: "2"
policer:
  work_scope: 50
  poll_interval: 10s
  unreachable_ttl: 2m
  remove_redundant: true
replicator:
  rate_limit: 20
  burst: 5
netmap:
  epoch: 3
  nodes:
    - public_key: `+testKey+`
      addresses: [10.0.0.1:7000]
      attributes:
        Country: DE
containers:
  - name: photos
    policy: REP 2
    nonce: 6f1a4b3e-1d2c-4e5f-8a9b-0c1d2e3f4a5b
`)

	cfg, err := parseFlags([]string{"-config", path, "-http", ":9999"})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/strata", cfg.Node.DataPath)
	assert.Equal(t, ":9999", cfg.Node.HTTPAddress)
	assert.Equal(t, "10.0.0.1:7000", cfg.advertise())
	assert.Equal(t, 50, cfg.Policer.WorkScope)
	assert.Equal(t, 10*time.Second, cfg.Policer.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Policer.UnreachableTTL)
	assert.True(t, cfg.Policer.RemoveRedundant)
	assert.Equal(t, 20.0, cfg.Replicator.RateLimit)

	attrs := attributeList(cfg.Node.Attributes)
	require.Len(t, attrs, 2)
	assert.Equal(t, "Capacity", attrs[0].Key)

	nm, err := cfg.initialNetMap()
	require.NoError(t, err)
	require.NotNil(t, nm)
	assert.Equal(t, uint64(3), nm.Epoch)
	require.Len(t, nm.Nodes, 1)

	cnrs, err := cfg.staticContainers()
	require.NoError(t, err)
	require.Len(t, cnrs, 1)

	again, err := cfg.staticContainers()
	require.NoError(t, err)
	assert.Equal(t, cnrs[0].ID(), again[0].ID())
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"yaml", "node: [", ErrConfigFileUnmarshallable},
		{"data", "node:\n  data: \"\"\n", ErrDataPathMissing},
		{"netmap key", "netmap:\n  nodes:\n    - public_key: abc\n      addresses: [a:1]\n", ErrNetMapNodeInvalid},
		{"netmap address", "netmap:\n  nodes:\n    - public_key: " + testKey + "\n", ErrNetMapNodeInvalid},
		{"container nonce", "containers:\n  - policy: REP 1\n    nonce: nope\n", ErrContainerInvalid},
		{"container policy", "containers:\n  - policy: REP\n    nonce: 6f1a4b3e-1d2c-4e5f-8a9b-0c1d2e3f4a5b\n", ErrContainerInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFlags([]string{"-config", writeConfig(t, tc.body)})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorIs(t, err, ErrConfigFileUnreadable)
}

func TestPeersFlag(t *testing.T) {
	cfg, err := parseFlags([]string{"-peers", " a:1, ,b:2 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Node.Peers)
}

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := loadOrGenerateKey(path)
	require.NoError(t, err)

	second, err := loadOrGenerateKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))
	_, err = loadOrGenerateKey(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid key size"))
}
