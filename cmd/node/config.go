package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"Strata/internal/container"
	"Strata/internal/netmap"
)

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrDataPathMissing          = errors.New("node.data is missing in config")
	ErrQUICAddressMissing       = errors.New("node.quic is missing in config")
	ErrHTTPAddressMissing       = errors.New("node.http is missing in config")
	ErrNetMapNodeInvalid        = errors.New("netmap.nodes contains an invalid node")
	ErrContainerInvalid         = errors.New("containers contains an invalid container")
)

// Config holds the node configuration.
type Config struct {
	Node       NodeConfig        `yaml:"node"`
	Policer    PolicerConfig     `yaml:"policer"`
	Replicator ReplicatorConfig  `yaml:"replicator"`
	NetMap     NetMapConfig      `yaml:"netmap"`
	Containers []ContainerConfig `yaml:"containers"`
	Cache      CacheConfig       `yaml:"cache"`

	// PrivateKey is the node's Ed25519 identity key, loaded from Node.KeyPath.
	PrivateKey ed25519.PrivateKey `yaml:"-"`
}

// NodeConfig describes the local process.
type NodeConfig struct {
	// DataPath is the directory for persistent storage.
	DataPath string `yaml:"data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `yaml:"http"`

	// QUICAddress is the QUIC listen address.
	QUICAddress string `yaml:"quic"`

	// AdvertiseAddress is the QUIC address other nodes dial, defaults to QUICAddress.
	AdvertiseAddress string `yaml:"advertise"`

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string `yaml:"key"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// Attributes are announced when the node bootstraps its own netmap.
	Attributes map[string]string `yaml:"attributes"`

	// Peers are QUIC addresses dialed at start.
	Peers []string `yaml:"peers"`
}

// PolicerConfig tunes the background replica checker.
type PolicerConfig struct {
	WorkScope       int           `yaml:"work_scope"`
	ExpandRate      int           `yaml:"expand_rate"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	HeadTimeout     time.Duration `yaml:"head_timeout"`
	MaxWorkers      int           `yaml:"max_workers"`
	UnreachableTTL  time.Duration `yaml:"unreachable_ttl"`
	RemoveRedundant bool          `yaml:"remove_redundant"` // RemoveRedundant deletes local copies beyond the policy
}

// ReplicatorConfig tunes outbound replication.
type ReplicatorConfig struct {
	PutTimeout time.Duration `yaml:"put_timeout"`
	QueueSize  int           `yaml:"queue_size"`
	RateLimit  float64       `yaml:"rate_limit"` // RateLimit is pushes per second, 0 for unlimited
	Burst      int           `yaml:"burst"`
}

// NetMapConfig is the initial network map, used when no map is stored yet.
type NetMapConfig struct {
	Epoch uint64          `yaml:"epoch"`
	Nodes []NetMapNodeCfg `yaml:"nodes"`
}

// NetMapNodeCfg is one member of the initial network map.
type NetMapNodeCfg struct {
	PublicKey  string            `yaml:"public_key"`
	Addresses  []string          `yaml:"addresses"`
	Attributes map[string]string `yaml:"attributes"`
	BLSKey     string            `yaml:"bls_key"`
}

// ContainerConfig declares a container every node knows from the start.
// The nonce must be the same on all nodes for the IDs to agree.
type ContainerConfig struct {
	Owner  string `yaml:"owner"`
	Name   string `yaml:"name"`
	Policy string `yaml:"policy"`
	Nonce  string `yaml:"nonce"`
}

// CacheConfig holds TTLs of in-memory caches.
type CacheConfig struct {
	Containers time.Duration `yaml:"containers"`
	NetMaps    time.Duration `yaml:"netmaps"`
}

func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataPath:    "./data",
			HTTPAddress: ":8080",
			QUICAddress: ":9000",
			LogLevel:    "info",
		},
		Cache: CacheConfig{
			Containers: 30 * time.Second,
			NetMaps:    5 * time.Minute,
		},
	}
}

// parseFlags parses command-line flags into Config. A -config file is
// loaded first; flags given explicitly override its values.
func parseFlags(args []string) (*Config, error) {
	var (
		configPath string
		peers      string
		flagCfg    NodeConfig
	)

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.StringVar(&flagCfg.DataPath, "data", "./data", "Data directory path")
	fs.StringVar(&flagCfg.HTTPAddress, "http", ":8080", "HTTP API address")
	fs.StringVar(&flagCfg.QUICAddress, "quic", ":9000", "QUIC listen address")
	fs.StringVar(&flagCfg.AdvertiseAddress, "advertise", "", "QUIC address announced to other nodes")
	fs.StringVar(&flagCfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&flagCfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&peers, "peers", "", "Comma separated QUIC addresses to dial at start")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Node.DataPath = flagCfg.DataPath
		case "http":
			cfg.Node.HTTPAddress = flagCfg.HTTPAddress
		case "quic":
			cfg.Node.QUICAddress = flagCfg.QUICAddress
		case "advertise":
			cfg.Node.AdvertiseAddress = flagCfg.AdvertiseAddress
		case "key":
			cfg.Node.KeyPath = flagCfg.KeyPath
		case "log-level":
			cfg.Node.LogLevel = flagCfg.LogLevel
		case "peers":
			cfg.Node.Peers = splitList(peers)
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadConfig reads a YAML file on top of the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:\n%w", ErrConfigFileUnreadable, path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s:\n%w", ErrConfigFileUnmarshallable, path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Node.DataPath == "" {
		return ErrDataPathMissing
	}
	if c.Node.QUICAddress == "" {
		return ErrQUICAddressMissing
	}
	if c.Node.HTTPAddress == "" {
		return ErrHTTPAddressMissing
	}

	if _, err := c.initialNetMap(); err != nil {
		return err
	}

	if _, err := c.staticContainers(); err != nil {
		return err
	}

	return nil
}

// advertise returns the QUIC address other nodes should dial.
func (c *Config) advertise() string {
	if c.Node.AdvertiseAddress != "" {
		return c.Node.AdvertiseAddress
	}

	return c.Node.QUICAddress
}

// initialNetMap converts the netmap section. It returns nil when no
// nodes are configured.
func (c *Config) initialNetMap() (*netmap.NetMap, error) {
	if len(c.NetMap.Nodes) == 0 {
		return nil, nil
	}

	epoch := c.NetMap.Epoch
	if epoch == 0 {
		epoch = 1
	}

	nm := &netmap.NetMap{Epoch: epoch}

	for i, n := range c.NetMap.Nodes {
		key, err := hex.DecodeString(n.PublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: node %d: public key %q", ErrNetMapNodeInvalid, i, n.PublicKey)
		}
		if len(n.Addresses) == 0 {
			return nil, fmt.Errorf("%w: node %d: no address", ErrNetMapNodeInvalid, i)
		}

		info := netmap.NodeInfo{
			PublicKey:  key,
			Addresses:  n.Addresses,
			Attributes: attributeList(n.Attributes),
		}

		if n.BLSKey != "" {
			if info.BLSKey, err = hex.DecodeString(n.BLSKey); err != nil {
				return nil, fmt.Errorf("%w: node %d: bls key:\n%w", ErrNetMapNodeInvalid, i, err)
			}
		}

		nm.Nodes = append(nm.Nodes, info)
	}

	return nm, nil
}

// staticContainers converts the containers section.
func (c *Config) staticContainers() ([]*container.Container, error) {
	out := make([]*container.Container, 0, len(c.Containers))

	for i, cc := range c.Containers {
		var owner [32]byte
		if cc.Owner != "" {
			b, err := hex.DecodeString(cc.Owner)
			if err != nil || len(b) != len(owner) {
				return nil, fmt.Errorf("%w: container %d: owner %q", ErrContainerInvalid, i, cc.Owner)
			}
			copy(owner[:], b)
		}

		nonce, err := uuid.Parse(cc.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: container %d: nonce:\n%w", ErrContainerInvalid, i, err)
		}

		policy, err := netmap.ParsePolicy(cc.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: container %d:\n%w", ErrContainerInvalid, i, err)
		}

		out = append(out, &container.Container{
			Owner:  owner,
			Nonce:  nonce,
			Name:   cc.Name,
			Policy: policy,
		})
	}

	return out, nil
}

// attributeList converts a YAML map into attributes sorted by key.
func attributeList(m map[string]string) []netmap.Attribute {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]netmap.Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, netmap.Attribute{Key: k, Value: m[k]})
	}

	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
