package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"Strata/client"
	"Strata/internal/attest"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running Strata node process.
type Node struct {
	index    int                // index is the node's position in the cluster
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	quicAddr string             // quicAddr is the QUIC network address
	dataDir  string             // dataDir is the node's data directory
	keyPath  string             // keyPath is the node's private key file
	pubKey   string             // pubKey is the hex identity key
	blsKey   string             // blsKey is the hex attestation key
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
}

// HTTPAddr returns the node's HTTP address.
func (n *Node) HTTPAddr() string { return n.httpAddr }

// PublicKey returns the node's hex public key.
func (n *Node) PublicKey() string { return n.pubKey }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "starting Strata node") {
		return false
	}

	return n.cmd.ProcessState == nil
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// LogContains checks if the node's logs contain a substring.
func (n *Node) LogContains(s string) bool {
	return strings.Contains(n.stdout.String(), s)
}

// Stop terminates the node process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		time.Sleep(100 * time.Millisecond)
	}
}

// clusterOpts holds configuration for a Cluster.
type clusterOpts struct {
	httpBase     int               // httpBase is the starting HTTP port
	quicBase     int               // quicBase is the starting QUIC port
	pollInterval time.Duration     // pollInterval is the policer period
	policy       string            // policy is the static container's placement policy
	attributes   func(int) map[string]string
}

// ClusterOption configures cluster behavior.
type ClusterOption func(*clusterOpts)

// WithHTTPBase sets the starting HTTP port.
func WithHTTPBase(port int) ClusterOption { return func(o *clusterOpts) { o.httpBase = port } }

// WithQUICBase sets the starting QUIC port.
func WithQUICBase(port int) ClusterOption { return func(o *clusterOpts) { o.quicBase = port } }

// WithPolicy sets the placement policy of the static container.
func WithPolicy(p string) ClusterOption { return func(o *clusterOpts) { o.policy = p } }

// WithPollInterval sets the policer period.
func WithPollInterval(d time.Duration) ClusterOption {
	return func(o *clusterOpts) { o.pollInterval = d }
}

// WithAttributes sets the netmap attributes of each node.
func WithAttributes(fn func(int) map[string]string) ClusterOption {
	return func(o *clusterOpts) { o.attributes = fn }
}

// staticNonce makes the static container ID identical on every node.
const staticNonce = "0b6f0c1e-5a3d-4c7e-9f21-6d8a4b2c1e00"

// Cluster manages a group of nodes sharing one initial netmap.
type Cluster struct {
	t          *testing.T  // t is the test context
	nodes      []*Node     // nodes is the list of running nodes
	binaryPath string      // binaryPath is the compiled node binary
	testDir    string      // testDir is the temporary directory for node data
	opts       clusterOpts // opts is the cluster configuration
}

// NewCluster builds the binary, starts N nodes, and registers cleanup.
func NewCluster(t *testing.T, size int, options ...ClusterOption) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := clusterOpts{
		httpBase:     18000,
		quicBase:     19000,
		pollInterval: time.Second,
		policy:       "REP 2",
	}
	for _, o := range options {
		o(&opts)
	}

	c := &Cluster{
		t:          t,
		binaryPath: buildBinary(t),
		testDir:    t.TempDir(),
		opts:       opts,
	}

	c.prepareNodes(size)
	c.startNodes()
	t.Cleanup(c.Stop)

	c.WaitReady(30 * time.Second)

	return c
}

// prepareNodes generates keys and writes one config file per node.
func (c *Cluster) prepareNodes(size int) {
	c.t.Helper()
	c.nodes = make([]*Node, size)

	for i := range c.nodes {
		node := &Node{
			index:    i,
			httpAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.httpBase+i),
			quicAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.quicBase+i),
			dataDir:  filepath.Join(c.testDir, fmt.Sprintf("node-%d", i)),
			stdout:   &safeBuffer{},
			stderr:   &safeBuffer{},
		}
		node.keyPath = filepath.Join(node.dataDir, "key")

		if err := os.MkdirAll(node.dataDir, 0755); err != nil {
			c.t.Fatalf("create node dir %d: %v", i, err)
		}

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			c.t.Fatalf("generate key %d: %v", i, err)
		}
		if err := os.WriteFile(node.keyPath, priv, 0600); err != nil {
			c.t.Fatalf("write key %d: %v", i, err)
		}

		bls, err := attest.DeriveKey(priv)
		if err != nil {
			c.t.Fatalf("derive bls key %d: %v", i, err)
		}

		node.pubKey = hex.EncodeToString(pub)
		node.blsKey = hex.EncodeToString(bls.PublicKey())
		c.nodes[i] = node
	}

	for _, node := range c.nodes {
		c.writeConfig(node)
	}
}

// writeConfig renders the YAML configuration of node.
func (c *Cluster) writeConfig(node *Node) {
	c.t.Helper()

	members := make([]map[string]any, len(c.nodes))
	for i, n := range c.nodes {
		m := map[string]any{
			"public_key": n.pubKey,
			"addresses":  []string{n.quicAddr},
			"bls_key":    n.blsKey,
		}
		if c.opts.attributes != nil {
			m["attributes"] = c.opts.attributes(i)
		}
		members[i] = m
	}

	cfg := map[string]any{
		"node": map[string]any{
			"data":      node.dataDir,
			"http":      node.httpAddr,
			"quic":      node.quicAddr,
			"key":       node.keyPath,
			"log_level": "debug",
		},
		"policer": map[string]any{
			"poll_interval":   c.opts.pollInterval.String(),
			"head_timeout":    "2s",
			"unreachable_ttl": "5s",
		},
		"replicator": map[string]any{
			"put_timeout": "5s",
		},
		"netmap": map[string]any{
			"epoch": 1,
			"nodes": members,
		},
		"containers": []map[string]any{{
			"name":   "static",
			"policy": c.opts.policy,
			"nonce":  staticNonce,
		}},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		c.t.Fatalf("marshal config: %v", err)
	}

	if err := os.WriteFile(c.configPath(node), data, 0600); err != nil {
		c.t.Fatalf("write config: %v", err)
	}
}

func (c *Cluster) configPath(node *Node) string {
	return filepath.Join(node.dataDir, "node.yaml")
}

// startNodes starts every node process.
func (c *Cluster) startNodes() {
	c.t.Helper()

	for _, node := range c.nodes {
		c.startNode(node)
	}
}

// startNode starts a single node process.
func (c *Cluster) startNode(node *Node) {
	c.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel
	node.stdout = &safeBuffer{}
	node.stderr = &safeBuffer{}

	node.cmd = exec.CommandContext(ctx, c.binaryPath, "-config", c.configPath(node))
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		c.t.Fatalf("start node %d: %v", node.index, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()
}

// Restart stops node i and starts it again on the same data.
func (c *Cluster) Restart(i int) {
	c.t.Helper()

	c.nodes[i].Stop()
	c.startNode(c.nodes[i])
	c.waitHealthy(c.nodes[i], 20*time.Second)
}

// Stop kills all nodes in parallel.
func (c *Cluster) Stop() {
	var wg sync.WaitGroup

	for _, node := range c.nodes {
		if node == nil {
			continue
		}

		wg.Add(1)

		go func(n *Node) {
			defer wg.Done()
			n.Stop()
		}(node)
	}

	wg.Wait()
}

// Node returns a node by index.
func (c *Cluster) Node(i int) *Node { return c.nodes[i] }

// Size returns the number of nodes.
func (c *Cluster) Size() int { return len(c.nodes) }

// Nodes returns all nodes.
func (c *Cluster) Nodes() []*Node { return c.nodes }

// Client creates a client.Client connected to a node.
func (c *Cluster) Client(nodeIndex int) *client.Client {
	c.t.Helper()

	cli, err := client.NewClient(c.nodes[nodeIndex].httpAddr)
	if err != nil {
		c.t.Fatalf("create client for node %d: %v", nodeIndex, err)
	}

	return cli
}

// WaitReady polls until every node answers and sees all others as peers.
func (c *Cluster) WaitReady(timeout time.Duration) {
	c.t.Helper()

	for _, node := range c.nodes {
		c.waitHealthy(node, timeout)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.connected() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	c.logNodeStates()
	c.t.Fatalf("timeout waiting for %d connected nodes", len(c.nodes))
}

func (c *Cluster) connected() bool {
	for _, node := range c.nodes {
		st := QueryStatusSafe(node.httpAddr)
		if st == nil || st.Peers < len(c.nodes)-1 {
			return false
		}
	}

	return true
}

func (c *Cluster) waitHealthy(node *Node, timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if QueryStatusSafe(node.httpAddr) != nil {
			return
		}
		if node.cmd.ProcessState != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	c.t.Fatalf("node %d not healthy:\nSTDOUT:\n%s\nSTDERR:\n%s",
		node.index, node.stdout.String(), node.stderr.String())
}

// logNodeStates logs the status of every node for debugging.
func (c *Cluster) logNodeStates() {
	for _, node := range c.nodes {
		st := QueryStatusSafe(node.httpAddr)
		if st == nil {
			c.t.Logf("node %d: unreachable", node.index)
			continue
		}
		c.t.Logf("node %d: epoch=%d peers=%d objects=%d scope=%d",
			node.index, st.Epoch, st.Peers, st.LocalObjects, st.WorkScope)
	}
}

// buildBinary compiles the node binary.
// Uses a unique temp file per test to avoid races when running tests in parallel.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "strata_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the project root directory (containing go.mod).
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
