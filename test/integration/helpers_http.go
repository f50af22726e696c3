package integration

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"Strata/client"
	"Strata/internal/api"
	"Strata/internal/container"
	"Strata/internal/netmap"
	"Strata/internal/object"
)

// httpClient is a shared HTTP client with timeout that reuses connections
// across the polling helpers.
var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
	},
}

// drainClose fully reads and closes a response body so the connection
// can be reused.
func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

// QueryStatusSafe queries GET /status, returns nil on error.
func QueryStatusSafe(addr string) *api.Status {
	resp, err := httpClient.Get("http://" + addr + "/status")
	if err != nil {
		return nil
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var status api.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil
	}

	return &status
}

// Holders returns the indices of nodes storing addr locally.
func Holders(t *testing.T, clients []*client.Client, addr object.Address) []int {
	t.Helper()

	var out []int
	for i, cli := range clients {
		ok, err := cli.HasLocal(addr)
		if err != nil {
			t.Logf("list node %d: %v", i, err)
			continue
		}
		if ok {
			out = append(out, i)
		}
	}

	return out
}

// WaitFor polls cond until it holds or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %s", what)
}

// WaitForHolders polls until exactly want nodes store addr.
func WaitForHolders(t *testing.T, clients []*client.Client, addr object.Address, want int, timeout time.Duration) []int {
	t.Helper()

	var holders []int
	WaitFor(t, timeout, "object holders", func() bool {
		holders = Holders(t, clients, addr)
		return len(holders) == want
	})

	return holders
}

// Clients returns one client per cluster node.
func (c *Cluster) Clients() []*client.Client {
	c.t.Helper()

	out := make([]*client.Client, len(c.nodes))
	for i := range c.nodes {
		out[i] = c.Client(i)
	}

	return out
}

// StaticContainer returns the ID of the container every node declares.
// It is derived the same way the nodes derive it from their config.
func (c *Cluster) StaticContainer() object.ContainerID {
	c.t.Helper()

	policy, err := netmap.ParsePolicy(c.opts.policy)
	if err != nil {
		c.t.Fatalf("parse policy: %v", err)
	}

	cnr := &container.Container{
		Nonce:  uuid.MustParse(staticNonce),
		Name:   "static",
		Policy: policy,
	}

	return cnr.ID()
}
