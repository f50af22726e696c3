package integration

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/client"
	"Strata/internal/api"
)

// indexOf maps node keys from a put result to cluster indices.
func indexOf(t *testing.T, c *Cluster, keys []string) []int {
	t.Helper()

	var out []int
	for _, k := range keys {
		i := slices.IndexFunc(c.Nodes(), func(n *Node) bool { return n.PublicKey() == k })
		require.GreaterOrEqual(t, i, 0, "unknown node %s", k)
		out = append(out, i)
	}
	slices.Sort(out)

	return out
}

func TestPutPlacesReplicas(t *testing.T) {
	c := NewCluster(t, 4, WithHTTPBase(18100), WithQUICBase(19100))
	clients := c.Clients()
	cid := c.StaticContainer()

	payload := bytes.Repeat([]byte("replica "), 4096)
	addr, res, err := clients[0].PutObject(cid, payload)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2)
	assert.NotEmpty(t, res.Attestation)

	holders := indexOf(t, c, res.Nodes)
	assert.Equal(t, holders, Holders(t, clients, addr))

	for i, cli := range clients {
		got, err := cli.GetObject(addr)
		require.NoError(t, err, "node %d", i)
		assert.Equal(t, payload, got)
	}
}

func TestPolicerRepairsDroppedReplica(t *testing.T) {
	c := NewCluster(t, 4, WithHTTPBase(18200), WithQUICBase(19200))
	clients := c.Clients()
	cid := c.StaticContainer()

	addr, res, err := clients[1].PutObject(cid, []byte("fragile"))
	require.NoError(t, err)
	holders := indexOf(t, c, res.Nodes)
	require.Len(t, holders, 2)

	require.NoError(t, clients[holders[0]].DropLocal(addr))

	repaired := WaitForHolders(t, clients, addr, 2, 30*time.Second)
	assert.Equal(t, holders, repaired)
}

func TestNewEpochMovesReplicas(t *testing.T) {
	c := NewCluster(t, 4, WithHTTPBase(18300), WithQUICBase(19300), WithPollInterval(time.Hour))
	clients := c.Clients()
	cid := c.StaticContainer()

	addr, res, err := clients[0].PutObject(cid, []byte("moving"))
	require.NoError(t, err)
	holders := indexOf(t, c, res.Nodes)
	require.Len(t, holders, 2)

	leaving, staying := holders[0], holders[1]

	nm, err := clients[staying].NetMap()
	require.NoError(t, err)

	next := api.NetMap{Epoch: nm.Epoch + 1}
	for _, n := range nm.Nodes {
		if n.PublicKey != c.Node(leaving).PublicKey() {
			next.Nodes = append(next.Nodes, n)
		}
	}
	require.NoError(t, clients[staying].AnnounceNetMap(next))

	WaitFor(t, 10*time.Second, "epoch propagation", func() bool {
		for _, cli := range clients {
			st, err := cli.Status()
			if err != nil || st.Epoch != next.Epoch {
				return false
			}
		}
		return true
	})

	remaining := func() []int {
		var out []int
		for _, i := range Holders(t, clients, addr) {
			if i != leaving {
				out = append(out, i)
			}
		}
		return out
	}

	WaitFor(t, 30*time.Second, "replicas on the new placement", func() bool {
		return len(remaining()) == 2
	})
	assert.Contains(t, remaining(), staying)
}

func TestContainerAnnouncedAcrossCluster(t *testing.T) {
	c := NewCluster(t, 3, WithHTTPBase(18400), WithQUICBase(19400))
	clients := c.Clients()

	cid, err := clients[0].CreateContainer("everywhere", "REP 3")
	require.NoError(t, err)

	WaitFor(t, 10*time.Second, "container propagation", func() bool {
		for _, cli := range clients {
			if _, err := cli.Container(cid); err != nil {
				return false
			}
		}
		return true
	})

	addr, res, err := clients[2].PutObject(cid, []byte("all of them"))
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 3)
	assert.Len(t, Holders(t, clients, addr), 3)

	_, err = clients[1].GetObject(addr)
	require.NoError(t, err)
}

func TestIncompletePlacement(t *testing.T) {
	c := NewCluster(t, 2, WithHTTPBase(18500), WithQUICBase(19500))
	cli := c.Client(0)

	cid, err := cli.CreateContainer("needs three", "REP 3")
	require.NoError(t, err)

	_, _, err = cli.PutObject(cid, []byte("nowhere to go"))
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.Code)
}
