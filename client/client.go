package client

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"Strata/internal/api"
	"Strata/internal/object"
)

const defaultTimeout = 30 * time.Second

// Client connects to a Strata node via HTTP.
type Client struct {
	nodeAddr string       // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	nodeKey  string       // nodeKey is the node's hex public key
	owner    [32]byte     // owner is attached to created containers and objects
	http     *http.Client // http sends the requests
}

// NewClient creates a client connected to a node.
// It fetches the node key from the node's /status endpoint.
func NewClient(nodeAddr string) (*Client, error) {
	c := &Client{
		nodeAddr: nodeAddr,
		http:     &http.Client{Timeout: defaultTimeout},
	}

	st, err := c.Status()
	if err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}
	c.nodeKey = st.PublicKey

	return c, nil
}

// NodeKey returns the hex public key of the connected node.
func (c *Client) NodeKey() string {
	return c.nodeKey
}

// SetOwner sets the owner key used by CreateContainer, PutObject and Delete.
func (c *Client) SetOwner(owner [32]byte) {
	c.owner = owner
}

func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

func (c *Client) ownerHex() string {
	return hex.EncodeToString(c.owner[:])
}

// Health reports whether the node answers.
func (c *Client) Health() error {
	var resp map[string]string
	return c.httpGet(c.url("/health"), &resp)
}

// Status returns the node summary.
func (c *Client) Status() (*api.Status, error) {
	var st api.Status
	if err := c.httpGet(c.url("/status"), &st); err != nil {
		return nil, err
	}

	return &st, nil
}

// NetMap returns the node's current network map.
func (c *Client) NetMap() (*api.NetMap, error) {
	var nm api.NetMap
	if err := c.httpGet(c.url("/netmap"), &nm); err != nil {
		return nil, fmt.Errorf("get netmap:\n%w", err)
	}

	return &nm, nil
}

// AnnounceNetMap publishes the next epoch's network map through the node.
func (c *Client) AnnounceNetMap(nm api.NetMap) error {
	var resp map[string]uint64
	if err := c.httpPostJSON(c.url("/netmap"), nm, http.StatusAccepted, &resp); err != nil {
		return fmt.Errorf("announce netmap:\n%w", err)
	}

	return nil
}

// CreateContainer creates a container with the given policy text.
func (c *Client) CreateContainer(name, policy string) (object.ContainerID, error) {
	body := api.CreateContainer{Owner: c.ownerHex(), Name: name, Policy: policy}

	var resp api.Container
	if err := c.httpPostJSON(c.url("/containers"), body, http.StatusCreated, &resp); err != nil {
		return object.ContainerID{}, fmt.Errorf("create container:\n%w", err)
	}

	return object.ParseContainerID(resp.ID)
}

// Container fetches a container description.
func (c *Client) Container(id object.ContainerID) (*api.Container, error) {
	var resp api.Container
	if err := c.httpGet(c.url("/containers/"+id.String()), &resp); err != nil {
		return nil, fmt.Errorf("get container:\n%w", err)
	}

	return &resp, nil
}

// PutObject uploads payload into the container.
func (c *Client) PutObject(cid object.ContainerID, payload []byte, attrs ...api.Attribute) (object.Address, *api.PutResult, error) {
	q := url.Values{"owner": {c.ownerHex()}}
	for _, a := range attrs {
		q.Add("attr", a.Key+"="+a.Value)
	}

	u := c.url("/objects/" + cid.String() + "?" + q.Encode())

	var resp api.PutResult
	if _, _, err := c.do(http.MethodPost, u, "application/octet-stream", bytes.NewReader(payload), http.StatusCreated, &resp); err != nil {
		return object.Address{}, nil, fmt.Errorf("put object:\n%w", err)
	}

	addr, err := object.ParseAddress(resp.Address)
	if err != nil {
		return object.Address{}, nil, err
	}

	return addr, &resp, nil
}

// GetObject downloads an object's payload.
func (c *Client) GetObject(addr object.Address) ([]byte, error) {
	payload, _, err := c.do(http.MethodGet, c.url("/objects/"+addr.String()), "", nil, http.StatusOK, nil)
	if err != nil {
		return nil, fmt.Errorf("get object:\n%w", err)
	}

	return payload, nil
}

// Head fetches an object's header.
func (c *Client) Head(addr object.Address) (*api.Header, error) {
	var resp api.Header
	if err := c.httpGet(c.url("/objects/"+addr.String()+"/header"), &resp); err != nil {
		return nil, fmt.Errorf("head object:\n%w", err)
	}

	return &resp, nil
}

// DeleteObject removes an object by placing a tombstone.
func (c *Client) DeleteObject(addr object.Address) (*api.PutResult, error) {
	u := c.url("/objects/" + addr.String() + "?owner=" + c.ownerHex())

	var resp api.PutResult
	if _, _, err := c.do(http.MethodDelete, u, "", nil, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("delete object:\n%w", err)
	}

	return &resp, nil
}

// LocalObjects lists every object stored on the node itself, following
// pagination. A zero cid lists all containers.
func (c *Client) LocalObjects(cid object.ContainerID) ([]object.Address, error) {
	var out []object.Address
	after := ""

	for {
		q := url.Values{}
		if !cid.IsZero() {
			q.Set("container", cid.String())
		}
		if after != "" {
			q.Set("after", after)
		}

		var page api.LocalObjects
		if err := c.httpGet(c.url("/local/objects?"+q.Encode()), &page); err != nil {
			return nil, fmt.Errorf("list local objects:\n%w", err)
		}

		for _, s := range page.Addresses {
			addr, err := object.ParseAddress(s)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}

		if page.Next == "" {
			return out, nil
		}
		after = page.Next
	}
}

// HasLocal reports whether the node stores addr itself.
func (c *Client) HasLocal(addr object.Address) (bool, error) {
	addrs, err := c.LocalObjects(addr.Container)
	if err != nil {
		return false, err
	}

	for _, a := range addrs {
		if a == addr {
			return true, nil
		}
	}

	return false, nil
}

// DropLocal deletes the node's own copy of addr without a tombstone.
func (c *Client) DropLocal(addr object.Address) error {
	if _, _, err := c.do(http.MethodDelete, c.url("/local/objects/"+addr.String()), "", nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("drop local copy:\n%w", err)
	}

	return nil
}
