package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"Strata/internal/attest"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/network"
	"Strata/internal/object"
	"Strata/internal/types"
)

var (
	// ErrNotFound is returned when the remote node does not hold the object.
	ErrNotFound = errors.New("object not found on remote node")

	// ErrRemoved is returned when the remote node holds a tombstone for the object.
	ErrRemoved = errors.New("object removed on remote node")

	// ErrRemote is returned when the remote node failed to serve the request.
	ErrRemote = errors.New("remote node error")

	// ErrMismatch is returned when the answer does not match the request.
	ErrMismatch = errors.New("remote node answered for another object")
)

// Requester sends one request to a remote node and returns its answer.
type Requester interface {
	Request(ctx context.Context, data []byte) ([]byte, error)
}

// DialFunc resolves a node of the network map to a requester.
type DialFunc func(ctx context.Context, node netmap.NodeInfo) (Requester, error)

// Client talks to remote storage nodes. Timeouts come from the caller's
// context.
type Client struct {
	dial DialFunc // dial resolves nodes to connections
}

// NewClient creates a client dialing through the QUIC node.
func NewClient(node *network.Node) *Client {
	return NewClientWithDialer(func(ctx context.Context, n netmap.NodeInfo) (Requester, error) {
		if len(n.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("node key has %d bytes", len(n.PublicKey))
		}

		peer, err := node.Dial(ctx, ed25519.PublicKey(n.PublicKey), n.Addresses)
		if err != nil {
			return nil, err
		}

		return peer, nil
	})
}

// NewClientWithDialer creates a client over a custom dialer.
func NewClientWithDialer(dial DialFunc) *Client {
	return &Client{dial: dial}
}

// GetObjectHeader fetches the header of addr from node. When the node
// advertises a BLS key the attached attestation must verify.
func (c *Client) GetObjectHeader(ctx context.Context, node netmap.NodeInfo, addr object.Address) (*object.Header, error) {
	data, err := c.request(ctx, node, msgHead, encodeAddressRequest(msgHead, addr))
	if err != nil {
		return nil, err
	}

	resp, err := decodeHeadResponse(data)
	if err != nil {
		return nil, err
	}

	if err := statusError(resp.status, resp.message); err != nil {
		return nil, err
	}

	if resp.header == nil {
		return nil, fmt.Errorf("%w: head response without header", ErrRemote)
	}

	if resp.header.Address() != addr {
		return nil, fmt.Errorf("%w: %s", ErrMismatch, resp.header.Address())
	}

	if len(node.BLSKey) > 0 {
		if err := attest.Verify(node.BLSKey, resp.signature, addr, resp.header.PayloadHash); err != nil {
			return nil, fmt.Errorf("head attestation from %s:\n%w", shortID(node), err)
		}
	}

	return resp.header, nil
}

// PutObject stores obj on node and returns the node's attestation, nil
// when the node does not advertise a BLS key.
func (c *Client) PutObject(ctx context.Context, node netmap.NodeInfo, obj *object.Object) ([]byte, error) {
	data, err := c.request(ctx, node, msgPut, encodePutRequest(obj))
	if err != nil {
		return nil, err
	}

	resp, err := decodePutResponse(data)
	if err != nil {
		return nil, err
	}

	if err := statusError(resp.status, resp.message); err != nil {
		return nil, err
	}

	if len(node.BLSKey) == 0 {
		return nil, nil
	}

	if err := attest.Verify(node.BLSKey, resp.signature, obj.Address(), obj.Header.PayloadHash); err != nil {
		return nil, fmt.Errorf("put attestation from %s:\n%w", shortID(node), err)
	}

	return resp.signature, nil
}

// GetObject fetches and validates the full object from node.
func (c *Client) GetObject(ctx context.Context, node netmap.NodeInfo, addr object.Address) (*object.Object, error) {
	data, err := c.request(ctx, node, msgGet, encodeAddressRequest(msgGet, addr))
	if err != nil {
		return nil, err
	}

	resp, err := decodeGetResponse(data)
	if err != nil {
		return nil, err
	}

	if err := statusError(resp.status, resp.message); err != nil {
		return nil, err
	}

	if resp.object == nil {
		return nil, fmt.Errorf("%w: get response without object", ErrRemote)
	}

	if resp.object.Address() != addr {
		return nil, fmt.Errorf("%w: %s", ErrMismatch, resp.object.Address())
	}

	if err := resp.object.Validate(); err != nil {
		return nil, err
	}

	return resp.object, nil
}

func (c *Client) request(ctx context.Context, node netmap.NodeInfo, msgType byte, req []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.TransportHistogram.WithLabelValues(msgName(msgType)).Observe(time.Since(start).Seconds())
	}()

	r, err := c.dial(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", node.Address(), err)
	}

	resp, err := r.Request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s request to %s:\n%w", msgName(msgType), node.Address(), err)
	}

	return resp, nil
}

func statusError(status types.Status, msg string) error {
	switch status {
	case types.StatusOk:
		return nil
	case types.StatusNotFound:
		return ErrNotFound
	case types.StatusRemoved:
		return ErrRemoved
	default:
		return fmt.Errorf("%w: %s", ErrRemote, msg)
	}
}

func shortID(n netmap.NodeInfo) string {
	id := n.ID()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
