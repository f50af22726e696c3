package network

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/semaphore"

	"Strata/internal/logger"
	"Strata/internal/metrics"
)

const (
	// defaultRequestTimeout applies to requests whose context has no deadline.
	defaultRequestTimeout = 30 * time.Second

	// defaultSendTimeout bounds a single announcement write.
	defaultSendTimeout = 10 * time.Second

	// errCodeRejected resets a response stream whose handler failed.
	errCodeRejected quic.StreamErrorCode = 0x10
)

var (
	// ErrPeerClosed is returned when using a peer after its connection ended.
	ErrPeerClosed = errors.New("peer is closed")

	// ErrRequestRejected is returned when the remote request handler failed.
	ErrRequestRejected = errors.New("request rejected by peer")
)

// Peer is an authenticated connection to another storage node.
// Announcements travel on unidirectional streams and object requests on
// bidirectional ones, one stream per exchange.
type Peer struct {
	publicKey ed25519.PublicKey   // publicKey is the key of the remote certificate
	address   string              // address is the remote address
	conn      *quic.Conn          // conn is the underlying QUIC connection
	node      *Node               // node is the local endpoint
	inflight  *semaphore.Weighted // inflight bounds requests served concurrently
	closed    atomic.Bool
	sendMu    sync.Mutex // sendMu keeps announcements to one peer ordered
}

// PublicKey returns the remote node's identity key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send writes one announcement to the peer.
func (p *Peer) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(p.conn.Context(), defaultSendTimeout)
	defer cancel()

	return p.SendContext(ctx, data)
}

// SendContext is Send bounded by ctx.
func (p *Peer) SendContext(ctx context.Context, data []byte) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream to %s:\n%w", p.address, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("send to %s:\n%w", p.address, err)
	}

	metrics.NetworkStreams.WithLabelValues("uni", "out").Inc()

	return stream.Close()
}

// Request sends data on a fresh stream and waits for the single response.
// A handler failure on the remote side yields ErrRequestRejected.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrPeerClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s:\n%w", p.address, err)
	}

	deadline, _ := ctx.Deadline()
	stream.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	if err := writeMessage(stream, data); err != nil {
		stream.CancelRead(0)
		return nil, fmt.Errorf("write request to %s:\n%w", p.address, err)
	}

	stream.Close()
	metrics.NetworkStreams.WithLabelValues("bidi", "out").Inc()

	resp, err := readMessage(stream)
	if err != nil {
		var serr *quic.StreamError
		if errors.As(err, &serr) && serr.Remote && serr.ErrorCode == errCodeRejected {
			return nil, fmt.Errorf("%w: %s", ErrRequestRejected, p.address)
		}
		return nil, fmt.Errorf("read response from %s:\n%w", p.address, err)
	}

	return resp, nil
}

// Close closes the connection without triggering a reconnection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop serves the peer until its connection ends.
func (p *Peer) receiveLoop() {
	ctx := p.conn.Context()

	go p.acceptRequests(ctx)

	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			logger.Debug("peer connection ended", "peer", p.address, "error", err)
			break
		}

		go p.handleAnnouncement(stream)
	}

	p.handleDisconnect()
}

// acceptRequests hands each bidirectional stream to the request handler.
// Streams wait for a slot once the peer reaches its inflight limit.
func (p *Peer) acceptRequests(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		if err := p.inflight.Acquire(ctx, 1); err != nil {
			stream.CancelRead(errCodeRejected)
			stream.CancelWrite(errCodeRejected)
			return
		}

		go func() {
			defer p.inflight.Release(1)
			p.serveRequest(stream)
		}()
	}
}

func (p *Peer) serveRequest(stream *quic.Stream) {
	metrics.NetworkStreams.WithLabelValues("bidi", "in").Inc()
	stream.SetDeadline(time.Now().Add(defaultRequestTimeout))

	req, err := readMessage(stream)
	if err != nil {
		logger.Debug("read request", "peer", p.address, "error", err)
		stream.CancelWrite(errCodeRejected)
		return
	}

	resp, err := p.node.callOnRequest(p, req)
	if err != nil {
		logger.Debug("request handler failed", "peer", p.address, "error", err)
		stream.CancelWrite(errCodeRejected)
		return
	}

	if err := writeMessage(stream, resp); err != nil {
		logger.Debug("write response", "peer", p.address, "error", err)
		stream.CancelWrite(0)
		return
	}

	stream.Close()
}

// handleAnnouncement reads one message and passes it on unless it was
// already seen through another peer.
func (p *Peer) handleAnnouncement(stream *quic.ReceiveStream) {
	metrics.NetworkStreams.WithLabelValues("uni", "in").Inc()

	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("read announcement", "peer", p.address, "error", err)
		return
	}

	if !p.node.dedup.Check(data) {
		return
	}

	p.node.callOnMessage(p, data)
}

// handleDisconnect runs once, when the connection drops on its own.
func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return
	}

	p.node.handlePeerDisconnect(p)
}
