package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/semaphore"

	"Strata/internal/logger"
)

const (
	// defaultReconnectDelay is the first delay between reconnection attempts.
	defaultReconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnection backoff.
	maxReconnectDelay = 60 * time.Second

	// defaultMaxInbound is the default number of requests served at once per peer.
	defaultMaxInbound = 64

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "strata/1"
)

// ErrPeerMismatch is returned when the node at an address presents a
// different identity than expected.
var ErrPeerMismatch = errors.New("peer identity mismatch")

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the node's ed25519 identity key
	ListenAddr     string             // ListenAddr is the QUIC listen address, e.g. ":9000"
	ReconnectDelay time.Duration      // ReconnectDelay is the initial reconnection backoff
	DedupTTL       time.Duration      // DedupTTL is how long broadcast messages are remembered
	MaxInbound     int64              // MaxInbound caps requests served concurrently per peer
}

// Node accepts and initiates QUIC connections to other storage nodes.
// Peers are identified by the ed25519 key of their TLS certificate.
type Node struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	peers   map[string]*Peer // peers maps public key hex to peer
	peersMu sync.RWMutex

	knownAddrs   map[string]string // knownAddrs maps public key hex to the dialed address
	knownAddrsMu sync.RWMutex

	reconnectDelay time.Duration
	maxInbound     int64
	dedup          *Dedup // dedup drops repeated broadcast messages

	onConnect    func(*Peer)
	onMessage    func(*Peer, []byte)
	onDisconnect func(*Peer)
	onRequest    func(*Peer, []byte) ([]byte, error)
	handlersMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a network node. Call Start to listen.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	maxInbound := cfg.MaxInbound
	if maxInbound <= 0 {
		maxInbound = defaultMaxInbound
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // identity is the certificate key, checked in setupPeer
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey:     cfg.PrivateKey,
		publicKey:      cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr:     cfg.ListenAddr,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		peers:          make(map[string]*Peer),
		knownAddrs:     make(map[string]string),
		reconnectDelay: reconnectDelay,
		maxInbound:     maxInbound,
		dedup:          NewDedup(cfg.DedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// PublicKey returns the node's identity key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener address, empty before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials the node at addr.
func (n *Node) Connect(addr string) (*Peer, error) {
	return n.connect(n.ctx, addr)
}

func (n *Node) connect(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr, true)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
}

// Dial returns the connected peer with the given key, connecting to the
// first reachable address when there is none. The remote certificate
// must carry key.
func (n *Node) Dial(ctx context.Context, key ed25519.PublicKey, addrs []string) (*Peer, error) {
	if p := n.GetPeer(key); p != nil {
		return p, nil
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("no address for peer %x", key[:4])
	}

	var lastErr error

	for _, addr := range addrs {
		p, err := n.connect(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}

		if !bytes.Equal(p.PublicKey(), key) {
			p.Close()
			lastErr = fmt.Errorf("%w: %s", ErrPeerMismatch, addr)
			continue
		}

		n.callOnConnect(p)

		return p, nil
	}

	return nil, lastErr
}

// Broadcast sends a message to every connected peer.
func (n *Node) Broadcast(data []byte) error {
	// mark own broadcasts so echoes from peers are dropped
	n.dedup.Check(data)

	var errs []error

	for _, p := range n.Peers() {
		if err := p.Send(data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// GetPeer returns the connected peer with the given key, or nil.
func (n *Node) GetPeer(pubkey ed25519.PublicKey) *Peer {
	keyHex := hex.EncodeToString(pubkey)

	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[keyHex]
}

// Forget stops reconnecting to the peer with the given key.
func (n *Node) Forget(pubkey ed25519.PublicKey) {
	n.knownAddrsMu.Lock()
	delete(n.knownAddrs, hex.EncodeToString(pubkey))
	n.knownAddrsMu.Unlock()
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the handler for broadcast messages.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler for request/response streams.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	n.dedup.Close()
	n.wg.Wait()

	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		go n.handleIncoming(conn)
	}
}

func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String(), false)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer registers a connection under the key of its certificate.
// Only dialed addresses are remembered for reconnection since the
// source address of an incoming connection is not a listen address.
func (n *Node) setupPeer(conn *quic.Conn, addr string, dialed bool) (*Peer, error) {
	pubKey, err := extractPublicKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("extract public key:\n%w", err)
	}

	keyHex := hex.EncodeToString(pubKey)

	peer := &Peer{
		publicKey: pubKey,
		address:   addr,
		conn:      conn,
		node:      n,
		inflight:  semaphore.NewWeighted(n.maxInbound),
	}

	n.peersMu.Lock()
	if old, ok := n.peers[keyHex]; ok {
		old.closed.Store(true)
		defer old.conn.CloseWithError(0, "replaced")
	}
	n.peers[keyHex] = peer
	n.peersMu.Unlock()

	if dialed {
		n.knownAddrsMu.Lock()
		n.knownAddrs[keyHex] = addr
		n.knownAddrsMu.Unlock()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// handlePeerDisconnect unregisters p and schedules a reconnection.
func (n *Node) handlePeerDisconnect(p *Peer) {
	keyHex := hex.EncodeToString(p.publicKey)

	n.peersMu.Lock()
	if n.peers[keyHex] == p {
		delete(n.peers, keyHex)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(keyHex)
	}()
}

// reconnectPeer redials a known peer with exponential backoff until it is
// connected again, forgotten, or the node stops.
func (n *Node) reconnectPeer(keyHex string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.reconnectDelay
	b.MaxInterval = maxReconnectDelay
	b.MaxElapsedTime = 0

	op := func() error {
		n.knownAddrsMu.RLock()
		addr, ok := n.knownAddrs[keyHex]
		n.knownAddrsMu.RUnlock()

		if !ok {
			return backoff.Permanent(errors.New("peer forgotten"))
		}

		n.peersMu.RLock()
		_, exists := n.peers[keyHex]
		n.peersMu.RUnlock()

		if exists {
			return nil
		}

		peer, err := n.Connect(addr)
		if err != nil {
			return err
		}

		n.callOnConnect(peer)

		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Debug("reconnect failed", "peer", keyHex[:8], "retry_in", next, "error", err)
	}

	// first attempt waits like the following ones
	select {
	case <-n.ctx.Done():
		return
	case <-time.After(n.reconnectDelay):
	}

	_ = backoff.RetryNotify(op, backoff.WithContext(b, n.ctx), notify)
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnMessage(p *Peer, data []byte) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, data)
}
