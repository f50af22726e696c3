package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"Strata/internal/api"
	"Strata/internal/attest"
	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/logger"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/network"
	"Strata/internal/object"
	"Strata/internal/objectsvc"
	"Strata/internal/placement"
	"Strata/internal/policer"
	"Strata/internal/replicator"
	"Strata/internal/storage"
	"Strata/internal/transport"
)

const (
	// gaugeInterval is how often storage gauges are refreshed.
	gaugeInterval = 15 * time.Second

	// dialTimeout bounds connecting to one netmap member.
	dialTimeout = 5 * time.Second
)

// Node represents a running Strata storage node.
type Node struct {
	cfg *Config
	log *slog.Logger

	storage    *storage.Storage
	netmaps    *netmap.Store
	containers *container.Store
	cnrCache   *container.Cache // cnrCache serves container lookups of the hot paths
	local      *localstore.Store
	attestKey  *attest.KeyPair // attestKey signs replica confirmations

	network    *network.Node
	handler    *transport.Handler
	remote     *transport.Client
	placement  placement.Builder
	replicator *replicator.Replicator
	policer    *policer.Policer
	objects    *objectsvc.Service
	api        *api.Server

	started atomic.Bool // started is set once the network and actors run
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:    cfg,
		log:    logger.Component("node"),
		ctx:    ctx,
		cancel: cancel,
	}

	steps := []func() error{
		n.initStorage,
		n.initKeys,
		n.initNetwork,
		n.initServices,
		n.initNetMap,
		n.initContainers,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			n.Close()
			return nil, err
		}
	}

	return n, nil
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.setupMessageHandlers()
	n.setupRequestHandlers()

	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	n.replicator.Start()
	n.policer.Start()
	n.started.Store(true)

	n.api = api.New(n.cfg.Node.HTTPAddress, api.Deps{
		Objects:    n.objects,
		NetMaps:    netMapAnnouncer{n},
		Containers: containerCreator{n},
		Local:      n.local,
		Status:     n,
		Logger:     logger.Component("api"),
	})
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	for _, addr := range n.cfg.Node.Peers {
		go n.dialPeer(addr)
	}

	if nm, err := n.netmaps.Current(); err == nil {
		go n.connectMembers(nm)
	}

	go n.refreshGauges()

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	n.log.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// onNewEpoch reacts to an accepted network map: placement may have
// changed, so the policer runs at once.
func (n *Node) onNewEpoch(nm *netmap.NetMap) {
	metrics.NetMapEpoch.Set(float64(nm.Epoch))
	n.log.Info("new netmap epoch", "epoch", nm.Epoch, "nodes", len(nm.Nodes))

	if n.policer != nil {
		n.policer.Trigger()
	}

	if n.started.Load() {
		go n.connectMembers(nm)
	}
}

// onRedundantCopy handles local copies the placement no longer needs.
func (n *Node) onRedundantCopy(addr object.Address) {
	if !n.cfg.Policer.RemoveRedundant {
		n.log.Info("redundant local copy", "address", addr)
		return
	}

	if err := n.local.Delete(addr); err != nil {
		n.log.Warn("remove redundant copy", "address", addr, "error", err)
		return
	}

	n.log.Info("removed redundant local copy", "address", addr)
}

// connectMembers dials every member of nm so broadcasts reach them.
func (n *Node) connectMembers(nm *netmap.NetMap) {
	self := n.network.PublicKey()

	for _, member := range nm.Nodes {
		if member.Is(self) {
			continue
		}

		ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
		_, err := n.network.Dial(ctx, member.PublicKey, member.Addresses)
		cancel()

		if err != nil {
			n.log.Debug("netmap member unreachable", "node", member.ID()[:16], "error", err)
		}
	}
}

func (n *Node) dialPeer(addr string) {
	if _, err := n.network.Connect(addr); err != nil {
		n.log.Warn("dial peer", "addr", addr, "error", err)
	}
}

// refreshGauges keeps storage gauges current until shutdown.
func (n *Node) refreshGauges() {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		if count, err := n.local.Count(); err == nil {
			metrics.LocalObjects.Set(float64(count))
		}

		select {
		case <-ticker.C:
		case <-n.ctx.Done():
			return
		}
	}
}

// Status implements api.StatusProvider.
func (n *Node) Status() api.Status {
	st := api.Status{
		PublicKey: hex.EncodeToString(n.network.PublicKey()),
		Epoch:     n.netmaps.Epoch(),
		Peers:     len(n.network.Peers()),
	}

	if count, err := n.local.Count(); err == nil {
		st.LocalObjects = count
	}
	if n.policer != nil {
		st.WorkScope = n.policer.WorkScope()
	}

	return st
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	n.cancel()

	if n.api != nil {
		n.api.Stop()
	}

	if n.started.Load() {
		n.policer.Stop()
		n.replicator.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.cnrCache != nil {
		n.cnrCache.Close()
	}

	if n.netmaps != nil {
		n.netmaps.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
