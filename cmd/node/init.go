package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"Strata/internal/attest"
	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/logger"
	"Strata/internal/netmap"
	"Strata/internal/network"
	"Strata/internal/objectsvc"
	"Strata/internal/placement"
	"Strata/internal/policer"
	"Strata/internal/replicator"
	"Strata/internal/storage"
	"Strata/internal/transport"
)

// initStorage opens Pebble and the stores living in it.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.Node.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.Node.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}
	n.storage = db

	n.netmaps, err = netmap.NewStore(db, n.cfg.Cache.NetMaps)
	if err != nil {
		return fmt.Errorf("init netmap store:\n%w", err)
	}
	n.netmaps.OnNewEpoch(n.onNewEpoch)

	n.containers = container.NewStore(db)
	n.cnrCache = container.NewCache(n.containers, n.cfg.Cache.Containers)
	n.local = localstore.New(db)

	return nil
}

// initKeys derives the attestation key from the identity key, so the
// BLS public key of a node is known to whoever knows its seed.
func (n *Node) initKeys() error {
	key, err := attest.DeriveKey(n.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("derive attestation key:\n%w", err)
	}
	n.attestKey = key

	return nil
}

// initNetwork initializes the QUIC node and the transport on top of it.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.Node.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}
	n.network = node

	n.handler = transport.NewHandler(n.local, n.attestKey, logger.Component("transport"))
	n.remote = transport.NewClient(node)

	return nil
}

// initServices builds the replication actors and the object service.
func (n *Node) initServices() error {
	self := n.network.PublicKey()
	n.placement = placement.NewNetMapBuilder(n.netmaps)

	pc := n.cfg.Policer
	rc := n.cfg.Replicator

	n.replicator = replicator.New(replicator.Config{
		PutTimeout: rc.PutTimeout,
		QueueSize:  rc.QueueSize,
		RateLimit:  rc.RateLimit,
		Burst:      rc.Burst,
		Logger:     logger.Component("replicator"),
	}, n.local, n.remote)

	n.policer = policer.New(policer.Config{
		WorkScope:      pc.WorkScope,
		ExpandRate:     pc.ExpandRate,
		PollInterval:   pc.PollInterval,
		HeadTimeout:    pc.HeadTimeout,
		MaxWorkers:     pc.MaxWorkers,
		UnreachableTTL: pc.UnreachableTTL,
		Logger:         logger.Component("policer"),
	}, policer.Deps{
		LocalKey:      self,
		Containers:    n.cnrCache,
		Placement:     n.placement,
		Local:         n.local,
		Remote:        n.remote,
		Replicator:    n.replicator,
		RedundantCopy: n.onRedundantCopy,
	})

	n.objects = objectsvc.New(objectsvc.Config{
		Logger: logger.Component("objectsvc"),
	}, objectsvc.Deps{
		LocalKey:   self,
		AttestKey:  n.attestKey,
		Containers: n.cnrCache,
		Placement:  n.placement,
		Local:      n.local,
		Remote:     n.remote,
		Epoch:      n.netmaps.Epoch,
		History: func(epoch uint64) placement.Builder {
			return placement.NewNetMapBuilder(n.netmaps, placement.AtEpoch(epoch))
		},
	})

	return nil
}

// initNetMap loads the configured network map when it is newer than the
// stored one. A node without any map bootstraps a map of itself.
func (n *Node) initNetMap() error {
	initial, err := n.cfg.initialNetMap()
	if err != nil {
		return err
	}

	_, err = n.netmaps.Current()
	switch {
	case initial != nil && initial.Epoch > n.netmaps.Epoch():
		if err := n.netmaps.Put(initial); err != nil {
			return fmt.Errorf("store configured netmap:\n%w", err)
		}
	case errors.Is(err, netmap.ErrNotFound):
		if err := n.netmaps.Put(&netmap.NetMap{Epoch: 1, Nodes: []netmap.NodeInfo{n.selfInfo()}}); err != nil {
			return fmt.Errorf("store bootstrap netmap:\n%w", err)
		}
	case err != nil:
		return err
	}

	if nm, err := n.netmaps.Current(); err == nil {
		if _, ok := nm.Node(n.network.PublicKey()); !ok {
			n.log.Warn("local node is not part of the netmap", "epoch", nm.Epoch)
		}
	}

	return nil
}

// initContainers stores the statically declared containers.
func (n *Node) initContainers() error {
	cnrs, err := n.cfg.staticContainers()
	if err != nil {
		return err
	}

	for _, c := range cnrs {
		id, err := n.containers.Put(c)
		if err != nil {
			return fmt.Errorf("store container %q:\n%w", c.Name, err)
		}
		n.log.Debug("static container", "name", c.Name, "id", id)
	}

	return nil
}

// selfInfo describes this node as a netmap member.
func (n *Node) selfInfo() netmap.NodeInfo {
	return netmap.NodeInfo{
		PublicKey:  n.network.PublicKey(),
		Addresses:  []string{n.cfg.advertise()},
		Attributes: attributeList(n.cfg.Node.Attributes),
		BLSKey:     n.attestKey.PublicKey(),
	}
}
