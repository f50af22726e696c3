package main

import (
	"Strata/internal/container"
	"Strata/internal/netmap"
	"Strata/internal/object"
)

// netMapAnnouncer lets the API publish the next epoch.
type netMapAnnouncer struct{ n *Node }

func (a netMapAnnouncer) Current() (*netmap.NetMap, error) {
	return a.n.netmaps.Current()
}

// Announce stores nm and broadcasts it to connected peers.
func (a netMapAnnouncer) Announce(nm *netmap.NetMap) error {
	if err := a.n.netmaps.Put(nm); err != nil {
		return err
	}

	if err := a.n.network.Broadcast(frameAnnouncement(announceNetMap, nm.Marshal())); err != nil {
		a.n.log.Warn("broadcast netmap", "epoch", nm.Epoch, "error", err)
	}

	return nil
}

// containerCreator lets the API create containers cluster wide.
type containerCreator struct{ n *Node }

func (c containerCreator) Get(id object.ContainerID) (*container.Container, error) {
	return c.n.cnrCache.Get(id)
}

// Create stores cnr and broadcasts it to connected peers.
func (c containerCreator) Create(cnr *container.Container) (object.ContainerID, error) {
	id, err := c.n.containers.Put(cnr)
	if err != nil {
		return id, err
	}
	c.n.cnrCache.Invalidate(id)

	if err := c.n.network.Broadcast(frameAnnouncement(announceContainer, cnr.Marshal())); err != nil {
		c.n.log.Warn("broadcast container", "id", id, "error", err)
	}

	return id, nil
}
