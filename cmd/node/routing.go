package main

import (
	"errors"
	"fmt"

	"Strata/internal/container"
	"Strata/internal/netmap"
	"Strata/internal/network"
)

// Announcement kinds carried in the first byte of a broadcast.
const (
	announceNetMap    byte = 0x01
	announceContainer byte = 0x02
)

// setupMessageHandlers configures handlers for broadcast announcements.
// New peers receive the current map and the known containers so that
// late joiners catch up.
func (n *Node) setupMessageHandlers() {
	n.network.OnMessage(n.routeMessage)

	n.network.OnConnect(func(peer *network.Peer) {
		if nm, err := n.netmaps.Current(); err == nil {
			if err := peer.Send(frameAnnouncement(announceNetMap, nm.Marshal())); err != nil {
				n.log.Debug("send netmap", "peer", peer.Address(), "error", err)
			}
		}

		ids, err := n.containers.List()
		if err != nil {
			n.log.Warn("list containers", "error", err)
			return
		}

		for _, id := range ids {
			c, err := n.containers.Get(id)
			if err != nil {
				continue
			}
			if err := peer.Send(frameAnnouncement(announceContainer, c.Marshal())); err != nil {
				n.log.Debug("send container", "peer", peer.Address(), "error", err)
				return
			}
		}
	})
}

// setupRequestHandlers serves object requests from other nodes.
func (n *Node) setupRequestHandlers() {
	n.network.OnRequest(n.handler.HandleRequest)
}

// routeMessage applies an announcement and relays it when it was new.
func (n *Node) routeMessage(peer *network.Peer, data []byte) {
	if len(data) < 2 {
		n.log.Debug("short announcement", "from", peer.Address())
		return
	}

	var (
		fresh bool
		err   error
	)

	switch data[0] {
	case announceNetMap:
		fresh, err = n.acceptNetMap(data[1:])
	case announceContainer:
		fresh, err = n.acceptContainer(data[1:])
	default:
		err = fmt.Errorf("unknown announcement kind 0x%02x", data[0])
	}

	if err != nil {
		n.log.Debug("drop announcement", "from", peer.Address(), "error", err)
		return
	}

	if fresh {
		if err := n.network.Broadcast(data); err != nil {
			n.log.Debug("relay announcement", "error", err)
		}
	}
}

// acceptNetMap stores a received map. Maps that do not advance the epoch
// are ignored.
func (n *Node) acceptNetMap(data []byte) (bool, error) {
	nm, err := netmap.Unmarshal(data)
	if err != nil {
		return false, err
	}

	if err := n.netmaps.Put(nm); err != nil {
		if errors.Is(err, netmap.ErrStaleEpoch) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// acceptContainer stores a received container.
func (n *Node) acceptContainer(data []byte) (bool, error) {
	c, err := container.Unmarshal(data)
	if err != nil {
		return false, err
	}

	if _, err := n.containers.Get(c.ID()); err == nil {
		return false, nil
	}

	id, err := n.containers.Put(c)
	if err != nil {
		return false, err
	}
	n.cnrCache.Invalidate(id)

	return true, nil
}

func frameAnnouncement(kind byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, kind)

	return append(out, payload...)
}
