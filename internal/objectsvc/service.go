package objectsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"Strata/internal/attest"
	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/placement"
	"Strata/internal/transport"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// maxTombstoneFanout caps parallel tombstone deliveries.
	maxTombstoneFanout = 8

	// defaultHistoryDepth is how many past epochs a read falls back to.
	defaultHistoryDepth = 1
)

var (
	// ErrIncompletePlacement is returned when fewer nodes than the policy
	// requires accepted an object.
	ErrIncompletePlacement = errors.New("object placement incomplete")

	// ErrNotFound is returned when no node of the placement holds the object.
	ErrNotFound = errors.New("object not found")

	// ErrRemoved is returned when the object was deleted by a tombstone.
	ErrRemoved = errors.New("object removed")
)

// LocalStorage is the local object store.
type LocalStorage interface {
	Put(obj *object.Object) error
	Get(addr object.Address) (*object.Object, error)
	Head(addr object.Address) (*object.Header, error)
}

// Remote talks to other storage nodes.
type Remote interface {
	PutObject(ctx context.Context, node netmap.NodeInfo, obj *object.Object) ([]byte, error)
	GetObject(ctx context.Context, node netmap.NodeInfo, addr object.Address) (*object.Object, error)
	GetObjectHeader(ctx context.Context, node netmap.NodeInfo, addr object.Address) (*object.Header, error)
}

// Config tunes the service.
type Config struct {
	RequestTimeout time.Duration // RequestTimeout bounds each remote call
	HistoryDepth   int           // HistoryDepth is the number of past epochs searched by reads
	Logger         *slog.Logger  // Logger receives service logs
}

// Deps are the collaborators of a Service.
type Deps struct {
	LocalKey   []byte            // LocalKey is the public key of this node
	AttestKey  *attest.KeyPair   // AttestKey signs local puts, may be nil
	Containers container.Source  // Containers resolves placement policies
	Placement  placement.Builder // Placement builds node vectors
	Local      LocalStorage      // Local is this node's store
	Remote     Remote            // Remote reaches other nodes
	Epoch      func() uint64     // Epoch returns the current network epoch

	// History builds placement under the map of a past epoch. Reads
	// missing from the current placement look there; nil disables it.
	History func(epoch uint64) placement.Builder
}

// PutResult describes where an object was stored.
type PutResult struct {
	Address     object.Address    // Address is the stored object
	Nodes       []netmap.NodeInfo // Nodes accepted the object
	Signers     [][]byte          // Signers are the BLS keys behind Attestation
	Attestation []byte            // Attestation aggregates the signers' signatures, nil if none
}

// Service stores and reads objects across the nodes of their placement.
type Service struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New creates an object service.
func New(cfg Config, deps Deps) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "objectsvc")
	}

	return &Service{cfg: cfg, deps: deps, log: cfg.Logger}
}

func (s *Service) policy(cid object.ContainerID) (*netmap.PlacementPolicy, error) {
	cnr, err := s.deps.Containers.Get(cid)
	if err != nil {
		return nil, fmt.Errorf("get container %s:\n%w", cid, err)
	}

	return cnr.Policy, nil
}

// Put stores obj on the nodes its container policy selects. Each batch of
// nodes is written in parallel; failed nodes are replaced by the next ones
// of the same vector.
func (s *Service) Put(ctx context.Context, obj *object.Object) (*PutResult, error) {
	res, err := s.put(ctx, obj)
	metrics.ObjectRequests.WithLabelValues("put", result(err)).Inc()

	return res, err
}

func (s *Service) put(ctx context.Context, obj *object.Object) (*PutResult, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	addr := obj.Address()

	policy, err := s.policy(addr.Container)
	if err != nil {
		return nil, err
	}

	tr, err := placement.NewTraverser(s.deps.Placement, addr, policy)
	if err != nil {
		return nil, fmt.Errorf("build placement for %s:\n%w", addr, err)
	}

	start := time.Now()
	res := &PutResult{Address: addr}

	var (
		mu   sync.Mutex
		sigs [][]byte
	)

	for {
		batch := tr.Next()
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group

		for _, node := range batch {
			g.Go(func() error {
				sig, err := s.putTo(ctx, node, obj)
				if err != nil {
					s.log.Debug("put to node failed", "address", addr, "node", node.Address(), "error", err)
					return nil
				}

				tr.SubmitSuccess()

				mu.Lock()
				res.Nodes = append(res.Nodes, node)
				if len(sig) > 0 {
					sigs = append(sigs, sig)
					res.Signers = append(res.Signers, node.BLSKey)
				}
				mu.Unlock()

				return nil
			})
		}

		_ = g.Wait()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if !tr.Success() {
		return nil, fmt.Errorf("%w: %s stored on %d nodes", ErrIncompletePlacement, addr, len(res.Nodes))
	}

	if len(sigs) > 0 {
		agg, err := attest.Aggregate(sigs)
		if err != nil {
			return nil, fmt.Errorf("aggregate attestations:\n%w", err)
		}
		res.Attestation = agg
	}

	s.log.Info("object stored",
		"address", addr,
		"size", humanize.Bytes(obj.Header.PayloadSize),
		"nodes", len(res.Nodes),
		"elapsed", time.Since(start))

	return res, nil
}

// putTo stores obj on one node. The local node writes to its own store.
func (s *Service) putTo(ctx context.Context, node netmap.NodeInfo, obj *object.Object) ([]byte, error) {
	if node.Is(s.deps.LocalKey) {
		if err := s.deps.Local.Put(obj); err != nil {
			return nil, err
		}

		if s.deps.AttestKey == nil || len(node.BLSKey) == 0 {
			return nil, nil
		}

		return s.deps.AttestKey.Attest(obj.Address(), obj.Header.PayloadHash), nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	return s.deps.Remote.PutObject(rctx, node, obj)
}

// Get returns the object from the local store or the first node of its
// placement that has it.
func (s *Service) Get(ctx context.Context, addr object.Address) (*object.Object, error) {
	var obj *object.Object

	err := s.read(ctx, addr, "get",
		func() error {
			var err error
			obj, err = s.deps.Local.Get(addr)
			return err
		},
		func(ctx context.Context, node netmap.NodeInfo) error {
			var err error
			obj, err = s.deps.Remote.GetObject(ctx, node, addr)
			return err
		})

	return obj, err
}

// Head returns the object header, locally or from the placement.
func (s *Service) Head(ctx context.Context, addr object.Address) (*object.Header, error) {
	var hdr *object.Header

	err := s.read(ctx, addr, "head",
		func() error {
			var err error
			hdr, err = s.deps.Local.Head(addr)
			return err
		},
		func(ctx context.Context, node netmap.NodeInfo) error {
			var err error
			hdr, err = s.deps.Remote.GetObjectHeader(ctx, node, addr)
			return err
		})

	return hdr, err
}

// read tries the local store, then the placement one node at a time until
// the first success.
func (s *Service) read(ctx context.Context, addr object.Address, op string, local func() error, remote func(context.Context, netmap.NodeInfo) error) error {
	err := s.readPlaced(ctx, addr, local, remote)
	metrics.ObjectRequests.WithLabelValues(op, result(err)).Inc()

	return err
}

func (s *Service) readPlaced(ctx context.Context, addr object.Address, local func() error, remote func(context.Context, netmap.NodeInfo) error) error {
	err := local()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, localstore.ErrAlreadyRemoved):
		return fmt.Errorf("%w: %s", ErrRemoved, addr)
	case !errors.Is(err, localstore.ErrNotFound):
		return err
	}

	policy, err := s.policy(addr.Container)
	if err != nil {
		return err
	}

	tried := make(map[string]bool)

	found, removed, err := s.walk(ctx, s.deps.Placement, addr, policy, tried, remote)
	if err != nil {
		return err
	}

	// objects placed under an older map may not have moved yet
	for _, epoch := range s.pastEpochs() {
		if found || removed {
			break
		}

		found, removed, err = s.walk(ctx, s.deps.History(epoch), addr, policy, tried, remote)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Debug("past placement skipped", "address", addr, "epoch", epoch, "error", err)
		}
	}

	switch {
	case found:
		return nil
	case removed:
		return fmt.Errorf("%w: %s", ErrRemoved, addr)
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
}

// walk asks the nodes of one placement for addr until one answers.
// Nodes in tried are skipped and every node asked is added to it.
func (s *Service) walk(ctx context.Context, b placement.Builder, addr object.Address, policy *netmap.PlacementPolicy,
	tried map[string]bool, remote func(context.Context, netmap.NodeInfo) error) (found, removed bool, err error) {
	tr, err := placement.NewTraverser(b, addr, policy, placement.SuccessAfter(1))
	if err != nil {
		return false, false, fmt.Errorf("build placement for %s:\n%w", addr, err)
	}

	for batch := tr.Next(); len(batch) > 0; batch = tr.Next() {
		for _, node := range batch {
			if node.Is(s.deps.LocalKey) || tried[string(node.PublicKey)] {
				continue
			}
			tried[string(node.PublicKey)] = true

			rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
			rerr := remote(rctx, node)
			cancel()

			if rerr == nil {
				tr.SubmitSuccess()
				return true, removed, nil
			}

			if ctx.Err() != nil {
				return false, removed, ctx.Err()
			}

			if errors.Is(rerr, transport.ErrRemoved) {
				removed = true
			}
		}
	}

	return false, removed, nil
}

// pastEpochs lists the epochs reads fall back to, newest first.
func (s *Service) pastEpochs() []uint64 {
	if s.deps.History == nil || s.deps.Epoch == nil {
		return nil
	}

	cur := s.deps.Epoch()

	var out []uint64
	for d := uint64(1); d <= uint64(s.cfg.HistoryDepth) && cur > d; d++ {
		out = append(out, cur-d)
	}

	return out
}

// Delete stores a tombstone for addr, signed off by owner, on the
// placement of the tombstone.
func (s *Service) Delete(ctx context.Context, addr object.Address, owner [32]byte) (*PutResult, error) {
	var epoch uint64
	if s.deps.Epoch != nil {
		epoch = s.deps.Epoch()
	}

	ts := object.NewTombstone(addr.Container, owner, epoch, addr.Object)

	res, err := s.put(ctx, ts)
	if err == nil {
		s.buryTarget(ctx, ts, addr, res.Nodes)
	}
	metrics.ObjectRequests.WithLabelValues("delete", result(err)).Inc()

	return res, err
}

// buryTarget hands the tombstone to the placement of the deleted object,
// skipping nodes that already took it. Delivery failures are only logged.
func (s *Service) buryTarget(ctx context.Context, ts *object.Object, target object.Address, done []netmap.NodeInfo) {
	policy, err := s.policy(target.Container)
	if err != nil {
		s.log.Warn("tombstone delivery skipped", "target", target, "error", err)
		return
	}

	tr, err := placement.NewTraverser(s.deps.Placement, target, policy, placement.WithoutSuccessTracking())
	if err != nil {
		s.log.Warn("tombstone delivery skipped", "target", target, "error", err)
		return
	}

	seen := make(map[string]bool, len(done))
	for _, n := range done {
		seen[string(n.PublicKey)] = true
	}

	var g errgroup.Group
	g.SetLimit(maxTombstoneFanout)

	for batch := tr.Next(); len(batch) > 0; batch = tr.Next() {
		for _, node := range batch {
			if seen[string(node.PublicKey)] {
				continue
			}
			seen[string(node.PublicKey)] = true

			g.Go(func() error {
				if _, err := s.putTo(ctx, node, ts); err != nil {
					s.log.Debug("tombstone delivery failed", "target", target, "node", node.Address(), "error", err)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRemoved):
		return "removed"
	default:
		return "error"
	}
}
