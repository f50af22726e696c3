package policer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/placement"
	"Strata/internal/replicator"
	"Strata/internal/transport"
)

// LocalStorage lists the objects the policer audits.
type LocalStorage interface {
	Select(f localstore.Filter) ([]object.Address, error)
}

// RemoteHeader fetches object headers from remote nodes. Errors wrapping
// transport.ErrNotFound or transport.ErrRemoved are confirmed absences,
// anything else is treated as a network failure.
type RemoteHeader interface {
	GetObjectHeader(ctx context.Context, node netmap.NodeInfo, addr object.Address) (*object.Header, error)
}

// Submitter accepts replication tasks.
type Submitter interface {
	Submit(t replicator.Task) bool
}

// Deps are the collaborators of a Policer.
type Deps struct {
	LocalKey      []byte               // LocalKey is the public key of this node
	Containers    container.Source     // Containers resolves placement policies
	Placement     placement.Builder    // Placement builds node vectors
	Local         LocalStorage         // Local lists stored objects
	Remote        RemoteHeader         // Remote checks copies on other nodes
	Replicator    Submitter            // Replicator receives shortages
	RedundantCopy func(object.Address) // RedundantCopy is called for local copies beyond the policy
}

// message is the closed set of values the policer loop consumes.
type message interface {
	policerMessage()
}

type triggerMsg struct{}

type stopMsg struct{}

func (triggerMsg) policerMessage() {}
func (stopMsg) policerMessage()    {}

// pass is one running audit over a batch of addresses.
type pass struct {
	cancel context.CancelFunc
	done   chan struct{}
	undone atomic.Int64 // undone counts addresses not fully processed
}

// Policer periodically checks that locally stored objects have the number
// of copies their container policy requires and hands shortages to the
// replicator. At most one pass runs at a time: a new trigger cancels the
// running pass and waits for it to drain first.
type Policer struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	unreachable *ttlcache.Cache[string, struct{}] // unreachable holds nodes that recently failed

	// owned by the loop goroutine
	workScope int
	cursor    *object.Address
	prev      *pass

	scope atomic.Int64 // scope publishes workScope to other goroutines

	inbox chan message
	wg    sync.WaitGroup
}

// New creates a policer. Call Start to begin auditing.
func New(cfg Config, deps Deps) *Policer {
	cfg = cfg.withDefaults()

	unreachable := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cfg.UnreachableTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	p := &Policer{
		cfg:         cfg,
		deps:        deps,
		log:         cfg.Logger,
		unreachable: unreachable,
		workScope:   cfg.WorkScope,
		inbox:       make(chan message, 1),
	}
	p.scope.Store(int64(cfg.WorkScope))

	return p
}

// Start launches the timer loop.
func (p *Policer) Start() {
	go p.unreachable.Start()

	p.wg.Add(1)
	go p.loop()
}

// Trigger requests a pass now. Triggers coalesce while one is pending.
func (p *Policer) Trigger() {
	select {
	case p.inbox <- triggerMsg{}:
	default:
	}
}

// Stop cancels the running pass and waits for the loop to exit.
// It must be called once, after Start.
func (p *Policer) Stop() {
	p.inbox <- stopMsg{}
	p.wg.Wait()
	p.unreachable.Stop()
}

// WorkScope returns the current batch size.
func (p *Policer) WorkScope() int {
	return int(p.scope.Load())
}

func (p *Policer) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.onTrigger()
		case msg := <-p.inbox:
			switch msg.(type) {
			case triggerMsg:
				p.onTrigger()
			case stopMsg:
				p.drainPrevious()
				return
			}
		}
	}
}

// drainPrevious cancels the running pass and returns how many of its
// addresses were left unprocessed.
func (p *Policer) drainPrevious() int {
	if p.prev == nil {
		return 0
	}

	p.prev.cancel()
	<-p.prev.done

	undone := int(p.prev.undone.Load())
	if undone > 0 {
		metrics.PolicerPasses.WithLabelValues("interrupted").Inc()
	}

	return undone
}

func (p *Policer) onTrigger() {
	undone := p.drainPrevious()

	limit := nextScope(p.workScope, p.cfg.ExpandRate, undone)

	addrs, err := p.selectObjects(limit)
	if err != nil {
		p.log.Error("select local objects", "error", err)
		return
	}

	if len(addrs) >= limit {
		p.workScope = limit
		p.scope.Store(int64(limit))
	}
	metrics.PolicerWorkScope.Set(float64(p.workScope))

	ctx, cancel := context.WithCancel(context.Background())
	ps := &pass{cancel: cancel, done: make(chan struct{})}
	ps.undone.Store(int64(len(addrs)))
	p.prev = ps

	p.log.Debug("policer pass started", "objects", len(addrs), "scope", p.workScope, "undone", undone)

	go p.run(ctx, ps, addrs)
}

// nextScope returns the batch size of the next pass: shrink by what the
// previous pass left undone, grow by expandRate percent otherwise.
func nextScope(scope, expandRate, undone int) int {
	delta := scope * expandRate / 100
	if undone > 0 {
		delta = -undone
	}

	return max(scope+delta, 1)
}

// selectObjects reads up to limit addresses after the cursor, wrapping to
// the beginning of the store once.
func (p *Policer) selectObjects(limit int) ([]object.Address, error) {
	addrs, err := p.deps.Local.Select(localstore.Filter{After: p.cursor, Limit: limit})
	if err != nil {
		return nil, err
	}

	if len(addrs) < limit && p.cursor != nil {
		seen := make(map[object.Address]struct{}, len(addrs))
		for _, a := range addrs {
			seen[a] = struct{}{}
		}

		head, err := p.deps.Local.Select(localstore.Filter{Limit: limit - len(addrs)})
		if err != nil {
			return nil, err
		}

		for _, a := range head {
			if _, ok := seen[a]; !ok {
				addrs = append(addrs, a)
			}
		}
	}

	if len(addrs) > 0 {
		last := addrs[len(addrs)-1]
		p.cursor = &last
	}

	return addrs, nil
}

func (p *Policer) run(ctx context.Context, ps *pass, addrs []object.Address) {
	defer close(ps.done)
	defer ps.cancel()

	start := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.MaxWorkers)

	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			p.processObject(ctx, addr)
			if ctx.Err() == nil {
				ps.undone.Add(-1)
			}
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() == nil {
		metrics.PolicerPasses.WithLabelValues("complete").Inc()
		p.log.Debug("policer pass finished", "objects", len(addrs), "elapsed", time.Since(start))
	}
}

// processObject checks every placement vector of addr. Errors abort only
// this object.
func (p *Policer) processObject(ctx context.Context, addr object.Address) {
	cnr, err := p.deps.Containers.Get(addr.Container)
	if err != nil {
		if errors.Is(err, container.ErrNotFound) {
			p.log.Debug("container not found", "address", addr)
		} else {
			p.log.Warn("get container", "address", addr, "error", err)
		}
		metrics.PolicerObjects.WithLabelValues("container_error").Inc()
		return
	}

	policy := cnr.Policy

	vectors, err := p.deps.Placement.BuildPlacement(addr, policy)
	if err != nil {
		p.log.Warn("build placement", "address", addr, "error", err)
		metrics.PolicerObjects.WithLabelValues("placement_error").Inc()
		return
	}

	// the local copy is redundant only if no vector needs it and it is
	// not the source of a replication task
	surplus, needed := false, false

	for i, vec := range vectors {
		if ctx.Err() != nil || i >= len(policy.Replicas) {
			return
		}

		role, short := p.processNodes(ctx, addr, vec, int(policy.Replicas[i].Count))
		switch role {
		case localSurplus:
			surplus = true
		case localNeeded:
			needed = true
		}
		if short {
			needed = true
		}
	}

	if ctx.Err() != nil {
		return
	}

	if surplus && !needed && p.deps.RedundantCopy != nil {
		p.deps.RedundantCopy(addr)
	}

	metrics.PolicerObjects.WithLabelValues("checked").Inc()
}

// localRole is what the local copy is to one placement vector.
type localRole int

const (
	localAbsent  localRole = iota // the vector does not contain the local node
	localNeeded                   // the local copy counts toward the vector
	localSurplus                  // the vector was satisfied before reaching the local node
)

// processNodes walks one vector until shortage copies are confirmed and
// reports the role of the local copy in it and whether a replication
// task was submitted. The local node counts without
// a network call. Nodes that fail the check stay candidates for
// replication; nodes remembered as unreachable are not asked and go to the
// end of the candidate list.
func (p *Policer) processNodes(ctx context.Context, addr object.Address, nodes []netmap.NodeInfo, shortage int) (localRole, bool) {
	var (
		candidates []netmap.NodeInfo
		deferred   []netmap.NodeInfo
		role       = localAbsent
	)

	for _, node := range nodes {
		if node.Is(p.deps.LocalKey) {
			if shortage == 0 {
				role = localSurplus
			} else {
				role = localNeeded
				shortage--
			}
			continue
		}

		if shortage == 0 {
			continue
		}

		key := node.ID()
		if p.unreachable.Get(key) != nil {
			deferred = append(deferred, node)
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, p.cfg.HeadTimeout)
		_, err := p.deps.Remote.GetObjectHeader(hctx, node, addr)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return localNeeded, false
			}

			if !isAbsent(err) {
				p.unreachable.Set(key, struct{}{}, ttlcache.DefaultTTL)
				p.log.Debug("node unreachable", "node", node.Address(), "address", addr, "error", err)
			}

			candidates = append(candidates, node)
			continue
		}

		shortage--
	}

	if shortage > 0 {
		candidates = append(candidates, deferred...)
		metrics.PolicerShortage.Add(float64(shortage))

		p.log.Info("replicas missing",
			"address", addr, "missing", shortage, "candidates", len(candidates))

		p.deps.Replicator.Submit(replicator.Task{
			Address:  addr,
			Quantity: shortage,
			Nodes:    candidates,
		})

		return role, true
	}

	return role, false
}

// isAbsent reports whether err is a confirmed absence rather than a
// network failure.
func isAbsent(err error) bool {
	return errors.Is(err, transport.ErrNotFound) || errors.Is(err, transport.ErrRemoved)
}
